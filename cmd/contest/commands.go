package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pricecontest/internal/contest"
)

var settlePeriod string

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the submission window now and announce it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			changed, err := a.window.Open(ctx, manualTrigger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "window open (changed=%t)\n", changed)
			return nil
		})
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the submission window now and announce it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			changed, err := a.window.Close(ctx, manualTrigger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "window closed (changed=%t)\n", changed)
			return nil
		})
	},
}

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle pending predictions of the current (or given) period",
	Example: `  contest settle
  contest settle --period 2025-02-10`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			ctx, cancel := context.WithTimeout(ctx, a.cfg.Contest.SettleTimeout)
			defer cancel()
			period := a.window.Period()
			if settlePeriod != "" {
				p, err := contest.ParsePeriod(settlePeriod)
				if err != nil {
					return err
				}
				period = p
			}
			out, err := a.settlement.Run(ctx, period, manualTrigger)
			if out != nil {
				if perr := printJSON(cmd, out); perr != nil {
					return perr
				}
			}
			return err
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <user_id>",
	Short: "Print a user's accuracy stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			view, err := a.stats.UserStats(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), view.Text())
			return nil
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// newApp migrates on open.
		return withApp(cmd.Context(), func(context.Context, *app) error {
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		})
	},
}

func init() {
	settleCmd.Flags().StringVar(&settlePeriod, "period", "", "Monday (YYYY-MM-DD) of the period to settle")
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
