package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"pricecontest/internal/contest"
	"pricecontest/internal/models"
	"pricecontest/internal/notify"
	"pricecontest/internal/service"
)

const (
	surface       = "discord"
	modalID       = "predictions_modal"
	assetInputPfx = "asset:"
	handleTimeout = 2 * time.Minute
)

var adminPermission int64 = discordgo.PermissionManageGuild

// Commands are registered per guild on start.
var Commands = []*discordgo.ApplicationCommand{
	{Name: "open_window", Description: "Manually open the prediction window", DefaultMemberPermissions: &adminPermission},
	{Name: "close_window", Description: "Manually close the prediction window", DefaultMemberPermissions: &adminPermission},
	{Name: "process_results_now", Description: "Manually process results", DefaultMemberPermissions: &adminPermission},
	{Name: "my_stats", Description: "Show your prediction accuracy"},
}

// Responder is the part of *discordgo.Session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Bot is the chat front end: slash commands for operators, the submit button and the
// prediction form for participants.
type Bot struct {
	Session    *discordgo.Session
	GuildID    string
	Window     *service.WindowService
	Submission *service.SubmissionService
	Stats      *service.StatsService
	Assets     contest.AssetSet
	Logger     *zap.Logger

	baseCtx context.Context
	remove  func()
}

// Start connects the session, installs the interaction handler and registers the commands.
func (b *Bot) Start(ctx context.Context) error {
	if b.Session == nil {
		return errors.New("discord session is nil")
	}
	b.baseCtx = ctx
	b.Session.Identify.Intents = discordgo.IntentsGuilds
	b.remove = b.Session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.Handle(s, i)
	})
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if _, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, b.GuildID, Commands); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	b.logger().Info("discord bot started", zap.String("guild_id", b.GuildID), zap.Int("commands", len(Commands)))
	return nil
}

func (b *Bot) Close() error {
	if b.remove != nil {
		b.remove()
	}
	if b.Session == nil {
		return nil
	}
	return b.Session.Close()
}

// Handle routes one interaction. It is exported so tests can drive it without a gateway.
func (b *Bot) Handle(r Responder, i *discordgo.InteractionCreate) {
	if i == nil || i.Interaction == nil {
		return
	}
	parent := b.baseCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, handleTimeout)
	defer cancel()

	var err error
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		err = b.command(ctx, r, i.Interaction)
	case discordgo.InteractionMessageComponent:
		if i.MessageComponentData().CustomID == notify.SubmitButtonID {
			err = b.submitButton(ctx, r, i.Interaction)
		}
	case discordgo.InteractionModalSubmit:
		if i.ModalSubmitData().CustomID == modalID {
			err = b.modalSubmit(ctx, r, i.Interaction)
		}
	}
	if err != nil {
		b.logger().Warn("interaction failed", zap.String("user_id", userOf(i.Interaction).ID), zap.Error(err))
	}
}

func (b *Bot) command(ctx context.Context, r Responder, in *discordgo.Interaction) error {
	trigger := service.ManualTrigger(surface)
	switch name := in.ApplicationCommandData().Name; name {
	case "open_window":
		if _, err := b.Window.Open(ctx, trigger); err != nil {
			return reply(r, in, "Could not open the window: "+err.Error())
		}
		return reply(r, in, "Window opened manually.")
	case "close_window":
		if _, err := b.Window.Close(ctx, trigger); err != nil {
			return reply(r, in, "Could not close the window: "+err.Error())
		}
		return reply(r, in, "Window closed manually.")
	case "process_results_now":
		// Settlement waits on the oracle; acknowledge first and edit the reply when done.
		if err := r.InteractionRespond(in, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
		}); err != nil {
			return err
		}
		msg := settleMessage(b.Window.Settle(ctx, trigger))
		_, err := r.InteractionResponseEdit(in, &discordgo.WebhookEdit{Content: &msg})
		return err
	case "my_stats":
		view, err := b.Stats.UserStats(ctx, userOf(in).ID)
		if err != nil {
			return reply(r, in, "Could not load your stats.")
		}
		return reply(r, in, view.Text())
	default:
		return reply(r, in, fmt.Sprintf("Unknown command %q.", name))
	}
}

func settleMessage(out *service.SettlementOutcome, err error) string {
	switch {
	case errors.Is(err, contest.ErrSettlementInProgress):
		return "Results are already being processed."
	case err != nil:
		return "Processing results failed: " + err.Error()
	case out.Outcome == models.SettlementOutcomeNoPredictions:
		return "No pending predictions to process."
	default:
		return "Results processed manually."
	}
}

func (b *Bot) submitButton(ctx context.Context, r Responder, in *discordgo.Interaction) error {
	st, err := b.Window.State(ctx)
	if err != nil {
		return reply(r, in, "Could not read the window state.")
	}
	if !st.Open {
		return reply(r, in, "Prediction window is closed.")
	}
	done, err := b.Submission.HasSubmitted(ctx, userOf(in).ID)
	if err != nil {
		return reply(r, in, "Could not check your submission.")
	}
	if done {
		return reply(r, in, "You've already submitted predictions this week.")
	}
	return r.InteractionRespond(in, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: PredictionModal(b.Assets),
	})
}

// PredictionModal has one short text input per tracked asset.
func PredictionModal(assets contest.AssetSet) *discordgo.InteractionResponseData {
	rows := make([]discordgo.MessageComponent, 0, len(assets))
	for _, a := range assets {
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    assetInputPfx + a.Symbol,
				Label:       a.Symbol + " Price Prediction",
				Style:       discordgo.TextInputShort,
				Placeholder: "e.g. 100000.50",
				Required:    true,
				MaxLength:   32,
			},
		}})
	}
	return &discordgo.InteractionResponseData{
		CustomID:   modalID,
		Title:      "Submit Predictions",
		Components: rows,
	}
}

func (b *Bot) modalSubmit(ctx context.Context, r Responder, in *discordgo.Interaction) error {
	user := userOf(in)
	_, err := b.Submission.Submit(ctx, service.SubmitRequest{
		UserID:      user.ID,
		Username:    user.Username,
		Predictions: modalValues(in.ModalSubmitData()),
	})
	switch {
	case err == nil:
		return reply(r, in, "Predictions saved!")
	case errors.Is(err, contest.ErrDuplicateSubmission):
		return reply(r, in, "You've already submitted predictions this week.")
	case errors.Is(err, contest.ErrWindowClosed):
		return reply(r, in, "Prediction window is closed.")
	case errors.Is(err, contest.ErrInvalidInput):
		return reply(r, in, "Invalid input: "+inputReason(err))
	default:
		_ = reply(r, in, "Could not save your predictions, please try again.")
		return err
	}
}

func inputReason(err error) string {
	var ie *contest.InputError
	if !errors.As(err, &ie) {
		return err.Error()
	}
	if ie.Asset == "" {
		return ie.Reason
	}
	return ie.Asset + " " + ie.Reason
}

func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	out := map[string]string{}
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			input, ok := inner.(*discordgo.TextInput)
			if !ok || !strings.HasPrefix(input.CustomID, assetInputPfx) {
				continue
			}
			out[strings.TrimPrefix(input.CustomID, assetInputPfx)] = input.Value
		}
	}
	return out
}

func reply(r Responder, in *discordgo.Interaction, content string) error {
	return r.InteractionRespond(in, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func userOf(in *discordgo.Interaction) *discordgo.User {
	if in.Member != nil && in.Member.User != nil {
		return in.Member.User
	}
	if in.User != nil {
		return in.User
	}
	return &discordgo.User{}
}

func (b *Bot) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}
