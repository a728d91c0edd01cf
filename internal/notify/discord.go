package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"pricecontest/internal/contest"
)

// MessageSender is the part of *discordgo.Session the notifier needs.
type MessageSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts announcements to the prediction channel and the leaderboard to the results channel.
type Discord struct {
	Session             MessageSender
	PredictionChannelID string
	ResultsChannelID    string
	OpenText            string
	CloseText           string
}

func (d *Discord) WindowOpened(ctx context.Context, _ contest.Period) error {
	text := d.OpenText
	if text == "" {
		text = DefaultOpenText
	}
	return d.send(ctx, d.PredictionChannelID, &discordgo.MessageSend{
		Content: text,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Submit Predictions",
					Style:    discordgo.PrimaryButton,
					CustomID: SubmitButtonID,
				},
			}},
		},
	})
}

func (d *Discord) WindowClosed(ctx context.Context, _ contest.Period) error {
	text := d.CloseText
	if text == "" {
		text = DefaultCloseText
	}
	return d.send(ctx, d.PredictionChannelID, &discordgo.MessageSend{Content: text})
}

func (d *Discord) NoPredictions(ctx context.Context, _ contest.Period) error {
	return d.send(ctx, d.ResultsChannelID, &discordgo.MessageSend{Content: NoPredictionsText})
}

func (d *Discord) Results(ctx context.Context, lb *contest.Leaderboard) error {
	if lb == nil {
		return nil
	}
	return d.send(ctx, d.ResultsChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{ResultsEmbed(lb)},
	})
}

// ResultsEmbed lays the leaderboard out as one field for prices plus one field per ranked user.
func ResultsEmbed(lb *contest.Leaderboard) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       ResultsTitle,
		Description: fmt.Sprintf("Week of %s, %d participants", lb.Period, lb.Participants),
		Color:       resultsColor,
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name:  "Actual Prices",
		Value: clip(lb.PricesText()),
	})
	for _, e := range lb.Entries {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  e.Title(),
			Value: clip(e.EntryText()),
		})
	}
	return embed
}

func (d *Discord) send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	if d == nil || d.Session == nil {
		return errors.New("discord session is not configured")
	}
	if channelID == "" {
		return errors.New("discord channel is not configured")
	}
	_, err := d.Session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return err
}

func clip(s string) string {
	if len(s) <= discordFieldMaxChars {
		return s
	}
	return s[:discordFieldMaxChars-3] + "..."
}
