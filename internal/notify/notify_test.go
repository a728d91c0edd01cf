package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pricecontest/internal/contest"
)

type sent struct {
	channel string
	msg     *discordgo.MessageSend
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sent{channel: channelID, msg: data})
	return &discordgo.Message{ChannelID: channelID}, nil
}

func sampleLeaderboard() *contest.Leaderboard {
	actual := decimal.NewFromInt(110)
	acc := 90.909
	users := map[string]*contest.UserResult{
		"u1": {UserID: "u1", Mean: acc, Assets: []contest.ScoredPrediction{
			{UserID: "u1", Asset: "BTC", Predicted: decimal.NewFromInt(100), Actual: &actual, Accuracy: &acc, Status: contest.StatusSettled},
		}},
	}
	quotes := contest.Quotes{"BTC": {Price: actual, Available: true}}
	assets := contest.AssetSet{{Symbol: "BTC", SourceID: "bitcoin"}, {Symbol: "ETH", SourceID: "ethereum"}}
	return contest.BuildLeaderboard("2025-02-10", users, quotes, assets, map[string]string{"u1": "alice"}, 10)
}

func TestDiscord_Channels(t *testing.T) {
	f := &fakeSender{}
	d := &Discord{Session: f, PredictionChannelID: "pred", ResultsChannelID: "res"}
	ctx := context.Background()

	require.NoError(t, d.WindowOpened(ctx, "2025-02-10"))
	require.NoError(t, d.WindowClosed(ctx, "2025-02-10"))
	require.NoError(t, d.NoPredictions(ctx, "2025-02-10"))
	require.NoError(t, d.Results(ctx, sampleLeaderboard()))
	require.Len(t, f.sent, 4)

	assert.Equal(t, "pred", f.sent[0].channel)
	assert.Equal(t, DefaultOpenText, f.sent[0].msg.Content)
	row, ok := f.sent[0].msg.Components[0].(discordgo.ActionsRow)
	require.True(t, ok)
	btn, ok := row.Components[0].(discordgo.Button)
	require.True(t, ok)
	assert.Equal(t, SubmitButtonID, btn.CustomID)

	assert.Equal(t, DefaultCloseText, f.sent[1].msg.Content)
	assert.Equal(t, "res", f.sent[2].channel)
	assert.Equal(t, NoPredictionsText, f.sent[2].msg.Content)

	embed := f.sent[3].msg.Embeds[0]
	assert.Equal(t, ResultsTitle, embed.Title)
	require.Len(t, embed.Fields, 2)
	assert.Equal(t, "BTC: $110.00\nETH: n/a", embed.Fields[0].Value)
	assert.Equal(t, "#1 alice", embed.Fields[1].Name)
	assert.Contains(t, embed.Fields[1].Value, "Avg Accuracy: 90.91%")
}

func TestDiscord_Unconfigured(t *testing.T) {
	d := &Discord{Session: &fakeSender{}}
	assert.Error(t, d.WindowClosed(context.Background(), "2025-02-10"))
	var nilDiscord *Discord
	assert.Error(t, nilDiscord.NoPredictions(context.Background(), "2025-02-10"))
}

func TestClip(t *testing.T) {
	long := strings.Repeat("x", 2000)
	assert.Len(t, clip(long), discordFieldMaxChars)
	assert.Equal(t, "short", clip("short"))
}

type countingNotifier struct {
	Log
	calls int
	err   error
}

func (c *countingNotifier) Results(ctx context.Context, lb *contest.Leaderboard) error {
	c.calls++
	return c.err
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	bad := &countingNotifier{err: errors.New("discord down")}
	good := &countingNotifier{}
	m := NewMulti(zap.NewNop(), bad, nil, good)
	require.Len(t, m.Notifiers, 2)

	err := m.Results(context.Background(), sampleLeaderboard())
	assert.ErrorContains(t, err, "discord down")
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)

	assert.NoError(t, m.WindowOpened(context.Background(), "2025-02-10"))
}
