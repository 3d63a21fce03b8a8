package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wrathbot/internal/types"
)

type fakeSender struct {
	err      error
	channels []string
	contents []string
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.channels = append(f.channels, channelID)
	f.contents = append(f.contents, data.Content)
	return &discordgo.Message{ID: "m1"}, nil
}

func TestNotifier_SendBirthdayMessage(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifier(sender, "chan-1", nil)

	require.NoError(t, n.SendBirthdayMessage(context.Background(), "u1"))

	require.Len(t, sender.contents, 1)
	assert.Equal(t, []string{"chan-1"}, sender.channels)
	assert.Contains(t, sender.contents[0], "<@u1>")
	assert.Contains(t, sender.contents[0], "Happy Birthday")
}

func TestNotifier_SendBirthdayMessage_Error(t *testing.T) {
	sender := &fakeSender{err: errors.New("503 service unavailable")}
	n := NewNotifier(sender, "chan-1", nil)

	err := n.SendBirthdayMessage(context.Background(), "u1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamDiscord, appErr.Code)
}

func TestNotifier_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	sender := &fakeSender{err: errors.New("503 service unavailable")}
	n := NewNotifier(sender, "chan-1", nil)

	for range 6 {
		require.Error(t, n.SendBirthdayMessage(context.Background(), "u1"))
	}

	// The breaker is now open: the call fails without reaching Discord.
	sender.err = nil
	err := n.SendBirthdayMessage(context.Background(), "u1")
	require.Error(t, err)
	assert.Empty(t, sender.contents)
}
