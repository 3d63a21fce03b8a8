// Package discord is the glue between the bot's domain logic and the Discord
// gateway: the birthday notifier, the slash-command and component handlers,
// and the gif asset picker.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sony/gobreaker/v2"

	"wrathbot/internal/types"
)

// channelSender is the slice of the discordgo session the notifier needs.
type channelSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts celebratory messages to the configured birthday channel.
// Outbound sends go through a circuit breaker so a Discord outage fails fast
// instead of tying up queue workers; the failed jobs retry on the queue's
// backoff schedule and land once the breaker closes again.
type Notifier struct {
	sender    channelSender
	channelID string
	breaker   *gobreaker.CircuitBreaker[*discordgo.Message]
	logger    *slog.Logger
}

// NewNotifier creates a Notifier posting to the given channel.
func NewNotifier(sender channelSender, channelID string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[*discordgo.Message](gobreaker.Settings{
		Name:        "discord-birthday-notifier",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
	return &Notifier{
		sender:    sender,
		channelID: channelID,
		breaker:   cb,
		logger:    logger,
	}
}

// SendBirthdayMessage posts the birthday wish mentioning the member.
func (n *Notifier) SendBirthdayMessage(ctx context.Context, userID string) error {
	msg, err := n.breaker.Execute(func() (*discordgo.Message, error) {
		return n.sender.ChannelMessageSendComplex(n.channelID, &discordgo.MessageSend{
			Content: birthdayMessage(userID),
		}, discordgo.WithContext(ctx))
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamDiscord,
			fmt.Sprintf("failed to deliver birthday message for %s", userID), err)
	}
	n.logger.Info("birthday message posted", "user_id", userID, "message_id", msg.ID)
	return nil
}

func birthdayMessage(userID string) string {
	return fmt.Sprintf("\U0001F389 Happy Birthday <@%s>! \U0001F382\nWishing you an amazing day filled with joy and celebration! \U0001F388✨", userID)
}
