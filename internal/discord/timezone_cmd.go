package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const timezoneSetupPrompt = "To set your timezone, click the button below.\n" +
	"If you're unsure about your timezone, you can find it here : https://zones.arilyn.cc\n" +
	" Click this button to set your timezone \U0001F551 :"

// handleAddTimezoneButton posts the timezone setup prompt with its button
// into the current channel.
func (b *Bot) handleAddTimezoneButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_, err := s.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{
		Content: timezoneSetupPrompt,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: timezoneStartButton,
					Label:    "Set Timezone",
					Style:    discordgo.PrimaryButton,
				},
			}},
		},
	})
	if err != nil {
		b.logger.Error("failed to post timezone setup message", "error", err)
		b.respond(s, i, "Sorry, the timezone button could not be created.", true)
		return
	}
	b.respond(s, i, "Timezone button created!", true)
}

func (b *Bot) openTimezoneModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: timezoneModalID,
			Title:    "Set Your Timezone",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "timezone-input",
						Label:       "Enter your timezone",
						Style:       discordgo.TextInputShort,
						Placeholder: "Europe/Paris (Find your timezone at zones.arilyn.cc)",
						Required:    true,
					},
				}},
			},
		},
	})
	if err != nil {
		b.logger.Error("failed to open timezone modal", "error", err)
	}
}

// handleTimezoneModal stores the submitted timezone and re-arms the member's
// birthday job so a pending occurrence picks up the new zone.
func (b *Bot) handleTimezoneModal(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUser(i).ID
	timezone := strings.TrimSpace(modalValue(i.ModalSubmitData(), "timezone-input"))

	if _, err := time.LoadLocation(timezone); err != nil || timezone == "" {
		b.respond(s, i, "Invalid timezone. Please use a valid timezone identifier (e.g., Europe/Paris, America/New_York).\n"+
			"Find your timezone at https://zones.arilyn.cc", true)
		return
	}

	if err := b.users.UpsertTimezone(ctx, userID, timezone); err != nil {
		b.logger.Error("failed to store timezone", "user_id", userID, "error", err)
		b.respond(s, i, "Sorry, there was an error saving your timezone. Please try again later.", true)
		return
	}

	if err := b.armer.ScheduleOne(ctx, userID); err != nil {
		b.logger.Error("failed to re-arm birthday after timezone change", "user_id", userID, "error", err)
	}

	b.respond(s, i, fmt.Sprintf("Your timezone has been set to: %s ✨", timezone), true)
}
