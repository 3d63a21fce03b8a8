package discord

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"wrathbot/internal/types"
)

const birthdaySetupPrompt = "To set your birthday, we need to know your birthday and timezone.\n" +
	"If you're unsure about your timezone, you can find it here : https://zones.arilyn.cc\n\n" +
	"Click this button to set your birthday \U0001F382 :"

// handleAddBirthdayButton posts the birthday setup prompt with its button
// into the current channel.
func (b *Bot) handleAddBirthdayButton(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_, err := s.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{
		Content: birthdaySetupPrompt,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: birthdayStartButton,
					Label:    "Set Birthday",
					Style:    discordgo.PrimaryButton,
				},
			}},
		},
	})
	if err != nil {
		b.logger.Error("failed to post birthday setup message", "error", err)
		b.respond(s, i, "Sorry, the birthday button could not be created.", true)
		return
	}
	b.respond(s, i, "Birthday button created!", true)
}

func (b *Bot) openBirthdayModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: birthdayModalID,
			Title:    "Set Your Birthday & Timezone",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "birthday-input",
						Label:       "Enter your birthday (DD/MM/YYYY)",
						Style:       discordgo.TextInputShort,
						Placeholder: "31/12/1990",
						Required:    true,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "hour-input",
						Label:       "Enter birth hour (optional, 24h format)",
						Style:       discordgo.TextInputShort,
						Placeholder: "14:30 (leave empty for midnight)",
						Required:    false,
					},
				}},
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
		b.logger.Error("failed to open birthday modal", "error", err)
	}
}

// handleBirthdayModal validates the submitted birthday and asks for an
// explicit confirmation before anything is stored.
func (b *Bot) handleBirthdayModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	birthday, err := parseBirthdaySubmission(
		modalValue(data, "birthday-input"),
		modalValue(data, "hour-input"),
		modalValue(data, "timezone-input"),
		time.Now(),
	)
	if err != nil {
		b.respond(s, i, validationMessage(err), true)
		return
	}

	confirmID := fmt.Sprintf("%s%d|%s", confirmBirthdayPrefix, birthday.Unix(), birthday.Location().String())
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: fmt.Sprintf("Your birthday will be set to: <t:%d:F>\nIs this correct?", birthday.Unix()),
			Flags:   discordgo.MessageFlagsEphemeral,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{CustomID: confirmID, Label: "Confirm", Style: discordgo.SuccessButton},
					discordgo.Button{CustomID: cancelBirthdayButton, Label: "Cancel", Style: discordgo.DangerButton},
				}},
			},
		},
	})
	if err != nil {
		b.logger.Error("failed to send birthday confirmation", "error", err)
	}
}

// handleConfirmBirthday stores the confirmed birthday and immediately re-arms
// the member's birthday job.
func (b *Bot) handleConfirmBirthday(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUser(i).ID

	unix, timezone, err := parseConfirmID(i.MessageComponentData().CustomID)
	if err != nil {
		b.logger.Error("malformed birthday confirmation id", "custom_id", i.MessageComponentData().CustomID, "error", err)
		b.updateMessage(s, i, "Sorry, there was an error saving your birthday. Please try again later.")
		return
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		b.logger.Error("confirmed timezone no longer resolves", "timezone", timezone, "error", err)
		b.updateMessage(s, i, "Sorry, there was an error saving your birthday. Please try again later.")
		return
	}
	birthday := time.Unix(unix, 0).In(loc)

	if err := b.users.UpsertBirthday(ctx, userID, birthday, timezone); err != nil {
		b.logger.Error("failed to store birthday", "user_id", userID, "error", err)
		b.updateMessage(s, i, "Sorry, there was an error saving your birthday. Please try again later.")
		return
	}

	if err := b.armer.ScheduleOne(ctx, userID); err != nil {
		// The stored birthday is safe; the daily reconciliation arms it.
		b.logger.Error("failed to arm birthday after setup", "user_id", userID, "error", err)
	}

	b.updateMessage(s, i, "Your birthday and timezone have been saved! ✨")
}

func (b *Bot) handleCancelBirthday(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.updateMessage(s, i, "Birthday setting cancelled.")
}

var (
	birthdayPattern = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
	hourPattern     = regexp.MustCompile(`^([0-9]{2}):([0-5][0-9])$`)
)

// parseBirthdaySubmission turns the raw modal fields into the birth instant
// in the member's zone. Errors carry the user-facing validation message.
func parseBirthdaySubmission(dateStr, hourStr, timezone string, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(timezone))
	if err != nil {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidTimezone,
			"Invalid timezone. Please use a valid timezone identifier (e.g., Europe/Paris, America/New_York).", err)
	}

	dateStr = strings.TrimSpace(dateStr)
	if !birthdayPattern.MatchString(dateStr) {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidDate,
			"Invalid date format. Please use DD/MM/YYYY format.", nil)
	}

	hour := normalizeHour(strings.TrimSpace(hourStr))
	if !hourPattern.MatchString(hour) {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidDate,
			"Invalid hour format. Please use HH:MM format (24h), e.g., 04:00 or 14:30", nil)
	}

	// Strict parsing rejects impossible calendar dates such as 31/02.
	parsed, err := time.ParseInLocation("02/01/2006 15:04", dateStr+" "+hour, loc)
	if err != nil || parsed.After(now) {
		return time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidDate,
			"Please enter a valid date that is not in the future.", err)
	}
	return parsed, nil
}

// normalizeHour fills in the optional hour field: empty means midnight, bare
// hours get :00, and single-digit values are zero-padded.
func normalizeHour(hour string) string {
	switch {
	case hour == "":
		return "00:00"
	case strings.Contains(hour, ":"):
		for len(hour) < 5 {
			hour = "0" + hour
		}
		return hour
	default:
		if len(hour) < 2 {
			hour = "0" + hour
		}
		return hour + ":00"
	}
}

func parseConfirmID(customID string) (unix int64, timezone string, err error) {
	rest := strings.TrimPrefix(customID, confirmBirthdayPrefix)
	parts := strings.SplitN(rest, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return 0, "", fmt.Errorf("malformed confirmation id %q", customID)
	}
	unix, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed confirmation timestamp %q: %w", parts[0], err)
	}
	return unix, parts[1], nil
}

// validationMessage extracts the user-facing text from a validation error.
func validationMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Sorry, something went wrong. Please try again later."
}

// modalValue extracts a text input value from a submitted modal.
func modalValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range actionsRow.Components {
			if input, ok := comp.(*discordgo.TextInput); ok && input.CustomID == customID {
				return input.Value
			}
		}
	}
	return ""
}
