package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const admissionWelcome = "Welcome to the Wrath FC discord server! ✨\n" +
	"Only members and FC Friends are allowed here.\n" +
	"Into which category would you fit into?"

// handleAddAdmissionMessage posts the welcome message with the two
// application buttons into the current channel.
func (b *Bot) handleAddAdmissionMessage(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_, err := s.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{
		Content: admissionWelcome,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: admissionMemberButton,
					Label:    "Wrath member",
					Emoji:    &discordgo.ComponentEmoji{Name: "\U0001F608"},
					Style:    discordgo.PrimaryButton,
				},
				discordgo.Button{
					CustomID: admissionFriendButton,
					Label:    "FC Friend",
					Emoji:    &discordgo.ComponentEmoji{Name: "\U0001F44B"},
					Style:    discordgo.SecondaryButton,
				},
			}},
		},
	})
	if err != nil {
		b.logger.Error("failed to post admission message", "error", err)
		b.respond(s, i, "Sorry, the admission message could not be created.", true)
		return
	}
	b.respond(s, i, "Admission message created!", true)
}

// openAdmissionModal asks the applicant for their in-game name. The applicant
// type travels in the modal custom ID.
func (b *Bot) openAdmissionModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	applicantType := "friend"
	if i.MessageComponentData().CustomID == admissionMemberButton {
		applicantType = "member"
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: admissionModalPrefix + applicantType,
			Title:    "Enter Your In-Game Name",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "ingame-name",
						Label:       "What is your in-game name?",
						Style:       discordgo.TextInputShort,
						Placeholder: "Enter your character name",
						Required:    true,
					},
				}},
			},
		},
	})
	if err != nil {
		b.logger.Error("failed to open admission modal", "error", err)
	}
}

// handleAdmissionModal forwards the application to the admissions channel
// with accept and decline buttons for the staff.
func (b *Bot) handleAdmissionModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	applicantType := strings.TrimPrefix(data.CustomID, admissionModalPrefix)
	inGameName := modalValue(data, "ingame-name")
	applicant := interactionUser(i)

	b.respond(s, i, "Your application has been successfully sent! Please wait for staff review.", true)

	typeLabel := "FC Friend"
	if applicantType == "member" {
		typeLabel = "Wrath member"
	}

	_, err := s.ChannelMessageSendComplex(b.cfg.AdmissionsChannelID, &discordgo.MessageSend{
		Content: fmt.Sprintf("New application from <@%s> (ID: %s)\nType: %s\nIn-game name: %s",
			applicant.ID, applicant.ID, typeLabel, inGameName),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					CustomID: fmt.Sprintf("%s%s-%s", admissionAcceptPrefix, applicantType, applicant.ID),
					Label:    "Accept",
					Style:    discordgo.SuccessButton,
				},
				discordgo.Button{
					CustomID: admissionDeclinePrefix + applicant.ID,
					Label:    "Decline",
					Style:    discordgo.DangerButton,
				},
			}},
		},
	})
	if err != nil {
		b.logger.Error("failed to forward application", "applicant_id", applicant.ID, "error", err)
	}
}

// handleAdmissionAccept swaps the applicant's unknown role for the role
// matching their application type and closes the application message.
func (b *Bot) handleAdmissionAccept(s *discordgo.Session, i *discordgo.InteractionCreate) {
	rest := strings.TrimPrefix(i.MessageComponentData().CustomID, admissionAcceptPrefix)
	applicantType, userID, ok := strings.Cut(rest, "-")
	if !ok {
		b.logger.Error("malformed admission accept id", "custom_id", i.MessageComponentData().CustomID)
		return
	}

	roleID := b.cfg.GuestRoleID
	if applicantType == "member" {
		roleID = b.cfg.MemberRoleID
	}

	if err := s.GuildMemberRoleRemove(i.GuildID, userID, b.cfg.UnknownRoleID); err != nil {
		b.logger.Error("failed to remove unknown role", "user_id", userID, "error", err)
		b.respond(s, i, "Error updating roles. Please check permissions and try again.", true)
		return
	}
	if err := s.GuildMemberRoleAdd(i.GuildID, userID, roleID); err != nil {
		b.logger.Error("failed to assign role", "user_id", userID, "role_id", roleID, "error", err)
		b.respond(s, i, "Error updating roles. Please check permissions and try again.", true)
		return
	}

	b.closeApplication(s, i, fmt.Sprintf("✅ Accepted by <@%s>", interactionUser(i).ID))
	b.respond(s, i, "Application accepted and roles updated!", true)
}

// openDeclineReasonModal asks the staff member for a decline reason.
func (b *Bot) openDeclineReasonModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := strings.TrimPrefix(i.MessageComponentData().CustomID, admissionDeclinePrefix)

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: declineReasonPrefix + userID,
			Title:    "Decline Application",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    "decline-reason",
						Label:       "Reason for declining",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "Enter the reason for declining this application",
						Required:    true,
					},
				}},
			},
		},
	})
	if err != nil {
		b.logger.Error("failed to open decline modal", "error", err)
	}
}

// handleDeclineModal notifies the applicant by DM and closes the application
// message.
func (b *Bot) handleDeclineModal(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ModalSubmitData()
	userID := strings.TrimPrefix(data.CustomID, declineReasonPrefix)
	reason := modalValue(data, "decline-reason")

	dm, err := s.UserChannelCreate(userID)
	if err == nil {
		_, err = s.ChannelMessageSend(dm.ID,
			fmt.Sprintf("Your application to join Wrath FC has been declined.\nReason: %s", reason))
	}
	if err != nil {
		b.logger.Error("failed to notify declined applicant", "user_id", userID, "error", err)
		b.respond(s, i, "Error processing decline. The user might have DMs disabled.", true)
		return
	}

	b.closeApplication(s, i, fmt.Sprintf("❌ Declined by <@%s>\nReason: %s", interactionUser(i).ID, reason))
	b.respond(s, i, "Application declined and user notified.", true)
}

// closeApplication appends the verdict to the application message and strips
// its buttons.
func (b *Bot) closeApplication(s *discordgo.Session, i *discordgo.InteractionCreate, verdict string) {
	if i.Message == nil {
		return
	}
	content := i.Message.Content + "\n\n" + verdict
	components := []discordgo.MessageComponent{}
	if _, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    i.ChannelID,
		ID:         i.Message.ID,
		Content:    &content,
		Components: &components,
	}); err != nil {
		b.logger.Error("failed to close application message", "error", err)
	}
}
