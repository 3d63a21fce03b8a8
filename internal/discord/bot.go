package discord

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"wrathbot/internal/config"
	"wrathbot/internal/db"
	"wrathbot/internal/types"
)

// userStore is the slice of the user repository the handlers need.
type userStore interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	UpsertBirthday(ctx context.Context, userID string, birthday time.Time, timezone string) error
	UpsertTimezone(ctx context.Context, userID string, timezone string) error
	ApplyInteraction(ctx context.Context, kind types.InteractionKind, fromID, toID string, xpAward int) (db.InteractionResult, error)
	Leaderboard(ctx context.Context, kind types.InteractionKind, limit int) ([]types.LeaderboardEntry, error)
	FavoriteTarget(ctx context.Context, kind types.InteractionKind, fromID string) (*types.InteractionStat, error)
}

// birthdayArmer re-derives a member's pending birthday job after their
// birthday or timezone changes.
type birthdayArmer interface {
	ScheduleOne(ctx context.Context, userID string) error
}

// Bot owns the gateway event handlers: slash commands, buttons, modals and
// the member-join hook.
type Bot struct {
	cfg    config.DiscordConfig
	users  userStore
	armer  birthdayArmer
	gifs   *GifPicker
	logger *slog.Logger
}

// NewBot wires the handlers over the user store, the birthday scheduler and
// the gif assets.
func NewBot(cfg config.DiscordConfig, users userStore, armer birthdayArmer, gifs *GifPicker, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:    cfg,
		users:  users,
		armer:  armer,
		gifs:   gifs,
		logger: logger,
	}
}

// Register attaches the bot's event handlers to the session. Call before
// opening the gateway connection.
func (b *Bot) Register(s *discordgo.Session) {
	s.AddHandler(b.onInteractionCreate)
	s.AddHandler(b.onGuildMemberAdd)
}

// RegisterCommands overwrites the application's slash commands. With a guild
// ID configured the commands appear immediately; global registration can take
// up to an hour to propagate.
func (b *Bot) RegisterCommands(s *discordgo.Session) error {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, b.cfg.GuildID, commandDefinitions())
	return err
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		if kind := types.InteractionKind(name); kind.Valid() {
			b.handleInteractionCommand(ctx, s, i, kind)
			return
		}
		switch name {
		case "stats":
			b.handleStats(ctx, s, i)
		case "leaderboard":
			b.handleLeaderboard(ctx, s, i)
		case "addbirthdaybutton":
			b.handleAddBirthdayButton(s, i)
		case "addtimezonebutton":
			b.handleAddTimezoneButton(s, i)
		case "addadmissionmessage":
			b.handleAddAdmissionMessage(s, i)
		default:
			b.logger.Warn("unknown slash command", "name", name)
		}

	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		switch {
		case id == birthdayStartButton:
			b.openBirthdayModal(s, i)
		case id == timezoneStartButton:
			b.openTimezoneModal(s, i)
		case id == cancelBirthdayButton:
			b.handleCancelBirthday(s, i)
		case strings.HasPrefix(id, confirmBirthdayPrefix):
			b.handleConfirmBirthday(ctx, s, i)
		case id == admissionMemberButton || id == admissionFriendButton:
			b.openAdmissionModal(s, i)
		case strings.HasPrefix(id, admissionAcceptPrefix):
			b.handleAdmissionAccept(s, i)
		case strings.HasPrefix(id, admissionDeclinePrefix):
			b.openDeclineReasonModal(s, i)
		default:
			b.logger.Warn("unknown component", "custom_id", id)
		}

	case discordgo.InteractionModalSubmit:
		id := i.ModalSubmitData().CustomID
		switch {
		case id == birthdayModalID:
			b.handleBirthdayModal(s, i)
		case id == timezoneModalID:
			b.handleTimezoneModal(ctx, s, i)
		case strings.HasPrefix(id, admissionModalPrefix):
			b.handleAdmissionModal(s, i)
		case strings.HasPrefix(id, declineReasonPrefix):
			b.handleDeclineModal(s, i)
		default:
			b.logger.Warn("unknown modal", "custom_id", id)
		}
	}
}

// interactionUser resolves the invoking user for guild and DM interactions.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

func (b *Bot) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		b.logger.Error("failed to respond to interaction", "error", err)
	}
}

// updateMessage replaces the content of the message a component interaction
// came from and strips its components.
func (b *Bot) updateMessage(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	}); err != nil {
		b.logger.Error("failed to update interaction message", "error", err)
	}
}
