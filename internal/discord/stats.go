package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"wrathbot/internal/types"
)

const (
	statsEmbedColor       = 0x00FF00
	leaderboardEmbedColor = 0xFFD700
	leaderboardSize       = 3
)

func (b *Bot) handleStats(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUser(i).ID

	user, err := b.users.GetUser(ctx, userID)
	if err != nil {
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
			b.logger.Error("failed to load user stats", "user_id", userID, "error", err)
			b.respond(s, i, "Sorry, something went wrong fetching your statistics.", true)
			return
		}
		// Never interacted yet: show an all-zero sheet.
		user = &types.User{UserID: userID}
	}

	favorites := make(map[types.InteractionKind]*types.InteractionStat)
	for _, kind := range types.InteractionKinds {
		fav, err := b.users.FavoriteTarget(ctx, kind, userID)
		if err != nil {
			b.logger.Warn("failed to load favorite target", "kind", kind, "user_id", userID, "error", err)
			continue
		}
		favorites[kind] = fav
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{buildStatsEmbed(user, favorites)},
		},
	}); err != nil {
		b.logger.Error("failed to respond with stats", "error", err)
	}
}

func buildStatsEmbed(user *types.User, favorites map[types.InteractionKind]*types.InteractionStat) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("\U0001F4CA Statistics for <@%s>", user.UserID),
		Color: statsEmbedColor,
	}

	for _, kind := range types.InteractionKinds {
		favLine := "Nobody yet"
		if fav := favorites[kind]; fav != nil {
			favLine = fmt.Sprintf("<@%s> (%d times)", fav.To, fav.Count)
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: fmt.Sprintf("%ss %s", titleCase(string(kind)), kind.Emoji()),
			Value: fmt.Sprintf("Sent: %d\nReceived: %d\nMost used on: %s",
				user.Sent[kind], user.Received[kind], favLine),
			Inline: true,
		})
	}
	return embed
}

func (b *Bot) handleLeaderboard(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	kind := types.InteractionKind(i.ApplicationCommandData().Options[0].StringValue())
	if !kind.Valid() {
		b.respond(s, i, "Unknown interaction type.", true)
		return
	}

	entries, err := b.users.Leaderboard(ctx, kind, leaderboardSize)
	if err != nil {
		b.logger.Error("failed to load leaderboard", "kind", kind, "error", err)
		b.respond(s, i, "Sorry, something went wrong fetching the leaderboard.", true)
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{buildLeaderboardEmbed(kind, entries)},
		},
	}); err != nil {
		b.logger.Error("failed to respond with leaderboard", "error", err)
	}
}

var leaderboardMedals = []string{"\U0001F947", "\U0001F948", "\U0001F949"}

func buildLeaderboardEmbed(kind types.InteractionKind, entries []types.LeaderboardEntry) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("\U0001F3C6 Top %ss", kind.Title()),
		Color: leaderboardEmbedColor,
	}

	if len(entries) == 0 {
		embed.Description = fmt.Sprintf("No %ss have been sent yet!", kind)
		return embed
	}

	for idx, entry := range entries {
		medal := ""
		if idx < len(leaderboardMedals) {
			medal = leaderboardMedals[idx] + " "
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fmt.Sprintf("%s<@%s>", medal, entry.UserID),
			Value:  fmt.Sprintf("%d %ss sent", entry.Count, kind),
			Inline: false,
		})
	}
	return embed
}
