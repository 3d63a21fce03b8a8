package discord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"

	"wrathbot/internal/levels"
	"wrathbot/internal/types"
)

// interactionVerbs maps each kind to its past-tense form for the reply line.
var interactionVerbs = map[types.InteractionKind]string{
	types.InteractionBonk:   "bonked",
	types.InteractionBoop:   "booped",
	types.InteractionBite:   "bit",
	types.InteractionPat:    "patted",
	types.InteractionPoke:   "poked",
	types.InteractionSmooch: "smooched",
}

// handleInteractionCommand serves all six social commands: apply the counters
// transactionally, then reply with the running pair count, a level-up line
// when the XP award crossed a boundary, and a random gif.
func (b *Bot) handleInteractionCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate, kind types.InteractionKind) {
	sender := interactionUser(i)
	target := i.ApplicationCommandData().Options[0].UserValue(nil)

	if target.ID == sender.ID {
		b.respond(s, i, fmt.Sprintf("You can't %s yourself!", kind), true)
		return
	}

	res, err := b.users.ApplyInteraction(ctx, kind, sender.ID, target.ID, levels.XPPerInteraction)
	if err != nil {
		b.logger.Error("failed to apply interaction", "kind", kind, "from", sender.ID, "to", target.ID, "error", err)
		b.respond(s, i, "Sorry, something went wrong. Please try again later.", true)
		return
	}

	data := &discordgo.InteractionResponseData{
		Content: buildInteractionReply(kind, sender.ID, target.ID, res.PairCount, res.SenderXP),
	}

	// The reply still goes out when no gif can be attached.
	if gifPath, err := b.gifs.Pick(kind); err != nil {
		b.logger.Warn("no gif for interaction", "kind", kind, "error", err)
	} else if f, err := os.Open(gifPath); err != nil {
		b.logger.Warn("failed to open gif", "path", gifPath, "error", err)
	} else {
		defer f.Close()
		data.Files = []*discordgo.File{{
			Name:   filepath.Base(gifPath),
			Reader: f,
		}}
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		b.logger.Error("failed to respond to interaction command", "kind", kind, "error", err)
	}
}

// buildInteractionReply renders the public reply line. senderXP is the
// sender's total for the kind after the award; the level-up line appears when
// the award crossed a level boundary.
func buildInteractionReply(kind types.InteractionKind, fromID, toID string, pairCount, senderXP int) string {
	msg := fmt.Sprintf("<@%s> %s <@%s>! (%d times total)", fromID, interactionVerbs[kind], toID, pairCount)

	newLevel := levels.Level(senderXP)
	if newLevel > levels.Level(senderXP-levels.XPPerInteraction) {
		msg += fmt.Sprintf("\n<@%s> reached %s level %d!  %s", fromID, kind.Title(), newLevel, kind.Emoji())
	}
	return msg
}
