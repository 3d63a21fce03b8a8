package discord

import (
	"github.com/bwmarrin/discordgo"
)

// onGuildMemberAdd tags every joiner with the unknown role so they only see
// the admission channel until the staff sorts them.
func (b *Bot) onGuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if err := s.GuildMemberRoleAdd(m.GuildID, m.User.ID, b.cfg.UnknownRoleID); err != nil {
		b.logger.Error("failed to tag new member with unknown role", "user_id", m.User.ID, "error", err)
		return
	}
	b.logger.Info("tagged new member with unknown role", "user_id", m.User.ID)
}
