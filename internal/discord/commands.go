package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"wrathbot/internal/types"
)

// Component and modal custom IDs. The confirm/accept/decline IDs carry their
// arguments inline, separated from the prefix by the handler.
const (
	birthdayStartButton   = "set-birthday-start"
	birthdayModalID       = "birthday-timezone-modal"
	confirmBirthdayPrefix = "confirm-birthday|"
	cancelBirthdayButton  = "cancel-birthday"

	timezoneStartButton = "set-timezone-start"
	timezoneModalID     = "timezone-modal"

	admissionMemberButton  = "admission-member"
	admissionFriendButton  = "admission-friend"
	admissionModalPrefix   = "admission-modal-"
	admissionAcceptPrefix  = "admission-accept-"
	admissionDeclinePrefix = "admission-decline-"
	declineReasonPrefix    = "decline-reason-"
)

var adminPermission int64 = discordgo.PermissionAdministrator

// commandDefinitions returns every slash command the bot registers.
func commandDefinitions() []*discordgo.ApplicationCommand {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(types.InteractionKinds)+5)

	for _, kind := range types.InteractionKinds {
		cmds = append(cmds, &discordgo.ApplicationCommand{
			Name:        string(kind),
			Description: fmt.Sprintf("%s another user!", titleCase(string(kind))),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "target",
					Description: fmt.Sprintf("The user to %s", kind),
					Required:    true,
				},
			},
		})
	}

	kindChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(types.InteractionKinds))
	for _, kind := range types.InteractionKinds {
		kindChoices = append(kindChoices, &discordgo.ApplicationCommandOptionChoice{
			Name:  string(kind),
			Value: string(kind),
		})
	}

	cmds = append(cmds,
		&discordgo.ApplicationCommand{
			Name:        "stats",
			Description: "Show your interaction statistics",
		},
		&discordgo.ApplicationCommand{
			Name:        "leaderboard",
			Description: "Show the leaderboard for a specific interaction type",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "The interaction type to show leaderboard for",
					Required:    true,
					Choices:     kindChoices,
				},
			},
		},
		&discordgo.ApplicationCommand{
			Name:                     "addbirthdaybutton",
			Description:              "Adds the birthday setup button to the channel",
			DefaultMemberPermissions: &adminPermission,
		},
		&discordgo.ApplicationCommand{
			Name:                     "addtimezonebutton",
			Description:              "Adds the timezone setup button to the channel",
			DefaultMemberPermissions: &adminPermission,
		},
		&discordgo.ApplicationCommand{
			Name:                     "addadmissionmessage",
			Description:              "Adds the admission message with buttons to the channel",
			DefaultMemberPermissions: &adminPermission,
		},
	)
	return cmds
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
