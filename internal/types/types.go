// Package types defines the shared domain types for the bot: user records,
// interaction kinds, and the application error taxonomy.
package types

import (
	"time"
)

// InteractionKind identifies one of the social interaction commands.
type InteractionKind string

const (
	InteractionBonk   InteractionKind = "bonk"
	InteractionBoop   InteractionKind = "boop"
	InteractionBite   InteractionKind = "bite"
	InteractionPat    InteractionKind = "pat"
	InteractionPoke   InteractionKind = "poke"
	InteractionSmooch InteractionKind = "smooch"
)

// InteractionKinds lists every interaction kind in command-registration order.
var InteractionKinds = []InteractionKind{
	InteractionBonk,
	InteractionBoop,
	InteractionBite,
	InteractionPat,
	InteractionPoke,
	InteractionSmooch,
}

// interactionTitles maps each kind to the noun used in leaderboard headings
// ("Top bonkers", "Top smoochers", ...).
var interactionTitles = map[InteractionKind]string{
	InteractionBonk:   "bonker",
	InteractionBoop:   "booper",
	InteractionBite:   "biter",
	InteractionPat:    "patter",
	InteractionPoke:   "poker",
	InteractionSmooch: "smoocher",
}

// interactionEmojis maps each kind to the decoration appended to replies.
var interactionEmojis = map[InteractionKind]string{
	InteractionBonk:   "\U0001F528\U0001F4A5\U0001F915",
	InteractionBoop:   "\U0001F449✨\U0001F97A",
	InteractionBite:   "\U0001F63A\U0001F9B7\U0001F924",
	InteractionPat:    "**( ´･･)ﾉ(˶ˆᵜˆ˵)**",
	InteractionPoke:   "**(˙ཥ˙(**\U0001F448",
	InteractionSmooch: "**(=˘ ³( ,,>ᴗ<,,) ~♡**",
}

// Valid reports whether k is a known interaction kind.
func (k InteractionKind) Valid() bool {
	_, ok := interactionTitles[k]
	return ok
}

// Title returns the leaderboard noun for the kind ("bonker" for bonk).
func (k InteractionKind) Title() string {
	return interactionTitles[k]
}

// Emoji returns the reply decoration for the kind.
func (k InteractionKind) Emoji() string {
	return interactionEmojis[k]
}

// User is a row in the users table. Birthday and Timezone are nil until the
// member completes the corresponding setup flow. Birthday stores the literal
// wall-clock moment the member entered; its zone context lives in Timezone.
type User struct {
	UserID    string
	Timezone  *string
	Birthday  *time.Time
	XP        map[InteractionKind]int
	Sent      map[InteractionKind]int
	Received  map[InteractionKind]int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedulable reports whether the user carries both a birthday and a timezone.
// Zone validity is checked by the scheduler, not here: a stored zone can go
// stale (manual edits, tzdata changes) and callers must handle that case.
func (u *User) Schedulable() bool {
	return u != nil && u.Birthday != nil && u.Timezone != nil && *u.Timezone != ""
}

// InteractionStat is one pair-wise interaction counter: how many times From
// has performed Kind on To.
type InteractionStat struct {
	Kind   InteractionKind
	From   string
	To     string
	Count  int
	LastAt time.Time
}

// LeaderboardEntry is one row of a per-kind leaderboard, ranked by the
// sender-side counter.
type LeaderboardEntry struct {
	UserID string
	Count  int
}
