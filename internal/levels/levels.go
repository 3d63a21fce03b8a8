// Package levels implements the XP progression curve shared by all
// interaction commands.
package levels

import "math"

// XPPerInteraction is the XP awarded to the sender for each interaction.
// Tune this value to change progression speed.
const XPPerInteraction = 50

// Level converts accumulated XP to a level using a modified Pokemon curve:
// level = floor((xp/0.8)^(1/3)).
func Level(xp int) int {
	if xp <= 0 {
		return 0
	}
	return int(math.Floor(math.Cbrt(float64(xp) / 0.8)))
}

// XPForLevel returns the minimum XP required to reach the given level.
// It is the inverse of Level: xp = floor(0.8 * level^3).
func XPForLevel(level int) int {
	if level <= 0 {
		return 0
	}
	return int(math.Floor(0.8 * math.Pow(float64(level), 3)))
}
