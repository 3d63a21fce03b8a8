// Package birthday derives timezone-correct birthday occurrences and keeps a
// durable one-shot job armed for every member who completed the birthday
// setup. Recurrence is recreate-on-fire: each delivered job re-derives and
// re-submits itself for the following year, and a daily reconciliation sweep
// re-derives the whole member set to repair anything that slipped through.
package birthday

import (
	"fmt"
	"time"
)

// maxLead is a sanity bound on how far ahead a derived occurrence may land.
// A next birthday is never more than one leap year away.
const maxLead = 366 * 24 * time.Hour

// NextOccurrence derives the next instant the member's birthday comes around
// in their zone, strictly after now. The stored birthday contributes only its
// wall-clock fields (month, day, hour, minute); the zone context comes from
// loc. An occurrence landing exactly on now counts as passed.
//
// Leap-day birthdays observe in non-leap years on March 1, which is what the
// calendar normalization of time.Date produces for February 29.
func NextOccurrence(birthday time.Time, loc *time.Location, now time.Time) (time.Time, error) {
	if loc == nil {
		return time.Time{}, fmt.Errorf("deriving birthday occurrence: nil location")
	}

	nowLocal := now.In(loc)
	occ := occurrenceIn(nowLocal.Year(), birthday, loc)
	if !occ.After(now) {
		occ = occurrenceIn(nowLocal.Year()+1, birthday, loc)
	}

	if !occ.After(now) || occ.Sub(now) > maxLead {
		return time.Time{}, fmt.Errorf("derived occurrence %s out of range for now %s",
			occ.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	return occ, nil
}

// occurrenceIn places the birthday wall clock into the given year and zone.
func occurrenceIn(year int, birthday time.Time, loc *time.Location) time.Time {
	return time.Date(year, birthday.Month(), birthday.Day(), birthday.Hour(), birthday.Minute(), 0, 0, loc)
}
