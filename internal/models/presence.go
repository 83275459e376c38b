package models

import (
	"slices"
	"time"
)

// PresenceRecord is where the user currently is. It is the plaintext that
// gets encrypted for each friend.
type PresenceRecord struct {
	Where   string    `json:"where"`
	Floor   *string   `json:"floor"`
	Since   time.Time `json:"since"`   // first entered this hall
	Updated time.Time `json:"updated"` // creation time of this record
}

// SameHall reports whether both records name the same hall
func (p *PresenceRecord) SameHall(o *PresenceRecord) bool {
	return p != nil && o != nil && p.Where == o.Where
}

// ActiveSet tracks which halls the user is inside. A hall appears in at most
// one of the two sets.
type ActiveSet struct {
	Confirmed   []string `json:"confirmed"`   // inside a floor polygon with elevation confirmed
	Unconfirmed []string `json:"unconfirmed"` // inside the bounding circle only
}

// Hall returns the active hall, preferring a confirmed one
func (a ActiveSet) Hall() (string, bool) {
	if len(a.Confirmed) > 0 {
		return a.Confirmed[0], true
	}
	if len(a.Unconfirmed) > 0 {
		return a.Unconfirmed[0], true
	}
	return "", false
}

// IsConfirmed reports whether hall is in the confirmed set
func (a ActiveSet) IsConfirmed(hall string) bool {
	return slices.Contains(a.Confirmed, hall)
}

// Confirm moves hall into the confirmed set
func (a ActiveSet) Confirm(hall string) ActiveSet {
	return ActiveSet{
		Confirmed:   appendUnique(a.Confirmed, hall),
		Unconfirmed: remove(a.Unconfirmed, hall),
	}
}

// Unconfirm moves hall into the unconfirmed set
func (a ActiveSet) Unconfirm(hall string) ActiveSet {
	return ActiveSet{
		Confirmed:   remove(a.Confirmed, hall),
		Unconfirmed: appendUnique(a.Unconfirmed, hall),
	}
}

// Without drops hall from both sets
func (a ActiveSet) Without(hall string) ActiveSet {
	return ActiveSet{
		Confirmed:   remove(a.Confirmed, hall),
		Unconfirmed: remove(a.Unconfirmed, hall),
	}
}

// Retain keeps only the halls for which keep returns true
func (a ActiveSet) Retain(keep func(hall string) bool) ActiveSet {
	out := ActiveSet{Confirmed: []string{}, Unconfirmed: []string{}}
	for _, h := range a.Confirmed {
		if keep(h) {
			out.Confirmed = append(out.Confirmed, h)
		}
	}
	for _, h := range a.Unconfirmed {
		if keep(h) {
			out.Unconfirmed = append(out.Unconfirmed, h)
		}
	}
	return out
}

func appendUnique(s []string, v string) []string {
	if slices.Contains(s, v) {
		return slices.Clone(s)
	}
	return append(slices.Clone(s), v)
}

func remove(s []string, v string) []string {
	out := make([]string, 0, len(s))
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
