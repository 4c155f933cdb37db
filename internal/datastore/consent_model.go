package datastore

import "time"

// Consent types granted by a performer.
const (
	ConsentVoice    = "voice"
	ConsentLikeness = "likeness"
	ConsentFull     = "full"
)

// ConsentRecord is a performer's grant for one character. StrikeActivated
// only ever moves from false to true.
type ConsentRecord struct {
	ID                string     `json:"id"`
	CharacterID       string     `json:"character_id"`
	PerformerName     string     `json:"performer_name"`
	ConsentType       string     `json:"consent_type"`
	Territories       []string   `json:"territories"`
	Modalities        []string   `json:"modalities"`
	UsageRestrictions []string   `json:"usage_restrictions"`
	ValidFrom         time.Time  `json:"valid_from"`
	ValidUntil        *time.Time `json:"valid_until,omitempty"`
	StrikeClause      bool       `json:"strike_clause"`
	StrikeActivated   bool       `json:"strike_activated"`
	StruckAt          *time.Time `json:"struck_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ActiveAt reports whether t falls inside the record's validity window.
func (c *ConsentRecord) ActiveAt(t time.Time) bool {
	if t.Before(c.ValidFrom) {
		return false
	}
	if c.ValidUntil != nil && !t.Before(*c.ValidUntil) {
		return false
	}
	return true
}
