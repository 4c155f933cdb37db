// Package consentgate answers whether a character may be rendered in a given
// modality, territory and usage under its performers' consent records.
package consentgate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"canonsafe-governance/backend/internal/datastore"
)

// Denial reasons, most specific first.
const (
	ReasonAllowed          = "consent_verified"
	ReasonNoRecords        = "no_consent_records"
	ReasonStruck           = "consent_struck"
	ReasonModalityNotCover = "modality_not_covered"
	ReasonTerritory        = "territory_not_covered"
	ReasonUsageRestricted  = "usage_restricted"
	ReasonNotActive        = "consent_not_active"
)

// ConsentStore is the read side the gate needs.
type ConsentStore interface {
	ListConsentRecords(ctx context.Context, characterID string) ([]*datastore.ConsentRecord, error)
}

// CheckRequest identifies the use being asked about. Empty Territory or
// UsageType match any record restriction-free on that axis.
type CheckRequest struct {
	CharacterID string `json:"character_id"`
	Modality    string `json:"modality"`
	Territory   string `json:"territory,omitempty"`
	UsageType   string `json:"usage_type,omitempty"`
}

// Result is the gate's answer. RecordID names the granting record on allow
// and the deciding record (if any) on deny.
type Result struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	RecordID string `json:"record_id,omitempty"`
}

// Gate evaluates consent. It holds no state between calls.
type Gate struct {
	Store ConsentStore
	Now   func() time.Time
}

// New returns a gate reading from store.
func New(store ConsentStore) *Gate {
	return &Gate{Store: store, Now: func() time.Time { return time.Now().UTC() }}
}

// Check resolves consent for req. A storage failure is returned as an error;
// every other outcome, including denial, is a Result.
func (g *Gate) Check(ctx context.Context, req CheckRequest) (Result, error) {
	records, err := g.Store.ListConsentRecords(ctx, req.CharacterID)
	if err != nil {
		return Result{}, fmt.Errorf("consent lookup for %s: %w", req.CharacterID, err)
	}
	res := Evaluate(records, req, g.Now())
	if !res.Allowed {
		log.Printf("Consent denied for character %s (%s/%s/%s): %s", req.CharacterID, req.Modality, req.Territory, req.UsageType, res.Reason)
	}
	return res, nil
}

// Evaluate applies the consent rules to records at time at:
//   - a struck record covering the request denies, whatever else is on file
//   - otherwise any active covering record without a matching usage
//     restriction allows
//   - otherwise the most specific reason among the records is reported
func Evaluate(records []*datastore.ConsentRecord, req CheckRequest, at time.Time) Result {
	if len(records) == 0 {
		return Result{Reason: ReasonNoRecords}
	}

	for _, rec := range records {
		if rec.StrikeActivated && covers(rec, req) {
			return Result{Reason: ReasonStruck, RecordID: rec.ID}
		}
	}

	best := Result{Reason: ReasonModalityNotCover}
	rank := 0
	note := func(reason string, r int, id string) {
		if r > rank {
			best, rank = Result{Reason: reason, RecordID: id}, r
		}
	}
	for _, rec := range records {
		if rec.StrikeActivated {
			continue
		}
		if !coversModality(rec, req.Modality) {
			continue
		}
		if !coversTerritory(rec, req.Territory) {
			note(ReasonTerritory, 1, rec.ID)
			continue
		}
		if !rec.ActiveAt(at) {
			note(ReasonNotActive, 2, rec.ID)
			continue
		}
		if restricts(rec, req.UsageType) {
			note(ReasonUsageRestricted, 3, rec.ID)
			continue
		}
		return Result{Allowed: true, Reason: ReasonAllowed, RecordID: rec.ID}
	}
	return best
}

func covers(rec *datastore.ConsentRecord, req CheckRequest) bool {
	return coversModality(rec, req.Modality) && coversTerritory(rec, req.Territory)
}

// coversModality combines the consent type's reach with the record's own
// modality list (empty means no extra restriction).
func coversModality(rec *datastore.ConsentRecord, modality string) bool {
	m := strings.ToLower(modality)
	if !typeCovers(rec.ConsentType, m) {
		return false
	}
	if len(rec.Modalities) == 0 {
		return true
	}
	return containsFold(rec.Modalities, m)
}

func typeCovers(consentType, modality string) bool {
	switch consentType {
	case datastore.ConsentFull:
		return true
	case datastore.ConsentVoice:
		return modality == "audio"
	case datastore.ConsentLikeness:
		return modality == "image" || modality == "video" || modality == "text"
	default:
		return false
	}
}

func coversTerritory(rec *datastore.ConsentRecord, territory string) bool {
	if len(rec.Territories) == 0 || territory == "" {
		return true
	}
	return containsFold(rec.Territories, territory) || containsFold(rec.Territories, "worldwide")
}

func restricts(rec *datastore.ConsentRecord, usage string) bool {
	return usage != "" && containsFold(rec.UsageRestrictions, usage)
}

func containsFold(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
