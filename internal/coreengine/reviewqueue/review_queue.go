// Package reviewqueue is the human-in-the-loop side of the decision engine:
// claim, resolve, expire and back-fill review items.
package reviewqueue

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"canonsafe-governance/backend/internal/apperrors"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/datastore"
)

// Store is the persistence the queue needs.
type Store interface {
	GetReviewItem(ctx context.Context, id string) (*datastore.ReviewItem, error)
	ListReviewItems(ctx context.Context, filter datastore.ReviewFilter) ([]*datastore.ReviewItem, error)
	ClaimReviewItem(ctx context.Context, id, reviewer string, at time.Time) (*datastore.ReviewItem, bool, error)
	ResolveReviewItem(ctx context.Context, id string, res datastore.ReviewResolution, audit *datastore.AuditEntry) (*datastore.ReviewItem, bool, error)
	ExpireStaleReviewItems(ctx context.Context, pendingBefore, claimedBefore, at time.Time) (int64, error)
	GetReviewStats(ctx context.Context, at time.Time) (*datastore.ReviewStats, error)
	ListUnreviewedEvalRuns(ctx context.Context, since time.Time, after *datastore.EvalRunCursor, limit int) ([]*datastore.EvalRun, error)
	EnqueueReviewItems(ctx context.Context, items []*datastore.ReviewItem) ([]*datastore.ReviewItem, error)
	GetEvalRun(ctx context.Context, id string) (*datastore.EvalRun, error)
}

// Options holds the queue's timeouts.
type Options struct {
	ClaimTimeout   time.Duration
	PendingTimeout time.Duration
	Lookback       time.Duration
	ScanLimit      int
}

// Queue implements the review state machine
// pending -> claimed -> resolved, with pending|claimed -> expired.
type Queue struct {
	store  Store
	policy decisionengine.Policy
	opts   Options
	Now    func() time.Time
}

// New returns a queue. policy is the fallback for runs that carry no policy
// snapshot.
func New(store Store, policy decisionengine.Policy, opts Options) *Queue {
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = 500
	}
	return &Queue{store: store, policy: policy, opts: opts, Now: func() time.Time { return time.Now().UTC() }}
}

// Detail is a review item with the run under review.
type Detail struct {
	*datastore.ReviewItem
	EvalRun *datastore.EvalRun `json:"eval_run"`
}

// Get returns an item and its eval run.
func (q *Queue) Get(ctx context.Context, id string) (*Detail, error) {
	item, err := q.store.GetReviewItem(ctx, id)
	if err != nil {
		return nil, err
	}
	run, err := q.store.GetEvalRun(ctx, item.EvalRunID)
	if err != nil {
		return nil, err
	}
	return &Detail{ReviewItem: item, EvalRun: run}, nil
}

// List returns items, most urgent first.
func (q *Queue) List(ctx context.Context, filter datastore.ReviewFilter) ([]*datastore.ReviewItem, error) {
	return q.store.ListReviewItems(ctx, filter)
}

// Claim assigns a pending item to reviewer. Exactly one of any number of
// concurrent claims succeeds; the rest get ErrAlreadyClaimed.
func (q *Queue) Claim(ctx context.Context, id, reviewer string) (*datastore.ReviewItem, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, apperrors.Invalid("reviewer", "reviewer is required")
	}
	item, claimed, err := q.store.ClaimReviewItem(ctx, id, reviewer, q.Now())
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("review item %s is %s (reviewer %q): %w", id, item.Status, item.AssignedReviewer, apperrors.ErrAlreadyClaimed)
	}
	log.Printf("Review item %s claimed by %s", id, reviewer)
	return item, nil
}

// ResolveRequest is the body of POST /reviews/{id}/resolve.
type ResolveRequest struct {
	Resolution            string `json:"resolution" binding:"required"`
	OverrideDecision      string `json:"override_decision"`
	OverrideJustification string `json:"override_justification"`
	ReviewerNotes         string `json:"reviewer_notes"`
}

// Resolve closes an item the reviewer holds. Overrides need a valid decision
// and a justification; the eval run itself is never modified.
func (q *Queue) Resolve(ctx context.Context, id, reviewer string, req ResolveRequest) (*datastore.ReviewItem, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, apperrors.Invalid("reviewer", "reviewer is required")
	}
	res := datastore.ReviewResolution{
		Reviewer:      reviewer,
		Resolution:    req.Resolution,
		ReviewerNotes: req.ReviewerNotes,
		ResolvedAt:    q.Now(),
	}
	switch req.Resolution {
	case datastore.ResolutionOverridden:
		if strings.TrimSpace(req.OverrideJustification) == "" {
			return nil, apperrors.ErrMissingJustification
		}
		decision, err := datastore.ParseDecision(req.OverrideDecision)
		if err != nil {
			return nil, apperrors.Invalid("override_decision", "%v", err)
		}
		res.OverrideDecision = decision
		res.OverrideJustification = req.OverrideJustification
	case datastore.ResolutionApproved, datastore.ResolutionReEvaluated:
		if req.OverrideDecision != "" {
			return nil, apperrors.Invalid("override_decision", "override_decision is only allowed with resolution %s", datastore.ResolutionOverridden)
		}
	default:
		return nil, apperrors.Invalid("resolution", "unknown resolution %q", req.Resolution)
	}

	payload := map[string]any{"resolution": req.Resolution}
	if res.OverrideDecision != "" {
		payload["override_decision"] = string(res.OverrideDecision)
		payload["override_justification"] = res.OverrideJustification
	}
	item, resolved, err := q.store.ResolveReviewItem(ctx, id, res, &datastore.AuditEntry{
		EntityType: "review_item",
		EntityID:   id,
		Action:     "resolve",
		Actor:      reviewer,
		Payload:    payload,
	})
	if err != nil {
		return nil, err
	}
	if !resolved {
		if item.Status == datastore.ReviewStatusClaimed {
			return nil, fmt.Errorf("review item %s is held by %q: %w", id, item.AssignedReviewer, apperrors.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("review item %s is %s: %w", id, item.Status, apperrors.ErrInvalidTransition)
	}
	log.Printf("Review item %s resolved by %s: %s", id, reviewer, req.Resolution)
	return item, nil
}

// AutoQueueResult reports one back-fill pass.
type AutoQueueResult struct {
	Scanned  int                     `json:"scanned"`
	Enqueued int                     `json:"enqueued"`
	Items    []*datastore.ReviewItem `json:"items"`
}

// AutoQueue scans recent evaluation runs without a review item and enqueues
// the ones the escalation rule selects. The whole lookback window is walked
// in pages of ScanLimit. Running it again adds nothing for runs already
// queued.
func (q *Queue) AutoQueue(ctx context.Context) (*AutoQueueResult, error) {
	now := q.Now()
	since := now.Add(-q.opts.Lookback)
	result := &AutoQueueResult{Items: []*datastore.ReviewItem{}}
	var after *datastore.EvalRunCursor
	for {
		runs, err := q.store.ListUnreviewedEvalRuns(ctx, since, after, q.opts.ScanLimit)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			break
		}
		result.Scanned += len(runs)
		after = datastore.CursorAfter(runs[len(runs)-1])

		var items []*datastore.ReviewItem
		for _, run := range runs {
			if item := decisionengine.ReviewFor(run, decisionengine.PolicyForRun(run, q.policy)); item != nil {
				item.CreatedAt = now
				items = append(items, item)
			}
		}
		if len(items) == 0 {
			continue
		}
		created, err := q.store.EnqueueReviewItems(ctx, items)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, created...)
	}
	result.Enqueued = len(result.Items)
	if result.Enqueued > 0 {
		log.Printf("Auto-queue enqueued %d review items from %d unreviewed runs", result.Enqueued, result.Scanned)
	}
	return result, nil
}

// ExpireStale expires pending items past the pending timeout and claimed
// items past the claim timeout.
func (q *Queue) ExpireStale(ctx context.Context) (int64, error) {
	now := q.Now()
	n, err := q.store.ExpireStaleReviewItems(ctx, now.Add(-q.opts.PendingTimeout), now.Add(-q.opts.ClaimTimeout), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("Expired %d stale review items", n)
	}
	return n, nil
}

// Stats aggregates the queue.
func (q *Queue) Stats(ctx context.Context) (*datastore.ReviewStats, error) {
	return q.store.GetReviewStats(ctx, q.Now())
}
