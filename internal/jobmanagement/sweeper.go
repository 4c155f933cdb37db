package jobmanagement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// CertificationExpirer expires certifications past their expiry.
type CertificationExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// ReviewExpirer expires stale review items.
type ReviewExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Sweeper periodically expires certifications and stale review items.
type Sweeper struct {
	Certifications CertificationExpirer
	Reviews        ReviewExpirer
	Interval       time.Duration
}

// SweepResult counts what one pass changed.
type SweepResult struct {
	Certifications int64
	Reviews        int64
}

// SweepOnce runs both expiries. A failure in one does not skip the other.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var errs []error
	if s.Certifications != nil {
		n, err := s.Certifications.ExpireDue(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire certifications: %w", err))
		}
		res.Certifications = n
	}
	if s.Reviews != nil {
		n, err := s.Reviews.ExpireStale(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire review items: %w", err))
		}
		res.Reviews = n
	}
	return res, errors.Join(errs...)
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("Sweeper started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Println("Sweeper stopped")
			return
		case <-ticker.C:
			res, err := s.SweepOnce(ctx)
			if err != nil {
				log.Printf("Sweep failed: %v", err)
			}
			if res.Certifications > 0 || res.Reviews > 0 {
				log.Printf("Sweep expired %d certifications and %d review items", res.Certifications, res.Reviews)
			}
		}
	}
}
