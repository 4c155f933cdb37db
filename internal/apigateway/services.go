package apigateway

import (
	"fmt"
	"net/http"

	"canonsafe-governance/backend/internal/appconfig"
	"canonsafe-governance/backend/internal/auth"
	"canonsafe-governance/backend/internal/configmanagement"
	"canonsafe-governance/backend/internal/coreengine/certificationengine"
	"canonsafe-governance/backend/internal/coreengine/consentgate"
	"canonsafe-governance/backend/internal/coreengine/criticadapters"
	"canonsafe-governance/backend/internal/coreengine/decisionengine"
	"canonsafe-governance/backend/internal/coreengine/experimentengine"
	"canonsafe-governance/backend/internal/coreengine/reviewqueue"
	"canonsafe-governance/backend/internal/datastore"
	"canonsafe-governance/backend/internal/jobmanagement"
	"canonsafe-governance/backend/internal/objectstore"
	"canonsafe-governance/backend/internal/reviewmanagement"
)

// NewServices wires the engines and handlers from cfg. archive may be nil,
// in which case nothing is archived and evidence routes return 404.
func NewServices(cfg appconfig.Config, store *datastore.Store, archive objectstore.Archiver, client *http.Client) (Services, *jobmanagement.Sweeper, error) {
	registry := criticadapters.NewRegistry(client)
	gate := consentgate.New(store)
	policy := decisionengine.PolicyFromConfig(cfg.Policy)
	if err := policy.Validate(); err != nil {
		return Services{}, nil, fmt.Errorf("decision policy: %w", err)
	}

	decisions := decisionengine.New(store, gate, registry, decisionengine.Options{
		Policy:            policy,
		CriticTimeout:     cfg.CriticTimeout,
		EvaluationTimeout: cfg.EvaluationTimeout,
		DegradedMode:      cfg.DegradedModeEnabled,
		Archive:           archive,
	})
	experiments, err := experimentengine.New(store, decisions)
	if err != nil {
		return Services{}, nil, fmt.Errorf("experiment engine: %w", err)
	}
	certifications := certificationengine.New(store, decisions, archive, cfg.CertificationValidity)
	queue := reviewqueue.New(store, policy, reviewqueue.Options{
		ClaimTimeout:   cfg.ReviewClaimTimeout,
		PendingTimeout: cfg.ReviewPendingTimeout,
		Lookback:       cfg.AutoQueueLookback,
	})
	health := &criticadapters.HealthMonitor{
		Registry:        registry,
		Store:           store,
		DownAfter:       cfg.HealthDownAfter,
		DegradedLatency: cfg.HealthDegradedLatency,
		Timeout:         cfg.CriticTimeout,
	}

	services := Services{
		Auth: auth.NewAuthenticator(auth.Config{
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
			Secret:   cfg.AuthTokenSecret,
			TokenTTL: cfg.AuthTokenTTL,
		}),
		Config: &configmanagement.Handlers{
			Store:     store,
			Decisions: decisions,
			Health:    health,
			Consent:   gate,
		},
		Jobs: &jobmanagement.Handlers{
			Store:          store,
			Decisions:      decisions,
			Experiments:    experiments,
			Certifications: certifications,
			Archive:        archive,
		},
		Reviews: &reviewmanagement.Handlers{Queue: queue},
	}
	sweeper := &jobmanagement.Sweeper{
		Certifications: certifications,
		Reviews:        queue,
		Interval:       cfg.SweepInterval,
	}
	return services, sweeper, nil
}
