// Package appconfig loads service configuration from the environment.
package appconfig

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is everything the server reads at startup.
type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	DBDriver    string `env:"DB_DRIVER"    envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:canonsafe.db"`

	Minio MinioConfig

	AdminUsername   string        `env:"ADMIN_USERNAME"`
	AdminPassword   string        `env:"ADMIN_PASSWORD"`
	AuthTokenSecret string        `env:"AUTH_TOKEN_SECRET"`
	AuthTokenTTL    time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"12h"`

	Tracing TracingConfig

	Policy PolicyConfig

	CriticTimeout         time.Duration `env:"CRITIC_TIMEOUT"             envDefault:"30s"`
	EvaluationTimeout     time.Duration `env:"EVALUATION_TIMEOUT"         envDefault:"60s"`
	DegradedModeEnabled   bool          `env:"DEGRADED_MODE_ENABLED"      envDefault:"false"`
	HealthDownAfter       int           `env:"HEALTH_DOWN_AFTER_FAILURES" envDefault:"3"`
	HealthDegradedLatency time.Duration `env:"HEALTH_DEGRADED_LATENCY"    envDefault:"5s"`
	ReviewClaimTimeout    time.Duration `env:"REVIEW_CLAIM_TIMEOUT"       envDefault:"24h"`
	ReviewPendingTimeout  time.Duration `env:"REVIEW_PENDING_TIMEOUT"     envDefault:"168h"`
	AutoQueueLookback     time.Duration `env:"AUTO_QUEUE_LOOKBACK"        envDefault:"168h"`
	CertificationValidity time.Duration `env:"CERTIFICATION_VALIDITY"     envDefault:"8760h"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL"             envDefault:"5m"`
}

// MinioConfig configures the evidence archive. An empty endpoint disables it.
type MinioConfig struct {
	Endpoint        string `env:"MINIO_ENDPOINT"`
	AccessKeyID     string `env:"MINIO_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"MINIO_SECRET_ACCESS_KEY"`
	BucketName      string `env:"MINIO_BUCKET_NAME" envDefault:"canonsafe-evidence"`
	UseSSL          bool   `env:"MINIO_USE_SSL"     envDefault:"false"`
}

// TracingConfig configures trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `env:"OTEL_ENDPOINT"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
	Environment string  `env:"DEPLOYMENT_ENV"    envDefault:"development"`
}

// PolicyConfig holds the operator-tunable decision bands and flag lists.
type PolicyConfig struct {
	PassThreshold         float64  `env:"POLICY_PASS_THRESHOLD"         envDefault:"90"`
	RegenerateThreshold   float64  `env:"POLICY_REGENERATE_THRESHOLD"   envDefault:"70"`
	QuarantineThreshold   float64  `env:"POLICY_QUARANTINE_THRESHOLD"   envDefault:"50"`
	CriticalFlags         []string `env:"POLICY_CRITICAL_FLAGS"         envDefault:"csam,self_harm_instructions,performer_consent_violation" envSeparator:","`
	HighSeverityFlags     []string `env:"POLICY_HIGH_SEVERITY_FLAGS"    envDefault:"canon_violation,legal_risk,brand_safety" envSeparator:","`
	SampleRate            float64  `env:"POLICY_SAMPLE_RATE"            envDefault:"0.05"`
	DisagreementThreshold float64  `env:"POLICY_DISAGREEMENT_THRESHOLD" envDefault:"30"`
}

// Load parses the environment and checks cross-field constraints.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engines cannot run with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	p := c.Policy
	if !(p.PassThreshold >= p.RegenerateThreshold && p.RegenerateThreshold >= p.QuarantineThreshold) {
		return fmt.Errorf("policy thresholds must satisfy pass >= regenerate >= quarantine (got %.1f, %.1f, %.1f)",
			p.PassThreshold, p.RegenerateThreshold, p.QuarantineThreshold)
	}
	if p.SampleRate < 0 || p.SampleRate > 1 {
		return fmt.Errorf("POLICY_SAMPLE_RATE must be within [0,1], got %v", p.SampleRate)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0,1], got %v", c.Tracing.SampleRatio)
	}
	if len(p.CriticalFlags) == 0 {
		return fmt.Errorf("POLICY_CRITICAL_FLAGS must name at least one flag")
	}
	if c.HealthDownAfter < 1 {
		return fmt.Errorf("HEALTH_DOWN_AFTER_FAILURES must be at least 1, got %d", c.HealthDownAfter)
	}
	return nil
}
