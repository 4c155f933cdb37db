package datastore

// schema is written in the subset of SQL shared by Postgres and SQLite.
// Timestamps are unix milliseconds; list and map columns hold JSON text.
const schema = `
CREATE TABLE IF NOT EXISTS judges (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL,
	model_type           TEXT NOT NULL,
	endpoint             TEXT NOT NULL DEFAULT '',
	api_key              TEXT NOT NULL DEFAULT '',
	model_id             TEXT NOT NULL DEFAULT '',
	modalities           TEXT NOT NULL DEFAULT '[]',
	weight               DOUBLE PRECISION NOT NULL DEFAULT 1,
	prompt_template      TEXT NOT NULL DEFAULT '',
	score_scale          TEXT NOT NULL DEFAULT 'percent',
	timeout_ms           BIGINT NOT NULL DEFAULT 0,
	cost_per_1k_input    DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_per_1k_output   DOUBLE PRECISION NOT NULL DEFAULT 0,
	other_configs        TEXT NOT NULL DEFAULT '{}',
	is_active            BOOLEAN NOT NULL DEFAULT TRUE,
	health_status        TEXT NOT NULL DEFAULT 'unknown',
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_latency_ms      BIGINT NOT NULL DEFAULT 0,
	last_checked_at      BIGINT,
	created_at           BIGINT NOT NULL,
	updated_at           BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS consent_records (
	id                 TEXT PRIMARY KEY,
	character_id       TEXT NOT NULL,
	performer_name     TEXT NOT NULL,
	consent_type       TEXT NOT NULL,
	territories        TEXT NOT NULL DEFAULT '[]',
	modalities         TEXT NOT NULL DEFAULT '[]',
	usage_restrictions TEXT NOT NULL DEFAULT '[]',
	valid_from         BIGINT NOT NULL,
	valid_until        BIGINT,
	strike_clause      BOOLEAN NOT NULL DEFAULT FALSE,
	strike_activated   BOOLEAN NOT NULL DEFAULT FALSE,
	struck_at          BIGINT,
	created_at         BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consent_records_character ON consent_records (character_id);

CREATE TABLE IF NOT EXISTS eval_runs (
	id               TEXT PRIMARY KEY,
	character_id     TEXT NOT NULL,
	modality         TEXT NOT NULL,
	tier             TEXT NOT NULL DEFAULT '',
	agent_id         TEXT NOT NULL DEFAULT '',
	territory        TEXT NOT NULL DEFAULT '',
	usage_type       TEXT NOT NULL DEFAULT '',
	content          TEXT NOT NULL,
	consent_verified BOOLEAN NOT NULL,
	overall_score    DOUBLE PRECISION,
	decision         TEXT NOT NULL,
	flags            TEXT NOT NULL DEFAULT '[]',
	provenance       TEXT NOT NULL DEFAULT '{}',
	source           TEXT NOT NULL,
	latency_ms       BIGINT NOT NULL DEFAULT 0,
	total_cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_eval_runs_created ON eval_runs (created_at);

CREATE TABLE IF NOT EXISTS critic_results (
	id            TEXT PRIMARY KEY,
	eval_run_id   TEXT NOT NULL REFERENCES eval_runs (id),
	position      INTEGER NOT NULL,
	judge_id      TEXT NOT NULL,
	judge_name    TEXT NOT NULL DEFAULT '',
	score         DOUBLE PRECISION,
	weight        DOUBLE PRECISION NOT NULL DEFAULT 1,
	reasoning     TEXT NOT NULL DEFAULT '',
	flags         TEXT NOT NULL DEFAULT '[]',
	latency_ms    BIGINT NOT NULL DEFAULT 0,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
	failure_kind  TEXT NOT NULL DEFAULT '',
	failure       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_critic_results_run ON critic_results (eval_run_id);

CREATE TABLE IF NOT EXISTS experiments (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	experiment_type TEXT NOT NULL,
	variant_a       TEXT NOT NULL,
	variant_b       TEXT NOT NULL,
	sample_size     INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	winner          TEXT,
	summary         TEXT,
	created_at      BIGINT NOT NULL,
	started_at      BIGINT,
	completed_at    BIGINT
);

CREATE TABLE IF NOT EXISTS trials (
	id            TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL REFERENCES experiments (id),
	pair_id       TEXT NOT NULL,
	variant       TEXT NOT NULL,
	eval_run_id   TEXT NOT NULL REFERENCES eval_runs (id),
	character_id  TEXT NOT NULL,
	modality      TEXT NOT NULL,
	content       TEXT NOT NULL,
	score         DOUBLE PRECISION,
	decision      TEXT NOT NULL,
	latency_ms    BIGINT NOT NULL DEFAULT 0,
	cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trials_experiment ON trials (experiment_id, variant, created_at);

CREATE TABLE IF NOT EXISTS test_suites (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	pass_threshold DOUBLE PRECISION NOT NULL,
	min_score      DOUBLE PRECISION NOT NULL,
	created_at     BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS test_cases (
	id               TEXT PRIMARY KEY,
	suite_id         TEXT NOT NULL REFERENCES test_suites (id),
	position         INTEGER NOT NULL,
	name             TEXT NOT NULL,
	content          TEXT NOT NULL,
	modality         TEXT NOT NULL,
	territory        TEXT NOT NULL DEFAULT '',
	usage_type       TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	reference_output TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_test_cases_suite ON test_cases (suite_id, position);

CREATE TABLE IF NOT EXISTS certifications (
	id                TEXT PRIMARY KEY,
	agent_id          TEXT NOT NULL,
	character_id      TEXT NOT NULL,
	card_version_id   TEXT NOT NULL,
	test_suite_id     TEXT NOT NULL REFERENCES test_suites (id),
	tier              TEXT NOT NULL,
	status            TEXT NOT NULL,
	score             DOUBLE PRECISION NOT NULL DEFAULT 0,
	results_summary   TEXT NOT NULL DEFAULT '{}',
	report_object_key TEXT NOT NULL DEFAULT '',
	created_at        BIGINT NOT NULL,
	completed_at      BIGINT,
	expires_at        BIGINT,
	updated_at        BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_items (
	id                     TEXT PRIMARY KEY,
	eval_run_id            TEXT NOT NULL UNIQUE REFERENCES eval_runs (id),
	reason                 TEXT NOT NULL,
	priority               INTEGER NOT NULL,
	status                 TEXT NOT NULL,
	resolution             TEXT,
	override_decision      TEXT,
	override_justification TEXT NOT NULL DEFAULT '',
	reviewer_notes         TEXT NOT NULL DEFAULT '',
	assigned_reviewer      TEXT NOT NULL DEFAULT '',
	created_at             BIGINT NOT NULL,
	claimed_at             BIGINT,
	resolved_at            BIGINT,
	expired_at             BIGINT
);
CREATE INDEX IF NOT EXISTS idx_review_items_status ON review_items (status, priority);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL DEFAULT '{}',
	created_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log (entity_type, entity_id);
`
