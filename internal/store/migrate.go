package store

import "context"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS findings (
		identity            TEXT PRIMARY KEY,
		resource_key        TEXT NOT NULL,
		source_id           TEXT NOT NULL,
		source_product      TEXT NOT NULL,
		source_class        TEXT NOT NULL,
		check_id            TEXT NOT NULL,
		title               TEXT NOT NULL DEFAULT '',
		description         TEXT NOT NULL DEFAULT '',
		resource_type       TEXT NOT NULL DEFAULT '',
		resource_arn        TEXT NOT NULL,
		resource_region     TEXT NOT NULL DEFAULT '',
		resource_account_id TEXT NOT NULL DEFAULT '',
		severity            INT NOT NULL,
		raw_severity        TEXT NOT NULL DEFAULT '',
		principal           TEXT NOT NULL DEFAULT '',
		workflow_state      TEXT NOT NULL,
		verification_state  TEXT NOT NULL,
		compliance_status   TEXT NOT NULL DEFAULT '',
		authoritative       BOOLEAN NOT NULL DEFAULT true,
		related_finding_ids TEXT[] NOT NULL DEFAULT '{}',
		notes               TEXT[] NOT NULL DEFAULT '{}',
		archived            BOOLEAN NOT NULL DEFAULT false,
		first_observed_at   TIMESTAMPTZ NOT NULL,
		last_observed_at    TIMESTAMPTZ NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_last_observed ON findings (last_observed_at DESC, identity DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_resource_arn ON findings (resource_arn)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_check ON findings (check_id)`,
	`CREATE INDEX IF NOT EXISTS idx_findings_account ON findings (resource_account_id)`,

	`CREATE TABLE IF NOT EXISTS lifecycle_events (
		id           BIGSERIAL PRIMARY KEY,
		identity     TEXT NOT NULL,
		event_type   TEXT NOT NULL,
		actor        TEXT NOT NULL DEFAULT '',
		note         TEXT NOT NULL DEFAULT '',
		before_state JSONB,
		after_state  JSONB,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_lifecycle_identity ON lifecycle_events (identity, created_at)`,

	`CREATE TABLE IF NOT EXISTS finding_groups (
		id         TEXT PRIMARY KEY,
		members    TEXT[] NOT NULL,
		reason     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_groups_members ON finding_groups USING GIN (members)`,

	`CREATE TABLE IF NOT EXISTS cross_reference_diagnostics (
		id          TEXT PRIMARY KEY,
		identity_a  TEXT NOT NULL,
		identity_b  TEXT NOT NULL,
		resource_a  TEXT NOT NULL,
		resource_b  TEXT NOT NULL,
		resolved    BOOLEAN NOT NULL DEFAULT false,
		detected_at TIMESTAMPTZ NOT NULL,
		UNIQUE (identity_a, identity_b)
	)`,

	`CREATE TABLE IF NOT EXISTS automation_rules (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		rule_order  INT NOT NULL,
		is_terminal BOOLEAN NOT NULL DEFAULT false,
		enabled     BOOLEAN NOT NULL DEFAULT true,
		criteria    JSONB NOT NULL,
		actions     JSONB NOT NULL,
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		email         TEXT UNIQUE NOT NULL,
		name          TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL,
		scope_accounts TEXT[] NOT NULL DEFAULT '{}',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		token      TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens (user_id, token)`,

	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		schedule    TEXT NOT NULL,
		job_type    TEXT NOT NULL,
		config      JSONB,
		enabled     BOOLEAN NOT NULL DEFAULT true,
		last_run    TIMESTAMPTZ,
		next_run    TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_executions (
		id         TEXT PRIMARY KEY,
		job_id     TEXT NOT NULL,
		status     TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at   TIMESTAMPTZ,
		error      TEXT NOT NULL DEFAULT '',
		output     TEXT NOT NULL DEFAULT ''
	)`,
}

// Migrate bootstraps the schema. Statements are idempotent so startup can
// always run it.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
