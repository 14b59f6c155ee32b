// Package store is the finding record store: the only component holding
// authoritative mutable state. Upserts and workflow transitions for one
// identity are serialized with a Postgres advisory lock so concurrent
// adapters can never produce divergent records; different identities proceed
// in parallel. Every successful mutation appends a lifecycle event and
// publishes a domain event carrying before/after state.
package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/secfuse/secfuse/internal/dedup"
	"github.com/secfuse/secfuse/internal/events"
	"github.com/secfuse/secfuse/internal/identity"
	"github.com/secfuse/secfuse/internal/models"
)

type Store struct {
	db     *sqlx.DB
	bus    events.Publisher
	policy dedup.Policy
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config, bus events.Publisher, policy dedup.Policy) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db, bus: bus, policy: policy}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// findingRow is the flat persistence shape of models.Finding.
type findingRow struct {
	Identity          string             `db:"identity"`
	ResourceKey       string             `db:"resource_key"`
	SourceID          string             `db:"source_id"`
	SourceProduct     string             `db:"source_product"`
	SourceClass       string             `db:"source_class"`
	CheckID           string             `db:"check_id"`
	Title             string             `db:"title"`
	Description       string             `db:"description"`
	ResourceType      string             `db:"resource_type"`
	ResourceARN       string             `db:"resource_arn"`
	ResourceRegion    string             `db:"resource_region"`
	ResourceAccountID string             `db:"resource_account_id"`
	Severity          int                `db:"severity"`
	RawSeverity       string             `db:"raw_severity"`
	Principal         string             `db:"principal"`
	WorkflowState     string             `db:"workflow_state"`
	VerificationState string             `db:"verification_state"`
	ComplianceStatus  string             `db:"compliance_status"`
	Authoritative     bool               `db:"authoritative"`
	RelatedFindingIDs models.StringArray `db:"related_finding_ids"`
	Notes             models.StringArray `db:"notes"`
	Archived          bool               `db:"archived"`
	FirstObservedAt   time.Time          `db:"first_observed_at"`
	LastObservedAt    time.Time          `db:"last_observed_at"`
	CreatedAt         time.Time          `db:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at"`
}

func toRow(f *models.Finding) *findingRow {
	return &findingRow{
		Identity:          f.Identity,
		ResourceKey:       f.ResourceKey,
		SourceID:          f.SourceID,
		SourceProduct:     f.SourceProduct,
		SourceClass:       string(f.SourceClass),
		CheckID:           f.CheckID,
		Title:             f.Title,
		Description:       f.Description,
		ResourceType:      f.Resource.Type,
		ResourceARN:       f.Resource.ARN,
		ResourceRegion:    f.Resource.Region,
		ResourceAccountID: f.Resource.AccountID,
		Severity:          int(f.Severity),
		RawSeverity:       f.RawSeverity,
		Principal:         f.Principal,
		WorkflowState:     string(f.WorkflowState),
		VerificationState: string(f.VerificationState),
		ComplianceStatus:  string(f.ComplianceStatus),
		Authoritative:     f.Authoritative,
		RelatedFindingIDs: f.RelatedFindingIDs,
		Notes:             f.Notes,
		Archived:          f.Archived,
		FirstObservedAt:   f.FirstObservedAt,
		LastObservedAt:    f.LastObservedAt,
		CreatedAt:         f.CreatedAt,
		UpdatedAt:         f.UpdatedAt,
	}
}

func (r *findingRow) toFinding() *models.Finding {
	return &models.Finding{
		Identity:      r.Identity,
		ResourceKey:   r.ResourceKey,
		SourceID:      r.SourceID,
		SourceProduct: r.SourceProduct,
		SourceClass:   models.SourceClass(r.SourceClass),
		CheckID:       r.CheckID,
		Title:         r.Title,
		Description:   r.Description,
		Resource: models.Resource{
			Type:      r.ResourceType,
			ARN:       r.ResourceARN,
			Region:    r.ResourceRegion,
			AccountID: r.ResourceAccountID,
		},
		Severity:          models.Severity(r.Severity),
		RawSeverity:       r.RawSeverity,
		Principal:         r.Principal,
		WorkflowState:     models.WorkflowState(r.WorkflowState),
		VerificationState: models.VerificationState(r.VerificationState),
		ComplianceStatus:  models.ComplianceStatus(r.ComplianceStatus),
		Authoritative:     r.Authoritative,
		RelatedFindingIDs: r.RelatedFindingIDs,
		Notes:             r.Notes,
		Archived:          r.Archived,
		FirstObservedAt:   r.FirstObservedAt,
		LastObservedAt:    r.LastObservedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// ApplyResult reports what an upsert did.
type ApplyResult struct {
	Finding  *models.Finding
	Previous *models.Finding
	Outcome  dedup.Outcome
	IsNew    bool
}

// lockIdentity serializes mutations per identity for the duration of the
// transaction. Different identities hash to different lock keys and do not
// contend.
func lockIdentity(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id)
	return err
}

func (s *Store) getForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Finding, error) {
	var row findingRow
	err := tx.GetContext(ctx, &row, `SELECT * FROM findings WHERE identity = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toFinding(), nil
}

// Apply upserts an observation: it resolves the incoming finding against the
// existing record for the same identity (dedup tie-break, severity
// re-evaluation, reopen) and persists the result atomically.
func (s *Store) Apply(ctx context.Context, incoming models.Finding) (*ApplyResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockIdentity(ctx, tx, incoming.Identity); err != nil {
		return nil, fmt.Errorf("locking identity: %w", err)
	}

	existing, err := s.getForUpdate(ctx, tx, incoming.Identity)
	if err != nil {
		return nil, fmt.Errorf("loading existing finding: %w", err)
	}

	resolution := dedup.Resolve(s.policy, existing, incoming)
	merged := resolution.Finding

	now := time.Now().UTC()
	merged.UpdatedAt = now
	if existing == nil {
		merged.CreatedAt = now
		if err := s.insertFinding(ctx, tx, &merged); err != nil {
			return nil, fmt.Errorf("inserting finding: %w", err)
		}
	} else {
		if err := s.updateFinding(ctx, tx, &merged); err != nil {
			return nil, fmt.Errorf("updating finding: %w", err)
		}
	}

	domainEvents := make([]models.Event, 0, len(resolution.Events))
	for _, et := range resolution.Events {
		ev := models.Event{
			Type:      et,
			Identity:  merged.Identity,
			Actor:     models.IngestionActor,
			Before:    existing,
			After:     &merged,
			Timestamp: now,
		}
		if err := s.appendLifecycle(ctx, tx, ev); err != nil {
			return nil, fmt.Errorf("appending lifecycle event: %w", err)
		}
		domainEvents = append(domainEvents, ev)
	}

	var diagnostics []models.CrossReferenceDiagnostic
	if existing == nil {
		diagnostics, err = s.detectCrossReferences(ctx, tx, &merged)
		if err != nil {
			return nil, fmt.Errorf("detecting cross references: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing upsert: %w", err)
	}

	if s.bus != nil {
		for _, ev := range domainEvents {
			s.bus.Publish(ev)
		}
		for _, d := range diagnostics {
			s.bus.Publish(models.Event{
				Type:      models.EventUnresolvedCrossReference,
				Identity:  d.IdentityA,
				Note:      fmt.Sprintf("possible duplicate of %s (%s vs %s)", d.IdentityB, d.ResourceA, d.ResourceB),
				Timestamp: now,
			})
		}
	}

	return &ApplyResult{
		Finding:  &merged,
		Previous: existing,
		Outcome:  resolution.Outcome,
		IsNew:    existing == nil,
	}, nil
}

func (s *Store) insertFinding(ctx context.Context, tx *sqlx.Tx, f *models.Finding) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO findings (
			identity, resource_key, source_id, source_product, source_class, check_id,
			title, description, resource_type, resource_arn, resource_region, resource_account_id,
			severity, raw_severity, principal, workflow_state, verification_state, compliance_status,
			authoritative, related_finding_ids, notes, archived,
			first_observed_at, last_observed_at, created_at, updated_at
		) VALUES (
			:identity, :resource_key, :source_id, :source_product, :source_class, :check_id,
			:title, :description, :resource_type, :resource_arn, :resource_region, :resource_account_id,
			:severity, :raw_severity, :principal, :workflow_state, :verification_state, :compliance_status,
			:authoritative, :related_finding_ids, :notes, :archived,
			:first_observed_at, :last_observed_at, :created_at, :updated_at
		)
	`, toRow(f))
	return err
}

func (s *Store) updateFinding(ctx context.Context, tx *sqlx.Tx, f *models.Finding) error {
	_, err := tx.NamedExecContext(ctx, `
		UPDATE findings SET
			source_id = :source_id, source_product = :source_product, source_class = :source_class,
			title = :title, description = :description,
			severity = :severity, raw_severity = :raw_severity, principal = :principal,
			workflow_state = :workflow_state, verification_state = :verification_state,
			compliance_status = :compliance_status, authoritative = :authoritative,
			related_finding_ids = :related_finding_ids, notes = :notes, archived = :archived,
			last_observed_at = :last_observed_at, updated_at = :updated_at
		WHERE identity = :identity
	`, toRow(f))
	return err
}

// Get returns the finding for an identity or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.Finding, error) {
	var row findingRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM findings WHERE identity = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toFinding(), nil
}

// Transition advances a finding's workflow state on behalf of an operator or
// automation rule. Monotonicity violations fail with ErrInvalidTransition;
// the reopen path (RESOLVED -> NEW) is reserved for Apply.
func (s *Store) Transition(ctx context.Context, id string, target models.WorkflowState, actor, note string) (*models.Finding, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transition transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockIdentity(ctx, tx, id); err != nil {
		return nil, fmt.Errorf("locking identity: %w", err)
	}

	before, err := s.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, ErrNotFound
	}

	if err := ValidateTransition(before.WorkflowState, target); err != nil {
		return nil, err
	}

	after := *before
	after.WorkflowState = target
	after.UpdatedAt = time.Now().UTC()
	if note != "" {
		after.Notes = append(after.Notes, fmt.Sprintf("%s: %s", actor, note))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE findings SET workflow_state = $1, notes = $2, updated_at = $3 WHERE identity = $4
	`, string(after.WorkflowState), after.Notes, after.UpdatedAt, id); err != nil {
		return nil, fmt.Errorf("updating workflow state: %w", err)
	}

	ev := models.Event{
		Type:      models.EventWorkflowTransitioned,
		Identity:  id,
		Actor:     actor,
		Before:    before,
		After:     &after,
		Note:      note,
		Timestamp: after.UpdatedAt,
	}
	if err := s.appendLifecycle(ctx, tx, ev); err != nil {
		return nil, fmt.Errorf("appending lifecycle event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}

	if s.bus != nil {
		s.bus.Publish(ev)
	}

	return &after, nil
}

// SetVerification records the analyst verdict for a finding.
func (s *Store) SetVerification(ctx context.Context, id string, state models.VerificationState, actor, note string) (*models.Finding, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := lockIdentity(ctx, tx, id); err != nil {
		return nil, err
	}

	before, err := s.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, ErrNotFound
	}

	after := *before
	after.VerificationState = state
	after.UpdatedAt = time.Now().UTC()
	if note != "" {
		after.Notes = append(after.Notes, fmt.Sprintf("%s: %s", actor, note))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE findings SET verification_state = $1, notes = $2, updated_at = $3 WHERE identity = $4
	`, string(state), after.Notes, after.UpdatedAt, id); err != nil {
		return nil, err
	}

	ev := models.Event{
		Type:      models.EventFindingUpdated,
		Identity:  id,
		Actor:     actor,
		Before:    before,
		After:     &after,
		Note:      note,
		Timestamp: after.UpdatedAt,
	}
	if err := s.appendLifecycle(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(ev)
	}
	return &after, nil
}

// Annotate appends an operator or rule note without touching workflow state.
func (s *Store) Annotate(ctx context.Context, id, actor, note string) (*models.Finding, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := lockIdentity(ctx, tx, id); err != nil {
		return nil, err
	}

	before, err := s.getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, ErrNotFound
	}

	after := *before
	after.Notes = append(after.Notes, fmt.Sprintf("%s: %s", actor, note))
	after.UpdatedAt = time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE findings SET notes = $1, updated_at = $2 WHERE identity = $3
	`, after.Notes, after.UpdatedAt, id); err != nil {
		return nil, err
	}

	ev := models.Event{
		Type:      models.EventFindingUpdated,
		Identity:  id,
		Actor:     actor,
		Before:    before,
		After:     &after,
		Note:      note,
		Timestamp: after.UpdatedAt,
	}
	if err := s.appendLifecycle(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(ev)
	}
	return &after, nil
}

// Filter is a predicate conjunction for Query. Zero values mean "any".
type Filter struct {
	ResourceARN     string
	SourceProduct   string
	WorkflowStates  []models.WorkflowState
	MinSeverity     models.Severity
	MaxSeverity     models.Severity
	Since           time.Time
	Until           time.Time
	ScopeAccounts   []string // capability scope; empty means unrestricted
	IncludeArchived bool
	Limit           int
	Cursor          string
}

// Page is one query result page with the cursor for the next one.
type Page struct {
	Findings   []models.Finding
	NextCursor string
}

const defaultPageSize = 100

// Query returns findings matching the filter, ordered by lastObservedAt
// descending, paginated with a keyset cursor. Each invocation opens a fresh
// cursor; the caller's context cancels a long scan cooperatively.
func (s *Store) Query(ctx context.Context, f Filter) (*Page, error) {
	query := `SELECT * FROM findings WHERE 1=1`
	args := make([]interface{}, 0)
	argIdx := 1

	add := func(clause string, value interface{}) {
		query += fmt.Sprintf(" AND "+clause, argIdx)
		args = append(args, value)
		argIdx++
	}

	if f.ResourceARN != "" {
		add("resource_arn = $%d", f.ResourceARN)
	}
	if f.SourceProduct != "" {
		add("source_product = $%d", f.SourceProduct)
	}
	if len(f.WorkflowStates) > 0 {
		states := make([]string, len(f.WorkflowStates))
		for i, st := range f.WorkflowStates {
			states[i] = string(st)
		}
		add("workflow_state = ANY($%d)", models.StringArray(states))
	}
	if f.MinSeverity > 0 {
		add("severity >= $%d", int(f.MinSeverity))
	}
	if f.MaxSeverity > 0 {
		add("severity <= $%d", int(f.MaxSeverity))
	}
	if !f.Since.IsZero() {
		add("last_observed_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("last_observed_at <= $%d", f.Until)
	}
	if len(f.ScopeAccounts) > 0 {
		add("resource_account_id = ANY($%d)", models.StringArray(f.ScopeAccounts))
	}
	if !f.IncludeArchived {
		query += " AND archived = false"
	}

	if f.Cursor != "" {
		ts, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		query += fmt.Sprintf(" AND (last_observed_at, identity) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, ts, id)
		argIdx += 2
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultPageSize
	}
	query += fmt.Sprintf(" ORDER BY last_observed_at DESC, identity DESC LIMIT %d", limit+1)

	var rows []findingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	page := &Page{Findings: make([]models.Finding, 0, len(rows))}
	for i, row := range rows {
		if i == limit {
			last := rows[i-1]
			page.NextCursor = encodeCursor(last.LastObservedAt, last.Identity)
			break
		}
		page.Findings = append(page.Findings, *row.toFinding())
	}
	return page, nil
}

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	return ts, parts[1], nil
}

// RecentWindow returns non-archived findings observed since the given time,
// for the correlation batch job.
func (s *Store) RecentWindow(ctx context.Context, since time.Time) ([]models.Finding, error) {
	var rows []findingRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM findings WHERE archived = false AND last_observed_at >= $1
		ORDER BY last_observed_at DESC
	`, since)
	if err != nil {
		return nil, err
	}
	findings := make([]models.Finding, len(rows))
	for i, row := range rows {
		findings[i] = *row.toFinding()
	}
	return findings, nil
}

func (s *Store) appendLifecycle(ctx context.Context, tx *sqlx.Tx, ev models.Event) error {
	var before, after interface{}
	if ev.Before != nil {
		b, err := json.Marshal(ev.Before)
		if err != nil {
			return err
		}
		before = b
	}
	if ev.After != nil {
		a, err := json.Marshal(ev.After)
		if err != nil {
			return err
		}
		after = a
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO lifecycle_events (identity, event_type, actor, note, before_state, after_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.Identity, string(ev.Type), ev.Actor, ev.Note, before, after, ev.Timestamp)
	return err
}

// EventCounts aggregates lifecycle events by type since the given time, for
// the daily digest.
func (s *Store) EventCounts(ctx context.Context, since time.Time) (map[models.EventType]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT event_type, COUNT(*) FROM lifecycle_events
		WHERE created_at >= $1 GROUP BY event_type
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.EventType]int)
	for rows.Next() {
		var eventType string
		var count int
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		counts[models.EventType(eventType)] = count
	}
	return counts, rows.Err()
}

// ListLifecycle returns the append-only history for an identity, oldest first.
func (s *Store) ListLifecycle(ctx context.Context, id string) ([]models.LifecycleEvent, error) {
	var out []models.LifecycleEvent
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, identity, event_type, actor, note, before_state, after_state, created_at
		FROM lifecycle_events WHERE identity = $1 ORDER BY created_at ASC, id ASC
	`, id)
	return out, err
}

// detectCrossReferences flags findings for the same check whose resource keys
// differ but look like the same resource under two naming conventions.
// Advisory only; operators resolve them by registering a resource mapping.
func (s *Store) detectCrossReferences(ctx context.Context, tx *sqlx.Tx, f *models.Finding) ([]models.CrossReferenceDiagnostic, error) {
	type candidate struct {
		Identity    string `db:"identity"`
		ResourceKey string `db:"resource_key"`
	}
	var candidates []candidate
	err := tx.SelectContext(ctx, &candidates, `
		SELECT identity, resource_key FROM findings
		WHERE check_id = $1 AND identity <> $2 AND resource_key <> $3
		LIMIT 50
	`, f.CheckID, f.Identity, f.ResourceKey)
	if err != nil {
		return nil, err
	}

	var diags []models.CrossReferenceDiagnostic
	for _, c := range candidates {
		if !identity.LikelySameResource(f.ResourceKey, c.ResourceKey) {
			continue
		}
		d := models.CrossReferenceDiagnostic{
			ID:         uuid.New().String(),
			IdentityA:  f.Identity,
			IdentityB:  c.Identity,
			ResourceA:  f.ResourceKey,
			ResourceB:  c.ResourceKey,
			DetectedAt: time.Now().UTC(),
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cross_reference_diagnostics (id, identity_a, identity_b, resource_a, resource_b, resolved, detected_at)
			VALUES ($1, $2, $3, $4, $5, false, $6)
			ON CONFLICT (identity_a, identity_b) DO NOTHING
		`, d.ID, d.IdentityA, d.IdentityB, d.ResourceA, d.ResourceB, d.DetectedAt); err != nil {
			return nil, err
		}
		diags = append(diags, d)
	}
	return diags, nil
}

// ListCrossReferences returns cross-reference diagnostics, unresolved first.
func (s *Store) ListCrossReferences(ctx context.Context, includeResolved bool) ([]models.CrossReferenceDiagnostic, error) {
	query := `SELECT * FROM cross_reference_diagnostics`
	if !includeResolved {
		query += ` WHERE resolved = false`
	}
	query += ` ORDER BY detected_at DESC`

	var out []models.CrossReferenceDiagnostic
	err := s.db.SelectContext(ctx, &out, query)
	return out, err
}

// ResolveCrossReference marks a diagnostic handled after an operator links or
// dismisses the pair.
func (s *Store) ResolveCrossReference(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE cross_reference_diagnostics SET resolved = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ArchiveResolved moves long-resolved findings to cold storage. Archived
// records stay in the table and remain queryable with IncludeArchived.
func (s *Store) ArchiveResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE findings SET archived = true, updated_at = $1
		WHERE workflow_state = $2 AND archived = false AND updated_at < $3
	`, time.Now().UTC(), string(models.WorkflowResolved), time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats aggregates finding counts by severity and workflow state.
func (s *Store) Stats(ctx context.Context) (map[string]map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT severity, workflow_state, COUNT(*) FROM findings
		WHERE archived = false GROUP BY severity, workflow_state
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]map[string]int)
	for rows.Next() {
		var sev int
		var state string
		var count int
		if err := rows.Scan(&sev, &state, &count); err != nil {
			return nil, err
		}
		key := models.Severity(sev).String()
		if stats[key] == nil {
			stats[key] = make(map[string]int)
		}
		stats[key][state] = count
	}
	return stats, rows.Err()
}

// SourceCounts aggregates non-archived finding counts by source product.
func (s *Store) SourceCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT source_product, COUNT(*) FROM findings
		WHERE archived = false GROUP BY source_product
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, err
		}
		counts[source] = count
	}
	return counts, rows.Err()
}
