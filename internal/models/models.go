package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
)

// StringArray is an alias for pq.StringArray to handle PostgreSQL arrays
type StringArray = pq.StringArray

// Severity is the canonical ordinal severity scale. Every source's raw
// severity representation maps onto this scale exactly once, at ingestion.
type Severity int

const (
	SeverityUnknown  Severity = 0
	SeverityInfo     Severity = 1
	SeverityLow      Severity = 2
	SeverityMedium   Severity = 3
	SeverityHigh     Severity = 4
	SeverityCritical Severity = 5
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFORMATIONAL"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity maps a canonical severity label back to its ordinal.
// Unrecognized labels map to SeverityUnknown.
func ParseSeverity(label string) Severity {
	switch strings.ToUpper(label) {
	case "INFORMATIONAL", "INFO":
		return SeverityInfo
	case "LOW":
		return SeverityLow
	case "MEDIUM":
		return SeverityMedium
	case "HIGH":
		return SeverityHigh
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}

// SourceClass distinguishes where in the delivery lifecycle a scanner runs.
// The deduplication tie-break depends on it: a runtime observation outranks a
// build-time observation of the same identity.
type SourceClass string

const (
	ClassBuildTime SourceClass = "build-time"
	ClassRuntime   SourceClass = "runtime"
)

type WorkflowState string

const (
	WorkflowNew        WorkflowState = "NEW"
	WorkflowNotified   WorkflowState = "NOTIFIED"
	WorkflowSuppressed WorkflowState = "SUPPRESSED"
	WorkflowResolved   WorkflowState = "RESOLVED"
)

type VerificationState string

const (
	VerificationUnknown        VerificationState = "UNKNOWN"
	VerificationTruePositive   VerificationState = "TRUE_POSITIVE"
	VerificationFalsePositive  VerificationState = "FALSE_POSITIVE"
	VerificationBenignPositive VerificationState = "BENIGN_POSITIVE"
)

type ComplianceStatus string

const (
	CompliancePassed        ComplianceStatus = "PASSED"
	ComplianceFailed        ComplianceStatus = "FAILED"
	ComplianceNotApplicable ComplianceStatus = "NOT_APPLICABLE"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Resource identifies the thing a finding is about.
type Resource struct {
	Type      string `json:"type" db:"resource_type"`
	ARN       string `json:"arn" db:"resource_arn"`
	Region    string `json:"region" db:"resource_region"`
	AccountID string `json:"account_id" db:"resource_account_id"`
}

// Finding is the canonical unit of record. Identity is content-derived and
// immutable; two findings with equal Identity are the same underlying issue
// regardless of which scanner reported them.
type Finding struct {
	Identity          string            `json:"identity" db:"identity"`
	ResourceKey       string            `json:"-" db:"resource_key"`
	SourceID          string            `json:"source_id" db:"source_id"`
	SourceProduct     string            `json:"source_product" db:"source_product"`
	SourceClass       SourceClass       `json:"source_class" db:"source_class"`
	CheckID           string            `json:"check_id" db:"check_id"`
	Title             string            `json:"title" db:"title"`
	Description       string            `json:"description" db:"description"`
	Resource          Resource          `json:"resource"`
	Severity          Severity          `json:"severity" db:"severity"`
	RawSeverity       string            `json:"raw_severity" db:"raw_severity"`
	Principal         string            `json:"principal,omitempty" db:"principal"`
	WorkflowState     WorkflowState     `json:"workflow_state" db:"workflow_state"`
	VerificationState VerificationState `json:"verification_state" db:"verification_state"`
	ComplianceStatus  ComplianceStatus  `json:"compliance_status,omitempty" db:"compliance_status"`
	Authoritative     bool              `json:"authoritative" db:"authoritative"`
	RelatedFindingIDs StringArray       `json:"related_finding_ids" db:"related_finding_ids"`
	Notes             StringArray       `json:"notes,omitempty" db:"notes"`
	FirstObservedAt   time.Time         `json:"first_observed_at" db:"first_observed_at"`
	LastObservedAt    time.Time         `json:"last_observed_at" db:"last_observed_at"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
	Archived          bool              `json:"archived,omitempty" db:"archived"`
}

// RawFinding is a source observation after adapter parsing but before
// identity computation and deduplication. Adapters must populate every field
// except Principal and ComplianceStatus, which are optional.
type RawFinding struct {
	SourceID         string
	SourceProduct    string
	SourceClass      SourceClass
	CheckID          string
	Title            string
	Description      string
	Resource         Resource
	RawSeverity      string
	Principal        string
	ComplianceStatus ComplianceStatus
	ObservedAt       time.Time
}

type GroupReason string

const (
	GroupByResource  GroupReason = "RESOURCE"
	GroupByPrincipal GroupReason = "PRINCIPAL"
	GroupByTemporal  GroupReason = "TEMPORAL"
	GroupByComposite GroupReason = "COMPOSITE"
)

// FindingGroup is a materialized correlation partition with >= 2 members.
// Membership is symmetric: every member lists the same group.
type FindingGroup struct {
	ID        string      `json:"id" db:"id"`
	Members   StringArray `json:"members" db:"members"`
	Reason    GroupReason `json:"reason" db:"reason"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// EventType enumerates domain events emitted by the store and dedup engine.
type EventType string

const (
	EventFindingCreated           EventType = "finding.created"
	EventFindingUpdated           EventType = "finding.updated"
	EventFindingReopened          EventType = "finding.reopened"
	EventWorkflowTransitioned     EventType = "finding.workflow_transitioned"
	EventDuplicateSuppressed      EventType = "finding.duplicate_suppressed"
	EventUnresolvedCrossReference EventType = "finding.unresolved_cross_reference"
)

// Event carries before/after state so subscribers can audit every mutation
// from the event stream alone.
type Event struct {
	Type      EventType `json:"type"`
	Identity  string    `json:"identity"`
	Actor     string    `json:"actor,omitempty"`
	Before    *Finding  `json:"before,omitempty"`
	After     *Finding  `json:"after,omitempty"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LifecycleEvent is the persisted form of an Event, appended per identity.
type LifecycleEvent struct {
	ID        int64     `json:"id" db:"id"`
	Identity  string    `json:"identity" db:"identity"`
	EventType EventType `json:"event_type" db:"event_type"`
	Actor     string    `json:"actor" db:"actor"`
	Note      string    `json:"note" db:"note"`
	Before    JSONB     `json:"before,omitempty" db:"before_state"`
	After     JSONB     `json:"after,omitempty" db:"after_state"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CrossReferenceDiagnostic records two findings that look like the same
// resource under different identifiers. Advisory only; it never blocks
// ingestion. Operators resolve it by registering a resource mapping.
type CrossReferenceDiagnostic struct {
	ID         string    `json:"id" db:"id"`
	IdentityA  string    `json:"identity_a" db:"identity_a"`
	IdentityB  string    `json:"identity_b" db:"identity_b"`
	ResourceA  string    `json:"resource_a" db:"resource_a"`
	ResourceB  string    `json:"resource_b" db:"resource_b"`
	Resolved   bool      `json:"resolved" db:"resolved"`
	DetectedAt time.Time `json:"detected_at" db:"detected_at"`
}

// IngestionActor is the synthetic actor recorded on lifecycle events the
// ingestion pipeline emits itself, as opposed to operator actions.
const IngestionActor = "ingestion"
