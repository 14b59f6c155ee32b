// Package dedup decides what an incoming observation means for the canonical
// record sharing its identity: a new issue, an update, a suppressed duplicate
// from a lower-authority source, or a reopening of a resolved issue. The
// decision is a pure function so the tie-break policy stays deterministic and
// testable; persistence and locking live in the store.
package dedup

import (
	"fmt"

	"github.com/secfuse/secfuse/internal/models"
)

type Outcome string

const (
	OutcomeCreated         Outcome = "created"
	OutcomeUpdated         Outcome = "updated"
	OutcomeCrossReferenced Outcome = "cross_referenced"
	OutcomeReopened        Outcome = "reopened"
)

// Policy controls the authority tie-break between source classes reporting
// the same identity. The default encodes the production rule: a runtime
// observation outranks a build-time observation once both exist.
type Policy struct {
	PreferRuntime bool
}

func DefaultPolicy() Policy {
	return Policy{PreferRuntime: true}
}

// Resolution is the merged record plus the events the store must emit.
type Resolution struct {
	Finding models.Finding
	Outcome Outcome
	Events  []models.EventType
}

// sourceRef is the traceability tag recorded in RelatedFindingIDs when an
// observation is folded into a record owned by another source.
func sourceRef(product, sourceID string) string {
	return fmt.Sprintf("%s:%s", product, sourceID)
}

// Resolve merges an incoming observation into the existing record for the
// same identity. existing is nil on first observation. The incoming finding
// must already carry its normalized severity and computed identity.
func Resolve(policy Policy, existing *models.Finding, incoming models.Finding) Resolution {
	if existing == nil {
		f := incoming
		f.WorkflowState = models.WorkflowNew
		if f.VerificationState == "" {
			f.VerificationState = models.VerificationUnknown
		}
		f.Authoritative = true
		f.FirstObservedAt = incoming.LastObservedAt
		return Resolution{
			Finding: f,
			Outcome: OutcomeCreated,
			Events:  []models.EventType{models.EventFindingCreated},
		}
	}

	merged := *existing
	if incoming.LastObservedAt.After(merged.LastObservedAt) {
		merged.LastObservedAt = incoming.LastObservedAt
	}

	outcome, events := mergeSource(policy, existing, incoming, &merged)

	if existing.WorkflowState == models.WorkflowResolved && outcome != OutcomeCrossReferenced {
		// A fresh authoritative observation of a resolved identity reopens
		// it. This is the only path back to NEW and is logged as its own
		// lifecycle event. A suppressed duplicate carries no authority over
		// the record, so it leaves the workflow state untouched.
		merged.WorkflowState = models.WorkflowNew
		outcome = OutcomeReopened
		events = append(events, models.EventFindingReopened)
	}

	return Resolution{Finding: merged, Outcome: outcome, Events: events}
}

// mergeSource applies the authority rules for the observation's source.
func mergeSource(policy Policy, existing *models.Finding, incoming models.Finding, merged *models.Finding) (Outcome, []models.EventType) {
	sameSource := existing.SourceProduct == incoming.SourceProduct

	if sameSource {
		// Repeat observation from the owning source: re-evaluate severity
		// from the raw value, refresh descriptive fields.
		merged.SourceID = incoming.SourceID
		merged.Severity = incoming.Severity
		merged.RawSeverity = incoming.RawSeverity
		merged.Title = incoming.Title
		merged.Description = incoming.Description
		merged.ComplianceStatus = incoming.ComplianceStatus
		return OutcomeUpdated, []models.EventType{models.EventFindingUpdated}
	}

	var incomingOutranks bool
	switch {
	case incoming.SourceClass == existing.SourceClass:
		// Two distinct products of the same class: most recent observation
		// wins, which also covers the decommissioned-source case.
		incomingOutranks = !incoming.LastObservedAt.Before(existing.LastObservedAt)
	case policy.PreferRuntime:
		incomingOutranks = incoming.SourceClass == models.ClassRuntime
	default:
		incomingOutranks = !incoming.LastObservedAt.Before(existing.LastObservedAt)
	}

	if incomingOutranks {
		// The incoming source takes authority; the previous source stays
		// attached as a cross-reference so nothing is deleted.
		merged.RelatedFindingIDs = appendUnique(merged.RelatedFindingIDs,
			sourceRef(existing.SourceProduct, existing.SourceID))
		merged.SourceProduct = incoming.SourceProduct
		merged.SourceClass = incoming.SourceClass
		merged.SourceID = incoming.SourceID
		merged.Severity = incoming.Severity
		merged.RawSeverity = incoming.RawSeverity
		merged.Authoritative = true
		return OutcomeUpdated, []models.EventType{models.EventFindingUpdated}
	}

	// Lower-authority duplicate: recorded as a cross-reference, the existing
	// record's workflow state is left untouched, and no independent alert
	// surfaces. The distinct event keeps the audit trail explicit about why.
	merged.RelatedFindingIDs = appendUnique(merged.RelatedFindingIDs,
		sourceRef(incoming.SourceProduct, incoming.SourceID))
	return OutcomeCrossReferenced, []models.EventType{models.EventDuplicateSuppressed}
}

func appendUnique(list models.StringArray, v string) models.StringArray {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
