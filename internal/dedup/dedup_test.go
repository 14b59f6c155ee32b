package dedup

import (
	"testing"
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func buildTimeFinding(observed time.Time) models.Finding {
	return models.Finding{
		Identity:       "id-1",
		ResourceKey:    "arn:aws:ecr:us-east-1:123456789012:repository/app/sha256-abc",
		SourceID:       "trivy-42",
		SourceProduct:  "Trivy",
		SourceClass:    models.ClassBuildTime,
		CheckID:        "CVE-2024-1234",
		Severity:       models.SeverityCritical,
		RawSeverity:    "95",
		LastObservedAt: observed,
	}
}

func runtimeFinding(observed time.Time) models.Finding {
	return models.Finding{
		Identity:       "id-1",
		ResourceKey:    "arn:aws:ecr:us-east-1:123456789012:repository/app/sha256-abc",
		SourceID:       "inspector-7",
		SourceProduct:  "Inspector",
		SourceClass:    models.ClassRuntime,
		CheckID:        "CVE-2024-1234",
		Severity:       models.SeverityCritical,
		RawSeverity:    "CRITICAL",
		LastObservedAt: observed,
	}
}

func hasEvent(events []models.EventType, want models.EventType) bool {
	for _, e := range events {
		if e == want {
			return true
		}
	}
	return false
}

func TestResolve_FirstObservationCreates(t *testing.T) {
	res := Resolve(DefaultPolicy(), nil, buildTimeFinding(baseTime))

	if res.Outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", res.Outcome)
	}
	if res.Finding.WorkflowState != models.WorkflowNew {
		t.Errorf("expected NEW workflow state, got %s", res.Finding.WorkflowState)
	}
	if !res.Finding.Authoritative {
		t.Error("first observation should become authoritative regardless of class")
	}
	if !res.Finding.FirstObservedAt.Equal(baseTime) {
		t.Errorf("firstObservedAt should be set from the observation, got %v", res.Finding.FirstObservedAt)
	}
	if !hasEvent(res.Events, models.EventFindingCreated) {
		t.Error("expected FindingCreated event")
	}
}

func TestResolve_RuntimeTakesOverFromBuildTime(t *testing.T) {
	created := Resolve(DefaultPolicy(), nil, buildTimeFinding(baseTime))
	existing := created.Finding

	res := Resolve(DefaultPolicy(), &existing, runtimeFinding(baseTime.Add(time.Hour)))

	if res.Outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", res.Outcome)
	}
	if res.Finding.SourceProduct != "Inspector" {
		t.Errorf("runtime source should become authoritative, got %s", res.Finding.SourceProduct)
	}
	if !res.Finding.Authoritative {
		t.Error("record should remain authoritative")
	}
	if !hasEvent(res.Events, models.EventFindingUpdated) {
		t.Error("expected FindingUpdated event")
	}

	// The displaced build-time source is cross-referenced, not deleted.
	found := false
	for _, ref := range res.Finding.RelatedFindingIDs {
		if ref == "Trivy:trivy-42" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected build-time source in relatedFindingIds, got %v", res.Finding.RelatedFindingIDs)
	}
}

func TestResolve_BuildTimeAfterRuntimeIsSuppressed(t *testing.T) {
	created := Resolve(DefaultPolicy(), nil, runtimeFinding(baseTime))
	existing := created.Finding
	existing.WorkflowState = models.WorkflowNotified

	res := Resolve(DefaultPolicy(), &existing, buildTimeFinding(baseTime.Add(time.Hour)))

	if res.Outcome != OutcomeCrossReferenced {
		t.Fatalf("expected cross_referenced, got %s", res.Outcome)
	}
	if res.Finding.SourceProduct != "Inspector" {
		t.Error("runtime source should stay authoritative")
	}
	if res.Finding.WorkflowState != models.WorkflowNotified {
		t.Errorf("workflow state must be left untouched, got %s", res.Finding.WorkflowState)
	}
	if !hasEvent(res.Events, models.EventDuplicateSuppressed) {
		t.Error("expected DuplicateSuppressed event")
	}
	if hasEvent(res.Events, models.EventFindingCreated) {
		t.Error("suppressed duplicate must not surface as a new finding")
	}
}

func TestResolve_RepeatObservationBumpsAndReevaluates(t *testing.T) {
	created := Resolve(DefaultPolicy(), nil, buildTimeFinding(baseTime))
	existing := created.Finding

	repeat := buildTimeFinding(baseTime.Add(2 * time.Hour))
	repeat.Severity = models.SeverityHigh
	repeat.RawSeverity = "85"

	res := Resolve(DefaultPolicy(), &existing, repeat)

	if res.Outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", res.Outcome)
	}
	if !res.Finding.LastObservedAt.Equal(baseTime.Add(2 * time.Hour)) {
		t.Errorf("lastObservedAt not bumped: %v", res.Finding.LastObservedAt)
	}
	if !res.Finding.FirstObservedAt.Equal(baseTime) {
		t.Error("firstObservedAt must never change after creation")
	}
	if res.Finding.Severity != models.SeverityHigh {
		t.Errorf("severity should be re-evaluated, got %s", res.Finding.Severity)
	}
}

func TestResolve_NewObservationReopensResolved(t *testing.T) {
	created := Resolve(DefaultPolicy(), nil, buildTimeFinding(baseTime))
	existing := created.Finding
	existing.WorkflowState = models.WorkflowResolved

	res := Resolve(DefaultPolicy(), &existing, buildTimeFinding(baseTime.Add(24*time.Hour)))

	if res.Outcome != OutcomeReopened {
		t.Fatalf("expected reopened, got %s", res.Outcome)
	}
	if res.Finding.WorkflowState != models.WorkflowNew {
		t.Errorf("reopened finding should be NEW, got %s", res.Finding.WorkflowState)
	}
	if !hasEvent(res.Events, models.EventFindingReopened) {
		t.Error("reopen must be logged as a distinct lifecycle event")
	}
}

func TestResolve_SuppressedDuplicateDoesNotReopenResolved(t *testing.T) {
	created := Resolve(DefaultPolicy(), nil, runtimeFinding(baseTime))
	existing := created.Finding
	existing.WorkflowState = models.WorkflowResolved

	res := Resolve(DefaultPolicy(), &existing, buildTimeFinding(baseTime.Add(time.Hour)))

	if res.Outcome != OutcomeCrossReferenced {
		t.Fatalf("expected cross_referenced, got %s", res.Outcome)
	}
	if res.Finding.WorkflowState != models.WorkflowResolved {
		t.Errorf("lower-authority duplicate must leave workflow state untouched, got %s", res.Finding.WorkflowState)
	}
	if hasEvent(res.Events, models.EventFindingReopened) {
		t.Error("suppressed duplicate must not emit a reopen event")
	}
	if !hasEvent(res.Events, models.EventDuplicateSuppressed) {
		t.Error("expected DuplicateSuppressed event")
	}
}

func TestResolve_SameClassMostRecentWins(t *testing.T) {
	created := Resolve(DefaultPolicy(), nil, buildTimeFinding(baseTime))
	existing := created.Finding

	other := buildTimeFinding(baseTime.Add(time.Hour))
	other.SourceProduct = "Grype"
	other.SourceID = "grype-9"

	res := Resolve(DefaultPolicy(), &existing, other)

	if res.Finding.SourceProduct != "Grype" {
		t.Errorf("more recent same-class source should take authority, got %s", res.Finding.SourceProduct)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("expected updated, got %s", res.Outcome)
	}
}

func TestResolve_CrossReferenceIdempotent(t *testing.T) {
	created := Resolve(DefaultPolicy(), nil, runtimeFinding(baseTime))
	existing := created.Finding

	first := Resolve(DefaultPolicy(), &existing, buildTimeFinding(baseTime.Add(time.Minute)))
	second := Resolve(DefaultPolicy(), &first.Finding, buildTimeFinding(baseTime.Add(2*time.Minute)))

	if len(second.Finding.RelatedFindingIDs) != 1 {
		t.Errorf("repeat cross-reference should not duplicate, got %v", second.Finding.RelatedFindingIDs)
	}
}
