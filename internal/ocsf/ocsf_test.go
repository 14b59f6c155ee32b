package ocsf

import (
	"testing"
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

func TestProject(t *testing.T) {
	first := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	last := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)

	f := &models.Finding{
		Identity:          "abc123",
		SourceProduct:     "inspector",
		SourceClass:       models.ClassRuntime,
		CheckID:           "CVE-2024-1234",
		Title:             "openssl vulnerable",
		Description:       "buffer overread",
		Resource:          models.Resource{Type: "container-image", ARN: "arn:aws:ecr:::repo/api", Region: "us-east-1", AccountID: "111"},
		Severity:          models.SeverityHigh,
		Principal:         "role/deployer",
		WorkflowState:     models.WorkflowNotified,
		VerificationState: models.VerificationTruePositive,
		Authoritative:     true,
		RelatedFindingIDs: []string{"trivy:img/openssl/CVE-2024-1234"},
		FirstObservedAt:   first,
		LastObservedAt:    last,
	}

	out := Project(f)

	if out.ClassUID != 2002 || out.CategoryUID != 2 {
		t.Errorf("class/category = %d/%d, want 2002/2", out.ClassUID, out.CategoryUID)
	}
	if out.SeverityID != 4 || out.Severity != "HIGH" {
		t.Errorf("severity = %d/%s, want 4/HIGH", out.SeverityID, out.Severity)
	}
	if out.StatusID != 2 {
		t.Errorf("status_id = %d, want 2 for NOTIFIED", out.StatusID)
	}
	if out.ActivityID != activityUpdate {
		t.Errorf("activity = %d, want update for a re-observed finding", out.ActivityID)
	}
	if out.FindingInfo.UID != "abc123" || out.FindingInfo.CheckUID != "CVE-2024-1234" {
		t.Errorf("finding_info = %+v", out.FindingInfo)
	}
	if out.FindingInfo.FirstSeenTime != first.UnixMilli() {
		t.Errorf("first_seen_time = %d", out.FindingInfo.FirstSeenTime)
	}
	if len(out.Resources) != 1 || out.Resources[0].UID != f.Resource.ARN {
		t.Errorf("resources = %+v", out.Resources)
	}
	if out.Unmapped.SourceClass != "runtime" || !out.Unmapped.Authoritative {
		t.Errorf("unmapped = %+v", out.Unmapped)
	}
	if len(out.Observables) != 1 || out.Observables[0].Value != "role/deployer" {
		t.Errorf("observables = %+v", out.Observables)
	}
}

func TestProject_Activity(t *testing.T) {
	at := time.Now().UTC()

	fresh := &models.Finding{WorkflowState: models.WorkflowNew, FirstObservedAt: at, LastObservedAt: at}
	if got := Project(fresh).ActivityID; got != activityCreate {
		t.Errorf("fresh finding activity = %d, want create", got)
	}

	resolved := &models.Finding{WorkflowState: models.WorkflowResolved, FirstObservedAt: at, LastObservedAt: at}
	if got := Project(resolved).ActivityID; got != activityClose {
		t.Errorf("resolved finding activity = %d, want close", got)
	}
}

func TestProject_UnknownSeverity(t *testing.T) {
	f := &models.Finding{Severity: models.SeverityUnknown, WorkflowState: models.WorkflowNew}
	out := Project(f)
	if out.SeverityID != 0 || out.Severity != "UNKNOWN" {
		t.Errorf("severity = %d/%s, want 0/UNKNOWN", out.SeverityID, out.Severity)
	}
}
