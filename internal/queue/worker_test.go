package queue

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/secfuse/secfuse/internal/identity"
	"github.com/secfuse/secfuse/internal/models"
)

func testWorker(t *testing.T, resolver *identity.Resolver) *Worker {
	t.Helper()
	return NewWorker(WorkerConfig{
		Resolver: resolver,
		Logger:   slog.Default(),
	})
}

func TestNormalize(t *testing.T) {
	w := testWorker(t, identity.NewResolver())

	observed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	raw := models.RawFinding{
		SourceID:      "trivy-42",
		SourceProduct: "trivy",
		SourceClass:   models.ClassBuildTime,
		CheckID:       "CVE-2024-1234",
		Title:         "openssl vulnerable",
		Resource:      models.Resource{Type: "container-image", ARN: "arn:aws:ecr:us-east-1:111:repository/api"},
		RawSeverity:   "HIGH",
		ObservedAt:    observed,
	}

	f := w.Normalize(raw)

	if f.Identity == "" {
		t.Fatal("identity not computed")
	}
	if f.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want HIGH", f.Severity)
	}
	if f.WorkflowState != models.WorkflowNew {
		t.Errorf("workflow = %s, want NEW", f.WorkflowState)
	}
	if !f.FirstObservedAt.Equal(observed) || !f.LastObservedAt.Equal(observed) {
		t.Errorf("observation timestamps = %v / %v", f.FirstObservedAt, f.LastObservedAt)
	}
	if len(f.Notes) != 0 {
		t.Errorf("unexpected notes: %v", f.Notes)
	}
}

func TestNormalize_IdentityIgnoresSourceClass(t *testing.T) {
	w := testWorker(t, identity.NewResolver())

	build := models.RawFinding{
		SourceProduct: "trivy",
		SourceClass:   models.ClassBuildTime,
		CheckID:       "CVE-2024-1234",
		Resource:      models.Resource{ARN: "arn:aws:ecr:us-east-1:111:repository/api"},
		RawSeverity:   "HIGH",
	}
	runtime := build
	runtime.SourceProduct = "inspector"
	runtime.SourceClass = models.ClassRuntime

	if w.Normalize(build).Identity != w.Normalize(runtime).Identity {
		t.Error("same resource and check from two scanners must share identity")
	}
}

func TestNormalize_ResolverMapping(t *testing.T) {
	resolver := identity.NewResolver()
	resolver.AddMapping(
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/api",
		"arn:aws:ecr:us-east-1:123456789012:repository/api",
	)
	w := testWorker(t, resolver)

	byURL := models.RawFinding{
		SourceProduct: "trivy",
		CheckID:       "CVE-2024-1234",
		Resource:      models.Resource{ARN: "123456789012.dkr.ecr.us-east-1.amazonaws.com/api"},
		RawSeverity:   "HIGH",
	}
	byARN := byURL
	byARN.Resource.ARN = "arn:aws:ecr:us-east-1:123456789012:repository/api"

	if w.Normalize(byURL).Identity != w.Normalize(byARN).Identity {
		t.Error("mapped resource aliases must share identity")
	}
}

func TestNormalize_FlagsUnknownSeverity(t *testing.T) {
	w := testWorker(t, identity.NewResolver())

	raw := models.RawFinding{
		SourceProduct: "custom-scanner",
		CheckID:       "CHK-1",
		Resource:      models.Resource{ARN: "arn:aws:s3:::bucket"},
		RawSeverity:   "banana",
	}

	f := w.Normalize(raw)
	if f.Severity != models.SeverityUnknown {
		t.Errorf("severity = %s, want UNKNOWN", f.Severity)
	}
	if len(f.Notes) != 1 || !strings.Contains(f.Notes[0], "banana") {
		t.Errorf("notes = %v, want a normalization flag naming the raw value", f.Notes)
	}
}
