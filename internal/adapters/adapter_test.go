package adapters

import (
	"testing"

	"github.com/secfuse/secfuse/internal/models"
)

type stubAdapter struct{ name string }

func (s *stubAdapter) Source() string                              { return s.name }
func (s *stubAdapter) Parse(_ []byte) ([]models.RawFinding, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry(&stubAdapter{name: "trivy"}, &stubAdapter{name: "asff"})

	if _, err := r.Get("trivy"); err != nil {
		t.Fatalf("Get trivy: %v", err)
	}
	if _, err := r.Get("snyk"); err == nil {
		t.Fatal("expected error for unregistered source")
	}

	sources := r.Sources()
	if len(sources) != 2 || sources[0] != "asff" || sources[1] != "trivy" {
		t.Errorf("Sources = %v, want [asff trivy]", sources)
	}
}

func TestParseError(t *testing.T) {
	err := &ParseError{Source: "trivy", MissingFields: []string{"VulnerabilityID", "Severity"}}
	want := "trivy: missing required fields: VulnerabilityID, Severity"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = &ParseError{Source: "asff", Reason: "invalid JSON"}
	if err.Error() != "asff: invalid JSON" {
		t.Errorf("Error() = %q", err.Error())
	}
}
