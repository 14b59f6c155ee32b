package trivy

import (
	"errors"
	"testing"

	"github.com/secfuse/secfuse/internal/adapters"
	"github.com/secfuse/secfuse/internal/models"
)

const sampleReport = `{
	"SchemaVersion": 2,
	"ArtifactName": "123456789012.dkr.ecr.us-east-1.amazonaws.com/api:1.4.2",
	"ArtifactType": "container_image",
	"CreatedAt": "2026-08-01T12:00:00Z",
	"Results": [
		{
			"Target": "api:1.4.2 (alpine 3.19)",
			"Class": "os-pkgs",
			"Vulnerabilities": [
				{
					"VulnerabilityID": "CVE-2024-1234",
					"PkgName": "openssl",
					"InstalledVersion": "3.1.4-r0",
					"FixedVersion": "3.1.4-r1",
					"Title": "openssl: buffer overread",
					"Description": "A buffer overread in openssl.",
					"Severity": "HIGH",
					"CVSS": {"nvd": {"V3Vector": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:N/A:N", "V3Score": 7.5}}
				},
				{
					"VulnerabilityID": "CVE-2024-5678",
					"PkgName": "zlib",
					"InstalledVersion": "1.3-r0",
					"Severity": "LOW"
				}
			]
		}
	]
}`

func TestParse(t *testing.T) {
	findings, err := New().Parse([]byte(sampleReport))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}

	first := findings[0]
	if first.SourceProduct != "trivy" {
		t.Errorf("source product = %s", first.SourceProduct)
	}
	if first.SourceClass != models.ClassBuildTime {
		t.Errorf("source class = %s, want build-time", first.SourceClass)
	}
	if first.CheckID != "CVE-2024-1234" {
		t.Errorf("check = %s", first.CheckID)
	}
	// The CVSS vector carries more precision than the label; prefer it.
	if first.RawSeverity != "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:N/A:N" {
		t.Errorf("raw severity = %s, want the CVSS vector", first.RawSeverity)
	}
	if first.Resource.ARN != "123456789012.dkr.ecr.us-east-1.amazonaws.com/api:1.4.2" {
		t.Errorf("resource ARN = %s", first.Resource.ARN)
	}
	if first.ObservedAt.IsZero() {
		t.Error("observedAt not populated")
	}

	second := findings[1]
	if second.RawSeverity != "LOW" {
		t.Errorf("raw severity = %s, want LOW label fallback", second.RawSeverity)
	}
	if second.Title != "CVE-2024-5678 in zlib" {
		t.Errorf("synthesized title = %s", second.Title)
	}
}

func TestParse_FailFast(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{
			name:    "missing artifact name",
			payload: `{"SchemaVersion": 2, "Results": []}`,
			field:   "ArtifactName",
		},
		{
			name: "missing vulnerability id",
			payload: `{"ArtifactName": "img:1", "Results": [
				{"Vulnerabilities": [{"Severity": "HIGH"}]}
			]}`,
			field: "VulnerabilityID",
		},
		{
			name: "missing severity",
			payload: `{"ArtifactName": "img:1", "Results": [
				{"Vulnerabilities": [{"VulnerabilityID": "CVE-2024-1"}]}
			]}`,
			field: "Severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := New().Parse([]byte(tt.payload))
			if findings != nil {
				t.Error("rejected payload must not yield findings")
			}
			var perr *adapters.ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("got %v, want *ParseError", err)
			}
			found := false
			for _, f := range perr.MissingFields {
				if f == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("MissingFields = %v, want to include %s", perr.MissingFields, tt.field)
			}
		})
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := New().Parse([]byte(`{not json`))
	var perr *adapters.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want *ParseError", err)
	}
}
