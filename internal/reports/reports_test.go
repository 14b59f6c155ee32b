package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

type memProvider struct {
	findings []models.Finding
	groups   []models.FindingGroup
	stats    *Stats
}

func (m *memProvider) GetFindings(ctx context.Context, filter FindingsFilter) ([]models.Finding, error) {
	return m.findings, nil
}

func (m *memProvider) GetGroups(ctx context.Context) ([]models.FindingGroup, error) {
	return m.groups, nil
}

func (m *memProvider) GetStats(ctx context.Context) (*Stats, error) {
	return m.stats, nil
}

func sampleFinding(identity, check string, sev models.Severity) models.Finding {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return models.Finding{
		Identity:      identity,
		CheckID:       check,
		Title:         "sample finding",
		Severity:      sev,
		WorkflowState: models.WorkflowNew,
		SourceProduct: "trivy",
		SourceClass:   models.ClassBuildTime,
		Resource: models.Resource{
			ARN:       "arn:aws:ecr:us-east-1:123456789012:repository/app",
			AccountID: "123456789012",
		},
		FirstObservedAt: now,
		LastObservedAt:  now,
	}
}

func TestGenerate_FindingsCSV(t *testing.T) {
	provider := &memProvider{findings: []models.Finding{
		sampleFinding("aaaa1111", "CVE-2024-1234", models.SeverityCritical),
		sampleFinding("bbbb2222", "CVE-2024-5678", models.SeverityLow),
	}}
	gen := NewGenerator(provider)

	report, err := gen.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeFindings,
		Format: FormatCSV,
		Title:  "Findings Export",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if report.MimeType != "text/csv" {
		t.Errorf("mime type = %q, want text/csv", report.MimeType)
	}

	records, err := csv.NewReader(bytes.NewReader(report.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(records))
	}
	if records[1][1] != "CVE-2024-1234" {
		t.Errorf("check column = %q, want CVE-2024-1234", records[1][1])
	}
	if records[1][3] != "CRITICAL" {
		t.Errorf("severity column = %q, want CRITICAL", records[1][3])
	}
}

func TestGenerate_FindingsPDF(t *testing.T) {
	provider := &memProvider{findings: []models.Finding{
		sampleFinding("aaaa1111bbbb", "CVE-2024-1234", models.SeverityHigh),
	}}
	gen := NewGenerator(provider)

	report, err := gen.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeFindings,
		Format: FormatPDF,
		Title:  "Findings Export",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !bytes.HasPrefix(report.Data, []byte("%PDF")) {
		t.Error("output is not a PDF document")
	}
	if report.MimeType != "application/pdf" {
		t.Errorf("mime type = %q, want application/pdf", report.MimeType)
	}
}

func TestGenerate_GroupsCSV(t *testing.T) {
	provider := &memProvider{groups: []models.FindingGroup{
		{
			ID:        "group-1",
			Reason:    models.GroupByResource,
			Members:   []string{"aaaa", "bbbb", "cccc"},
			UpdatedAt: time.Now(),
		},
	}}
	gen := NewGenerator(provider)

	report, err := gen.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeGroups,
		Format: FormatCSV,
		Title:  "Correlation Groups",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(string(report.Data), "RESOURCE") {
		t.Error("expected group reason in output")
	}
	if !strings.Contains(string(report.Data), ",3,") {
		t.Error("expected member count in output")
	}
}

func TestGenerate_ExecutiveCSV(t *testing.T) {
	provider := &memProvider{stats: &Stats{
		TotalFindings:    42,
		CriticalFindings: 3,
		HighFindings:     10,
		NewFindings:      12,
		ResolvedFindings: 20,
		GroupCount:       4,
		SourceCounts:     map[string]int{"trivy": 30, "aws-securityhub": 12},
	}}
	gen := NewGenerator(provider)

	report, err := gen.Generate(context.Background(), &ReportRequest{
		Type:   ReportTypeExecutive,
		Format: FormatCSV,
		Title:  "Executive Summary",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	body := string(report.Data)
	if !strings.Contains(body, "Total Findings,42") {
		t.Error("expected total findings row")
	}
	if !strings.Contains(body, "trivy,30") {
		t.Error("expected per-source row")
	}
}

func TestGenerate_UnsupportedType(t *testing.T) {
	gen := NewGenerator(&memProvider{})
	_, err := gen.Generate(context.Background(), &ReportRequest{Type: "bogus", Format: FormatCSV})
	if err == nil {
		t.Fatal("expected error for unsupported report type")
	}
}
