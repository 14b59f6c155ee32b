// Package reports renders finding exports for operators: CSV for
// spreadsheets and downstream tooling, PDF for humans.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

type ReportType string

const (
	ReportTypeFindings  ReportType = "findings"
	ReportTypeGroups    ReportType = "groups"
	ReportTypeExecutive ReportType = "executive"
)

type ReportFormat string

const (
	FormatCSV ReportFormat = "csv"
	FormatPDF ReportFormat = "pdf"
)

type ReportRequest struct {
	Type        ReportType
	Format      ReportFormat
	Title       string
	AccountIDs  []string
	DateFrom    *time.Time
	DateTo      *time.Time
	MinSeverity models.Severity
	States      []models.WorkflowState
}

type Report struct {
	Type        ReportType
	Format      ReportFormat
	Title       string
	GeneratedAt time.Time
	Data        []byte
	Filename    string
	MimeType    string
}

type FindingsFilter struct {
	AccountIDs  []string
	MinSeverity models.Severity
	States      []models.WorkflowState
	DateFrom    *time.Time
	DateTo      *time.Time
}

// Stats aggregates the numbers the executive report shows.
type Stats struct {
	TotalFindings    int
	CriticalFindings int
	HighFindings     int
	MediumFindings   int
	LowFindings      int
	NewFindings      int
	SuppressedCount  int
	ResolvedFindings int
	GroupCount       int
	SourceCounts     map[string]int
}

// DataProvider supplies the report generator with findings and aggregates.
type DataProvider interface {
	GetFindings(ctx context.Context, filter FindingsFilter) ([]models.Finding, error)
	GetGroups(ctx context.Context) ([]models.FindingGroup, error)
	GetStats(ctx context.Context) (*Stats, error)
}

type Generator struct {
	provider DataProvider
}

func NewGenerator(provider DataProvider) *Generator {
	return &Generator{provider: provider}
}

func (g *Generator) Generate(ctx context.Context, req *ReportRequest) (*Report, error) {
	switch req.Type {
	case ReportTypeFindings:
		return g.generateFindingsReport(ctx, req)
	case ReportTypeGroups:
		return g.generateGroupsReport(ctx, req)
	case ReportTypeExecutive:
		return g.generateExecutiveReport(ctx, req)
	default:
		return nil, fmt.Errorf("unsupported report type: %s", req.Type)
	}
}

func (g *Generator) generateFindingsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	findings, err := g.provider.GetFindings(ctx, FindingsFilter{
		AccountIDs:  req.AccountIDs,
		MinSeverity: req.MinSeverity,
		States:      req.States,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch findings: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.findingsToCSV(findings)
		filename = fmt.Sprintf("findings_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.findingsToPDF(findings, req.Title)
		filename = fmt.Sprintf("findings_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) findingsToCSV(findings []models.Finding) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{
		"Identity", "Check", "Title", "Severity", "Workflow State",
		"Source Product", "Source Class", "Resource", "Account",
		"First Observed", "Last Observed",
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, f := range findings {
		row := []string{
			f.Identity,
			f.CheckID,
			f.Title,
			f.Severity.String(),
			string(f.WorkflowState),
			f.SourceProduct,
			string(f.SourceClass),
			f.Resource.ARN,
			f.Resource.AccountID,
			f.FirstObservedAt.Format(time.RFC3339),
			f.LastObservedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) findingsToPDF(findings []models.Finding, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Summary")
	summary := map[string]int{
		"Critical": 0, "High": 0, "Medium": 0, "Low": 0,
	}
	for _, f := range findings {
		switch f.Severity {
		case models.SeverityCritical:
			summary["Critical"]++
		case models.SeverityHigh:
			summary["High"]++
		case models.SeverityMedium:
			summary["Medium"]++
		case models.SeverityLow:
			summary["Low"]++
		}
	}
	pdf.AddSummaryTable(summary)

	pdf.AddSection("Findings Detail")
	headers := []string{"Identity", "Check", "Severity", "State", "Source"}
	rows := make([][]string, len(findings))
	for i, f := range findings {
		idShort := f.Identity
		if len(idShort) > 8 {
			idShort = idShort[:8] + "..."
		}
		rows[i] = []string{
			idShort,
			truncate(f.CheckID, 24),
			f.Severity.String(),
			string(f.WorkflowState),
			f.SourceProduct,
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateGroupsReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	groups, err := g.provider.GetGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch groups: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.groupsToCSV(groups)
		filename = fmt.Sprintf("groups_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.groupsToPDF(groups, req.Title)
		filename = fmt.Sprintf("groups_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) groupsToCSV(groups []models.FindingGroup) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Group ID", "Reason", "Members", "Member Count", "Updated"}); err != nil {
		return nil, err
	}

	for _, grp := range groups {
		row := []string{
			grp.ID,
			string(grp.Reason),
			joinMembers(grp.Members),
			fmt.Sprintf("%d", len(grp.Members)),
			grp.UpdatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) groupsToPDF(groups []models.FindingGroup, title string) ([]byte, error) {
	pdf := NewPDFReport(title)

	pdf.AddSection("Correlation Groups")
	headers := []string{"Group", "Reason", "Members"}
	rows := make([][]string, len(groups))
	for i, grp := range groups {
		idShort := grp.ID
		if len(idShort) > 8 {
			idShort = idShort[:8] + "..."
		}
		rows[i] = []string{
			idShort,
			string(grp.Reason),
			fmt.Sprintf("%d", len(grp.Members)),
		}
	}
	pdf.AddTable(headers, rows)

	return pdf.Output()
}

func (g *Generator) generateExecutiveReport(ctx context.Context, req *ReportRequest) (*Report, error) {
	stats, err := g.provider.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}

	var data []byte
	var filename string
	var mimeType string

	switch req.Format {
	case FormatCSV:
		data, err = g.executiveToCSV(stats)
		filename = fmt.Sprintf("executive_%s.csv", time.Now().Format("20060102_150405"))
		mimeType = "text/csv"
	case FormatPDF:
		data, err = g.executiveToPDF(stats, req.Title)
		filename = fmt.Sprintf("executive_%s.pdf", time.Now().Format("20060102_150405"))
		mimeType = "application/pdf"
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if err != nil {
		return nil, err
	}

	return &Report{
		Type:        req.Type,
		Format:      req.Format,
		Title:       req.Title,
		GeneratedAt: time.Now(),
		Data:        data,
		Filename:    filename,
		MimeType:    mimeType,
	}, nil
}

func (g *Generator) executiveToCSV(stats *Stats) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	_ = w.Write([]string{"Executive Summary Report"})
	_ = w.Write([]string{"Generated", time.Now().Format(time.RFC1123)})
	_ = w.Write([]string{""})

	_ = w.Write([]string{"Metric", "Value"})
	_ = w.Write([]string{"Total Findings", fmt.Sprintf("%d", stats.TotalFindings)})
	_ = w.Write([]string{"Critical Findings", fmt.Sprintf("%d", stats.CriticalFindings)})
	_ = w.Write([]string{"High Findings", fmt.Sprintf("%d", stats.HighFindings)})
	_ = w.Write([]string{"New Findings", fmt.Sprintf("%d", stats.NewFindings)})
	_ = w.Write([]string{"Suppressed Findings", fmt.Sprintf("%d", stats.SuppressedCount)})
	_ = w.Write([]string{"Resolved Findings", fmt.Sprintf("%d", stats.ResolvedFindings)})
	_ = w.Write([]string{"Correlation Groups", fmt.Sprintf("%d", stats.GroupCount)})

	_ = w.Write([]string{""})
	_ = w.Write([]string{"Source", "Findings"})
	for source, count := range stats.SourceCounts {
		_ = w.Write([]string{source, fmt.Sprintf("%d", count)})
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (g *Generator) executiveToPDF(stats *Stats, title string) ([]byte, error) {
	return ExecutiveSummaryPDF(title, stats)
}

func joinMembers(members []string) string {
	out := ""
	for i, m := range members {
		if i > 0 {
			out += ";"
		}
		if len(m) > 12 {
			m = m[:12]
		}
		out += m
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
