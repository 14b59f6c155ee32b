// Package asff parses AWS Security Finding Format payloads, the shape
// Security Hub and Inspector emit. ASFF findings describe deployed resources,
// so they are classified runtime and win the dedup tie-break against
// build-time observations of the same issue.
package asff

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/secfuse/secfuse/internal/adapters"
	"github.com/secfuse/secfuse/internal/models"
)

const sourceName = "asff"

type document struct {
	Findings []finding `json:"Findings"`
}

type finding struct {
	SchemaVersion string            `json:"SchemaVersion"`
	ID            string            `json:"Id"`
	ProductArn    string            `json:"ProductArn"`
	GeneratorID   string            `json:"GeneratorId"`
	AwsAccountID  string            `json:"AwsAccountId"`
	Types         []string          `json:"Types"`
	CreatedAt     time.Time         `json:"CreatedAt"`
	UpdatedAt     time.Time         `json:"UpdatedAt"`
	Severity      severity          `json:"Severity"`
	Title         string            `json:"Title"`
	Description   string            `json:"Description"`
	ProductFields map[string]string `json:"ProductFields"`
	Resources     []resource        `json:"Resources"`
	Compliance    *compliance       `json:"Compliance"`
	RecordState   string            `json:"RecordState"`
}

type severity struct {
	Label      string   `json:"Label"`
	Normalized *float64 `json:"Normalized"`
}

type resource struct {
	Type      string `json:"Type"`
	ID        string `json:"Id"`
	Partition string `json:"Partition"`
	Region    string `json:"Region"`
}

type compliance struct {
	Status string `json:"Status"`
}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Source() string { return sourceName }

func (a *Adapter) Parse(payload []byte) ([]models.RawFinding, error) {
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, &adapters.ParseError{Source: sourceName, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(doc.Findings) == 0 {
		return nil, &adapters.ParseError{Source: sourceName, Reason: "payload contains no findings"}
	}

	out := make([]models.RawFinding, 0, len(doc.Findings))
	for i, f := range doc.Findings {
		var missing []string
		if f.ID == "" {
			missing = append(missing, "Id")
		}
		if f.GeneratorID == "" {
			missing = append(missing, "GeneratorId")
		}
		if len(f.Resources) == 0 || f.Resources[0].ID == "" {
			missing = append(missing, "Resources[0].Id")
		}
		if f.Severity.Label == "" && f.Severity.Normalized == nil {
			missing = append(missing, "Severity")
		}
		if len(missing) > 0 {
			return nil, &adapters.ParseError{
				Source:        sourceName,
				MissingFields: missing,
				Reason:        fmt.Sprintf("finding %d", i),
			}
		}

		raw := f.Severity.Label
		if raw == "" {
			raw = fmt.Sprintf("%g", *f.Severity.Normalized)
		}

		observed := f.UpdatedAt
		if observed.IsZero() {
			observed = f.CreatedAt
		}
		if observed.IsZero() {
			observed = time.Now().UTC()
		}

		res := f.Resources[0]
		rf := models.RawFinding{
			SourceID:      f.ID,
			SourceProduct: productOf(f),
			SourceClass:   models.ClassRuntime,
			CheckID:       f.GeneratorID,
			Title:         f.Title,
			Description:   f.Description,
			Resource: models.Resource{
				Type:      res.Type,
				ARN:       res.ID,
				Region:    res.Region,
				AccountID: f.AwsAccountID,
			},
			RawSeverity: raw,
			ObservedAt:  observed,
		}
		if f.Compliance != nil {
			rf.ComplianceStatus = complianceStatus(f.Compliance.Status)
		}
		out = append(out, rf)
	}
	return out, nil
}

// productOf pulls the originating product from the product ARN, e.g.
// "arn:aws:securityhub:...:product/aws/inspector" yields "inspector".
func productOf(f finding) string {
	if name, ok := f.ProductFields["aws/securityhub/ProductName"]; ok && name != "" {
		return strings.ToLower(name)
	}
	if idx := strings.LastIndex(f.ProductArn, "/"); idx >= 0 && idx < len(f.ProductArn)-1 {
		return strings.ToLower(f.ProductArn[idx+1:])
	}
	return sourceName
}

func complianceStatus(s string) models.ComplianceStatus {
	switch strings.ToUpper(s) {
	case "PASSED":
		return models.CompliancePassed
	case "FAILED", "WARNING":
		return models.ComplianceFailed
	default:
		return models.ComplianceNotApplicable
	}
}
