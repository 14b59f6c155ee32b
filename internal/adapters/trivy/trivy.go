// Package trivy parses Trivy JSON scan reports into raw findings. Trivy runs
// in CI against images and filesystems, so its findings are classified
// build-time and lose the dedup tie-break to runtime observations of the same
// issue.
package trivy

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/secfuse/secfuse/internal/adapters"
	"github.com/secfuse/secfuse/internal/models"
)

const sourceName = "trivy"

type report struct {
	SchemaVersion int       `json:"SchemaVersion"`
	ArtifactName  string    `json:"ArtifactName"`
	ArtifactType  string    `json:"ArtifactType"`
	CreatedAt     time.Time `json:"CreatedAt"`
	Results       []result  `json:"Results"`
}

type result struct {
	Target          string          `json:"Target"`
	Class           string          `json:"Class"`
	Vulnerabilities []vulnerability `json:"Vulnerabilities"`
}

type vulnerability struct {
	VulnerabilityID  string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName"`
	InstalledVersion string   `json:"InstalledVersion"`
	FixedVersion     string   `json:"FixedVersion"`
	Title            string   `json:"Title"`
	Description      string   `json:"Description"`
	Severity         string   `json:"Severity"`
	CVSS             cvssData `json:"CVSS"`
}

type cvssData struct {
	NVD struct {
		V3Vector string  `json:"V3Vector"`
		V3Score  float64 `json:"V3Score"`
	} `json:"nvd"`
}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Source() string { return sourceName }

func (a *Adapter) Parse(payload []byte) ([]models.RawFinding, error) {
	var rep report
	if err := json.Unmarshal(payload, &rep); err != nil {
		return nil, &adapters.ParseError{Source: sourceName, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if rep.ArtifactName == "" {
		return nil, &adapters.ParseError{Source: sourceName, MissingFields: []string{"ArtifactName"}}
	}

	observed := rep.CreatedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}

	var findings []models.RawFinding
	for _, res := range rep.Results {
		for _, v := range res.Vulnerabilities {
			var missing []string
			if v.VulnerabilityID == "" {
				missing = append(missing, "VulnerabilityID")
			}
			if v.Severity == "" && v.CVSS.NVD.V3Vector == "" {
				missing = append(missing, "Severity")
			}
			if len(missing) > 0 {
				return nil, &adapters.ParseError{Source: sourceName, MissingFields: missing}
			}

			raw := v.Severity
			if v.CVSS.NVD.V3Vector != "" {
				raw = v.CVSS.NVD.V3Vector
			}

			title := v.Title
			if title == "" {
				title = fmt.Sprintf("%s in %s", v.VulnerabilityID, v.PkgName)
			}

			findings = append(findings, models.RawFinding{
				SourceID:      fmt.Sprintf("%s/%s/%s", rep.ArtifactName, v.PkgName, v.VulnerabilityID),
				SourceProduct: sourceName,
				SourceClass:   models.ClassBuildTime,
				CheckID:       v.VulnerabilityID,
				Title:         title,
				Description:   v.Description,
				Resource: models.Resource{
					Type: artifactResourceType(rep.ArtifactType),
					ARN:  rep.ArtifactName,
				},
				RawSeverity: raw,
				ObservedAt:  observed,
			})
		}
	}
	return findings, nil
}

func artifactResourceType(t string) string {
	switch t {
	case "container_image":
		return "container-image"
	case "filesystem", "repository":
		return "source-repository"
	default:
		return "artifact"
	}
}
