// Package ocsf projects canonical findings into the Open Cybersecurity
// Schema Framework vulnerability finding shape for export to downstream
// SIEMs. The projection is read-only and lossy: consumers that need the
// full record query the API directly.
package ocsf

import (
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

const (
	schemaVersion = "1.1.0"

	// OCSF class 2002, Vulnerability Finding, category 2 Findings.
	classUID    = 2002
	categoryUID = 2
)

// OCSF activity IDs for the finding class.
const (
	activityCreate = 1
	activityUpdate = 2
	activityClose  = 3
)

type Finding struct {
	ActivityID  int          `json:"activity_id"`
	CategoryUID int          `json:"category_uid"`
	ClassUID    int          `json:"class_uid"`
	SeverityID  int          `json:"severity_id"`
	Severity    string       `json:"severity"`
	StatusID    int          `json:"status_id"`
	Status      string       `json:"status"`
	Time        int64        `json:"time"`
	FindingInfo FindingInfo  `json:"finding_info"`
	Resources   []Resource   `json:"resources"`
	Metadata    Metadata     `json:"metadata"`
	Message     string       `json:"message,omitempty"`
	Unmapped    Unmapped     `json:"unmapped,omitempty"`
	Observables []Observable `json:"observables,omitempty"`
}

type FindingInfo struct {
	UID           string `json:"uid"`
	Title         string `json:"title"`
	Desc          string `json:"desc,omitempty"`
	CheckUID      string `json:"analytic_uid"`
	FirstSeenTime int64  `json:"first_seen_time"`
	LastSeenTime  int64  `json:"last_seen_time"`
}

type Resource struct {
	UID       string `json:"uid"`
	Type      string `json:"type,omitempty"`
	Region    string `json:"region,omitempty"`
	AccountID string `json:"account_uid,omitempty"`
}

type Metadata struct {
	Version  string  `json:"version"`
	Product  Product `json:"product"`
	LoggedAt int64   `json:"logged_time"`
}

type Product struct {
	Name       string `json:"name"`
	VendorName string `json:"vendor_name"`
}

type Observable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Unmapped carries fields OCSF has no slot for.
type Unmapped struct {
	SourceClass       string   `json:"source_class,omitempty"`
	Authoritative     bool     `json:"authoritative"`
	RelatedFindingIDs []string `json:"related_finding_ids,omitempty"`
	VerificationState string   `json:"verification_state,omitempty"`
}

// Project maps a canonical finding onto the OCSF vulnerability finding class.
func Project(f *models.Finding) Finding {
	out := Finding{
		ActivityID:  activityFor(f),
		CategoryUID: categoryUID,
		ClassUID:    classUID,
		SeverityID:  severityID(f.Severity),
		Severity:    f.Severity.String(),
		StatusID:    statusID(f.WorkflowState),
		Status:      string(f.WorkflowState),
		Time:        f.LastObservedAt.UnixMilli(),
		FindingInfo: FindingInfo{
			UID:           f.Identity,
			Title:         f.Title,
			Desc:          f.Description,
			CheckUID:      f.CheckID,
			FirstSeenTime: f.FirstObservedAt.UnixMilli(),
			LastSeenTime:  f.LastObservedAt.UnixMilli(),
		},
		Resources: []Resource{{
			UID:       f.Resource.ARN,
			Type:      f.Resource.Type,
			Region:    f.Resource.Region,
			AccountID: f.Resource.AccountID,
		}},
		Metadata: Metadata{
			Version:  schemaVersion,
			Product:  Product{Name: f.SourceProduct, VendorName: "secfuse"},
			LoggedAt: time.Now().UTC().UnixMilli(),
		},
		Unmapped: Unmapped{
			SourceClass:       string(f.SourceClass),
			Authoritative:     f.Authoritative,
			RelatedFindingIDs: f.RelatedFindingIDs,
			VerificationState: string(f.VerificationState),
		},
	}
	if f.Principal != "" {
		out.Observables = append(out.Observables, Observable{
			Name:  "principal",
			Type:  "User",
			Value: f.Principal,
		})
	}
	return out
}

func activityFor(f *models.Finding) int {
	switch {
	case f.WorkflowState == models.WorkflowResolved:
		return activityClose
	case f.FirstObservedAt.Equal(f.LastObservedAt):
		return activityCreate
	default:
		return activityUpdate
	}
}

// severityID maps the canonical ordinal onto OCSF severity IDs, which happen
// to share the Info..Critical ordering but reserve 0 for Unknown as well.
func severityID(s models.Severity) int {
	switch s {
	case models.SeverityInfo:
		return 1
	case models.SeverityLow:
		return 2
	case models.SeverityMedium:
		return 3
	case models.SeverityHigh:
		return 4
	case models.SeverityCritical:
		return 5
	default:
		return 0
	}
}

func statusID(w models.WorkflowState) int {
	switch w {
	case models.WorkflowNew:
		return 1
	case models.WorkflowNotified:
		return 2
	case models.WorkflowSuppressed:
		return 3
	case models.WorkflowResolved:
		return 4
	default:
		return 0
	}
}
