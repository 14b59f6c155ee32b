package asff

import (
	"errors"
	"testing"

	"github.com/secfuse/secfuse/internal/adapters"
	"github.com/secfuse/secfuse/internal/models"
)

const sampleDocument = `{
	"Findings": [
		{
			"SchemaVersion": "2018-10-08",
			"Id": "arn:aws:inspector2:us-east-1:123456789012:finding/abc123",
			"ProductArn": "arn:aws:securityhub:us-east-1::product/aws/inspector",
			"GeneratorId": "CVE-2024-1234",
			"AwsAccountId": "123456789012",
			"Types": ["Software and Configuration Checks/Vulnerabilities/CVE"],
			"CreatedAt": "2026-08-01T12:00:00Z",
			"UpdatedAt": "2026-08-02T09:30:00Z",
			"Severity": {"Label": "HIGH", "Normalized": 70},
			"Title": "CVE-2024-1234 - openssl",
			"Description": "A buffer overread in openssl.",
			"ProductFields": {"aws/securityhub/ProductName": "Inspector"},
			"Resources": [
				{
					"Type": "AwsEcrContainerImage",
					"Id": "arn:aws:ecr:us-east-1:123456789012:repository/api/sha256:abc",
					"Region": "us-east-1"
				}
			],
			"Compliance": {"Status": "FAILED"},
			"RecordState": "ACTIVE"
		}
	]
}`

func TestParse(t *testing.T) {
	findings, err := New().Parse([]byte(sampleDocument))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}

	f := findings[0]
	if f.SourceProduct != "inspector" {
		t.Errorf("source product = %s, want inspector", f.SourceProduct)
	}
	if f.SourceClass != models.ClassRuntime {
		t.Errorf("source class = %s, want runtime", f.SourceClass)
	}
	if f.CheckID != "CVE-2024-1234" {
		t.Errorf("check = %s", f.CheckID)
	}
	if f.RawSeverity != "HIGH" {
		t.Errorf("raw severity = %s", f.RawSeverity)
	}
	if f.Resource.AccountID != "123456789012" {
		t.Errorf("account = %s", f.Resource.AccountID)
	}
	if f.ComplianceStatus != models.ComplianceFailed {
		t.Errorf("compliance = %s, want FAILED", f.ComplianceStatus)
	}
	if f.ObservedAt.Format("2006-01-02") != "2026-08-02" {
		t.Errorf("observedAt = %v, want the UpdatedAt timestamp", f.ObservedAt)
	}
}

func TestParse_ProductFromArn(t *testing.T) {
	payload := `{"Findings": [{
		"Id": "f-1",
		"ProductArn": "arn:aws:securityhub:us-east-1::product/aws/guardduty",
		"GeneratorId": "guardduty-check",
		"Severity": {"Label": "MEDIUM"},
		"Resources": [{"Id": "arn:aws:ec2:us-east-1:111:instance/i-0abc"}]
	}]}`

	findings, err := New().Parse([]byte(payload))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if findings[0].SourceProduct != "guardduty" {
		t.Errorf("source product = %s, want guardduty", findings[0].SourceProduct)
	}
}

func TestParse_FailFast(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{
			name: "missing id",
			payload: `{"Findings": [{
				"GeneratorId": "g", "Severity": {"Label": "LOW"},
				"Resources": [{"Id": "arn:x"}]
			}]}`,
			field: "Id",
		},
		{
			name: "missing generator",
			payload: `{"Findings": [{
				"Id": "f-1", "Severity": {"Label": "LOW"},
				"Resources": [{"Id": "arn:x"}]
			}]}`,
			field: "GeneratorId",
		},
		{
			name: "missing resource",
			payload: `{"Findings": [{
				"Id": "f-1", "GeneratorId": "g", "Severity": {"Label": "LOW"},
				"Resources": []
			}]}`,
			field: "Resources[0].Id",
		},
		{
			name: "missing severity",
			payload: `{"Findings": [{
				"Id": "f-1", "GeneratorId": "g",
				"Resources": [{"Id": "arn:x"}]
			}]}`,
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

func TestParse_EmptyDocument(t *testing.T) {
	_, err := New().Parse([]byte(`{"Findings": []}`))
	var perr *adapters.ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("got %v, want *ParseError", err)
	}
}
