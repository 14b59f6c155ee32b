package severity

import (
	"testing"

	"github.com/secfuse/secfuse/internal/models"
)

func TestNormalize_HundredScaleBoundaries(t *testing.T) {
	tests := []struct {
		raw      string
		expected models.Severity
	}{
		{"0", models.SeverityUnknown}, // below 1 means no finding
		{"1", models.SeverityLow},
		{"5", models.SeverityLow},
		{"10", models.SeverityLow},
		{"39", models.SeverityLow},
		{"40", models.SeverityMedium},
		{"69", models.SeverityMedium},
		{"70", models.SeverityHigh},
		{"89", models.SeverityHigh},
		{"90", models.SeverityCritical},
		{"100", models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			result := Normalize("securityhub", tt.raw)
			if result.Severity != tt.expected {
				t.Errorf("Normalize(%q) = %s, expected %s", tt.raw, result.Severity, tt.expected)
			}
			if result.Flagged {
				t.Errorf("Normalize(%q) unexpectedly flagged", tt.raw)
			}
		})
	}
}

// Hundred-scale sources must never have single-digit scores read as CVSS
// base scores: a normalized 10 is a low-grade finding, not a critical one.
func TestNormalize_LowHundredScaleScoresAreNotCVSS(t *testing.T) {
	for _, source := range []string{"securityhub", "inspector", "guardduty"} {
		for _, raw := range []string{"1", "5", "10"} {
			result := Normalize(source, raw)
			if result.Severity != models.SeverityLow {
				t.Errorf("Normalize(%s, %q) = %s, expected LOW", source, raw, result.Severity)
			}
		}
	}
}

func TestNormalize_CVSSBoundaries(t *testing.T) {
	tests := []struct {
		raw      string
		expected models.Severity
	}{
		{"0", models.SeverityInfo},
		{"0.1", models.SeverityLow},
		{"3.9", models.SeverityLow},
		{"4.0", models.SeverityMedium},
		{"6.9", models.SeverityMedium},
		{"7.0", models.SeverityHigh},
		{"8.9", models.SeverityHigh},
		{"9.0", models.SeverityCritical},
		{"10.0", models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			result := Normalize("nvd", tt.raw)
			if result.Severity != tt.expected {
				t.Errorf("Normalize(nvd, %q) = %s, expected %s", tt.raw, result.Severity, tt.expected)
			}
		})
	}
}

func TestNormalize_Labels(t *testing.T) {
	tests := []struct {
		raw      string
		expected models.Severity
	}{
		{"CRITICAL", models.SeverityCritical},
		{"critical", models.SeverityCritical},
		{" High ", models.SeverityHigh},
		{"MODERATE", models.SeverityMedium},
		{"low", models.SeverityLow},
		{"INFORMATIONAL", models.SeverityInfo},
		{"NEGLIGIBLE", models.SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			result := Normalize("trivy", tt.raw)
			if result.Severity != tt.expected {
				t.Errorf("Normalize(%q) = %s, expected %s", tt.raw, result.Severity, tt.expected)
			}
		})
	}
}

func TestNormalize_Vector(t *testing.T) {
	// AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H has base score 9.8
	result := Normalize("inspector", "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H")
	if result.Severity != models.SeverityCritical {
		t.Errorf("expected CRITICAL for 9.8 vector, got %s", result.Severity)
	}
	if result.Flagged {
		t.Error("valid vector should not be flagged")
	}
}

func TestNormalize_UnknownFlags(t *testing.T) {
	tests := []string{"", "banana", "-3", "CVSS:3.1/garbage", "101"}

	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			result := Normalize("trivy", raw)
			if result.Severity != models.SeverityUnknown {
				t.Errorf("Normalize(%q) = %s, expected UNKNOWN", raw, result.Severity)
			}
			if !result.Flagged {
				t.Errorf("Normalize(%q) should be flagged for manual classification", raw)
			}
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	inputs := []string{"95", "HIGH", "6.9", "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}
	for _, raw := range inputs {
		first := Normalize("trivy", raw)
		second := Normalize("trivy", raw)
		if first != second {
			t.Errorf("Normalize(%q) not deterministic: %v vs %v", raw, first, second)
		}
	}
}
