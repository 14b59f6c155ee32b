// Package severity maps heterogeneous source severity representations onto
// the canonical ordinal scale. Sources report numeric scores in [0,100],
// categorical labels, CVSSv3 base scores, or CVSS vector strings; all of them
// normalize through a single pure function so the mapping is deterministic
// and auditable.
package severity

import (
	"strconv"
	"strings"

	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"

	"github.com/secfuse/secfuse/internal/models"
)

// Result carries the normalized ordinal plus a flag for inputs that could not
// be classified. Flagged findings land at SeverityUnknown and are surfaced
// for manual classification instead of being silently defaulted to Low.
type Result struct {
	Severity models.Severity
	Raw      string
	Flagged  bool
}

// Normalize maps a raw severity string from the given source product to the
// canonical scale. It is a pure function with no side effects.
func Normalize(sourceProduct, raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Severity: models.SeverityUnknown, Raw: raw, Flagged: true}
	}

	if strings.HasPrefix(trimmed, "CVSS:") {
		if score, ok := parseVector(trimmed); ok {
			return Result{Severity: fromCVSS(score), Raw: raw}
		}
		return Result{Severity: models.SeverityUnknown, Raw: raw, Flagged: true}
	}

	if sev, ok := fromLabel(trimmed); ok {
		return Result{Severity: sev, Raw: raw}
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		if sev, ok := fromNumeric(sourceProduct, n); ok {
			return Result{Severity: sev, Raw: raw}
		}
	}

	return Result{Severity: models.SeverityUnknown, Raw: raw, Flagged: true}
}

// fromLabel handles categorical severities, tolerating the label variants
// different scanners emit.
func fromLabel(raw string) (models.Severity, bool) {
	switch strings.ToUpper(raw) {
	case "CRITICAL", "FATAL":
		return models.SeverityCritical, true
	case "HIGH", "IMPORTANT", "ERROR":
		return models.SeverityHigh, true
	case "MEDIUM", "MODERATE", "WARN", "WARNING":
		return models.SeverityMedium, true
	case "LOW":
		return models.SeverityLow, true
	case "INFO", "INFORMATIONAL", "NEGLIGIBLE", "NONE":
		return models.SeverityInfo, true
	default:
		return models.SeverityUnknown, false
	}
}

// fromNumeric interprets the score on the scale its source reports on. The
// scales overlap below 10, so dispatching by magnitude would misread a
// hundred-scale 5 as a CVSS 5.0; the source product decides. Sources not
// pinned to the CVSS scale report normalized 0-100 scores, which is what
// ASFF-derived products (Security Hub, Inspector) emit.
func fromNumeric(sourceProduct string, n float64) (models.Severity, bool) {
	if n < 0 {
		return models.SeverityUnknown, false
	}
	if isCVSSScale(sourceProduct) {
		if n > 10 {
			return models.SeverityUnknown, false
		}
		return fromCVSS(n), true
	}
	if n > 100 {
		return models.SeverityUnknown, false
	}
	return fromHundredScale(n), true
}

func isCVSSScale(sourceProduct string) bool {
	switch strings.ToLower(sourceProduct) {
	case "nvd", "cvss":
		return true
	default:
		return false
	}
}

// fromHundredScale maps the 0-100 normalized severity convention:
// 0-39 Low, 40-69 Medium, 70-89 High, 90-100 Critical. Scores below 1
// indicate no finding and stay Unknown/Informational.
func fromHundredScale(n float64) models.Severity {
	switch {
	case n < 1:
		return models.SeverityUnknown
	case n < 40:
		return models.SeverityLow
	case n < 70:
		return models.SeverityMedium
	case n < 90:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

// fromCVSS maps a CVSSv3 base score: 0 Informational, 0.1-3.9 Low,
// 4.0-6.9 Medium, 7.0-8.9 High, 9.0-10.0 Critical.
func fromCVSS(score float64) models.Severity {
	switch {
	case score == 0:
		return models.SeverityInfo
	case score < 4.0:
		return models.SeverityLow
	case score < 7.0:
		return models.SeverityMedium
	case score < 9.0:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}

// parseVector computes the base score for a CVSS vector string.
func parseVector(vector string) (float64, bool) {
	if strings.HasPrefix(vector, "CVSS:3.1") || strings.HasPrefix(vector, "CVSS:3.0") {
		if v, err := gocvss31.ParseVector(vector); err == nil {
			return v.BaseScore(), true
		}
	}
	if strings.HasPrefix(vector, "CVSS:4.0") {
		if v, err := gocvss40.ParseVector(vector); err == nil {
			return v.Score(), true
		}
	}
	return 0, false
}
