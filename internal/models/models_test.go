package models

import "testing"

func TestParseSeverity_RoundTrip(t *testing.T) {
	for _, s := range []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		if got := ParseSeverity(s.String()); got != s {
			t.Errorf("ParseSeverity(%q) = %d, want %d", s.String(), got, s)
		}
	}
}

func TestParseSeverity_Labels(t *testing.T) {
	tests := []struct {
		label string
		want  Severity
	}{
		{"critical", SeverityCritical},
		{"High", SeverityHigh},
		{"INFO", SeverityInfo},
		{"informational", SeverityInfo},
		{"", SeverityUnknown},
		{"bogus", SeverityUnknown},
	}
	for _, tt := range tests {
		if got := ParseSeverity(tt.label); got != tt.want {
			t.Errorf("ParseSeverity(%q) = %d, want %d", tt.label, got, tt.want)
		}
	}
}
