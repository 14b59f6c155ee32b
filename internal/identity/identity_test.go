package identity

import "testing"

func TestCompute_StableAcrossSources(t *testing.T) {
	a := Compute("ecr://app@sha256:abc", "CVE-2024-1234")
	b := Compute("ecr://app@sha256:abc", "CVE-2024-1234")
	if a != b {
		t.Errorf("identity not stable: %s vs %s", a, b)
	}
}

func TestCompute_CaseAndWhitespaceInsensitive(t *testing.T) {
	a := Compute("ECR://App@sha256:abc", "cve-2024-1234")
	b := Compute(" ecr://app@sha256:abc ", "CVE-2024-1234 ")
	if a != b {
		t.Errorf("identity should normalize case and whitespace: %s vs %s", a, b)
	}
}

func TestCompute_DistinctChecksDiffer(t *testing.T) {
	a := Compute("ecr://app@sha256:abc", "CVE-2024-1234")
	b := Compute("ecr://app@sha256:abc", "CVE-2024-5678")
	if a == b {
		t.Error("different checks must not collapse to one identity")
	}
}

func TestResolver_Mapping(t *testing.T) {
	r := NewResolver()
	r.AddMapping("ecr://app@sha256:abc", "arn:aws:ecr:us-east-1:123456789012:repository/app/sha256-abc")

	keyBuild := r.ResourceKey("ecr://app@sha256:abc")
	keyRuntime := r.ResourceKey("arn:aws:ecr:us-east-1:123456789012:repository/app/sha256-abc")

	if keyBuild != keyRuntime {
		t.Errorf("mapped identifiers should resolve to one key: %s vs %s", keyBuild, keyRuntime)
	}
}

func TestResolver_UnmappedFallsBack(t *testing.T) {
	r := NewResolver()
	key := r.ResourceKey("arn:aws:s3:::my-bucket")
	if key != "arn:aws:s3:::my-bucket" {
		t.Errorf("unmapped identifier should pass through, got %s", key)
	}
}

func TestLikelySameResource(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected bool
	}{
		{
			"shared digest fragment",
			"ecr://payments@sha256:abcdef123456",
			"arn:aws:ecr:us-east-1:123456789012:repository/payments/sha256-abcdef123456",
			true,
		},
		{
			"unrelated resources",
			"ecr://payments@sha256:abcdef123456",
			"arn:aws:s3:::audit-logs",
			false,
		},
		{
			"equal keys are not a cross-reference",
			"arn:aws:s3:::audit-logs",
			"arn:aws:s3:::audit-logs",
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LikelySameResource(tt.a, tt.b); got != tt.expected {
				t.Errorf("LikelySameResource(%q, %q) = %v, expected %v", tt.a, tt.b, got, tt.expected)
			}
		})
	}
}
