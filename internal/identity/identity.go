// Package identity computes the stable cross-source identity that collapses
// multiple scanner reports of the same underlying issue onto one record.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// Compute derives the deduplication key from the canonical resource key and
// the check identifier. The source class is deliberately excluded so the same
// vulnerability reported by a build-time and a runtime scanner against the
// same resource collapses to one identity. Idempotent for equal inputs.
func Compute(resourceKey, checkID string) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(resourceKey))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToUpper(strings.TrimSpace(checkID))))
	return hex.EncodeToString(h.Sum(nil))
}

// Resolver canonicalizes resource identifiers across naming conventions.
// Pre-deployment scans see registry-qualified image names or digests while
// post-deployment scans see ARNs; a configured mapping equates them. When no
// mapping is known the raw identifier is used as the key, which is the
// documented limitation that the cross-reference diagnostic surfaces.
type Resolver struct {
	mu       sync.RWMutex
	mappings map[string]string
}

func NewResolver() *Resolver {
	return &Resolver{mappings: make(map[string]string)}
}

// AddMapping equates an alias (e.g. an image digest reference) with the
// canonical identifier (e.g. the ECR repository ARN). Both directions resolve
// to the canonical form.
func (r *Resolver) AddMapping(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[normalize(alias)] = normalize(canonical)
}

// ResourceKey returns the canonical key for a raw resource identifier.
func (r *Resolver) ResourceKey(rawID string) string {
	key := normalize(rawID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if canonical, ok := r.mappings[key]; ok {
		return canonical
	}
	return key
}

// Mappings returns a copy of the configured alias table.
func (r *Resolver) Mappings() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.mappings))
	for k, v := range r.mappings {
		out[k] = v
	}
	return out
}

func normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// LikelySameResource reports whether two distinct resource keys share a
// meaningful name fragment, which usually means the same resource observed
// under two naming conventions without a mapping. Used to raise the
// UnresolvedCrossReference diagnostic; never used for automatic merging.
func LikelySameResource(keyA, keyB string) bool {
	if keyA == keyB {
		return false
	}
	for f := range fragments(keyA) {
		if strings.Contains(keyB, f) {
			return true
		}
	}
	for f := range fragments(keyB) {
		if strings.Contains(keyA, f) {
			return true
		}
	}
	return false
}

// fragments splits a resource identifier into name-like tokens, dropping
// short or purely structural parts (arn, aws, region codes are too generic
// to indicate a shared resource).
func fragments(key string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(key, func(r rune) bool {
		return r == '/' || r == ':' || r == '@'
	}) {
		if len(tok) < 6 || generic[tok] {
			continue
		}
		out[tok] = true
	}
	return out
}

var generic = map[string]bool{
	"arn": true, "aws": true, "sha256": true, "latest": true,
	"repository": true, "image": true, "docker": true,
}
