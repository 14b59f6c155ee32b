// Package adapters turns source-native scanner payloads into raw findings.
// An adapter is pure parsing: no identity computation, no severity
// normalization, no persistence. Parsing is fail-fast: a payload missing any
// required field is rejected whole so malformed input never produces a
// partial record.
package adapters

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/secfuse/secfuse/internal/models"
)

// Adapter parses one source format into raw findings.
type Adapter interface {
	// Source names the format this adapter handles, e.g. "trivy" or "asff".
	Source() string
	// Parse decodes a payload. A payload with missing required fields fails
	// with *ParseError; no findings are returned alongside an error.
	Parse(payload []byte) ([]models.RawFinding, error)
}

// ParseError reports why a payload was rejected, including which required
// fields were absent, so the dead letter queue entry is actionable.
type ParseError struct {
	Source        string
	MissingFields []string
	Reason        string
}

func (e *ParseError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("%s: missing required fields: %s", e.Source, strings.Join(e.MissingFields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

// Registry maps source names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Source()] = a
}

// Get returns the adapter for a source, or an error naming the known sources.
func (r *Registry) Get(source string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q (known: %s)", source, strings.Join(r.sourcesLocked(), ", "))
	}
	return a, nil
}

// Sources lists registered source names, sorted.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sourcesLocked()
}

func (r *Registry) sourcesLocked() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
