// Package correlate groups distinct findings that likely share a root cause.
// Grouping is advisory: it never merges records, changes workflow state, or
// blocks ingestion. The engine partitions a window of findings with a
// union-find over pairwise relations and materializes every partition of two
// or more members as a finding group.
package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/secfuse/secfuse/internal/models"
)

// Rules selects which relations link findings into one group.
type Rules struct {
	SameResource   bool
	SamePrincipal  bool
	TemporalWindow time.Duration // zero disables the temporal relation
}

// DefaultRules matches resource and principal and links findings on the same
// resource or principal observed within fifteen minutes of each other.
func DefaultRules() Rules {
	return Rules{
		SameResource:   true,
		SamePrincipal:  true,
		TemporalWindow: 15 * time.Minute,
	}
}

// unionFind is a plain disjoint-set with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

type relation int

const (
	relResource relation = iota
	relPrincipal
	relTemporal
)

// Group partitions the findings under the rules. The output is deterministic
// for a given input ordering by identity, so repeated runs over the same
// window produce the same groups.
func Group(findings []models.Finding, rules Rules) []models.FindingGroup {
	if len(findings) < 2 {
		return nil
	}

	sorted := make([]models.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identity < sorted[j].Identity })

	uf := newUnionFind(len(sorted))
	relations := make(map[int]map[relation]bool)
	mark := func(root int, r relation) {
		if relations[root] == nil {
			relations[root] = make(map[relation]bool)
		}
		relations[root][r] = true
	}

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			a, b := &sorted[i], &sorted[j]
			r, ok := related(a, b, rules)
			if !ok {
				continue
			}
			uf.union(i, j)
			mark(uf.find(i), r)
		}
	}

	// Re-anchor relation marks after all unions settled root identities.
	members := make(map[int][]int)
	rootRelations := make(map[int]map[relation]bool)
	for i := range sorted {
		root := uf.find(i)
		members[root] = append(members[root], i)
		for anchored, rels := range relations {
			if uf.find(anchored) == root {
				if rootRelations[root] == nil {
					rootRelations[root] = make(map[relation]bool)
				}
				for r := range rels {
					rootRelations[root][r] = true
				}
			}
		}
	}

	now := time.Now().UTC()
	var groups []models.FindingGroup
	for root, idxs := range members {
		if len(idxs) < 2 {
			continue
		}
		ids := make([]string, len(idxs))
		for k, idx := range idxs {
			ids[k] = sorted[idx].Identity
		}
		sort.Strings(ids)

		groups = append(groups, models.FindingGroup{
			ID:        groupID(ids),
			Members:   ids,
			Reason:    reasonFor(rootRelations[root]),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

func related(a, b *models.Finding, rules Rules) (relation, bool) {
	if rules.SameResource && a.Resource.ARN != "" && a.Resource.ARN == b.Resource.ARN {
		return relResource, true
	}
	if rules.SamePrincipal && a.Principal != "" && a.Principal == b.Principal {
		return relPrincipal, true
	}
	if rules.TemporalWindow > 0 && sharesDimension(a, b) {
		gap := a.LastObservedAt.Sub(b.LastObservedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= rules.TemporalWindow {
			return relTemporal, true
		}
	}
	return 0, false
}

// sharesDimension reports whether two findings touch the same resource or
// act under the same principal. The temporal relation needs this anchor:
// time proximity alone says nothing about a common cause.
func sharesDimension(a, b *models.Finding) bool {
	if a.Resource.ARN != "" && a.Resource.ARN == b.Resource.ARN {
		return true
	}
	return a.Principal != "" && a.Principal == b.Principal
}

func reasonFor(rels map[relation]bool) models.GroupReason {
	if len(rels) > 1 {
		return models.GroupByComposite
	}
	for r := range rels {
		switch r {
		case relResource:
			return models.GroupByResource
		case relPrincipal:
			return models.GroupByPrincipal
		case relTemporal:
			return models.GroupByTemporal
		}
	}
	return models.GroupByComposite
}

// groupID derives a stable ID from sorted membership so recomputation of an
// unchanged partition yields the same group.
func groupID(sortedMembers []string) string {
	joined := ""
	for _, m := range sortedMembers {
		joined += m + "\n"
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(joined)).String()
}

// Store is the slice of the finding store the engine needs.
type Store interface {
	RecentWindow(ctx context.Context, since time.Time) ([]models.Finding, error)
	ReplaceGroups(ctx context.Context, groups []models.FindingGroup) error
}

// Engine recomputes groups over a sliding window of recent findings.
type Engine struct {
	store  Store
	rules  Rules
	window time.Duration
	logger *slog.Logger
}

func NewEngine(store Store, rules Rules, window time.Duration, logger *slog.Logger) *Engine {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Engine{store: store, rules: rules, window: window, logger: logger}
}

// Recompute rebuilds the materialized groups from the current window. The
// operation is idempotent: running it twice over the same data is a no-op.
func (e *Engine) Recompute(ctx context.Context) error {
	since := time.Now().UTC().Add(-e.window)
	findings, err := e.store.RecentWindow(ctx, since)
	if err != nil {
		return fmt.Errorf("loading correlation window: %w", err)
	}

	groups := Group(findings, e.rules)
	if err := e.store.ReplaceGroups(ctx, groups); err != nil {
		return fmt.Errorf("materializing groups: %w", err)
	}

	e.logger.Info("correlation recompute finished",
		"window_findings", len(findings),
		"groups", len(groups))
	return nil
}
