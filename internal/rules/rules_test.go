package rules

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

type memStore struct {
	rules []*AutomationRule
}

func (m *memStore) GetRule(_ context.Context, id string) (*AutomationRule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrRuleNotFound
}

func (m *memStore) ListRules(_ context.Context, enabledOnly bool) ([]*AutomationRule, error) {
	var out []*AutomationRule
	for _, r := range m.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) CreateRule(_ context.Context, r *AutomationRule) error {
	if err := Validate(r); err != nil {
		return err
	}
	m.rules = append(m.rules, r)
	return nil
}

func (m *memStore) UpdateRule(_ context.Context, _ *AutomationRule) error { return nil }
func (m *memStore) DeleteRule(_ context.Context, _ string) error          { return nil }

type mutation struct {
	identity string
	target   models.WorkflowState
	actor    string
	note     string
}

type memMutator struct {
	transitions []mutation
	annotations []mutation
}

func (m *memMutator) Transition(_ context.Context, id string, target models.WorkflowState, actor, note string) (*models.Finding, error) {
	m.transitions = append(m.transitions, mutation{id, target, actor, note})
	return nil, nil
}

func (m *memMutator) Annotate(_ context.Context, id, actor, note string) (*models.Finding, error) {
	m.annotations = append(m.annotations, mutation{identity: id, actor: actor, note: note})
	return nil, nil
}

type memNotifier struct {
	channels []string
}

func (m *memNotifier) NotifyRuleMatch(_ context.Context, channel string, _ *models.Finding, _ string) error {
	m.channels = append(m.channels, channel)
	return nil
}

func testEngine(t *testing.T, rules ...*AutomationRule) (*Engine, *memMutator, *memNotifier) {
	t.Helper()
	store := &memStore{}
	for _, r := range rules {
		if err := store.CreateRule(context.Background(), r); err != nil {
			t.Fatalf("CreateRule %s: %v", r.Name, err)
		}
	}
	mut := &memMutator{}
	not := &memNotifier{}
	eng := NewEngine(store, mut, not, slog.Default())
	if err := eng.LoadRules(context.Background()); err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	return eng, mut, not
}

func sampleFinding() *models.Finding {
	return &models.Finding{
		Identity:      "id-1",
		SourceProduct: "trivy",
		SourceClass:   models.ClassBuildTime,
		CheckID:       "CVE-2024-1234",
		Title:         "openssl vulnerable",
		Resource:      models.Resource{Type: "container-image", AccountID: "111"},
		Severity:      models.SeverityHigh,
		WorkflowState: models.WorkflowNew,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		rule AutomationRule
		ok   bool
	}{
		{
			name: "valid suppress rule",
			rule: AutomationRule{Name: "mute dev", Enabled: true, Actions: []Action{{Type: ActionSuppress}}},
			ok:   true,
		},
		{
			name: "missing name",
			rule: AutomationRule{Actions: []Action{{Type: ActionSuppress}}},
		},
		{
			name: "no actions",
			rule: AutomationRule{Name: "empty"},
		},
		{
			name: "bad regex",
			rule: AutomationRule{
				Name:     "bad",
				Criteria: Criteria{CheckPattern: "("},
				Actions:  []Action{{Type: ActionSuppress}},
			},
		},
		{
			name: "workflow target NEW rejected",
			rule: AutomationRule{
				Name:    "backwards",
				Actions: []Action{{Type: ActionSetWorkflowState, Value: "NEW"}},
			},
		},
		{
			name: "notify without channel",
			rule: AutomationRule{Name: "silent", Actions: []Action{{Type: ActionNotify}}},
		},
		{
			name: "unknown action",
			rule: AutomationRule{Name: "weird", Actions: []Action{{Type: "escalate_to_ceo"}}},
		},
		{
			name: "negative age",
			rule: AutomationRule{
				Name:     "negative",
				Criteria: Criteria{MinAge: -time.Hour},
				Actions:  []Action{{Type: ActionSuppress}},
			},
		},
		{
			name: "max age below min age",
			rule: AutomationRule{
				Name:     "inverted",
				Criteria: Criteria{MinAge: 48 * time.Hour, MaxAge: time.Hour},
				Actions:  []Action{{Type: ActionSuppress}},
			},
		},
		{
			name: "age window",
			rule: AutomationRule{
				Name:     "stale window",
				Criteria: Criteria{MinAge: time.Hour, MaxAge: 48 * time.Hour},
				Actions:  []Action{{Type: ActionSuppress}},
			},
			ok: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.rule)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("got %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestEvaluate_OrderAndTerminal(t *testing.T) {
	eng, mut, not := testEngine(t,
		&AutomationRule{
			Name: "notify later", RuleOrder: 20, Enabled: true,
			Actions: []Action{{Type: ActionNotify, Value: "slack-infra"}},
		},
		&AutomationRule{
			Name: "suppress dev first", RuleOrder: 10, Enabled: true, IsTerminal: true,
			Criteria: Criteria{AccountID: "111"},
			Actions:  []Action{{Type: ActionSuppress}},
		},
	)

	matched := eng.Evaluate(context.Background(), sampleFinding())

	// The terminal rule has the lower order: it fires and stops the chain.
	if len(matched) != 1 || matched[0].RuleName != "suppress dev first" {
		t.Fatalf("matched = %+v, want only the terminal rule", matched)
	}
	if len(mut.transitions) != 1 || mut.transitions[0].target != models.WorkflowSuppressed {
		t.Fatalf("transitions = %+v", mut.transitions)
	}
	if len(not.channels) != 0 {
		t.Errorf("notify fired after terminal rule: %v", not.channels)
	}
}

func TestEvaluate_CriteriaConjunction(t *testing.T) {
	eng, mut, _ := testEngine(t,
		&AutomationRule{
			Name: "high sev trivy", RuleOrder: 1, Enabled: true,
			Criteria: Criteria{SourceProduct: "trivy", MinSeverity: models.SeverityCritical},
			Actions:  []Action{{Type: ActionSetWorkflowState, Value: "NOTIFIED"}},
		},
	)

	// Severity HIGH does not meet the CRITICAL floor: no match.
	if matched := eng.Evaluate(context.Background(), sampleFinding()); len(matched) != 0 {
		t.Fatalf("matched = %+v, want none", matched)
	}

	f := sampleFinding()
	f.Severity = models.SeverityCritical
	if matched := eng.Evaluate(context.Background(), f); len(matched) != 1 {
		t.Fatalf("matched = %+v, want one", matched)
	}
	if len(mut.transitions) != 1 || mut.transitions[0].target != models.WorkflowNotified {
		t.Fatalf("transitions = %+v", mut.transitions)
	}
}

func TestEvaluate_AgeCriteria(t *testing.T) {
	eng, mut, _ := testEngine(t,
		&AutomationRule{
			Name: "escalate stale", RuleOrder: 1, Enabled: true,
			Criteria: Criteria{MinAge: 72 * time.Hour},
			Actions:  []Action{{Type: ActionNotify, Value: "slack-infra"}},
		},
		&AutomationRule{
			Name: "suppress fresh noise", RuleOrder: 2, Enabled: true,
			Criteria: Criteria{MaxAge: time.Hour, AccountID: "111"},
			Actions:  []Action{{Type: ActionSuppress}},
		},
	)

	// A finding first seen a week ago is stale but well past the fresh window.
	f := sampleFinding()
	f.FirstObservedAt = time.Now().Add(-7 * 24 * time.Hour)
	matched := eng.Evaluate(context.Background(), f)
	if len(matched) != 1 || matched[0].RuleName != "escalate stale" {
		t.Fatalf("stale finding matched = %+v, want only the stale rule", matched)
	}

	// A finding first seen minutes ago only fits the fresh window.
	f = sampleFinding()
	f.FirstObservedAt = time.Now().Add(-5 * time.Minute)
	matched = eng.Evaluate(context.Background(), f)
	if len(matched) != 1 || matched[0].RuleName != "suppress fresh noise" {
		t.Fatalf("fresh finding matched = %+v, want only the fresh rule", matched)
	}
	if len(mut.transitions) != 1 || mut.transitions[0].target != models.WorkflowSuppressed {
		t.Fatalf("transitions = %+v", mut.transitions)
	}
}

func TestEvaluate_PatternAndAnnotate(t *testing.T) {
	eng, mut, _ := testEngine(t,
		&AutomationRule{
			Name: "tag openssl", RuleOrder: 1, Enabled: true,
			Criteria: Criteria{CheckPattern: `^CVE-2024-`},
			Actions:  []Action{{Type: ActionAnnotateNote, Value: "tracked in VULN-77"}},
		},
	)

	eng.Evaluate(context.Background(), sampleFinding())
	if len(mut.annotations) != 1 || mut.annotations[0].note != "tracked in VULN-77" {
		t.Fatalf("annotations = %+v", mut.annotations)
	}
	if mut.annotations[0].actor != "rule:tag openssl" {
		t.Errorf("actor = %s", mut.annotations[0].actor)
	}
}

func TestEvaluate_SkipsDisabled(t *testing.T) {
	eng, mut, _ := testEngine(t,
		&AutomationRule{
			Name: "disabled", Enabled: false,
			Actions: []Action{{Type: ActionSuppress}},
		},
	)

	eng.Evaluate(context.Background(), sampleFinding())
	if len(mut.transitions) != 0 {
		t.Fatalf("disabled rule fired: %+v", mut.transitions)
	}
}
