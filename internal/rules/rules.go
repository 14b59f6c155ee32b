// Package rules evaluates ordered automation rules against findings after
// ingestion. Rules are validated at registration time: a rule that would
// fail at evaluation time is rejected up front with ErrInvalidRule.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/secfuse/secfuse/internal/models"
)

// ErrInvalidRule is returned when a rule fails registration validation.
var ErrInvalidRule = errors.New("invalid automation rule")

// ErrRuleNotFound is returned by the store for an unknown rule ID.
var ErrRuleNotFound = errors.New("rule not found")

// ActionType enumerates what a matched rule may do to a finding.
type ActionType string

const (
	ActionSetWorkflowState ActionType = "set_workflow_state"
	ActionAnnotateNote     ActionType = "annotate_note"
	ActionSuppress         ActionType = "suppress"
	ActionNotify           ActionType = "notify"
)

// Action is one effect of a matched rule. Value is the target workflow state
// for set_workflow_state, the note text for annotate_note, and the channel
// name for notify; suppress ignores it.
type Action struct {
	Type  ActionType `json:"type"`
	Value string     `json:"value,omitempty"`
}

// Criteria is a conjunction of matchers; a zero field matches anything.
// Age is measured from FirstObservedAt, so MinAge matches findings that have
// been open at least that long.
type Criteria struct {
	SourceProduct string             `json:"source_product,omitempty"`
	SourceClass   models.SourceClass `json:"source_class,omitempty"`
	CheckPattern  string             `json:"check_pattern,omitempty"`
	TitlePattern  string             `json:"title_pattern,omitempty"`
	ResourceType  string             `json:"resource_type,omitempty"`
	AccountID     string             `json:"account_id,omitempty"`
	MinSeverity   models.Severity    `json:"min_severity,omitempty"`
	MaxSeverity   models.Severity    `json:"max_severity,omitempty"`
	MinAge        time.Duration      `json:"min_age,omitempty"`
	MaxAge        time.Duration      `json:"max_age,omitempty"`
}

// AutomationRule is a user-defined post-ingestion rule. Rules evaluate in
// ruleOrder ascending; a terminal rule stops the chain for its finding.
type AutomationRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RuleOrder   int       `json:"rule_order"`
	IsTerminal  bool      `json:"is_terminal"`
	Enabled     bool      `json:"enabled"`
	Criteria    Criteria  `json:"criteria"`
	Actions     []Action  `json:"actions"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// compiledRule caches the regex matchers.
type compiledRule struct {
	rule    *AutomationRule
	checkRe *regexp.Regexp
	titleRe *regexp.Regexp
}

// Validate rejects rules that would misbehave at evaluation time.
func Validate(rule *AutomationRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if len(rule.Actions) == 0 {
		return fmt.Errorf("%w: at least one action is required", ErrInvalidRule)
	}
	for _, a := range rule.Actions {
		switch a.Type {
		case ActionSetWorkflowState:
			switch models.WorkflowState(a.Value) {
			case models.WorkflowNotified, models.WorkflowSuppressed, models.WorkflowResolved:
			default:
				return fmt.Errorf("%w: set_workflow_state target %q is not a forward state", ErrInvalidRule, a.Value)
			}
		case ActionAnnotateNote:
			if a.Value == "" {
				return fmt.Errorf("%w: annotate_note requires note text", ErrInvalidRule)
			}
		case ActionNotify:
			if a.Value == "" {
				return fmt.Errorf("%w: notify requires a channel", ErrInvalidRule)
			}
		case ActionSuppress:
		default:
			return fmt.Errorf("%w: unknown action type %q", ErrInvalidRule, a.Type)
		}
	}
	if rule.Criteria.MinAge < 0 || rule.Criteria.MaxAge < 0 {
		return fmt.Errorf("%w: age criteria must not be negative", ErrInvalidRule)
	}
	if rule.Criteria.MaxAge > 0 && rule.Criteria.MaxAge < rule.Criteria.MinAge {
		return fmt.Errorf("%w: max_age is below min_age", ErrInvalidRule)
	}
	if _, err := compile(rule); err != nil {
		return err
	}
	return nil
}

func compile(rule *AutomationRule) (*compiledRule, error) {
	c := &compiledRule{rule: rule}
	var err error
	if rule.Criteria.CheckPattern != "" {
		if c.checkRe, err = regexp.Compile(rule.Criteria.CheckPattern); err != nil {
			return nil, fmt.Errorf("%w: check pattern: %v", ErrInvalidRule, err)
		}
	}
	if rule.Criteria.TitlePattern != "" {
		if c.titleRe, err = regexp.Compile(rule.Criteria.TitlePattern); err != nil {
			return nil, fmt.Errorf("%w: title pattern: %v", ErrInvalidRule, err)
		}
	}
	return c, nil
}

func (c *compiledRule) matches(f *models.Finding) bool {
	cr := c.rule.Criteria
	if cr.SourceProduct != "" && cr.SourceProduct != f.SourceProduct {
		return false
	}
	if cr.SourceClass != "" && cr.SourceClass != f.SourceClass {
		return false
	}
	if cr.ResourceType != "" && cr.ResourceType != f.Resource.Type {
		return false
	}
	if cr.AccountID != "" && cr.AccountID != f.Resource.AccountID {
		return false
	}
	if cr.MinSeverity > 0 && f.Severity < cr.MinSeverity {
		return false
	}
	if cr.MaxSeverity > 0 && f.Severity > cr.MaxSeverity {
		return false
	}
	if cr.MinAge > 0 || cr.MaxAge > 0 {
		age := time.Since(f.FirstObservedAt)
		if cr.MinAge > 0 && age < cr.MinAge {
			return false
		}
		if cr.MaxAge > 0 && age > cr.MaxAge {
			return false
		}
	}
	if c.checkRe != nil && !c.checkRe.MatchString(f.CheckID) {
		return false
	}
	if c.titleRe != nil && !c.titleRe.MatchString(f.Title) {
		return false
	}
	return true
}

// Store persists rules.
type Store interface {
	GetRule(ctx context.Context, id string) (*AutomationRule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]*AutomationRule, error)
	CreateRule(ctx context.Context, rule *AutomationRule) error
	UpdateRule(ctx context.Context, rule *AutomationRule) error
	DeleteRule(ctx context.Context, id string) error
}

// FindingMutator is the slice of the finding store rule actions need.
type FindingMutator interface {
	Transition(ctx context.Context, identity string, target models.WorkflowState, actor, note string) (*models.Finding, error)
	Annotate(ctx context.Context, identity, actor, note string) (*models.Finding, error)
}

// Notifier delivers rule-triggered notifications.
type Notifier interface {
	NotifyRuleMatch(ctx context.Context, channel string, finding *models.Finding, ruleName string) error
}

// Engine loads, validates, and evaluates automation rules.
type Engine struct {
	store    Store
	mutator  FindingMutator
	notifier Notifier
	logger   *slog.Logger

	compiled []*compiledRule
}

func NewEngine(store Store, mutator FindingMutator, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{store: store, mutator: mutator, notifier: notifier, logger: logger}
}

// LoadRules loads enabled rules and compiles them in evaluation order.
func (e *Engine) LoadRules(ctx context.Context) error {
	list, err := e.store.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}

	compiled := make([]*compiledRule, 0, len(list))
	for _, rule := range list {
		c, err := compile(rule)
		if err != nil {
			// Persisted rules were validated at registration; a compile
			// failure here means the stored row was edited out of band.
			e.logger.Warn("skipping uncompilable rule", "rule", rule.ID, "error", err)
			continue
		}
		compiled = append(compiled, c)
	}
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].rule.RuleOrder < compiled[j].rule.RuleOrder
	})
	e.compiled = compiled
	return nil
}

// RuleMatch reports one rule that fired during evaluation.
type RuleMatch struct {
	RuleID   string
	RuleName string
	Actions  []Action
	Terminal bool
}

// Evaluate runs the rule chain against a finding in ruleOrder ascending.
// Actions apply in rule order; a terminal rule stops the chain. Action
// failures are logged and do not abort later actions, so one unreachable
// notification channel cannot wedge ingestion.
func (e *Engine) Evaluate(ctx context.Context, f *models.Finding) []RuleMatch {
	var matched []RuleMatch
	for _, c := range e.compiled {
		if !c.matches(f) {
			continue
		}
		matched = append(matched, RuleMatch{
			RuleID:   c.rule.ID,
			RuleName: c.rule.Name,
			Actions:  c.rule.Actions,
			Terminal: c.rule.IsTerminal,
		})
		e.apply(ctx, c.rule, f)
		if c.rule.IsTerminal {
			break
		}
	}
	return matched
}

func (e *Engine) apply(ctx context.Context, rule *AutomationRule, f *models.Finding) {
	actor := "rule:" + rule.Name
	for _, a := range rule.Actions {
		var err error
		switch a.Type {
		case ActionSetWorkflowState:
			_, err = e.mutator.Transition(ctx, f.Identity, models.WorkflowState(a.Value), actor, rule.Description)
		case ActionSuppress:
			_, err = e.mutator.Transition(ctx, f.Identity, models.WorkflowSuppressed, actor, rule.Description)
		case ActionAnnotateNote:
			_, err = e.mutator.Annotate(ctx, f.Identity, actor, a.Value)
		case ActionNotify:
			if e.notifier != nil {
				err = e.notifier.NotifyRuleMatch(ctx, a.Value, f, rule.Name)
			}
		}
		if err != nil {
			e.logger.Warn("rule action failed",
				"rule", rule.ID,
				"action", string(a.Type),
				"identity", f.Identity,
				"error", err)
		}
	}
}
