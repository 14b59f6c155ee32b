package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type ruleRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	RuleOrder   int       `db:"rule_order"`
	IsTerminal  bool      `db:"is_terminal"`
	Enabled     bool      `db:"enabled"`
	Criteria    []byte    `db:"criteria"`
	Actions     []byte    `db:"actions"`
	CreatedBy   string    `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *ruleRow) toRule() (*AutomationRule, error) {
	rule := &AutomationRule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		RuleOrder:   r.RuleOrder,
		IsTerminal:  r.IsTerminal,
		Enabled:     r.Enabled,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Criteria, &rule.Criteria); err != nil {
		return nil, fmt.Errorf("decoding criteria for rule %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(r.Actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("decoding actions for rule %s: %w", r.ID, err)
	}
	return rule, nil
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*AutomationRule, error) {
	var row ruleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, description, rule_order, is_terminal, enabled, criteria, actions, created_by, created_at, updated_at
		FROM automation_rules WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return row.toRule()
}

func (s *PostgresStore) ListRules(ctx context.Context, enabledOnly bool) ([]*AutomationRule, error) {
	query := `
		SELECT id, name, description, rule_order, is_terminal, enabled, criteria, actions, created_by, created_at, updated_at
		FROM automation_rules`
	if enabledOnly {
		query += ` WHERE enabled = true`
	}
	query += ` ORDER BY rule_order ASC, created_at ASC`

	var rows []ruleRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	rules := make([]*AutomationRule, 0, len(rows))
	for _, row := range rows {
		rule, err := row.toRule()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// CreateRule validates and persists a rule. Invalid rules never reach the
// table, so evaluation can assume everything stored is runnable.
func (s *PostgresStore) CreateRule(ctx context.Context, rule *AutomationRule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automation_rules (id, name, description, rule_order, is_terminal, enabled, criteria, actions, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rule.ID, rule.Name, rule.Description, rule.RuleOrder, rule.IsTerminal, rule.Enabled,
		criteria, actions, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (s *PostgresStore) UpdateRule(ctx context.Context, rule *AutomationRule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now().UTC()

	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return err
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_rules
		SET name = $1, description = $2, rule_order = $3, is_terminal = $4, enabled = $5,
		    criteria = $6, actions = $7, updated_at = $8
		WHERE id = $9
	`, rule.Name, rule.Description, rule.RuleOrder, rule.IsTerminal, rule.Enabled,
		criteria, actions, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}
