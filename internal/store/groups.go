package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/secfuse/secfuse/internal/models"
)

// ReplaceGroups swaps the materialized correlation partitions in one
// transaction. The correlation job recomputes groups from scratch; replacing
// wholesale keeps membership symmetric without diffing.
func (s *Store) ReplaceGroups(ctx context.Context, groups []models.FindingGroup) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning group replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM finding_groups`); err != nil {
		return fmt.Errorf("clearing groups: %w", err)
	}

	for _, g := range groups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO finding_groups (id, members, reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, g.ID, g.Members, string(g.Reason), g.CreatedAt, g.UpdatedAt); err != nil {
			return fmt.Errorf("inserting group %s: %w", g.ID, err)
		}
	}

	return tx.Commit()
}

// ListGroups returns all correlation groups.
func (s *Store) ListGroups(ctx context.Context) ([]models.FindingGroup, error) {
	var out []models.FindingGroup
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, members, reason, created_at, updated_at
		FROM finding_groups ORDER BY updated_at DESC
	`)
	return out, err
}

// GetGroup returns one group by ID or ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id string) (*models.FindingGroup, error) {
	var g models.FindingGroup
	err := s.db.GetContext(ctx, &g, `
		SELECT id, members, reason, created_at, updated_at
		FROM finding_groups WHERE id = $1
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GroupsForIdentity returns the groups a finding belongs to.
func (s *Store) GroupsForIdentity(ctx context.Context, identity string) ([]models.FindingGroup, error) {
	var out []models.FindingGroup
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, members, reason, created_at, updated_at
		FROM finding_groups WHERE $1 = ANY(members)
		ORDER BY updated_at DESC
	`, identity)
	return out, err
}
