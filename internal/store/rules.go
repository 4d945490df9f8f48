package store

import (
	"database/sql"
	"fmt"

	"github.com/mailvault/mailvault/internal/filter"
)

// CreateRule persists a filter rule and returns its ID. Rule names are
// unique; reusing one returns ErrDuplicate.
func (s *Store) CreateRule(r filter.Rule) (int64, error) {
	if !filter.ValidRule(r) {
		return 0, fmt.Errorf("invalid rule %q: field=%s operator=%s action=%s", r.Name, r.Field, r.Operator, r.Action)
	}

	result, err := s.db.Exec(`
		INSERT INTO filter_rules (name, field, operator, value, action, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
	`, r.Name, string(r.Field), string(r.Operator), r.Value, string(r.Action), r.Enabled)
	if err != nil {
		if isSQLiteError(err, "UNIQUE constraint failed: filter_rules.name") {
			return 0, fmt.Errorf("rule %q: %w", r.Name, ErrDuplicate)
		}
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	return result.LastInsertId()
}

// GetRule returns one rule by ID.
func (s *Store) GetRule(id int64) (*filter.Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, name, field, operator, value, action, enabled
		FROM filter_rules
		WHERE id = ?
	`, id)

	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func scanRule(row interface{ Scan(...interface{}) error }) (*filter.Rule, error) {
	var r filter.Rule
	var field, operator, action string
	err := row.Scan(&r.ID, &r.Name, &field, &operator, &r.Value, &action, &r.Enabled)
	if err != nil {
		return nil, err
	}
	r.Field = filter.Field(field)
	r.Operator = filter.Operator(operator)
	r.Action = filter.Action(action)
	return &r, nil
}

// ListRules returns rules in creation order. With enabledOnly, disabled
// rules are skipped; the pipeline loads its rule set this way once per run.
func (s *Store) ListRules(enabledOnly bool) ([]filter.Rule, error) {
	query := `
		SELECT id, name, field, operator, value, action, enabled
		FROM filter_rules
	`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules := []filter.Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// SetRuleEnabled toggles a rule without touching its definition.
func (s *Store) SetRuleEnabled(id int64, enabled bool) error {
	result, err := s.db.Exec(`UPDATE filter_rules SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteRule removes a rule permanently.
func (s *Store) DeleteRule(id int64) error {
	result, err := s.db.Exec(`DELETE FROM filter_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}
