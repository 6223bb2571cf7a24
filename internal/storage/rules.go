package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"predixaai-alert-engine/internal/rules"
)

// RuleRepository reads routing rules from the alert_rules table in position
// order.
type RuleRepository struct {
	Store *Store
}

func NewRuleRepository(store *Store) *RuleRepository {
	return &RuleRepository{Store: store}
}

type RuleRecord struct {
	ID       string
	Name     string
	Enabled  bool
	Position int
	RuleJSON []byte
}

func (r *RuleRepository) ListRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, name, enabled, position, rule_json
		FROM alert_rules ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []rules.Rule{}
	for rows.Next() {
		var rec RuleRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Enabled, &rec.Position, &rec.RuleJSON); err != nil {
			return nil, err
		}
		rule, err := DecodeRuleRecord(rec)
		if err != nil {
			return nil, err
		}
		results = append(results, rule)
	}
	return results, rows.Err()
}

func (r *RuleRepository) GetRule(ctx context.Context, id string) (rules.Rule, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id, name, enabled, position, rule_json
		FROM alert_rules WHERE id=$1`, id)
	var rec RuleRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Enabled, &rec.Position, &rec.RuleJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rules.Rule{}, ErrNotFound
		}
		return rules.Rule{}, err
	}
	return DecodeRuleRecord(rec)
}

// UpsertRule writes a rule at the given position, replacing any rule with the
// same id.
func (r *RuleRepository) UpsertRule(ctx context.Context, rule rules.Rule, position int) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	_, err = r.Store.Pool.Exec(ctx, `
		INSERT INTO alert_rules (id, name, enabled, position, rule_json, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, enabled=EXCLUDED.enabled, position=EXCLUDED.position, rule_json=EXCLUDED.rule_json, updated_at=now()`,
		rule.ID, rule.Name, rule.Enabled, position, data,
	)
	return err
}

// DecodeRuleRecord builds a rule from its stored document. Column values win
// over the copies inside rule_json.
func DecodeRuleRecord(rec RuleRecord) (rules.Rule, error) {
	var doc map[string]any
	if len(rec.RuleJSON) > 0 {
		if err := json.Unmarshal(rec.RuleJSON, &doc); err != nil {
			return rules.Rule{}, fmt.Errorf("decode rule %s: %w", rec.ID, err)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	rule := rules.FromMap(doc)
	rule.ID = rec.ID
	if rec.Name != "" {
		rule.Name = rec.Name
	}
	rule.Enabled = rec.Enabled
	return rule, nil
}
