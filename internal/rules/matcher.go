package rules

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"predixaai-alert-engine/internal/alert"
)

// Store lists rules in declared order. Implementations are read-only.
type Store interface {
	ListRules(ctx context.Context) ([]Rule, error)
}

// Match is a rule whose conditions held for an alert.
type Match struct {
	Rule   Rule
	Result EvaluationResult
}

type Matcher struct {
	Logger logrus.FieldLogger
}

// Match evaluates every rule in order and returns the matches in that same
// order. A rule that panics is logged and skipped.
func (m Matcher) Match(rules []Rule, a alert.Alert) ([]Match, []EvaluationResult) {
	var matches []Match
	results := make([]EvaluationResult, 0, len(rules))
	for _, rule := range rules {
		result, ok := m.evaluateSafe(rule, a)
		if !ok {
			continue
		}
		results = append(results, result)
		if result.Matched {
			matches = append(matches, Match{Rule: rule, Result: result})
		}
	}
	return matches, results
}

func (m Matcher) evaluateSafe(rule Rule, a alert.Alert) (result EvaluationResult, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if m.Logger != nil {
				m.Logger.WithField("rule_id", rule.ID).Errorf("rule evaluation panicked: %v", r)
			}
			ok = false
		}
	}()
	return Evaluate(rule, a), true
}

type StaticStore []Rule

func (s StaticStore) ListRules(context.Context) ([]Rule, error) {
	return append([]Rule(nil), s...), nil
}

// FileStore reads rules from a YAML or JSON file, re-reading it when its
// modification time changes.
type FileStore struct {
	Path string

	mu      sync.Mutex
	modTime int64
	rules   []Rule
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) ListRules(context.Context) ([]Rule, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, fmt.Errorf("stat rules file: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rules != nil && info.ModTime().UnixNano() == s.modTime {
		return append([]Rule(nil), s.rules...), nil
	}
	rules, err := LoadFile(s.Path)
	if err != nil {
		return nil, err
	}
	s.rules = rules
	s.modTime = info.ModTime().UnixNano()
	return append([]Rule(nil), rules...), nil
}

// LoadFile parses a rules file. The document is either a list of rules or a
// mapping with a "rules" list. YAML is a superset of JSON, so both work.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	docs, err := DecodeDocuments(data)
	if err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, FromMap(doc))
	}
	return rules, nil
}

// DecodeDocuments returns the raw rule documents contained in data.
func DecodeDocuments(data []byte) ([]map[string]any, error) {
	var root any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if m, ok := root.(map[string]any); ok {
		root = m["rules"]
	}
	items, ok := root.([]any)
	if !ok {
		if root == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("parse rules: expected a list of rules")
	}
	docs := make([]map[string]any, 0, len(items))
	for i, item := range items {
		doc, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse rules: entry %d is not a mapping", i)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
