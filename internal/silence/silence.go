// Package silence keeps temporary, pattern-based suppressions of alerts.
// Expiry is decided at query time by comparing Until with the clock; stores
// never need a sweeper for correctness.
package silence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/pattern"
)

var (
	ErrBroadPattern    = errors.New("silence pattern matches every alert; use force to create it anyway")
	ErrInvalidPattern  = errors.New("invalid silence pattern")
	ErrInvalidDuration = errors.New("silence duration must be positive")
	ErrNotConfigured   = errors.New("silence store is not configured")
)

type Record struct {
	ID        string    `json:"id" bson:"_id"`
	Pattern   string    `json:"pattern" bson:"pattern"`
	Severity  string    `json:"severity,omitempty" bson:"severity,omitempty"`
	Active    bool      `json:"active" bson:"active"`
	Until     time.Time `json:"until" bson:"until"`
	CreatedBy string    `json:"created_by" bson:"created_by"`
	Reason    string    `json:"reason,omitempty" bson:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Expired reports whether the record's window has passed at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.Until)
}

// Matches reports whether the record silences an alert with the given name
// and severity. The pattern is searched anywhere in the name.
func (r Record) Matches(name, severity string) bool {
	if r.Severity != "" && r.Severity != severity {
		return false
	}
	return pattern.Search(r.Pattern, name)
}

// Store persists silence records. Concurrent create and deactivate calls may
// race; the last write wins.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	ListActive(ctx context.Context) ([]Record, error)
	Deactivate(ctx context.Context, id string) (bool, error)
	DeactivateByPattern(ctx context.Context, pattern string) (int, error)
}

type Request struct {
	Pattern         string
	DurationSeconds int64
	CreatedBy       string
	Reason          string
	Severity        string
	Force           bool
}

type Manager struct {
	store   Store
	logger  logrus.FieldLogger
	maxDays int
	now     func() time.Time
}

func NewManager(store Store, logger logrus.FieldLogger, maxDays int) *Manager {
	if store == nil {
		store = NoopStore{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{store: store, logger: logger, maxDays: maxDays, now: time.Now}
}

func (m *Manager) MaxDays() int {
	return m.maxDays
}

// Create validates and stores a new silence. Broad patterns are refused
// unless req.Force is set.
func (m *Manager) Create(ctx context.Context, req Request) (*Record, error) {
	expr := strings.TrimSpace(req.Pattern)
	if expr != "" {
		if _, err := pattern.Compile(expr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	}
	if !req.Force && IsBroadPattern(expr) {
		return nil, ErrBroadPattern
	}
	if req.DurationSeconds <= 0 {
		return nil, ErrInvalidDuration
	}
	duration := req.DurationSeconds
	if m.maxDays > 0 && duration > int64(m.maxDays)*86400 {
		duration = int64(m.maxDays) * 86400
	}
	now := m.now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		Pattern:   expr,
		Severity:  strings.TrimSpace(req.Severity),
		Active:    true,
		Until:     now.Add(time.Duration(duration) * time.Second),
		CreatedBy: req.CreatedBy,
		Reason:    req.Reason,
		CreatedAt: now,
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store silence: %w", err)
	}
	m.logger.WithFields(logrus.Fields{
		"silence_id": rec.ID,
		"pattern":    rec.Pattern,
		"until":      rec.Until.Format(time.RFC3339),
		"created_by": rec.CreatedBy,
	}).Info("silence created")
	return &rec, nil
}

// IsSilenced returns the first active, unexpired record matching the alert.
// Store failures are logged and treated as not silenced.
func (m *Manager) IsSilenced(ctx context.Context, name, severity string) (bool, *Record) {
	records, err := m.Active(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("silence lookup failed")
		return false, nil
	}
	for i := range records {
		if records[i].Matches(name, severity) {
			rec := records[i]
			return true, &rec
		}
	}
	return false, nil
}

// Active lists active records whose window has not passed.
func (m *Manager) Active(ctx context.Context) ([]Record, error) {
	records, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := records[:0]
	for _, rec := range records {
		if rec.Active && !rec.Expired(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Manager) UnsilenceByID(ctx context.Context, id string) (bool, error) {
	ok, err := m.store.Deactivate(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		m.logger.WithField("silence_id", id).Info("silence removed")
	}
	return ok, nil
}

func (m *Manager) UnsilenceByPattern(ctx context.Context, expr string) (int, error) {
	n, err := m.store.DeactivateByPattern(ctx, strings.TrimSpace(expr))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.WithFields(logrus.Fields{"pattern": expr, "count": n}).Info("silences removed")
	}
	return n, nil
}

var broadProbes = []string{
	"a",
	"Z",
	"0",
	"High Latency",
	"disk full on db-01",
	"__probe__",
	"?",
}

// IsBroadPattern reports whether expr would silence effectively every alert
// name: empty patterns and patterns matching every probe name.
func IsBroadPattern(expr string) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	for _, probe := range broadProbes {
		if !pattern.Search(expr, probe) {
			return false
		}
	}
	return true
}

type NoopStore struct{}

func (NoopStore) Insert(context.Context, Record) error { return ErrNotConfigured }

func (NoopStore) ListActive(context.Context) ([]Record, error) { return nil, nil }

func (NoopStore) Deactivate(context.Context, string) (bool, error) { return false, nil }

func (NoopStore) DeactivateByPattern(context.Context, string) (int, error) { return 0, nil }
