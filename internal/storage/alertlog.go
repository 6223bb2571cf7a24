package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"

	"predixaai-alert-engine/internal/alert"
)

// AlertLog durably records processed alerts for later aggregation.
type AlertLog interface {
	Record(ctx context.Context, a alert.Alert) error
	Close() error
}

type dialect struct {
	driver      string
	placeholder func(n int) string
}

var dialects = map[string]dialect{
	"mysql":    {driver: "mysql", placeholder: func(int) string { return "?" }},
	"postgres": {driver: "postgres", placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }},
	"mssql":    {driver: "sqlserver", placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) }},
}

func lookupDialect(name string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return dialect{}, errors.New("alert log driver is required")
	case "mysql", "mariadb":
		return dialects["mysql"], nil
	case "postgres", "postgresql":
		return dialects["postgres"], nil
	case "mssql", "sqlserver":
		return dialects["mssql"], nil
	default:
		return dialect{}, fmt.Errorf("unsupported alert log driver %q", name)
	}
}

var alertLogColumns = []string{"ts_utc", "name", "severity", "signature_hash", "is_new_error", "silenced", "payload"}

func insertStatement(d dialect) string {
	placeholders := make([]string, len(alertLogColumns))
	for i := range alertLogColumns {
		placeholders[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO alert_log (%s) VALUES (%s)", strings.Join(alertLogColumns, ", "), strings.Join(placeholders, ", "))
}

type SQLAlertLog struct {
	db     *sql.DB
	insert string
	now    func() time.Time
}

// OpenAlertLog opens the alert log on mysql, postgres or mssql.
func OpenAlertLog(ctx context.Context, driver, dsn string) (*SQLAlertLog, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s alert log: %w", driver, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s alert log: %w", driver, err)
	}
	return NewSQLAlertLog(db, driver)
}

func NewSQLAlertLog(db *sql.DB, driver string) (*SQLAlertLog, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return &SQLAlertLog{db: db, insert: insertStatement(d), now: time.Now}, nil
}

func (l *SQLAlertLog) Record(ctx context.Context, a alert.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	_, err = l.db.ExecContext(ctx, l.insert,
		l.now().UTC(), a.Name(), a.Severity(), a.String(alert.FieldSignatureHash),
		a.Bool(alert.FieldIsNewError), a.Bool(alert.FieldSilenced), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert alert log: %w", err)
	}
	return nil
}

func (l *SQLAlertLog) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

type NoopAlertLog struct{}

func (NoopAlertLog) Record(context.Context, alert.Alert) error { return nil }

func (NoopAlertLog) Close() error { return nil }

// MemoryAlertLog keeps recorded alerts in memory.
type MemoryAlertLog struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (m *MemoryAlertLog) Record(_ context.Context, a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a.Clone())
	return nil
}

func (m *MemoryAlertLog) Alerts() []alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]alert.Alert(nil), m.alerts...)
}

func (m *MemoryAlertLog) Close() error { return nil }
