package signature

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/alert"
)

type Enricher struct {
	Store  DedupStore
	Logger logrus.FieldLogger
}

func NewEnricher(store DedupStore, logger logrus.FieldLogger) *Enricher {
	if store == nil {
		store = NoopDedupStore{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Enricher{Store: store, Logger: logger}
}

// Enrich sets error_signature, error_signature_hash and is_new_error on the
// alert. Alerts that already carry a hash are left untouched and the dedup
// store is not consulted again. A caller-supplied is_new_error is always
// replaced by the store's answer.
func (e *Enricher) Enrich(ctx context.Context, a alert.Alert) {
	if a == nil {
		return
	}
	if strings.TrimSpace(a.String(alert.FieldSignatureHash)) != "" {
		return
	}
	hash, truncated := compute(a)
	if truncated {
		e.Logger.WithField("max_depth", MaxSearchDepth).Debug("sentry id search stopped at depth limit")
	}
	if hash == "" {
		return
	}
	if strings.TrimSpace(a.String(alert.FieldSignature)) == "" {
		a[alert.FieldSignature] = label(a, hash)
	}
	a[alert.FieldSignatureHash] = hash

	isNew, err := e.Store.IsNewError(ctx, hash)
	if err != nil {
		e.Logger.WithError(err).WithField("hash", hash).Warn("dedup lookup failed")
		isNew = false
	}
	a[alert.FieldIsNewError] = isNew
}

func label(a alert.Alert, hash string) string {
	errType := strings.TrimSpace(a.String(alert.FieldErrorType))
	file := normalizeFile(a.String(alert.FieldFile))
	switch {
	case errType != "" && file != "":
		return errType + " in " + file
	case errType != "":
		return errType
	case file != "":
		return file
	}
	if id, ok := FindSentryID(map[string]any(a)); ok {
		return "sentry:" + id
	}
	return hash
}
