package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"predixaai-alert-engine/internal/actions"
	"predixaai-alert-engine/internal/alert"
	"predixaai-alert-engine/internal/api"
	"predixaai-alert-engine/internal/bus"
	"predixaai-alert-engine/internal/config"
	"predixaai-alert-engine/internal/pipeline"
	"predixaai-alert-engine/internal/rules"
	"predixaai-alert-engine/internal/security"
	"predixaai-alert-engine/internal/signature"
	"predixaai-alert-engine/internal/silence"
	"predixaai-alert-engine/internal/storage"
)

// app is a fully wired engine plus the resources it has to release.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	pipeline *pipeline.Pipeline
	router   chi.Router
	closers  []func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	metrics := pipeline.NewMetrics()

	var dedup signature.DedupStore = signature.NoopDedupStore{}
	if cfg.Dedup.RedisURL != "" {
		client, err := signature.ConnectRedis(ctx, cfg.Dedup.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		dedup = signature.NewRedisDedupStore(client, cfg.Dedup.Prefix, cfg.Dedup.TTL)
	} else {
		logger.Info("no dedup store configured; every signature is reported as new")
	}

	ruleStore, err := a.ruleStore(ctx)
	if err != nil {
		return nil, err
	}

	var silenceStore silence.Store = silence.NewMemoryStore()
	if cfg.Silence.MongoURI != "" {
		client, err := silence.ConnectMongo(ctx, cfg.Silence.MongoURI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
		store, err := silence.NewMongoStore(ctx, client.Database(cfg.Silence.MongoDatabase))
		if err != nil {
			return nil, err
		}
		silenceStore = store
	} else {
		logger.Warn("silences are kept in memory and lost on restart")
	}
	silences := silence.NewManager(silenceStore, logger, cfg.Silence.MaxDays)

	var alertLog storage.AlertLog = storage.NoopAlertLog{}
	if cfg.AlertLog.Driver != "" {
		sqlLog, err := storage.OpenAlertLog(ctx, cfg.AlertLog.Driver, cfg.AlertLog.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = sqlLog.Close() })
		alertLog = sqlLog
	}

	var publisher bus.EventPublisher = bus.NoopPublisher{}
	if cfg.NATS.URL != "" {
		pub, err := bus.NewPublisher(cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		publisher = pub
	}

	executor := a.executor(metrics)
	dispatcher := pipeline.NewDispatcher(executor, cfg.Executor.Workers, cfg.Executor.QueueSize, cfg.Executor.ActionTimeout, logger, metrics)
	a.closers = append(a.closers, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("pending actions abandoned on shutdown")
		}
	})

	a.pipeline = &pipeline.Pipeline{
		Enricher:         signature.NewEnricher(dedup, logger),
		Rules:            ruleStore,
		Matcher:          rules.Matcher{Logger: logger},
		Silences:         silences,
		Executor:         executor,
		AlertLog:         alertLog,
		Publisher:        publisher,
		ProcessedSubject: cfg.NATS.ProcessedSubject,
		Dispatcher:       dispatcher,
		Metrics:          metrics,
		Logger:           logger,
	}

	handler := &api.Handler{Pipeline: a.pipeline, Silences: silences, Metrics: metrics.Handler(), Logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.HTTP.WriteTimeout > 0 {
		r.Use(middleware.Timeout(cfg.HTTP.WriteTimeout))
	}
	handler.RegisterRoutes(r)
	a.router = r
	return a, nil
}

func (a *app) ruleStore(ctx context.Context) (rules.Store, error) {
	switch a.cfg.Rules.Source {
	case "postgres":
		store, err := storage.NewStore(ctx, a.cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return storage.NewRuleRepository(store), nil
	case "file":
		return rules.NewFileStore(a.cfg.Rules.File), nil
	default:
		a.logger.Warn("no rule source configured; alerts are only enriched and logged")
		return rules.StaticStore(nil), nil
	}
}

func (a *app) executor(metrics *pipeline.Metrics) *actions.Executor {
	cfg := a.cfg
	e := &actions.Executor{Logger: a.logger, Recorder: metrics}
	if cfg.Telegram.Token != "" {
		e.Notifier = actions.NewTelegramNotifier(actions.TelegramConfig{
			Token:         cfg.Telegram.Token,
			ChatID:        cfg.Telegram.ChatID,
			APIBase:       cfg.Telegram.APIBase,
			RatePerSecond: cfg.Telegram.RatePerSecond,
			Timeout:       cfg.Executor.ActionTimeout,
		})
	}
	if cfg.GitHub.Token != "" && cfg.GitHub.Repo != "" {
		e.Issues = actions.NewGitHubIssues(actions.GitHubConfig{
			Token:   cfg.GitHub.Token,
			Repo:    cfg.GitHub.Repo,
			APIBase: cfg.GitHub.APIBase,
			Timeout: cfg.Executor.ActionTimeout,
		})
	}
	limits := security.DefaultLimits()
	if cfg.Webhook.Timeout > 0 {
		limits.WebhookTimeout = cfg.Webhook.Timeout
	}
	if cfg.Webhook.MaxRedirects >= 0 {
		limits.MaxRedirects = cfg.Webhook.MaxRedirects
	}
	if cfg.Webhook.MaxPayloadBytes > 0 {
		limits.MaxPayloadBytes = cfg.Webhook.MaxPayloadBytes
	}
	allowlist := security.NewAllowlist(cfg.Webhook.AllowedHosts, cfg.Webhook.AllowedSuffixes)
	e.Webhooks = actions.NewGuardedWebhook(security.NewURLGuard(allowlist, nil, limits))
	return e
}

// Run serves HTTP and, when NATS is configured, consumes alerts until ctx
// ends or one of them fails.
func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.NATS.URL != "" {
		sub, err := bus.NewSubscriber(a.cfg.NATS.URL, a.logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		_, err = sub.SubscribeAlerts(a.cfg.NATS.IngestSubject, a.cfg.NATS.QueueGroup, func(al alert.Alert) {
			if _, err := a.pipeline.Process(gctx, al); err != nil {
				a.logger.WithError(err).Warn("alert from nats rejected")
			}
		})
		if err != nil {
			sub.Close()
			return fmt.Errorf("subscribe %s: %w", a.cfg.NATS.IngestSubject, err)
		}
		a.logger.WithField("subject", a.cfg.NATS.IngestSubject).Info("consuming alerts from nats")
		g.Go(func() error {
			<-gctx.Done()
			sub.Close()
			return nil
		})
	}

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(a.cfg.HTTP.Port),
		Handler:      a.router,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  30 * time.Second,
	}
	g.Go(func() error {
		a.logger.WithField("port", a.cfg.HTTP.Port).Info("alert-engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
