package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"predixaai-alert-engine/internal/config"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	dir := flag.String("dir", "migrations", "directory holding *.sql migrations")
	configPath := flag.String("config", "", "path to alert-engine.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (ALERTENGINE_DATABASE_URL) is required")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect")
	}
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		logger.WithError(err).Fatal("failed to list migrations")
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			logger.WithError(err).WithField("file", file).Fatal("failed to read migration")
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			logger.WithError(err).WithField("file", file).Fatal("failed to apply migration")
		}
		logger.WithField("file", file).Info("applied migration")
	}
}
