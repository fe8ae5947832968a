package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"

	"github.com/orbit-erp/orbit/internal/app"
	"github.com/orbit-erp/orbit/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping migrations")
		return
	}

	envFiles := flag.String("env-file", "", "comma separated dotenv files (default .env)")
	steps := flag.Int("steps", 0, "apply n migrations up (n > 0) or down (n < 0) instead of all pending")
	flag.Parse()

	var files []string
	if *envFiles != "" {
		files = strings.Split(*envFiles, ",")
	}
	cfg, err := app.LoadConfig(files...)
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	m, err := migrations.New(cfg.PGDSN)
	if err != nil {
		logger.Error("open migrations", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err := errors.Join(srcErr, dbErr); err != nil {
			logger.Warn("close migrations", slog.Any("error", err))
		}
	}()

	if *steps != 0 {
		err = migrations.Steps(m, *steps)
	} else {
		err = migrations.Up(m)
	}
	if err != nil {
		logger.Error("apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Error("read version", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrations applied", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
}
