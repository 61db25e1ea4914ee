package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/sitefront/sitefront/internal/config"
	"github.com/sitefront/sitefront/internal/debughttp"
	ilog "github.com/sitefront/sitefront/internal/log"
	"github.com/sitefront/sitefront/internal/server"
	"github.com/sitefront/sitefront/internal/store/sqlite"
)

func runServe(ctx context.Context, args []string) int {
	loadEnvFromDotEnv(".env")

	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := debughttp.StartPprofServer(ctx, cfg.PprofAddr, logger); err != nil {
		fmt.Fprintln(os.Stderr, "pprof error:", err)
		return 1
	}

	s, err := server.New(cfg, store, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	if err := s.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		return 1
	}
	return 0
}
