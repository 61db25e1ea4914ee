package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sitefront/sitefront/internal/config"
	ilog "github.com/sitefront/sitefront/internal/log"
	"github.com/sitefront/sitefront/internal/server"
	"github.com/sitefront/sitefront/internal/sitemap"
	"github.com/sitefront/sitefront/internal/store/sqlite"
)

// runWarm runs a one-shot cache warm: every cacheable site, or just the one
// named on the command line.
func runWarm(ctx context.Context, args []string) int {
	loadEnvFromDotEnv(".env")
	cfg, err := config.ParseServerFlags(nil)
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

	s, err := server.New(cfg, store, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warm error:", err)
		return 1
	}

	if len(args) == 0 {
		s.WarmAll(ctx)
		return 0
	}

	site, err := store.LookupSite(ctx, args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "warm error:", err)
		return 1
	}
	pages, err := s.Crawler().Crawl(ctx, site)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warm error:", err)
		return 1
	}
	fmt.Printf("warmed %s: %d pages\n", site.Domain, len(pages))

	if site.Sitemap && site.SyncSource != "" {
		path, err := sitemap.Write(site.SyncSource, pages, time.Now())
		if err != nil {
			fmt.Fprintln(os.Stderr, "sitemap error:", err)
			return 1
		}
		fmt.Println("sitemap written:", path)
	}
	return 0
}
