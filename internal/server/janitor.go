package server

import (
	"context"
	"errors"
	"time"

	"github.com/sitefront/sitefront/internal/crawler"
	"github.com/sitefront/sitefront/internal/sitemap"
)

// runJanitor drives the periodic maintenance work: certificate expiry sweeps,
// memory cache sweeps and scheduled cache warming.
func (s *Server) runJanitor(ctx context.Context) {
	certTicker := time.NewTicker(s.cfg.CertSweepInterval)
	cacheTicker := time.NewTicker(s.cfg.CacheSweepInterval)
	warmTicker := time.NewTicker(s.cfg.WarmInterval)
	defer certTicker.Stop()
	defer cacheTicker.Stop()
	defer warmTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-certTicker.C:
			s.certs.Sweep(ctx, time.Now())
		case <-cacheTicker.C:
			s.cache.Sweep()
		case <-warmTicker.C:
			s.WarmAll(ctx)
		}
	}
}

// WarmAll crawls every enabled, cache-enabled site, regenerating sitemaps
// where configured.
func (s *Server) WarmAll(ctx context.Context) {
	sites, err := s.store.ListCacheableSites(ctx)
	if err != nil {
		s.log.Error("list cacheable sites", "error", err)
		return
	}
	for _, site := range sites {
		pages, err := s.crawler.Crawl(ctx, site)
		if err != nil {
			if errors.Is(err, crawler.ErrRunActive) {
				s.log.Debug("warm run already active", "site", site.Domain)
				continue
			}
			s.log.Error("warm run failed", "site", site.Domain, "error", err)
			continue
		}
		s.log.Info("warm run finished", "site", site.Domain, "pages", len(pages))

		if site.Sitemap && site.SyncSource != "" {
			path, err := sitemap.Write(site.SyncSource, pages, time.Now())
			if err != nil {
				s.log.Error("sitemap write failed", "site", site.Domain, "error", err)
				continue
			}
			s.log.Info("sitemap written", "site", site.Domain, "path", path)
		}
	}
}
