package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	stdlog "log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sitefront/sitefront/internal/cache"
	"github.com/sitefront/sitefront/internal/certs"
	"github.com/sitefront/sitefront/internal/config"
	"github.com/sitefront/sitefront/internal/crawler"
	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/netutil"
	"github.com/sitefront/sitefront/internal/proxy"
	"github.com/sitefront/sitefront/internal/store/sqlite"
	"github.com/sitefront/sitefront/internal/tlsstore"
	"github.com/sitefront/sitefront/internal/waf"
)

// Server wires the store, cache, certificate manager, TLS store and crawler
// into the two front listeners.
type Server struct {
	cfg     config.ServerConfig
	store   *sqlite.Store
	log     *slog.Logger
	cache   *cache.Cache
	tls     *tlsstore.Store
	certs   *certs.Manager
	handler *proxy.Handler
	crawler *crawler.Crawler
	pool    *crawler.Pool
}

func New(cfg config.ServerConfig, store *sqlite.Store, logger *slog.Logger) (*Server, error) {
	contentCache, err := cache.New(cfg.CacheDir, cfg.CacheTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("content cache: %w", err)
	}

	tlsStore := tlsstore.New(logger)
	challenges := certs.NewChallenges()
	issuer := certs.NewACMEIssuer(cfg.ACMEDirectoryURL, cfg.ACMEEmail, cfg.CertDir)
	certManager := certs.NewManager(logger, store, tlsStore, challenges, issuer, certs.Options{
		CertDir:       cfg.CertDir,
		Attempts:      cfg.ChallengeAttempts,
		Interval:      cfg.ChallengeInterval,
		RenewalWindow: cfg.RenewalWindow,
	})

	handler := proxy.NewHandler(logger, store, contentCache, challenges, proxy.Options{
		ConnectTimeout: cfg.OriginConnectTimeout,
		ReadTimeout:    cfg.OriginReadTimeout,
	})

	pool := crawler.NewPool(cfg.CrawlWorkers, cfg.CrawlQueueSize)
	warmCrawler := crawler.New(logger, &inProcessFetcher{handler: handler}, pool, cfg.CrawlDepth)

	return &Server{
		cfg:     cfg,
		store:   store,
		log:     logger,
		cache:   contentCache,
		tls:     tlsStore,
		certs:   certManager,
		handler: handler,
		crawler: warmCrawler,
		pool:    pool,
	}, nil
}

// Certs exposes the certificate manager for CLI verbs.
func (s *Server) Certs() *certs.Manager { return s.certs }

// Crawler exposes the cache-warming crawler for CLI verbs.
func (s *Server) Crawler() *crawler.Crawler { return s.crawler }

func (s *Server) Run(ctx context.Context) error {
	defaultCert, err := tlsstore.LoadDefaultIdentity(s.cfg.CertDir)
	if err != nil {
		return fmt.Errorf("default TLS identity: %w", err)
	}
	s.tls.SetDefault(defaultCert)
	if n := s.tls.Rebuild(s.cfg.CertDir); n > 0 {
		s.log.Info("TLS bindings restored from disk", "count", n)
	}

	go s.issueMissing(ctx)
	go s.runJanitor(ctx)

	firewall := waf.NewMiddleware(waf.Config{
		Enabled:      s.cfg.WAFEnabled,
		AuditOnly:    s.cfg.WAFAuditOnly,
		ExemptPrefix: proxy.ChallengePathPrefix,
	}, s.log)

	httpServer := &http.Server{
		Addr:              s.cfg.ListenHTTP,
		Handler:           firewall(http.HandlerFunc(s.serveHTTP)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpsServer := &http.Server{
		Addr:    s.cfg.ListenHTTPS,
		Handler: firewall(s.handler),
		TLSConfig: &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: s.tls.GetCertificate,
		},
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          stdlog.New(newTLSErrorLogWriter(s.log), "", 0),
	}

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("starting HTTP server", "addr", s.cfg.ListenHTTP)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		s.log.Info("starting HTTPS server", "addr", s.cfg.ListenHTTPS)
		if err := httpsServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("https server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		var firstErr error
		if err := shutdownServer(httpsServer, 5*time.Second); err != nil {
			firstErr = err
		}
		if err := shutdownServer(httpServer, 5*time.Second); err != nil && firstErr == nil {
			firstErr = err
		}
		s.pool.Close()
		return firstErr
	case err := <-errCh:
		_ = shutdownServer(httpsServer, 5*time.Second)
		_ = shutdownServer(httpServer, 5*time.Second)
		s.pool.Close()
		return err
	}
}

// serveHTTP handles the plain listener: ACME challenges are always answered
// here, SSL-enabled sites get redirected to HTTPS, everything else is
// proxied directly.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, proxy.ChallengePathPrefix) {
		s.handler.ServeHTTP(w, r)
		return
	}

	host := netutil.NormalizeHost(r.Host)
	site, err := s.store.LookupSite(r.Context(), host)
	if err == nil && site.SSLEnabled {
		target := "https://" + host + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}
	s.handler.ServeHTTP(w, r)
}

// issueMissing queues certificate issuance for SSL-enabled sites that have
// no usable ACTIVE certificate yet.
func (s *Server) issueMissing(ctx context.Context) {
	sites, err := s.store.ListSSLSites(ctx)
	if err != nil {
		s.log.Error("list ssl sites", "error", err)
		return
	}
	now := time.Now()
	for _, site := range sites {
		cert, err := s.store.ActiveCertificate(ctx, site.Domain)
		if err == nil && !cert.Expired(now) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrCertNotFound) {
			s.log.Error("active certificate lookup", "domain", site.Domain, "error", err)
			continue
		}
		if _, err := s.certs.Issue(ctx, site); err != nil {
			s.log.Error("startup issuance failed", "domain", site.Domain, "error", err)
		}
	}
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
