package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitefront/sitefront/internal/config"
	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/store/sqlite"
)

func newTestServer(t *testing.T) (*Server, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	cfg := config.ServerConfig{
		ListenHTTP:         "127.0.0.1:0",
		ListenHTTPS:        "127.0.0.1:0",
		CacheDir:           filepath.Join(dir, "cache"),
		CertDir:            filepath.Join(dir, "certs"),
		CacheTTL:           time.Minute,
		CacheSweepInterval: time.Minute,
		CertSweepInterval:  time.Minute,
		WarmInterval:       time.Minute,
	}
	srv, err := New(cfg, st, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(srv.pool.Close)
	return srv, st
}

func TestHTTPRedirectsSSLSites(t *testing.T) {
	t.Parallel()

	srv, st := newTestServer(t)
	if _, err := st.AddSite(context.Background(), domain.Site{
		Domain: "secure.example.com", OriginURL: "http://127.0.0.1:1",
		Enabled: true, SSLEnabled: true,
	}); err != nil {
		t.Fatalf("add site: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/path?q=1", nil)
	r.Host = "secure.example.com"
	w := httptest.NewRecorder()
	srv.serveHTTP(w, r)

	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://secure.example.com/path?q=1" {
		t.Fatalf("location = %q", loc)
	}
}

func TestHTTPProxiesPlainSites(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "plain site")
	}))
	defer origin.Close()

	srv, st := newTestServer(t)
	if _, err := st.AddSite(context.Background(), domain.Site{
		Domain: "plain.example.com", OriginURL: origin.URL, Enabled: true,
	}); err != nil {
		t.Fatalf("add site: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "plain.example.com"
	w := httptest.NewRecorder()
	srv.serveHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "plain site" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestInProcessFetcher(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "warmed")
	})
	f := &inProcessFetcher{handler: handler}
	site := domain.Site{Domain: "warm.example.com"}

	body, err := f.Fetch(context.Background(), site, "/")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "warmed" {
		t.Fatalf("body = %q", body)
	}

	if _, err := f.Fetch(context.Background(), site, "/missing"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestWarmAllWritesSitemap(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><a href="/about/">about</a></html>`)
	}))
	defer origin.Close()

	srv, st := newTestServer(t)
	syncDir := t.TempDir()
	if _, err := st.AddSite(context.Background(), domain.Site{
		Domain: "map.example.com", OriginURL: origin.URL,
		Enabled: true, CacheEnabled: true, Sitemap: true, SyncSource: syncDir,
	}); err != nil {
		t.Fatalf("add site: %v", err)
	}

	srv.WarmAll(context.Background())

	raw, err := os.ReadFile(filepath.Join(syncDir, "sitemaps", "sitemap.xml"))
	if err != nil {
		t.Fatalf("sitemap not written: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("sitemap is empty")
	}
}
