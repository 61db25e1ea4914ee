package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sitefront/sitefront/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSiteAddLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	site, err := store.AddSite(ctx, domain.Site{
		Domain:       "A.Example.COM",
		OriginURL:    "http://origin.internal:8080",
		Enabled:      true,
		CacheEnabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if site.ID == 0 {
		t.Fatal("expected ID to be assigned")
	}
	if site.Domain != "a.example.com" {
		t.Fatalf("expected normalized domain, got %s", site.Domain)
	}

	// Lookup normalizes the host, including port suffixes.
	got, err := store.LookupSite(ctx, "a.example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	if got.OriginURL != "http://origin.internal:8080" {
		t.Fatalf("unexpected origin %s", got.OriginURL)
	}
	if !got.CacheEnabled {
		t.Fatal("expected cache_enabled to round-trip")
	}

	if _, err := store.LookupSite(ctx, "missing.example.com"); !errors.Is(err, domain.ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound, got %v", err)
	}
}

func TestSiteDuplicateDomain(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.AddSite(ctx, domain.Site{Domain: "dup.example.com", OriginURL: "http://o1", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	_, err := store.AddSite(ctx, domain.Site{Domain: "dup.example.com", OriginURL: "http://o2", Enabled: true})
	if !errors.Is(err, domain.ErrSiteExists) {
		t.Fatalf("expected ErrSiteExists, got %v", err)
	}
}

func TestSiteUpdateAndFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seed := []domain.Site{
		{Domain: "on.example.com", OriginURL: "http://o", Enabled: true, CacheEnabled: true, SSLEnabled: true},
		{Domain: "nocache.example.com", OriginURL: "http://o", Enabled: true},
		{Domain: "off.example.com", OriginURL: "http://o", Enabled: false, CacheEnabled: true, SSLEnabled: true},
	}
	for _, site := range seed {
		if _, err := store.AddSite(ctx, site); err != nil {
			t.Fatal(err)
		}
	}

	cacheable, err := store.ListCacheableSites(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cacheable) != 1 || cacheable[0].Domain != "on.example.com" {
		t.Fatalf("unexpected cacheable set %v", cacheable)
	}

	ssl, err := store.ListSSLSites(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ssl) != 1 || ssl[0].Domain != "on.example.com" {
		t.Fatalf("unexpected ssl set %v", ssl)
	}

	site := cacheable[0]
	site.CacheEnabled = false
	if err := store.UpdateSite(ctx, site); err != nil {
		t.Fatal(err)
	}
	cacheable, err = store.ListCacheableSites(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cacheable) != 0 {
		t.Fatalf("expected empty cacheable set after update, got %v", cacheable)
	}

	if err := store.UpdateSite(ctx, domain.Site{Domain: "missing.example.com"}); !errors.Is(err, domain.ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound, got %v", err)
	}
}

func TestCertificateLifecycleRows(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	site, err := store.AddSite(ctx, domain.Site{Domain: "b.example.com", OriginURL: "http://o", Enabled: true, SSLEnabled: true})
	if err != nil {
		t.Fatal(err)
	}

	cert, err := store.CreateCertificate(ctx, domain.Certificate{
		SiteID:    site.ID,
		Domain:    site.Domain,
		Type:      domain.CertTypeAuto,
		Status:    domain.CertStatusPending,
		AutoRenew: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// PENDING rows never satisfy the active lookup.
	if _, err := store.ActiveCertificate(ctx, site.Domain); !errors.Is(err, domain.ErrCertNotFound) {
		t.Fatalf("expected ErrCertNotFound for pending cert, got %v", err)
	}

	expires := time.Now().Add(90 * 24 * time.Hour).UTC().Truncate(time.Second)
	if err := store.MarkCertificateActive(ctx, cert.ID, "/c/cert.pem", "/c/privkey.pem", "/c/chain.pem", expires); err != nil {
		t.Fatal(err)
	}

	active, err := store.ActiveCertificate(ctx, site.Domain)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != cert.ID || active.KeyFile != "/c/privkey.pem" {
		t.Fatalf("unexpected active cert %+v", active)
	}
	if !active.ExpiresAt.Equal(expires) {
		t.Fatalf("expected expiry %v, got %v", expires, active.ExpiresAt)
	}

	if err := store.UpdateCertificateStatus(ctx, cert.ID, domain.CertStatusExpired); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ActiveCertificate(ctx, site.Domain); !errors.Is(err, domain.ErrCertNotFound) {
		t.Fatalf("expected no active cert after expiry, got %v", err)
	}

	latest, err := store.LatestCertificate(ctx, site.Domain)
	if err != nil {
		t.Fatal(err)
	}
	if latest.Status != domain.CertStatusExpired {
		t.Fatalf("expected latest status EXPIRED, got %s", latest.Status)
	}

	expired, err := store.ListCertificatesByStatus(ctx, domain.CertStatusExpired)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected one expired row, got %d", len(expired))
	}
}

func TestActiveCertificatePrefersNewest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, age := range []time.Duration{48 * time.Hour, time.Hour} {
		cert, err := store.CreateCertificate(ctx, domain.Certificate{
			SiteID:    1,
			Domain:    "c.example.com",
			Type:      domain.CertTypeAuto,
			Status:    domain.CertStatusPending,
			CreatedAt: time.Now().Add(-age).UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
		if err := store.MarkCertificateActive(ctx, cert.ID, "/c/cert.pem", "/c/key.pem", "", time.Now().Add(time.Duration(i+1)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	active, err := store.ActiveCertificate(ctx, "c.example.com")
	if err != nil {
		t.Fatal(err)
	}
	// Newest row wins when two records are ACTIVE (renewal race).
	if time.Since(active.CreatedAt) > 2*time.Hour {
		t.Fatalf("expected newest active row, got created_at %v", active.CreatedAt)
	}
}
