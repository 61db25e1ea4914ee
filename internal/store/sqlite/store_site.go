package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/netutil"
)

// LookupSite resolves a host to its site record. The host is normalized
// (lower-cased, port stripped) before lookup. Returns
// [domain.ErrSiteNotFound] when no record matches.
func (s *Store) LookupSite(ctx context.Context, host string) (domain.Site, error) {
	host = netutil.NormalizeHost(host)

	var row *sql.Row
	if s.lookupSiteStmt != nil {
		row = s.lookupSiteStmt.QueryRowContext(ctx, host)
	} else {
		row = s.db.QueryRowContext(ctx, lookupSiteQuery, host)
	}
	site, err := scanSite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Site{}, domain.ErrSiteNotFound
	}
	return site, err
}

// AddSite inserts a new site record. The domain must be unique.
func (s *Store) AddSite(ctx context.Context, site domain.Site) (domain.Site, error) {
	site.Domain = netutil.NormalizeHost(site.Domain)
	now := time.Now().UTC()
	site.CreatedAt = now
	site.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
INSERT INTO sites (domain, origin_url, enabled, cache_enabled, ssl_enabled, sitemap, sync_source, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		site.Domain, site.OriginURL, site.Enabled, site.CacheEnabled, site.SSLEnabled,
		site.Sitemap, nullableString(site.SyncSource), site.CreatedAt, site.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Site{}, domain.ErrSiteExists
		}
		return domain.Site{}, err
	}
	site.ID, err = res.LastInsertId()
	return site, err
}

// UpdateSite replaces the mutable fields of an existing site record.
func (s *Store) UpdateSite(ctx context.Context, site domain.Site) error {
	site.Domain = netutil.NormalizeHost(site.Domain)
	res, err := s.db.ExecContext(ctx, `
UPDATE sites
SET origin_url = ?, enabled = ?, cache_enabled = ?, ssl_enabled = ?, sitemap = ?, sync_source = ?, updated_at = ?
WHERE domain = ?`,
		site.OriginURL, site.Enabled, site.CacheEnabled, site.SSLEnabled,
		site.Sitemap, nullableString(site.SyncSource), time.Now().UTC(), site.Domain)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSiteNotFound
	}
	return nil
}

// DeleteSite removes a site record by domain.
func (s *Store) DeleteSite(ctx context.Context, host string) error {
	host = netutil.NormalizeHost(host)
	res, err := s.db.ExecContext(ctx, `DELETE FROM sites WHERE domain = ?`, host)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSiteNotFound
	}
	return nil
}

// ListSites returns all site records ordered by domain.
func (s *Store) ListSites(ctx context.Context) ([]domain.Site, error) {
	return s.listSitesWhere(ctx, "")
}

// ListEnabledSites returns all enabled sites.
func (s *Store) ListEnabledSites(ctx context.Context) ([]domain.Site, error) {
	return s.listSitesWhere(ctx, "WHERE enabled = 1")
}

// ListCacheableSites returns enabled sites with caching on, the set the
// warm-cache scheduler walks.
func (s *Store) ListCacheableSites(ctx context.Context) ([]domain.Site, error) {
	return s.listSitesWhere(ctx, "WHERE enabled = 1 AND cache_enabled = 1")
}

// ListSSLSites returns enabled sites with TLS requested, the set the
// certificate manager provisions.
func (s *Store) ListSSLSites(ctx context.Context) ([]domain.Site, error) {
	return s.listSitesWhere(ctx, "WHERE enabled = 1 AND ssl_enabled = 1")
}

func (s *Store) listSitesWhere(ctx context.Context, where string) ([]domain.Site, error) {
	query := `
SELECT id, domain, origin_url, enabled, cache_enabled, ssl_enabled, sitemap, sync_source, created_at, updated_at
FROM sites ` + where + ` ORDER BY domain`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []domain.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(r rowScanner) (domain.Site, error) {
	var site domain.Site
	var syncSource sql.NullString
	err := r.Scan(&site.ID, &site.Domain, &site.OriginURL, &site.Enabled,
		&site.CacheEnabled, &site.SSLEnabled, &site.Sitemap, &syncSource,
		&site.CreatedAt, &site.UpdatedAt)
	if err != nil {
		return domain.Site{}, err
	}
	if syncSource.Valid {
		site.SyncSource = syncSource.String
	}
	return site, nil
}

func nullableString(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
