package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/netutil"
)

const certColumns = `id, site_id, domain, cert_type, status, cert_file, key_file, chain_file, auto_renew, created_at, expires_at`

// CreateCertificate inserts a new certificate row, normally in PENDING state.
func (s *Store) CreateCertificate(ctx context.Context, cert domain.Certificate) (domain.Certificate, error) {
	cert.Domain = netutil.NormalizeHost(cert.Domain)
	if cert.CreatedAt.IsZero() {
		cert.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO certificates (site_id, domain, cert_type, status, cert_file, key_file, chain_file, auto_renew, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cert.SiteID, cert.Domain, cert.Type, cert.Status,
		nullableString(cert.CertFile), nullableString(cert.KeyFile), nullableString(cert.ChainFile),
		cert.AutoRenew, cert.CreatedAt, nullableTime(cert.ExpiresAt))
	if err != nil {
		return domain.Certificate{}, err
	}
	cert.ID, err = res.LastInsertId()
	return cert, err
}

// MarkCertificateActive records successful issuance: file paths, expiry, and
// the ACTIVE status in one statement.
func (s *Store) MarkCertificateActive(ctx context.Context, id int64, certFile, keyFile, chainFile string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE certificates
SET status = ?, cert_file = ?, key_file = ?, chain_file = ?, expires_at = ?
WHERE id = ?`,
		domain.CertStatusActive, certFile, keyFile, nullableString(chainFile), expiresAt.UTC(), id)
	return err
}

// UpdateCertificateStatus sets the status of one certificate row.
func (s *Store) UpdateCertificateStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE certificates SET status = ? WHERE id = ?`, status, id)
	return err
}

// ActiveCertificate returns the ACTIVE certificate for a domain, or
// [domain.ErrCertNotFound] when none exists.
func (s *Store) ActiveCertificate(ctx context.Context, host string) (domain.Certificate, error) {
	host = netutil.NormalizeHost(host)
	row := s.db.QueryRowContext(ctx, `
SELECT `+certColumns+`
FROM certificates
WHERE domain = ? AND status = ?
ORDER BY created_at DESC, id DESC
LIMIT 1`, host, domain.CertStatusActive)

	cert, err := scanCertificate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Certificate{}, domain.ErrCertNotFound
	}
	return cert, err
}

// LatestCertificate returns the most recent certificate row for a domain
// regardless of status, for status reporting.
func (s *Store) LatestCertificate(ctx context.Context, host string) (domain.Certificate, error) {
	host = netutil.NormalizeHost(host)
	row := s.db.QueryRowContext(ctx, `
SELECT `+certColumns+`
FROM certificates
WHERE domain = ?
ORDER BY created_at DESC, id DESC
LIMIT 1`, host)

	cert, err := scanCertificate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Certificate{}, domain.ErrCertNotFound
	}
	return cert, err
}

// ListCertificatesByStatus returns all certificate rows in the given status.
func (s *Store) ListCertificatesByStatus(ctx context.Context, status string) ([]domain.Certificate, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+certColumns+`
FROM certificates
WHERE status = ?
ORDER BY domain, created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var certs []domain.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

func scanCertificate(r rowScanner) (domain.Certificate, error) {
	var cert domain.Certificate
	var certFile, keyFile, chainFile sql.NullString
	var expiresAt sql.NullTime
	err := r.Scan(&cert.ID, &cert.SiteID, &cert.Domain, &cert.Type, &cert.Status,
		&certFile, &keyFile, &chainFile, &cert.AutoRenew, &cert.CreatedAt, &expiresAt)
	if err != nil {
		return domain.Certificate{}, err
	}
	if certFile.Valid {
		cert.CertFile = certFile.String
	}
	if keyFile.Valid {
		cert.KeyFile = keyFile.String
	}
	if chainFile.Valid {
		cert.ChainFile = chainFile.String
	}
	if expiresAt.Valid {
		cert.ExpiresAt = expiresAt.Time
	}
	return cert, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
