// Package domain defines the core data types shared across the sitefront
// server, store, proxy, and certificate layers.
package domain

import "time"

// Certificate status constants track the lifecycle of an issuance attempt.
// PENDING is set when the attempt is registered; ACTIVE only after both key
// and certificate material were written to disk; FAILED and EXPIRED are
// terminal for the record.
const (
	CertStatusPending = "PENDING"
	CertStatusActive  = "ACTIVE"
	CertStatusFailed  = "FAILED"
	CertStatusExpired = "EXPIRED"
)

// Certificate type constants distinguish ACME-issued from uploaded material.
const (
	CertTypeAuto   = "AUTO"
	CertTypeManual = "MANUAL"
)

// Site is one backend website this proxy fronts. The serving path treats a
// Site as a read-only point-in-time snapshot; records are edited only
// through the store.
type Site struct {
	ID           int64
	Domain       string // public hostname, unique
	OriginURL    string // backend base URL, e.g. http://origin.internal:8080
	Enabled      bool
	CacheEnabled bool
	SSLEnabled   bool
	Sitemap      bool
	SyncSource   string // local directory for generated artifacts, optional
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Certificate is one issuance record for a domain. Exactly one record may be
// ACTIVE per domain at a time; renewal creates a fresh record rather than
// mutating a terminal one.
type Certificate struct {
	ID        int64
	SiteID    int64
	Domain    string
	Type      string
	Status    string
	CertFile  string
	KeyFile   string
	ChainFile string
	AutoRenew bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the certificate's validity window has passed.
func (c Certificate) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// WithinRenewalWindow reports whether the certificate is close enough to
// expiry that a renewal should be attempted.
func (c Certificate) WithinRenewalWindow(now time.Time, window time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt.Add(-window))
}
