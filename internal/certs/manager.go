package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/store/sqlite"
	"github.com/sitefront/sitefront/internal/tlsstore"
)

// Status is the CA-side state of an authorization or order.
type Status string

const (
	StatusPending Status = "pending"
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusReady   Status = "ready"
)

// Challenge is one HTTP-01 challenge to publish before validation.
type Challenge struct {
	Token   string
	KeyAuth string

	impl any
}

// Order tracks a single in-flight certificate order.
type Order struct {
	Domain     string
	Challenges []Challenge

	handle any
}

// issuer abstracts the CA interactions the manager drives. The production
// implementation speaks ACME; tests substitute a scripted fake.
type issuer interface {
	BeginOrder(ctx context.Context, domain string) (*Order, error)
	Trigger(ctx context.Context, ch Challenge) error
	AuthorizationStatus(ctx context.Context, ch Challenge) (Status, error)
	OrderStatus(ctx context.Context, o *Order) (Status, error)
	Finalize(ctx context.Context, o *Order, csrDER []byte) (der [][]byte, err error)
}

const storageWriteAttempts = 3

// Options configures a Manager.
type Options struct {
	CertDir       string
	Attempts      int
	Interval      time.Duration
	RenewalWindow time.Duration
}

// Manager owns the certificate lifecycle: it orders certificates through the
// configured issuer, persists the issued material, records state transitions
// in the store and installs fresh bindings into the TLS store.
type Manager struct {
	log        *slog.Logger
	store      *sqlite.Store
	tls        *tlsstore.Store
	challenges *Challenges
	issuer     issuer

	certDir       string
	attempts      int
	interval      time.Duration
	renewalWindow time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(log *slog.Logger, st *sqlite.Store, ts *tlsstore.Store, ch *Challenges, is issuer, opts Options) *Manager {
	if opts.Attempts <= 0 {
		opts.Attempts = 20
	}
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.RenewalWindow <= 0 {
		opts.RenewalWindow = 30 * 24 * time.Hour
	}
	return &Manager{
		log:           log,
		store:         st,
		tls:           ts,
		challenges:    ch,
		issuer:        is,
		certDir:       opts.CertDir,
		attempts:      opts.Attempts,
		interval:      opts.Interval,
		renewalWindow: opts.RenewalWindow,
		locks:         map[string]*sync.Mutex{},
	}
}

// domainLock returns the mutex serializing issuance for one domain.
func (m *Manager) domainLock(domain string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		m.locks[domain] = l
	}
	return l
}

// Issue obtains a certificate for the site's domain. It is a no-op when an
// ACTIVE certificate exists that is neither expired nor inside the renewal
// window. At most one issuance runs per domain at a time.
func (m *Manager) Issue(ctx context.Context, site domain.Site) (domain.Certificate, error) {
	lock := m.domainLock(site.Domain)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	if cur, err := m.store.ActiveCertificate(ctx, site.Domain); err == nil {
		if !cur.Expired(now) && !cur.WithinRenewalWindow(now, m.renewalWindow) {
			return cur, nil
		}
	} else if !errors.Is(err, domain.ErrCertNotFound) {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "lookup", Err: err}
	}

	cert, err := m.store.CreateCertificate(ctx, domain.Certificate{
		SiteID:    site.ID,
		Domain:    site.Domain,
		Type:      domain.CertTypeAuto,
		Status:    domain.CertStatusPending,
		AutoRenew: true,
	})
	if err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "create", Err: err}
	}

	issued, issueErr := m.order(ctx, site.Domain)
	m.challenges.ClearDomain(site.Domain)
	if issueErr != nil {
		// Storage failures leave the record PENDING so the write can be
		// retried; every other failure is terminal for this record.
		if !errors.Is(issueErr, ErrStorageFailure) {
			if err := m.store.UpdateCertificateStatus(ctx, cert.ID, domain.CertStatusFailed); err != nil {
				m.log.Error("mark certificate failed", "domain", site.Domain, "error", err)
			}
		}
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "issue", Err: issueErr}
	}

	if err := m.store.MarkCertificateActive(ctx, cert.ID, issued.certFile, issued.keyFile, issued.chainFile, issued.expiresAt); err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "activate", Err: err}
	}
	if err := m.tls.Install(site.Domain, issued.certPEM, issued.keyPEM, issued.chainPEM); err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "install", Err: err}
	}

	m.log.Info("certificate issued", "domain", site.Domain, "expires", issued.expiresAt)
	return m.store.ActiveCertificate(ctx, site.Domain)
}

type issued struct {
	certFile, keyFile, chainFile string
	certPEM, keyPEM, chainPEM    []byte
	expiresAt                    time.Time
}

func (m *Manager) order(ctx context.Context, fqdn string) (*issued, error) {
	o, err := m.issuer.BeginOrder(ctx, fqdn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDomainUnreachable, err)
	}

	for _, ch := range o.Challenges {
		m.challenges.Put(fqdn, ch.Token, ch.KeyAuth)
	}
	for _, ch := range o.Challenges {
		if err := m.issuer.Trigger(ctx, ch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDomainUnreachable, err)
		}
	}
	for _, ch := range o.Challenges {
		st, err := m.poll(ctx, func(ctx context.Context) (Status, error) {
			return m.issuer.AuthorizationStatus(ctx, ch)
		})
		if err != nil {
			return nil, err
		}
		if st == StatusInvalid {
			return nil, ErrChallengeValidationFailed
		}
	}

	st, err := m.poll(ctx, func(ctx context.Context) (Status, error) {
		return m.issuer.OrderStatus(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	if st == StatusInvalid {
		return nil, ErrIssuanceRejected
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIssuanceRejected, err)
	}
	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: fqdn},
		DNSNames: []string{fqdn},
	}, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIssuanceRejected, err)
	}

	der, err := m.issuer.Finalize(ctx, o, csrDER)
	if err != nil || len(der) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrIssuanceRejected, err)
	}

	leaf, err := x509.ParseCertificate(der[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIssuanceRejected, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der[0]})
	var chainPEM []byte
	for _, b := range der[1:] {
		chainPEM = append(chainPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b})...)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIssuanceRejected, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	out := &issued{
		certPEM:   certPEM,
		keyPEM:    keyPEM,
		chainPEM:  chainPEM,
		expiresAt: leaf.NotAfter,
	}
	if err := m.writeMaterial(fqdn, out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return out, nil
}

// poll repeatedly fetches a status until it turns terminal or the attempt
// budget runs out.
func (m *Manager) poll(ctx context.Context, fetch func(context.Context) (Status, error)) (Status, error) {
	for attempt := 0; attempt < m.attempts; attempt++ {
		st, err := fetch(ctx)
		if err != nil {
			return st, fmt.Errorf("%w: %w", ErrDomainUnreachable, err)
		}
		switch st {
		case StatusValid, StatusReady, StatusInvalid:
			return st, nil
		}
		select {
		case <-ctx.Done():
			return StatusPending, fmt.Errorf("%w: %w", ErrChallengeTimeout, ctx.Err())
		case <-time.After(m.interval):
		}
	}
	return StatusPending, ErrChallengeTimeout
}

func (m *Manager) writeMaterial(fqdn string, out *issued) error {
	dir := filepath.Join(m.certDir, fqdn)
	var lastErr error
	for attempt := 0; attempt < storageWriteAttempts; attempt++ {
		if lastErr = m.writeOnce(dir, out); lastErr == nil {
			out.certFile = filepath.Join(dir, tlsstore.CertFileName)
			out.keyFile = filepath.Join(dir, tlsstore.KeyFileName)
			out.chainFile = filepath.Join(dir, tlsstore.ChainFileName)
			return nil
		}
		m.log.Warn("certificate write failed", "domain", fqdn, "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

func (m *Manager) writeOnce(dir string, out *issued) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, tlsstore.KeyFileName), out.keyPEM, 0o600); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, tlsstore.CertFileName), out.certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, tlsstore.ChainFileName), out.chainPEM, 0o644)
}

// InstallManual records operator-supplied certificate material for a site and
// installs it into the TLS store. The live binding is touched last: a disk or
// store failure leaves the previous binding in force with no orphan record.
func (m *Manager) InstallManual(ctx context.Context, site domain.Site, certPEM, keyPEM, chainPEM []byte) (domain.Certificate, error) {
	lock := m.domainLock(site.Domain)
	lock.Lock()
	defer lock.Unlock()

	parsed, err := tlsstore.ParseMaterial(certPEM, keyPEM, chainPEM)
	if err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "validate", Err: err}
	}
	if parsed.Leaf == nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "validate", Err: domain.ErrInvalidMaterial}
	}

	out := &issued{certPEM: certPEM, keyPEM: keyPEM, chainPEM: chainPEM, expiresAt: parsed.Leaf.NotAfter}
	if err := m.writeMaterial(site.Domain, out); err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "store", Err: fmt.Errorf("%w: %w", ErrStorageFailure, err)}
	}

	cert, err := m.store.CreateCertificate(ctx, domain.Certificate{
		SiteID: site.ID,
		Domain: site.Domain,
		Type:   domain.CertTypeManual,
		Status: domain.CertStatusPending,
	})
	if err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "create", Err: err}
	}
	if err := m.store.MarkCertificateActive(ctx, cert.ID, out.certFile, out.keyFile, out.chainFile, out.expiresAt); err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "activate", Err: err}
	}
	if err := m.tls.Install(site.Domain, certPEM, keyPEM, chainPEM); err != nil {
		return domain.Certificate{}, &domain.CertError{Domain: site.Domain, Op: "install", Err: err}
	}
	return m.store.ActiveCertificate(ctx, site.Domain)
}

// Sweep marks expired ACTIVE certificates EXPIRED and re-issues certificates
// that are expired or inside the renewal window, when auto-renew is on.
// It returns the domains for which renewal was attempted.
func (m *Manager) Sweep(ctx context.Context, now time.Time) []string {
	active, err := m.store.ListCertificatesByStatus(ctx, domain.CertStatusActive)
	if err != nil {
		m.log.Error("list active certificates", "error", err)
		return nil
	}

	var renew []string
	for _, cert := range active {
		if cert.Expired(now) {
			if err := m.store.UpdateCertificateStatus(ctx, cert.ID, domain.CertStatusExpired); err != nil {
				m.log.Error("mark certificate expired", "domain", cert.Domain, "error", err)
				continue
			}
			m.log.Info("certificate expired", "domain", cert.Domain)
		}
		if cert.AutoRenew && (cert.Expired(now) || cert.WithinRenewalWindow(now, m.renewalWindow)) {
			renew = append(renew, cert.Domain)
		}
	}

	for _, fqdn := range renew {
		site, err := m.store.LookupSite(ctx, fqdn)
		if err != nil {
			m.log.Warn("renewal skipped, site missing", "domain", fqdn, "error", err)
			continue
		}
		if _, err := m.Issue(ctx, site); err != nil {
			m.log.Error("certificate renewal failed", "domain", fqdn, "error", err)
		}
	}
	return renew
}
