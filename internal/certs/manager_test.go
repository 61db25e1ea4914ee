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
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/store/sqlite"
	"github.com/sitefront/sitefront/internal/tlsstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeIssuer scripts the CA side of an issuance run.
type fakeIssuer struct {
	token   string
	keyAuth string

	authzStatuses []Status
	authzCalls    int
	orderStatus   Status
	finalizeErr   error
	notAfter      time.Time

	// observed lets tests assert the token was published before validation.
	observed  *Challenges
	published bool

	beginCalls    int
	finalizeCalls int
}

func (f *fakeIssuer) BeginOrder(ctx context.Context, fqdn string) (*Order, error) {
	f.beginCalls++
	return &Order{
		Domain:     fqdn,
		Challenges: []Challenge{{Token: f.token, KeyAuth: f.keyAuth}},
	}, nil
}

func (f *fakeIssuer) Trigger(ctx context.Context, ch Challenge) error {
	if f.observed != nil {
		_, f.published = f.observed.Respond(ch.Token)
	}
	return nil
}

func (f *fakeIssuer) AuthorizationStatus(ctx context.Context, ch Challenge) (Status, error) {
	if f.authzCalls < len(f.authzStatuses) {
		st := f.authzStatuses[f.authzCalls]
		f.authzCalls++
		return st, nil
	}
	f.authzCalls++
	return StatusPending, nil
}

func (f *fakeIssuer) OrderStatus(ctx context.Context, o *Order) (Status, error) {
	if f.orderStatus == "" {
		return StatusReady, nil
	}
	return f.orderStatus, nil
}

func (f *fakeIssuer) Finalize(ctx context.Context, o *Order, csrDER []byte) ([][]byte, error) {
	f.finalizeCalls++
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, err
	}
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	notAfter := f.notAfter
	if notAfter.IsZero() {
		notAfter = time.Now().Add(90 * 24 * time.Hour)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: o.Domain},
		DNSNames:     []string{o.Domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, csr.PublicKey, caKey)
	if err != nil {
		return nil, err
	}
	return [][]byte{der}, nil
}

func newTestManager(t *testing.T, is issuer) (*Manager, *sqlite.Store, *tlsstore.Store, *Challenges, string) {
	t.Helper()
	st, err := sqlite.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ts := tlsstore.New(testLogger())
	ch := NewChallenges()
	certDir := t.TempDir()
	m := NewManager(testLogger(), st, ts, ch, is, Options{
		CertDir:       certDir,
		Attempts:      3,
		Interval:      time.Millisecond,
		RenewalWindow: 30 * 24 * time.Hour,
	})
	return m, st, ts, ch, certDir
}

func addTestSite(t *testing.T, st *sqlite.Store, fqdn string, ssl bool) domain.Site {
	t.Helper()
	site, err := st.AddSite(context.Background(), domain.Site{
		Domain:     fqdn,
		OriginURL:  "http://origin.internal:8080",
		Enabled:    true,
		SSLEnabled: ssl,
	})
	if err != nil {
		t.Fatalf("add site: %v", err)
	}
	return site
}

func TestIssueSuccess(t *testing.T) {
	t.Parallel()

	is := &fakeIssuer{token: "tok-1", keyAuth: "tok-1.auth", authzStatuses: []Status{StatusValid}}
	m, st, ts, ch, certDir := newTestManager(t, is)
	is.observed = ch

	site := addTestSite(t, st, "issue-a.example.com", true)
	cert, err := m.Issue(context.Background(), site)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if cert.Status != domain.CertStatusActive {
		t.Fatalf("status = %q, want ACTIVE", cert.Status)
	}
	if cert.ExpiresAt.Before(time.Now()) {
		t.Fatalf("expiry %v in the past", cert.ExpiresAt)
	}
	if !is.published {
		t.Fatal("challenge token was not published before validation was triggered")
	}
	if _, ok := ch.Respond("tok-1"); ok {
		t.Fatal("challenge token not cleared after issuance")
	}
	if _, ok := ts.Resolve(site.Domain); !ok {
		t.Fatal("certificate not installed into TLS store")
	}
	for _, name := range []string{tlsstore.CertFileName, tlsstore.KeyFileName, tlsstore.ChainFileName} {
		if _, err := os.Stat(filepath.Join(certDir, site.Domain, name)); err != nil {
			t.Fatalf("missing material file %s: %v", name, err)
		}
	}
}

func TestIssueNoopWhenActive(t *testing.T) {
	t.Parallel()

	is := &fakeIssuer{token: "tok-2", keyAuth: "tok-2.auth", authzStatuses: []Status{StatusValid}}
	m, st, _, _, _ := newTestManager(t, is)

	site := addTestSite(t, st, "issue-b.example.com", true)
	if _, err := m.Issue(context.Background(), site); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	if _, err := m.Issue(context.Background(), site); err != nil {
		t.Fatalf("second issue: %v", err)
	}
	if is.beginCalls != 1 {
		t.Fatalf("begin calls = %d, want 1 (second issue should be a no-op)", is.beginCalls)
	}
}

func TestIssueChallengeInvalid(t *testing.T) {
	t.Parallel()

	is := &fakeIssuer{token: "tok-3", keyAuth: "tok-3.auth", authzStatuses: []Status{StatusPending, StatusInvalid}}
	m, st, _, ch, _ := newTestManager(t, is)

	site := addTestSite(t, st, "issue-c.example.com", true)
	_, err := m.Issue(context.Background(), site)
	if !errors.Is(err, ErrChallengeValidationFailed) {
		t.Fatalf("err = %v, want ErrChallengeValidationFailed", err)
	}
	var certErr *domain.CertError
	if !errors.As(err, &certErr) || certErr.Domain != site.Domain {
		t.Fatalf("err = %v, want CertError for %s", err, site.Domain)
	}
	if _, ok := ch.Respond("tok-3"); ok {
		t.Fatal("challenge token not cleared after failure")
	}

	latest, err := st.LatestCertificate(context.Background(), site.Domain)
	if err != nil {
		t.Fatalf("latest certificate: %v", err)
	}
	if latest.Status != domain.CertStatusFailed {
		t.Fatalf("status = %q, want FAILED", latest.Status)
	}
}

func TestIssueChallengeTimeout(t *testing.T) {
	t.Parallel()

	is := &fakeIssuer{token: "tok-4", keyAuth: "tok-4.auth"}
	m, st, _, _, _ := newTestManager(t, is)

	site := addTestSite(t, st, "issue-d.example.com", true)
	_, err := m.Issue(context.Background(), site)
	if !errors.Is(err, ErrChallengeTimeout) {
		t.Fatalf("err = %v, want ErrChallengeTimeout", err)
	}

	latest, err := st.LatestCertificate(context.Background(), site.Domain)
	if err != nil {
		t.Fatalf("latest certificate: %v", err)
	}
	if latest.Status != domain.CertStatusFailed {
		t.Fatalf("status = %q, want FAILED", latest.Status)
	}
}

func TestIssueFinalizeRejected(t *testing.T) {
	t.Parallel()

	is := &fakeIssuer{
		token:         "tok-5",
		keyAuth:       "tok-5.auth",
		authzStatuses: []Status{StatusValid},
		finalizeErr:   errors.New("CA said no"),
	}
	m, st, _, _, _ := newTestManager(t, is)

	site := addTestSite(t, st, "issue-e.example.com", true)
	_, err := m.Issue(context.Background(), site)
	if !errors.Is(err, ErrIssuanceRejected) {
		t.Fatalf("err = %v, want ErrIssuanceRejected", err)
	}
}

func TestIssueOrderInvalid(t *testing.T) {
	t.Parallel()

	is := &fakeIssuer{
		token:         "tok-7",
		keyAuth:       "tok-7.auth",
		authzStatuses: []Status{StatusValid},
		orderStatus:   StatusInvalid,
	}
	m, st, _, _, _ := newTestManager(t, is)

	site := addTestSite(t, st, "issue-f.example.com", true)
	_, err := m.Issue(context.Background(), site)
	if !errors.Is(err, ErrIssuanceRejected) {
		t.Fatalf("err = %v, want ErrIssuanceRejected", err)
	}
	if is.finalizeCalls != 0 {
		t.Fatalf("finalize calls = %d, want 0 (invalid order must not be finalized)", is.finalizeCalls)
	}

	latest, err := st.LatestCertificate(context.Background(), site.Domain)
	if err != nil {
		t.Fatalf("latest certificate: %v", err)
	}
	if latest.Status != domain.CertStatusFailed {
		t.Fatalf("status = %q, want FAILED", latest.Status)
	}
}

func TestSweepExpiresAndRenews(t *testing.T) {
	t.Parallel()

	is := &fakeIssuer{token: "tok-6", keyAuth: "tok-6.auth", authzStatuses: []Status{StatusValid, StatusValid}}
	m, st, _, _, _ := newTestManager(t, is)

	site := addTestSite(t, st, "sweep-a.example.com", true)
	cert, err := st.CreateCertificate(context.Background(), domain.Certificate{
		SiteID:    site.ID,
		Domain:    site.Domain,
		Type:      domain.CertTypeAuto,
		Status:    domain.CertStatusPending,
		AutoRenew: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	expired := time.Now().Add(-time.Hour)
	if err := st.MarkCertificateActive(context.Background(), cert.ID, "c", "k", "ch", expired); err != nil {
		t.Fatalf("mark active: %v", err)
	}

	renewed := m.Sweep(context.Background(), time.Now())
	if len(renewed) != 1 || renewed[0] != site.Domain {
		t.Fatalf("renewed = %v, want [%s]", renewed, site.Domain)
	}

	byStatus, err := st.ListCertificatesByStatus(context.Background(), domain.CertStatusExpired)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(byStatus) != 1 {
		t.Fatalf("expired rows = %d, want 1", len(byStatus))
	}

	fresh, err := st.ActiveCertificate(context.Background(), site.Domain)
	if err != nil {
		t.Fatalf("active after sweep: %v", err)
	}
	if !fresh.ExpiresAt.After(time.Now()) {
		t.Fatalf("renewed certificate expiry %v still in the past", fresh.ExpiresAt)
	}
}

func TestInstallManual(t *testing.T) {
	t.Parallel()

	m, st, ts, _, _ := newTestManager(t, &fakeIssuer{})

	site := addTestSite(t, st, "manual-a.example.com", true)
	certPEM, keyPEM := mintSelfSigned(t, site.Domain, time.Now().Add(365*24*time.Hour))

	cert, err := m.InstallManual(context.Background(), site, certPEM, keyPEM, nil)
	if err != nil {
		t.Fatalf("install manual: %v", err)
	}
	if cert.Type != domain.CertTypeManual {
		t.Fatalf("type = %q, want MANUAL", cert.Type)
	}
	if cert.Status != domain.CertStatusActive {
		t.Fatalf("status = %q, want ACTIVE", cert.Status)
	}
	if _, ok := ts.Resolve(site.Domain); !ok {
		t.Fatal("manual certificate not installed into TLS store")
	}
}

func TestInstallManualRejectsGarbage(t *testing.T) {
	t.Parallel()

	m, st, _, _, _ := newTestManager(t, &fakeIssuer{})
	site := addTestSite(t, st, "manual-b.example.com", true)

	_, err := m.InstallManual(context.Background(), site, []byte("not a cert"), []byte("not a key"), nil)
	if !errors.Is(err, domain.ErrInvalidMaterial) {
		t.Fatalf("err = %v, want ErrInvalidMaterial", err)
	}
	if _, err := st.LatestCertificate(context.Background(), site.Domain); !errors.Is(err, domain.ErrCertNotFound) {
		t.Fatalf("latest = %v, want ErrCertNotFound (no row recorded)", err)
	}
}

func TestInstallManualStoreFailureKeepsOldBinding(t *testing.T) {
	t.Parallel()

	m, st, ts, _, _ := newTestManager(t, &fakeIssuer{})
	site := addTestSite(t, st, "manual-c.example.com", true)

	oldCert, oldKey := mintSelfSigned(t, site.Domain, time.Now().Add(24*time.Hour))
	if err := ts.Install(site.Domain, oldCert, oldKey, nil); err != nil {
		t.Fatalf("install old binding: %v", err)
	}
	before, ok := ts.Resolve(site.Domain)
	if !ok {
		t.Fatal("old binding missing")
	}

	st.Close()

	newCert, newKey := mintSelfSigned(t, site.Domain, time.Now().Add(365*24*time.Hour))
	if _, err := m.InstallManual(context.Background(), site, newCert, newKey, nil); err == nil {
		t.Fatal("install succeeded against a closed store")
	}

	after, ok := ts.Resolve(site.Domain)
	if !ok {
		t.Fatal("binding dropped after failed install")
	}
	if after != before {
		t.Fatal("binding replaced although no certificate record was written")
	}
}

func mintSelfSigned(t *testing.T, fqdn string, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: fqdn},
		DNSNames:     []string{fqdn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return encodePEM("CERTIFICATE", der), encodePEM("EC PRIVATE KEY", keyDER)
}

func encodePEM(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
