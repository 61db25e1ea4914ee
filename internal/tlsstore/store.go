// Package tlsstore holds the live domain→TLS-material binding table
// consulted by the listener's SNI callback. Installs are atomic per domain:
// a concurrent handshake observes either the old or the fully-installed new
// certificate, never a mixture.
package tlsstore

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/netutil"
)

// File names under {certDir}/{domain}/ shared with the certificate manager.
const (
	CertFileName  = "cert.pem"
	KeyFileName   = "privkey.pem"
	ChainFileName = "chain.pem"
)

// Store maps domains to parsed TLS certificates. Safe for concurrent use:
// many handshake reads proceed while an install swaps a single pointer under
// the write lock.
type Store struct {
	log *slog.Logger

	mu          sync.RWMutex
	bindings    map[string]*tls.Certificate
	defaultCert *tls.Certificate
}

// New creates an empty Store.
func New(logger *slog.Logger) *Store {
	return &Store{
		log:      logger,
		bindings: make(map[string]*tls.Certificate),
	}
}

// ParseMaterial validates PEM certificate material and returns the parsed
// key pair with its leaf populated. Malformed material returns
// [domain.ErrInvalidMaterial].
func ParseMaterial(certPEM, keyPEM, chainPEM []byte) (*tls.Certificate, error) {
	fullChain := certPEM
	if len(chainPEM) > 0 {
		fullChain = append(append([]byte{}, certPEM...), chainPEM...)
	}
	cert, err := tls.X509KeyPair(fullChain, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMaterial, err)
	}
	if len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	return &cert, nil
}

// Install validates the PEM material and atomically binds it to domain.
// Malformed material returns [domain.ErrInvalidMaterial] and leaves any
// previous binding in force.
func (s *Store) Install(host string, certPEM, keyPEM, chainPEM []byte) error {
	host = netutil.NormalizeHost(host)
	if host == "" {
		return fmt.Errorf("%w: empty domain", domain.ErrInvalidMaterial)
	}

	cert, err := ParseMaterial(certPEM, keyPEM, chainPEM)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bindings[host] = cert
	s.mu.Unlock()

	if cert.Leaf != nil {
		s.log.Info("tls binding installed", "domain", host, "not_after", cert.Leaf.NotAfter)
	} else {
		s.log.Info("tls binding installed", "domain", host)
	}
	return nil
}

// Resolve returns the binding for host, or false when none is installed.
func (s *Store) Resolve(host string) (*tls.Certificate, bool) {
	host = netutil.NormalizeHost(host)
	s.mu.RLock()
	cert, ok := s.bindings[host]
	s.mu.RUnlock()
	return cert, ok
}

// Remove drops the binding for host, if any.
func (s *Store) Remove(host string) {
	host = netutil.NormalizeHost(host)
	s.mu.Lock()
	delete(s.bindings, host)
	s.mu.Unlock()
}

// SetDefault installs the fallback identity presented when no binding
// matches the requested server name.
func (s *Store) SetDefault(cert *tls.Certificate) {
	s.mu.Lock()
	s.defaultCert = cert
	s.mu.Unlock()
}

// GetCertificate is the SNI callback for [tls.Config.GetCertificate]. An
// unknown domain falls back to the default identity rather than failing the
// handshake.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	host := netutil.NormalizeHost(hello.ServerName)

	s.mu.RLock()
	cert, ok := s.bindings[host]
	def := s.defaultCert
	s.mu.RUnlock()

	if ok {
		return cert, nil
	}
	if def != nil {
		return def, nil
	}
	return nil, errors.New("no certificate available")
}

// Rebuild scans certDir for {domain}/cert.pem+privkey.pem pairs and installs
// every domain found. It runs at startup so a restart cannot lose TLS
// serviceability even when the lifecycle records are stale. Per-domain
// failures are logged and skipped.
func (s *Store) Rebuild(certDir string) int {
	entries, err := os.ReadDir(certDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("certificate directory scan failed", "dir", certDir, "err", err)
		}
		return 0
	}

	installed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		host := entry.Name()
		dir := filepath.Join(certDir, host)

		certPEM, err := os.ReadFile(filepath.Join(dir, CertFileName))
		if err != nil {
			continue
		}
		keyPEM, err := os.ReadFile(filepath.Join(dir, KeyFileName))
		if err != nil {
			continue
		}
		chainPEM, _ := os.ReadFile(filepath.Join(dir, ChainFileName))

		if err := s.Install(host, certPEM, keyPEM, chainPEM); err != nil {
			s.log.Warn("stored certificate rejected", "domain", host, "err", err)
			continue
		}
		installed++
	}
	if installed > 0 {
		s.log.Info("tls bindings rebuilt from disk", "dir", certDir, "domains", installed)
	}
	return installed
}
