package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/acme"
)

const accountKeyFile = "account.key"

type acmeOrderHandle struct {
	orderURI    string
	finalizeURL string
}

type acmeChallenge struct {
	authzURL  string
	challenge *acme.Challenge
}

// acmeIssuer drives HTTP-01 issuance against an ACME directory. The account
// key lives beside the issued certificates and is reused across restarts.
type acmeIssuer struct {
	directoryURL string
	email        string
	certDir      string

	mu         sync.Mutex
	client     *acme.Client
	registered bool
}

// NewACMEIssuer returns an issuer speaking the ACME protocol against the
// given directory endpoint.
func NewACMEIssuer(directoryURL, email, certDir string) *acmeIssuer {
	return &acmeIssuer{directoryURL: directoryURL, email: email, certDir: certDir}
}

func (a *acmeIssuer) ensureClient(ctx context.Context) (*acme.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		key, err := loadOrCreateAccountKey(filepath.Join(a.certDir, accountKeyFile))
		if err != nil {
			return nil, fmt.Errorf("account key: %w", err)
		}
		a.client = &acme.Client{Key: key, DirectoryURL: a.directoryURL}
	}
	if !a.registered {
		acct := &acme.Account{}
		if a.email != "" {
			acct.Contact = []string{"mailto:" + a.email}
		}
		_, err := a.client.Register(ctx, acct, acme.AcceptTOS)
		if err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
			return nil, fmt.Errorf("account registration: %w", err)
		}
		a.registered = true
	}
	return a.client, nil
}

func (a *acmeIssuer) BeginOrder(ctx context.Context, domain string) (*Order, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(domain))
	if err != nil {
		return nil, fmt.Errorf("order placement: %w", err)
	}

	o := &Order{
		Domain: domain,
		handle: acmeOrderHandle{orderURI: order.URI, finalizeURL: order.FinalizeURL},
	}
	for _, authzURL := range order.AuthzURLs {
		authz, err := client.GetAuthorization(ctx, authzURL)
		if err != nil {
			return nil, fmt.Errorf("authorization fetch: %w", err)
		}
		if authz.Status == acme.StatusValid {
			continue
		}
		var chal *acme.Challenge
		for _, c := range authz.Challenges {
			if c.Type == "http-01" {
				chal = c
				break
			}
		}
		if chal == nil {
			return nil, fmt.Errorf("no http-01 challenge offered for %s", domain)
		}
		keyAuth, err := client.HTTP01ChallengeResponse(chal.Token)
		if err != nil {
			return nil, fmt.Errorf("key authorization: %w", err)
		}
		o.Challenges = append(o.Challenges, Challenge{
			Token:   chal.Token,
			KeyAuth: keyAuth,
			impl:    acmeChallenge{authzURL: authzURL, challenge: chal},
		})
	}
	return o, nil
}

func (a *acmeIssuer) Trigger(ctx context.Context, ch Challenge) error {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return err
	}
	ac, ok := ch.impl.(acmeChallenge)
	if !ok {
		return fmt.Errorf("challenge not placed by this issuer")
	}
	_, err = client.Accept(ctx, ac.challenge)
	return err
}

func (a *acmeIssuer) AuthorizationStatus(ctx context.Context, ch Challenge) (Status, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return StatusPending, err
	}
	ac, ok := ch.impl.(acmeChallenge)
	if !ok {
		return StatusPending, fmt.Errorf("challenge not placed by this issuer")
	}
	authz, err := client.GetAuthorization(ctx, ac.authzURL)
	if err != nil {
		return StatusPending, err
	}
	switch authz.Status {
	case acme.StatusValid:
		return StatusValid, nil
	case acme.StatusInvalid:
		return StatusInvalid, nil
	default:
		return StatusPending, nil
	}
}

func (a *acmeIssuer) OrderStatus(ctx context.Context, o *Order) (Status, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return StatusPending, err
	}
	h := o.handle.(acmeOrderHandle)
	order, err := client.GetOrder(ctx, h.orderURI)
	if err != nil {
		return StatusPending, err
	}
	switch order.Status {
	case acme.StatusReady, acme.StatusValid:
		return StatusReady, nil
	case acme.StatusInvalid:
		return StatusInvalid, nil
	default:
		return StatusPending, nil
	}
}

func (a *acmeIssuer) Finalize(ctx context.Context, o *Order, csrDER []byte) ([][]byte, error) {
	client, err := a.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	h := o.handle.(acmeOrderHandle)
	der, _, err := client.CreateOrderCert(ctx, h.finalizeURL, csrDER, true)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	return der, nil
}

// loadOrCreateAccountKey reads the persisted account key, minting and saving
// a fresh one on first use.
func loadOrCreateAccountKey(path string) (*ecdsa.PrivateKey, error) {
	if raw, err := os.ReadFile(path); err == nil {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("malformed account key at %s", path)
		}
		return x509.ParseECPrivateKey(block.Bytes)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	raw := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
