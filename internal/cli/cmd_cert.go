package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sitefront/sitefront/internal/certs"
	"github.com/sitefront/sitefront/internal/config"
	"github.com/sitefront/sitefront/internal/domain"
	ilog "github.com/sitefront/sitefront/internal/log"
	"github.com/sitefront/sitefront/internal/proxy"
	"github.com/sitefront/sitefront/internal/store/sqlite"
	"github.com/sitefront/sitefront/internal/tlsstore"
)

func runCert(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: sitefront cert <request|install|status> [flags]")
		return 2
	}
	switch args[0] {
	case "request":
		return runCertRequest(ctx, args[1:])
	case "install":
		return runCertInstall(ctx, args[1:])
	case "status":
		return runCertStatus(ctx, args[1:])
	default:
		fmt.Fprintln(os.Stderr, "unknown cert command:", args[0])
		return 2
	}
}

// runCertRequest performs a standalone issuance: it answers the HTTP-01
// challenge on the plain listener itself, so the serve process need not be
// running.
func runCertRequest(ctx context.Context, args []string) int {
	loadEnvFromDotEnv(".env")
	cfg, err := config.ParseServerFlags(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: sitefront cert request <domain>")
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	site, err := store.LookupSite(ctx, args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "cert request error:", err)
		return 1
	}

	challenges := certs.NewChallenges()
	manager := certs.NewManager(logger, store, tlsstore.New(logger), challenges,
		certs.NewACMEIssuer(cfg.ACMEDirectoryURL, cfg.ACMEEmail, cfg.CertDir),
		certs.Options{
			CertDir:       cfg.CertDir,
			Attempts:      cfg.ChallengeAttempts,
			Interval:      cfg.ChallengeInterval,
			RenewalWindow: cfg.RenewalWindow,
		})

	challengeServer := &http.Server{
		Addr:              cfg.ListenHTTP,
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.URL.Path, proxy.ChallengePathPrefix)
			if !ok || token == "" {
				http.NotFound(w, r)
				return
			}
			keyAuth, ok := challenges.Respond(token)
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(keyAuth))
		}),
	}
	go func() {
		if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("challenge server", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = challengeServer.Shutdown(shutdownCtx)
	}()

	cert, err := manager.Issue(ctx, site)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cert request error:", err)
		return 1
	}
	fmt.Printf("certificate issued for %s, expires %s\n", cert.Domain, cert.ExpiresAt.Format(time.RFC3339))
	return 0
}

func runCertInstall(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("cert install", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	certFile := fs.String("cert", "", "certificate PEM file (required)")
	keyFile := fs.String("key", "", "private key PEM file (required)")
	chainFile := fs.String("chain", "", "issuer chain PEM file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	loadEnvFromDotEnv(".env")
	cfg, err := config.ParseServerFlags(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 2
	}
	if fs.NArg() != 1 || *certFile == "" || *keyFile == "" {
		fmt.Fprintln(os.Stderr, "usage: sitefront cert install <domain> --cert FILE --key FILE [--chain FILE]")
		return 2
	}
	logger := ilog.New(cfg.LogLevel, cfg.LogFormat)

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	site, err := store.LookupSite(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "cert install error:", err)
		return 1
	}

	certPEM, err := os.ReadFile(*certFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cert install error:", err)
		return 1
	}
	keyPEM, err := os.ReadFile(*keyFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cert install error:", err)
		return 1
	}
	var chainPEM []byte
	if *chainFile != "" {
		if chainPEM, err = os.ReadFile(*chainFile); err != nil {
			fmt.Fprintln(os.Stderr, "cert install error:", err)
			return 1
		}
	}

	manager := certs.NewManager(logger, store, tlsstore.New(logger), certs.NewChallenges(),
		certs.NewACMEIssuer(cfg.ACMEDirectoryURL, cfg.ACMEEmail, cfg.CertDir),
		certs.Options{CertDir: cfg.CertDir, RenewalWindow: cfg.RenewalWindow})

	cert, err := manager.InstallManual(ctx, site, certPEM, keyPEM, chainPEM)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cert install error:", err)
		return 1
	}
	fmt.Printf("certificate installed for %s, expires %s\n", cert.Domain, cert.ExpiresAt.Format(time.RFC3339))
	return 0
}

func runCertStatus(ctx context.Context, args []string) int {
	store, rest, err := openStore(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cert status error:", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: sitefront cert status <domain>")
		return 2
	}
	cert, err := store.LatestCertificate(ctx, rest[0])
	if err != nil {
		if errors.Is(err, domain.ErrCertNotFound) {
			fmt.Println("no certificate on record for", rest[0])
			return 0
		}
		fmt.Fprintln(os.Stderr, "cert status error:", err)
		return 1
	}

	fmt.Printf("domain:  %s\n", cert.Domain)
	fmt.Printf("type:    %s\n", cert.Type)
	fmt.Printf("status:  %s\n", cert.Status)
	if !cert.ExpiresAt.IsZero() {
		fmt.Printf("expires: %s\n", cert.ExpiresAt.Format(time.RFC3339))
	}
	return 0
}
