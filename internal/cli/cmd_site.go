package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/store/sqlite"
)

func runSite(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: sitefront site <add|remove|list|enable|disable> [flags]")
		return 2
	}
	switch args[0] {
	case "add":
		return runSiteAdd(ctx, args[1:])
	case "remove":
		return runSiteRemove(ctx, args[1:])
	case "list":
		return runSiteList(ctx, args[1:])
	case "enable":
		return runSiteSetEnabled(ctx, args[1:], true)
	case "disable":
		return runSiteSetEnabled(ctx, args[1:], false)
	default:
		fmt.Fprintln(os.Stderr, "unknown site command:", args[0])
		return 2
	}
}

// openStore opens the configured database for a one-shot admin command.
func openStore(args []string) (*sqlite.Store, []string, error) {
	loadEnvFromDotEnv(".env")
	fs := flag.NewFlagSet("site", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dbPath := fs.String("db", envOr("SITEFRONT_DB_PATH", "./sitefront.db"), "SQLite database path")
	rest, err := splitFlagArgs(fs, args)
	if err != nil {
		return nil, nil, err
	}
	store, err := sqlite.Open(*dbPath)
	if err != nil {
		return nil, nil, err
	}
	return store, rest, nil
}

// splitFlagArgs parses flags that may appear anywhere in args.
func splitFlagArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

func runSiteAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("site add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	dbPath := fs.String("db", envOr("SITEFRONT_DB_PATH", "./sitefront.db"), "SQLite database path")
	domainFlag := fs.String("domain", "", "site hostname (required)")
	origin := fs.String("origin", "", "origin base URL (required)")
	cacheOn := fs.Bool("cache", true, "enable content caching")
	sslOn := fs.Bool("ssl", false, "enable TLS and certificate issuance")
	sitemapOn := fs.Bool("sitemap", false, "generate sitemap.xml on warm runs")
	syncSource := fs.String("sync-source", "", "directory for generated artifacts")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	loadEnvFromDotEnv(".env")

	if strings.TrimSpace(*domainFlag) == "" || strings.TrimSpace(*origin) == "" {
		fmt.Fprintln(os.Stderr, "site add requires --domain and --origin")
		return 2
	}

	store, err := sqlite.Open(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	site, err := store.AddSite(ctx, domain.Site{
		Domain:       *domainFlag,
		OriginURL:    *origin,
		Enabled:      true,
		CacheEnabled: *cacheOn,
		SSLEnabled:   *sslOn,
		Sitemap:      *sitemapOn,
		SyncSource:   *syncSource,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "site add error:", err)
		return 1
	}
	fmt.Printf("site added: %s -> %s\n", site.Domain, site.OriginURL)
	return 0
}

func runSiteRemove(ctx context.Context, args []string) int {
	store, rest, err := openStore(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "site remove error:", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: sitefront site remove <domain>")
		return 2
	}
	if err := store.DeleteSite(ctx, rest[0]); err != nil {
		fmt.Fprintln(os.Stderr, "site remove error:", err)
		return 1
	}
	fmt.Println("site removed:", rest[0])
	return 0
}

func runSiteList(ctx context.Context, args []string) int {
	store, _, err := openStore(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "site list error:", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	sites, err := store.ListSites(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "site list error:", err)
		return 1
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tORIGIN\tENABLED\tCACHE\tSSL\tSITEMAP")
	for _, s := range sites {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%t\t%t\n",
			s.Domain, s.OriginURL, s.Enabled, s.CacheEnabled, s.SSLEnabled, s.Sitemap)
	}
	_ = w.Flush()
	return 0
}

func runSiteSetEnabled(ctx context.Context, args []string, enabled bool) int {
	store, rest, err := openStore(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "site update error:", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	if len(rest) != 1 {
		fmt.Fprintln(os.Stderr, "usage: sitefront site enable|disable <domain>")
		return 2
	}
	site, err := store.LookupSite(ctx, rest[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "site update error:", err)
		return 1
	}
	site.Enabled = enabled
	if err := store.UpdateSite(ctx, site); err != nil {
		fmt.Fprintln(os.Stderr, "site update error:", err)
		return 1
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("site %s: %s\n", state, site.Domain)
	return 0
}
