package cli

import "fmt"

// Version is set at build time via -ldflags.
var Version = "dev"

func printVersion() {
	fmt.Println("sitefront", Version)
}

func printUsage() {
	fmt.Println(`sitefront - multi-site fronting server with caching and automatic TLS

Front many sites on one listener: host-based routing, a two-tier content
cache, certificate issuance over HTTP-01, and scheduled cache warming.

Usage:
  sitefront serve                              Start the fronting server
  sitefront site add --domain D --origin URL   Register a site
                                               --cache/--ssl/--sitemap toggle features,
                                               --sync-source DIR sets the artifact directory
  sitefront site remove <domain>               Remove a site
  sitefront site list                          List registered sites
  sitefront site enable <domain>               Enable a site
  sitefront site disable <domain>              Disable a site
  sitefront cert request <domain>              Request a certificate (standalone HTTP-01)
  sitefront cert install <domain> --cert F --key F [--chain F]
                                               Install operator-supplied certificate material
  sitefront cert status <domain>               Show the latest certificate record
  sitefront warm [domain]                      Warm the content cache (all sites or one)
  sitefront version                            Print version
  sitefront help                               Show this help

Environment Variables:
  SITEFRONT_LISTEN_HTTPS      HTTPS listen address (default: :443)
  SITEFRONT_LISTEN_HTTP       HTTP listen address (default: :80)
  SITEFRONT_DB_PATH           SQLite database path (default: ./sitefront.db)
  SITEFRONT_CACHE_DIR         Content cache directory (default: ./cache)
  SITEFRONT_CERT_DIR          Certificate material directory (default: ./certs)
  SITEFRONT_ACME_DIRECTORY    ACME directory URL
  SITEFRONT_ACME_EMAIL        ACME account contact email
  SITEFRONT_LOG_LEVEL         Log level: debug|info|warn|error (default: info)
  SITEFRONT_LOG_FORMAT        Log format: text|json (default: text)

Values can also be placed in a .env file in the working directory.`)
}
