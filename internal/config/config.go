package config

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig carries all tunables for the sitefront server. Values come
// from SITEFRONT_* environment variables with flag overrides.
type ServerConfig struct {
	ListenHTTPS string
	ListenHTTP  string
	DBPath      string
	CacheDir    string
	CertDir     string

	ACMEDirectoryURL string
	ACMEEmail        string

	LogLevel  string
	LogFormat string
	PprofAddr string

	OriginConnectTimeout time.Duration
	OriginReadTimeout    time.Duration

	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	CertSweepInterval time.Duration
	RenewalWindow     time.Duration
	ChallengeAttempts int
	ChallengeInterval time.Duration

	CrawlDepth     int
	CrawlWorkers   int
	CrawlQueueSize int
	WarmInterval   time.Duration

	WAFEnabled   bool
	WAFAuditOnly bool
}

const defaultHTTPSListen = ":443"
const defaultHTTPListen = ":80"
const defaultDBPath = "./sitefront.db"
const defaultCacheDir = "./cache"
const defaultCertDir = "./certs"
const defaultACMEDirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"

const defaultOriginConnectTimeout = 10 * time.Second
const defaultOriginReadTimeout = 30 * time.Second
const defaultCacheTTL = time.Hour
const defaultCacheSweepInterval = 10 * time.Minute
const defaultCertSweepInterval = time.Hour
const defaultRenewalWindow = 30 * 24 * time.Hour
const defaultChallengeAttempts = 20
const defaultChallengeInterval = 3 * time.Second
const defaultCrawlDepth = 5
const defaultCrawlQueueSize = 2000
const defaultWarmInterval = time.Hour

// ParseServerFlags builds a ServerConfig from the environment and args.
func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		ListenHTTPS:          envOrDefault("SITEFRONT_LISTEN_HTTPS", defaultHTTPSListen),
		ListenHTTP:           envOrDefault("SITEFRONT_LISTEN_HTTP", defaultHTTPListen),
		DBPath:               envOrDefault("SITEFRONT_DB_PATH", defaultDBPath),
		CacheDir:             envOrDefault("SITEFRONT_CACHE_DIR", defaultCacheDir),
		CertDir:              envOrDefault("SITEFRONT_CERT_DIR", defaultCertDir),
		ACMEDirectoryURL:     envOrDefault("SITEFRONT_ACME_DIRECTORY", defaultACMEDirectoryURL),
		ACMEEmail:            envOrDefault("SITEFRONT_ACME_EMAIL", ""),
		LogLevel:             envOrDefault("SITEFRONT_LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("SITEFRONT_LOG_FORMAT", "text"),
		PprofAddr:            envOrDefault("SITEFRONT_PPROF_ADDR", ""),
		OriginConnectTimeout: defaultOriginConnectTimeout,
		OriginReadTimeout:    defaultOriginReadTimeout,
		CacheTTL:             envDurationOrDefault("SITEFRONT_CACHE_TTL", defaultCacheTTL),
		CacheSweepInterval:   defaultCacheSweepInterval,
		CertSweepInterval:    envDurationOrDefault("SITEFRONT_CERT_SWEEP_INTERVAL", defaultCertSweepInterval),
		RenewalWindow:        envDurationOrDefault("SITEFRONT_RENEWAL_WINDOW", defaultRenewalWindow),
		ChallengeAttempts:    envIntOrDefault("SITEFRONT_CHALLENGE_ATTEMPTS", defaultChallengeAttempts),
		ChallengeInterval:    envDurationOrDefault("SITEFRONT_CHALLENGE_INTERVAL", defaultChallengeInterval),
		CrawlDepth:           envIntOrDefault("SITEFRONT_CRAWL_DEPTH", defaultCrawlDepth),
		CrawlWorkers:         envIntOrDefault("SITEFRONT_CRAWL_WORKERS", 0),
		CrawlQueueSize:       envIntOrDefault("SITEFRONT_CRAWL_QUEUE", defaultCrawlQueueSize),
		WarmInterval:         envDurationOrDefault("SITEFRONT_WARM_INTERVAL", defaultWarmInterval),
		WAFEnabled:           envBoolOrDefault("SITEFRONT_WAF", false),
		WAFAuditOnly:         envBoolOrDefault("SITEFRONT_WAF_AUDIT", false),
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenHTTPS, "listen", cfg.ListenHTTPS, "HTTPS listen address")
	fs.StringVar(&cfg.ListenHTTP, "listen-http", cfg.ListenHTTP, "HTTP listen address (ACME challenges + redirect)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Content cache root directory")
	fs.StringVar(&cfg.CertDir, "cert-dir", cfg.CertDir, "Certificate storage root directory")
	fs.StringVar(&cfg.ACMEDirectoryURL, "acme-directory", cfg.ACMEDirectoryURL, "ACME directory URL")
	fs.StringVar(&cfg.ACMEEmail, "acme-email", cfg.ACMEEmail, "ACME account contact email")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text|json")
	fs.IntVar(&cfg.CrawlDepth, "crawl-depth", cfg.CrawlDepth, "Max crawl link depth")
	fs.IntVar(&cfg.CrawlWorkers, "crawl-workers", cfg.CrawlWorkers, "Crawler worker count (0 = 2x CPUs)")
	fs.BoolVar(&cfg.WAFEnabled, "waf", cfg.WAFEnabled, "Enable the request firewall")
	fs.BoolVar(&cfg.WAFAuditOnly, "waf-audit", cfg.WAFAuditOnly, "Log firewall matches without blocking")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.ACMEDirectoryURL = strings.TrimSpace(cfg.ACMEDirectoryURL)
	if cfg.ACMEDirectoryURL == "" {
		return cfg, errors.New("acme directory URL must not be empty")
	}
	if cfg.CacheTTL <= 0 {
		return cfg, errors.New("cache TTL must be > 0")
	}
	if cfg.ChallengeAttempts <= 0 {
		return cfg, errors.New("challenge attempts must be > 0")
	}
	if cfg.ChallengeInterval <= 0 {
		return cfg, errors.New("challenge interval must be > 0")
	}
	if cfg.CrawlDepth <= 0 {
		return cfg, errors.New("crawl depth must be > 0")
	}
	if cfg.CrawlQueueSize <= 0 {
		return cfg, errors.New("crawl queue size must be > 0")
	}
	if cfg.RenewalWindow < 0 {
		return cfg, errors.New("renewal window must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
