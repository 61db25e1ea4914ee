package config

import (
	"testing"
	"time"
)

func TestParseServerFlagsDefaults(t *testing.T) {
	t.Setenv("SITEFRONT_CACHE_TTL", "")
	t.Setenv("SITEFRONT_CRAWL_DEPTH", "")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenHTTPS != ":443" {
		t.Fatalf("expected default HTTPS listen :443, got %s", cfg.ListenHTTPS)
	}
	if cfg.CacheTTL != time.Hour {
		t.Fatalf("expected default cache TTL 1h, got %s", cfg.CacheTTL)
	}
	if cfg.CrawlDepth != 5 {
		t.Fatalf("expected default crawl depth 5, got %d", cfg.CrawlDepth)
	}
	if cfg.ChallengeAttempts != 20 {
		t.Fatalf("expected default challenge attempts 20, got %d", cfg.ChallengeAttempts)
	}
}

func TestParseServerFlagsEnvOverride(t *testing.T) {
	t.Setenv("SITEFRONT_CACHE_TTL", "30m")
	t.Setenv("SITEFRONT_CRAWL_DEPTH", "3")

	cfg, err := ParseServerFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CacheTTL != 30*time.Minute {
		t.Fatalf("expected cache TTL 30m, got %s", cfg.CacheTTL)
	}
	if cfg.CrawlDepth != 3 {
		t.Fatalf("expected crawl depth 3, got %d", cfg.CrawlDepth)
	}
}

func TestParseServerFlagsFlagBeatsEnv(t *testing.T) {
	t.Setenv("SITEFRONT_CRAWL_DEPTH", "3")

	cfg, err := ParseServerFlags([]string{"--crawl-depth", "7"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CrawlDepth != 7 {
		t.Fatalf("expected flag to win with depth 7, got %d", cfg.CrawlDepth)
	}
}

func TestParseServerFlagsValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"empty acme directory", []string{"--acme-directory", " "}},
		{"zero crawl depth", []string{"--crawl-depth", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseServerFlags(tt.args); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
