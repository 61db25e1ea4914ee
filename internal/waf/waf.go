// Package waf implements a lightweight request firewall that blocks common
// attack patterns (SQL injection, XSS, path traversal, shell injection,
// scanner bots) before they reach a site's origin.
package waf

import (
	"log/slog"
	"net/http"
	"strings"
)

// Config controls firewall behaviour.
type Config struct {
	Enabled bool
	// AuditOnly logs matched rules without blocking the request.
	AuditOnly bool
	// ExemptPrefix names a path prefix that is never inspected. The ACME
	// challenge path must stay reachable for issuance to work.
	ExemptPrefix string
}

type firewall struct {
	rules     []rule
	log       *slog.Logger
	auditOnly bool
}

var forbiddenJSONBody = []byte(`{"error":"Forbidden"}` + "\n")

// NewMiddleware returns a middleware inspecting every request against the
// built-in ruleset. Matching requests get 403 Forbidden.
//
// If cfg.Enabled is false the returned middleware is a no-op passthrough.
func NewMiddleware(cfg Config, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}

		fw := &firewall{
			rules:     ruleset,
			log:       logger,
			auditOnly: cfg.AuditOnly,
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.ExemptPrefix != "" && strings.HasPrefix(r.URL.Path, cfg.ExemptPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			if ruleName, matched := fw.inspect(r); matched {
				logMsg := "waf blocked request"
				if fw.auditOnly {
					logMsg = "waf matched request (audit)"
				}
				fw.log.Warn(logMsg,
					"rule", ruleName,
					"method", r.Method,
					"host", r.Host,
					"uri", r.RequestURI,
					"remote", remoteIP(r),
					"ua", r.UserAgent(),
				)

				if fw.auditOnly {
					next.ServeHTTP(w, r)
					return
				}

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Content-Type-Options", "nosniff")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write(forbiddenJSONBody)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
