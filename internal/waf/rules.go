package waf

import "regexp"

// scope selects which request surfaces a rule is matched against.
type scope uint8

const (
	scopePath    scope = 1 << iota // URL path only
	scopeQuery                     // query string, including decoded variants
	scopeHeader                    // header values except the exempt set
	scopeAgent                     // User-Agent header
	scopeFullURI                   // the raw RequestURI
)

type rule struct {
	name string
	in   scope
	re   *regexp.Regexp
}

// ruleset is compiled once at package init. A bad pattern panics at startup
// rather than silently skipping a rule.
var ruleset = []rule{
	{
		name: "sql-injection",
		in:   scopePath | scopeQuery | scopeHeader,
		re: regexp.MustCompile(`(?i)(?:` +
			`union\s+(?:all\s+)?select` +
			`|;\s*(?:drop|truncate|delete|insert|update|alter)\s` +
			`|['"]\s*(?:or|and)\s+['"\d].*=` +
			`|'\s*;\s*--` +
			`|/\*[^*]*\*/` +
			`|\b(?:sleep|benchmark|waitfor|pg_sleep)\s*\(` +
			`|\b(?:load_file|into\s+(?:out|dump)file)\b` +
			`|0x[0-9a-f]{8,}` +
			`)`),
	},
	{
		name: "xss",
		in:   scopePath | scopeQuery | scopeHeader,
		re: regexp.MustCompile(`(?i)(?:` +
			`<\s*script` +
			`|javascript\s*:` +
			`|\bon(?:error|load|click|mouseover|focus)\s*=` +
			`|document\s*\.\s*(?:cookie|location|write)` +
			`|<\s*(?:iframe|svg|object|embed|form|math)[\s>]` +
			`|\b(?:alert|prompt|confirm|eval)\s*\(` +
			`)`),
	},
	{
		name: "path-traversal",
		in:   scopeFullURI,
		re:   regexp.MustCompile(`(?i)(?:\.\.[\\/]|\.\.%2[fF]|\.\.%5[cC]|%00)`),
	},
	{
		name: "shell-injection",
		in:   scopeQuery | scopeHeader,
		re: regexp.MustCompile("(?i)(?:" +
			`\$\(` +
			"|`[^`]+`" +
			`|[|;]\s*(?:cat|ls|id|curl|wget|nc|bash|sh|python\d?|perl|chmod|chown)\b` +
			")"),
	},
	{
		name: "jndi-lookup",
		in:   scopePath | scopeQuery | scopeHeader,
		re:   regexp.MustCompile(`(?i)\$\{.*?(?:jndi|java)\s*:`),
	},
	{
		name: "scanner-agent",
		in:   scopeAgent,
		re: regexp.MustCompile(`(?i)(?:` +
			`sqlmap|nikto|nmap|masscan|nuclei|zgrab|gobuster|dirbuster` +
			`|feroxbuster|wpscan|nessus|openvas|acunetix|arachni|havij|commix` +
			`)`),
	},
	{
		name: "header-crlf",
		in:   scopeHeader,
		re:   regexp.MustCompile(`[\r\n]`),
	},
	{
		// Secrets and admin surfaces that fronted sites never serve; every
		// hit is a probe and must not reach the cache or the origin.
		name: "sensitive-path",
		in:   scopePath,
		re: regexp.MustCompile(`(?i)(?:` +
			`/\.env\b` +
			`|/\.git(?:/|$)` +
			`|/\.(?:aws|ssh|docker|kube)/` +
			`|/etc/(?:passwd|shadow)` +
			`|/wp-(?:admin|login|config)` +
			`|/phpmy` +
			`|/cgi-bin/` +
			`|/autodiscover/` +
			`|\.(?:sql|bak|pem|key)$` +
			`)`),
	},
	{
		name: "code-injection",
		in:   scopeQuery | scopeHeader,
		re:   regexp.MustCompile(`(?i)(?:<\?(?:php|=)|<%[^>]*%>|\bdata\s*:.*base64)`),
	},
}
