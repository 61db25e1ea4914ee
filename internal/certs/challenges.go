package certs

import "sync"

type challengeEntry struct {
	domain  string
	keyAuth string
}

// Challenges maps outstanding HTTP-01 tokens to their key authorizations.
// The issuance path publishes tokens here; the proxy's challenge responder
// serves them at /.well-known/acme-challenge/{token}.
type Challenges struct {
	mu      sync.RWMutex
	byToken map[string]challengeEntry
}

func NewChallenges() *Challenges {
	return &Challenges{byToken: map[string]challengeEntry{}}
}

// Put publishes a token for the given domain, replacing any previous entry.
func (c *Challenges) Put(domain, token, keyAuth string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byToken[token] = challengeEntry{domain: domain, keyAuth: keyAuth}
}

// Respond returns the key authorization for a token, if one is outstanding.
func (c *Challenges) Respond(token string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byToken[token]
	return e.keyAuth, ok
}

// ClearDomain removes every outstanding token published for a domain.
// Called once an issuance attempt finishes, whatever the outcome.
func (c *Challenges) ClearDomain(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, e := range c.byToken {
		if e.domain == domain {
			delete(c.byToken, token)
		}
	}
}
