// Package logging builds the daemon's slog handlers. Configured secrets
// (gateway credentials, OTLP headers) are scrubbed from every record.
package logging

import (
	"regexp"
	"strings"
	"sync"
)

// Placeholder replaces redacted values.
const Placeholder = "***REDACTED***"

// bearerPattern matches Authorization header values that leak into errors.
var bearerPattern = regexp.MustCompile(`\b(Bearer|Basic) [A-Za-z0-9\-._~+/]{8,}=*`)

// Redactor replaces known secrets in strings. It is safe for concurrent use.
type Redactor struct {
	mu      sync.RWMutex
	secrets []string
}

// NewRedactor returns a Redactor that hides the given literal secrets.
// Empty values are ignored.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		r.Add(s)
	}
	return r
}

// Add registers another literal secret.
func (r *Redactor) Add(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = append(r.secrets, secret)
}

// Redact returns s with every secret and authorization credential replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}
	s = bearerPattern.ReplaceAllString(s, "$1 "+Placeholder)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, Placeholder)
	}
	return s
}
