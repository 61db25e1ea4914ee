package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrSiteNotFound indicates no site record matches the requested host.
	ErrSiteNotFound = errors.New("site not found")

	// ErrSiteDisabled means the site exists but is administratively off.
	ErrSiteDisabled = errors.New("site disabled")

	// ErrSiteExists is returned when adding a site whose domain is taken.
	ErrSiteExists = errors.New("site already exists")

	// ErrOriginUnreachable indicates the backend could not be fetched.
	ErrOriginUnreachable = errors.New("origin unreachable")

	// ErrCertNotFound means no certificate record exists for the domain.
	ErrCertNotFound = errors.New("certificate not found")

	// ErrInvalidMaterial indicates TLS material that failed to parse; the
	// previously installed binding is retained.
	ErrInvalidMaterial = errors.New("invalid tls material")
)

// CertError wraps an underlying error with certificate-lifecycle context.
type CertError struct {
	Domain string
	Op     string
	Err    error
}

func (e *CertError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("cert %s: %s: %v", e.Domain, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CertError) Unwrap() error {
	return e.Err
}
