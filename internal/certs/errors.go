package certs

import "errors"

// Sentinel errors for the certificate issuance path. Callers match them with
// [errors.Is]; each is surfaced wrapped in a [domain.CertError].
var (
	// ErrDomainUnreachable indicates the order could not be placed or the
	// challenge could not be triggered.
	ErrDomainUnreachable = errors.New("domain unreachable")

	// ErrChallengeValidationFailed means the CA reported the HTTP-01
	// authorization invalid.
	ErrChallengeValidationFailed = errors.New("challenge validation failed")

	// ErrChallengeTimeout means the polling attempt budget was exhausted
	// before the CA reached a terminal status.
	ErrChallengeTimeout = errors.New("challenge validation timed out")

	// ErrIssuanceRejected indicates the CA refused to finalize the order.
	ErrIssuanceRejected = errors.New("issuance rejected")

	// ErrStorageFailure means issued material could not be written to the
	// certificate directory. The record stays PENDING so a later attempt
	// can retry the write path; the issued certificate is not discarded by
	// the CA.
	ErrStorageFailure = errors.New("certificate storage failure")
)
