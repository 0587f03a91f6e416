package core

import "errors"

// Sentinel errors backing the error taxonomy. Every wrapped error from
// storage, consensus, validation and node code chains back to one of these
// via fmt.Errorf("...: %w", sentinel), so callers can branch with errors.Is.
var (
	// ErrStorage covers I/O failure, serialization failure, and not-found
	// (the latter sometimes a success signal; callers disambiguate).
	ErrStorage = errors.New("storage error")

	// ErrNotFound is a more specific storage condition that some callers
	// want to distinguish from a hard I/O failure.
	ErrNotFound = errors.New("not found")

	// ErrConsensus covers block-not-found, invalid-validator,
	// insufficient-energy, invalid-signature and network-error.
	ErrConsensus = errors.New("consensus error")

	// ErrValidation covers address format, amount range, hash format, PIN
	// format, device-id format and JSON structure failures.
	ErrValidation = errors.New("validation error")

	// ErrNode wraps the above plus network/config/IO failures specific to
	// node lifecycle management.
	ErrNode = errors.New("node error")
)

// HTTPStatus maps an error to its HTTP status code. Returns 500 for
// anything not otherwise classified.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrValidation):
		return 400
	case errors.Is(err, ErrAuth):
		return 403
	case errors.Is(err, ErrRateLimited):
		return 429
	default:
		return 500
	}
}

// ErrAuth and ErrRateLimited back the 403/429 paths, even though the
// auth/rate-limit machinery itself lives outside core: the core still
// needs a way to signal these conditions to whatever HTTP layer
// re-validates ownership.
var (
	ErrAuth        = errors.New("auth error")
	ErrRateLimited = errors.New("rate limited")
)
