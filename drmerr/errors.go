// Package drmerr holds the error kinds shared by the parsing, verification and
// key-unwrap packages. Callers classify failures with errors.Is.
package drmerr

import "errors"

var (
	ErrTruncated          = errors.New("truncated input")
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrMalformed          = errors.New("malformed structure")
	ErrUnknownEnum        = errors.New("unknown enum value")

	ErrPointNotOnCurve   = errors.New("point not on curve")
	ErrInvalidScalar     = errors.New("invalid scalar")
	ErrSignatureMismatch = errors.New("signature mismatch")

	ErrChainUntrusted = errors.New("certificate chain untrusted")

	// ErrResponseAuthentication is terminal for a whole license response.
	ErrResponseAuthentication = errors.New("response authentication failed")
	// ErrKeyUnwrap is scoped to a single key container.
	ErrKeyUnwrap = errors.New("key unwrap failed")
)
