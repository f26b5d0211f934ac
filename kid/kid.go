// Package kid converts key identifiers between their wire forms and the
// canonical big-endian UUID used everywhere else.
package kid

import (
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/devatadev/godrmcore/drmerr"
)

// SwapGUID converts between the mixed-endian GUID layout and big-endian
// UUID order. The first three groups are byte-reversed and the last eight
// bytes are untouched; applying it twice is the identity.
func SwapGUID(b [16]byte) [16]byte {
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
	return b
}

// FromGUID returns the UUID for a 16-byte mixed-endian GUID.
func FromGUID(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.Nil, fmt.Errorf("%w: GUID is %d bytes", drmerr.ErrMalformed, len(b))
	}
	return uuid.UUID(SwapGUID([16]byte(b))), nil
}

// FromGUIDBase64 decodes a base64 GUID as found in WRM header KID values.
func FromGUIDBase64(s string) (uuid.UUID, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: key ID: %v", drmerr.ErrMalformed, err)
	}
	return FromGUID(b)
}

// ToGUID is the inverse of FromGUID.
func ToGUID(id uuid.UUID) [16]byte {
	return SwapGUID(id)
}

// Normalize maps a license key ID onto a UUID. Sixteen-byte IDs are taken
// as is. IDs made only of ASCII digits are read as a decimal integer, and
// other short IDs are right-padded with zeros.
func Normalize(id []byte) (uuid.UUID, error) {
	switch {
	case len(id) == 16:
		return uuid.UUID(id), nil
	case isDigits(id):
		n, ok := new(big.Int).SetString(string(id), 10)
		if !ok || n.BitLen() > 128 {
			return uuid.Nil, fmt.Errorf("%w: numeric key ID out of range", drmerr.ErrMalformed)
		}
		var u uuid.UUID
		n.FillBytes(u[:])
		return u, nil
	case len(id) < 16:
		var u uuid.UUID
		copy(u[:], id)
		return u, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: key ID is %d bytes", drmerr.ErrMalformed, len(id))
	}
}

func isDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
