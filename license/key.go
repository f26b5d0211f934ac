package license

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// KeyType classifies a key container. Values outside the named set are
// kept as they are.
type KeyType int32

const (
	KeyTypeUntyped         KeyType = 0
	KeyTypeSigning         KeyType = 1 // Exactly one key of this type must appear.
	KeyTypeContent         KeyType = 2
	KeyTypeKeyControl      KeyType = 3 // Key control block for license renewals. No key.
	KeyTypeOperatorSession KeyType = 4 // Wrapped keys for auxiliary crypto operations.
	KeyTypeEntitlement     KeyType = 5
	KeyTypeOEMContent      KeyType = 6
)

var keyTypeNames = map[KeyType]string{
	KeyTypeUntyped:         "UNTYPED",
	KeyTypeSigning:         "SIGNING",
	KeyTypeContent:         "CONTENT",
	KeyTypeKeyControl:      "KEY_CONTROL",
	KeyTypeOperatorSession: "OPERATOR_SESSION",
	KeyTypeEntitlement:     "ENTITLEMENT",
	KeyTypeOEMContent:      "OEM_CONTENT",
}

func (t KeyType) String() string {
	if name, ok := keyTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("KeyType(%d)", int32(t))
}

// ParseKeyType maps a key type name, case-insensitively, onto its value.
func ParseKeyType(s string) (KeyType, error) {
	s = strings.ToUpper(s)
	for t, name := range keyTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown key type %q", s)
}

// ContentKey is an unwrapped key with its canonical key ID.
type ContentKey struct {
	KID  uuid.UUID
	Key  []byte
	Type KeyType
}

// String formats the key as "kid:key" in lowercase hex.
func (k ContentKey) String() string {
	return hex.EncodeToString(k.KID[:]) + ":" + hex.EncodeToString(k.Key)
}
