package ecc

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"filippo.io/nistec"

	"github.com/devatadev/godrmcore/drmerr"
)

// ErrDecryptIdentity is returned when a ciphertext decrypts to the point at
// infinity.
var ErrDecryptIdentity = errors.New("elgamal: decrypted to identity")

// Encrypt encrypts msgPoint to pub:
//
//	k  = random scalar
//	C1 = G*k
//	C2 = msgPoint + pub*k
//
// and returns C1‖C2. k is drawn from crypto/rand.
func Encrypt(pub, msgPoint [PublicKeySize]byte) ([CiphertextSize]byte, error) {
	return EncryptWithRand(rand.Reader, pub, msgPoint)
}

// EncryptWithRand is Encrypt with an explicit source, which must be
// cryptographically secure.
func EncryptWithRand(random io.Reader, pub, msgPoint [PublicKeySize]byte) ([CiphertextSize]byte, error) {
	var out [CiphertextSize]byte

	pk, err := parsePoint(pub[:])
	if err != nil {
		return out, fmt.Errorf("public key: %w", err)
	}
	msg, err := parsePoint(msgPoint[:])
	if err != nil {
		return out, fmt.Errorf("message point: %w", err)
	}

	eph, err := GenerateKeyPair(random)
	if err != nil {
		return out, err
	}
	k := eph.Private[:]

	c1, err := nistec.NewP256Point().ScalarBaseMult(k)
	if err != nil {
		return out, fmt.Errorf("scalar base mult: %w", err)
	}
	shared, err := nistec.NewP256Point().ScalarMult(pk, k)
	if err != nil {
		return out, fmt.Errorf("scalar mult: %w", err)
	}
	c2 := nistec.NewP256Point().Add(msg, shared)

	b1, err := serializePoint(c1)
	if err != nil {
		return out, err
	}
	b2, err := serializePoint(c2)
	if err != nil {
		return out, err
	}
	copy(out[:PublicKeySize], b1[:])
	copy(out[PublicKeySize:], b2[:])
	return out, nil
}

// Decrypt recovers the X coordinate of the message point from C1‖C2. Only the
// first 128 bytes of ciphertext are read; trailing bytes are ignored.
func Decrypt(priv [PrivateKeySize]byte, ciphertext []byte) ([CoordinateSize]byte, error) {
	var out [CoordinateSize]byte

	if len(ciphertext) < CiphertextSize {
		return out, fmt.Errorf("%w: ciphertext is %d bytes, need at least %d",
			drmerr.ErrTruncated, len(ciphertext), CiphertextSize)
	}
	c1, err := parsePoint(ciphertext[:PublicKeySize])
	if err != nil {
		return out, fmt.Errorf("C1: %w", err)
	}
	c2, err := parsePoint(ciphertext[PublicKeySize:CiphertextSize])
	if err != nil {
		return out, fmt.Errorf("C2: %w", err)
	}
	if _, err := parseScalar(priv); err != nil {
		return out, err
	}

	// C2 - d*C1 computed as C2 + (n-d)*C1.
	negShared, err := nistec.NewP256Point().ScalarMult(c1, negateScalar(priv[:]))
	if err != nil {
		return out, fmt.Errorf("scalar mult: %w", err)
	}
	m := nistec.NewP256Point().Add(c2, negShared)

	x, err := m.BytesX()
	if err != nil {
		return out, ErrDecryptIdentity
	}
	copy(out[:], x)
	return out, nil
}
