// Package ecc implements the P-256 primitives used by the trust core: ECDSA
// signatures and EC-ElGamal point encryption. Keys, points and signatures
// cross this package's boundary as fixed-size byte arrays only.
package ecc

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"errors"
	"fmt"
	"io"
	"math/big"

	"filippo.io/nistec"

	"github.com/devatadev/godrmcore/drmerr"
)

const (
	PrivateKeySize = 32
	PublicKeySize  = 64
	SignatureSize  = 64
	CiphertextSize = 128
	CoordinateSize = 32
)

var errIdentity = errors.New("point at infinity")

// KeyPair is a P-256 private scalar with its uncompressed public point (X‖Y).
type KeyPair struct {
	Private [PrivateKeySize]byte
	Public  [PublicKeySize]byte
}

// GenerateKeyPair draws a fresh key pair from rand.
func GenerateKeyPair(rand io.Reader) (KeyPair, error) {
	k, err := ecdh.P256().GenerateKey(rand)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate key: %w", err)
	}
	var kp KeyPair
	copy(kp.Private[:], k.Bytes())
	copy(kp.Public[:], k.PublicKey().Bytes()[1:])
	return kp, nil
}

// PublicKey computes the public point for a private scalar.
func PublicKey(priv [PrivateKeySize]byte) ([PublicKeySize]byte, error) {
	var out [PublicKeySize]byte
	k, err := parseScalar(priv)
	if err != nil {
		return out, err
	}
	copy(out[:], k.PublicKey().Bytes()[1:])
	return out, nil
}

// RandomPoint returns G*r for a fresh random scalar r.
func RandomPoint(rand io.Reader) ([PublicKeySize]byte, error) {
	kp, err := GenerateKeyPair(rand)
	if err != nil {
		return [PublicKeySize]byte{}, err
	}
	return kp.Public, nil
}

// parsePoint decodes X‖Y into a curve point, rejecting anything off the curve.
func parsePoint(xy []byte) (*nistec.P256Point, error) {
	if len(xy) != PublicKeySize {
		return nil, fmt.Errorf("%w: point must be %d bytes, got %d", drmerr.ErrPointNotOnCurve, PublicKeySize, len(xy))
	}
	var sec1 [1 + PublicKeySize]byte
	sec1[0] = 0x04
	copy(sec1[1:], xy)
	p, err := nistec.NewP256Point().SetBytes(sec1[:])
	if err != nil {
		return nil, drmerr.ErrPointNotOnCurve
	}
	return p, nil
}

func serializePoint(p *nistec.P256Point) ([PublicKeySize]byte, error) {
	var out [PublicKeySize]byte
	b := p.Bytes()
	if len(b) != 1+PublicKeySize {
		return out, errIdentity
	}
	copy(out[:], b[1:])
	return out, nil
}

// parseScalar validates 0 < d < n.
func parseScalar(priv [PrivateKeySize]byte) (*ecdh.PrivateKey, error) {
	k, err := ecdh.P256().NewPrivateKey(priv[:])
	if err != nil {
		return nil, drmerr.ErrInvalidScalar
	}
	return k, nil
}

// negateScalar returns n - d, which is valid for any 0 < d < n.
func negateScalar(d []byte) []byte {
	n := elliptic.P256().Params().N
	neg := new(big.Int).Sub(n, new(big.Int).SetBytes(d))
	return neg.FillBytes(make([]byte, PrivateKeySize))
}
