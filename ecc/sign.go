package ecc

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/devatadev/godrmcore/drmerr"
)

// Sign produces an ECDSA-SHA256 signature over msg as R‖S. The nonce is
// derived from the key and message (RFC 6979), so equal inputs always give
// equal signatures.
func Sign(priv [PrivateKeySize]byte, msg []byte) ([SignatureSize]byte, error) {
	var out [SignatureSize]byte

	k, err := parseScalar(priv)
	if err != nil {
		return out, err
	}
	pub := k.PublicKey().Bytes()
	key := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pub[1:33]),
			Y:     new(big.Int).SetBytes(pub[33:65]),
		},
		D: new(big.Int).SetBytes(priv[:]),
	}

	digest := sha256.Sum256(msg)
	der, err := key.Sign(nil, digest[:], crypto.SHA256)
	if err != nil {
		return out, fmt.Errorf("sign: %w", err)
	}
	return parseDER(der)
}

// Verify checks an ECDSA-SHA256 signature over msg. sig may be the 64-byte
// R‖S form or ASN.1 DER. Every failure of the signature itself is reported as
// drmerr.ErrSignatureMismatch.
func Verify(pub [PublicKeySize]byte, msg, sig []byte) error {
	if _, err := parsePoint(pub[:]); err != nil {
		return err
	}
	key := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(pub[:32]),
		Y:     new(big.Int).SetBytes(pub[32:]),
	}
	digest := sha256.Sum256(msg)

	var ok bool
	if len(sig) == SignatureSize {
		r := new(big.Int).SetBytes(sig[:32])
		s := new(big.Int).SetBytes(sig[32:])
		ok = ecdsa.Verify(key, digest[:], r, s)
	} else {
		ok = ecdsa.VerifyASN1(key, digest[:], sig)
	}
	if !ok {
		return drmerr.ErrSignatureMismatch
	}
	return nil
}

// MarshalDER converts an R‖S signature into its ASN.1 DER form.
func MarshalDER(sig [SignatureSize]byte) []byte {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(new(big.Int).SetBytes(sig[:32]))
		b.AddASN1BigInt(new(big.Int).SetBytes(sig[32:]))
	})
	return b.BytesOrPanic()
}

func parseDER(der []byte) ([SignatureSize]byte, error) {
	var (
		out   [SignatureSize]byte
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) || !input.Empty() ||
		!inner.ReadASN1Integer(r) || !inner.ReadASN1Integer(s) || !inner.Empty() {
		return out, errors.New("invalid ASN.1 signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 || r.BitLen() > 256 || s.BitLen() > 256 {
		return out, errors.New("signature integers out of range")
	}
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}
