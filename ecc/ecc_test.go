package ecc

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devatadev/godrmcore/drmerr"
)

func generate(t *testing.T) KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	return kp
}

func generator(t *testing.T) [PublicKeySize]byte {
	t.Helper()
	var one [PrivateKeySize]byte
	one[PrivateKeySize-1] = 1
	g, err := PublicKey(one)
	require.NoError(t, err)
	return g
}

func TestPublicKeyMatchesGenerated(t *testing.T) {
	kp := generate(t)
	pub, err := PublicKey(kp.Private)
	require.NoError(t, err)
	require.Equal(t, kp.Public, pub)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp := generate(t)
	msg := []byte("test message for ECDSA signing")

	sig, err := Sign(kp.Private, msg)
	require.NoError(t, err)
	require.NoError(t, Verify(kp.Public, msg, sig[:]))
}

func TestSignIsDeterministic(t *testing.T) {
	kp := generate(t)
	msg := []byte("deterministic test")

	sig1, err := Sign(kp.Private, msg)
	require.NoError(t, err)
	sig2, err := Sign(kp.Private, msg)
	require.NoError(t, err)
	require.Equal(t, sig1, sig2)

	other, err := Sign(kp.Private, []byte("deterministic test!"))
	require.NoError(t, err)
	require.NotEqual(t, sig1, other)
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp := generate(t)
	sig, err := Sign(kp.Private, []byte("original message"))
	require.NoError(t, err)
	require.ErrorIs(t, Verify(kp.Public, []byte("tampered message"), sig[:]), drmerr.ErrSignatureMismatch)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, other := generate(t), generate(t)
	sig, err := Sign(signer.Private, []byte("test"))
	require.NoError(t, err)
	require.ErrorIs(t, Verify(other.Public, []byte("test"), sig[:]), drmerr.ErrSignatureMismatch)
}

func TestVerifyAcceptsDER(t *testing.T) {
	kp := generate(t)
	msg := []byte("der encoded")
	sig, err := Sign(kp.Private, msg)
	require.NoError(t, err)

	der := MarshalDER(sig)
	require.NotEqual(t, SignatureSize, len(der))
	require.NoError(t, Verify(kp.Public, msg, der))

	back, err := parseDER(der)
	require.NoError(t, err)
	require.Equal(t, sig, back)
}

func TestVerifyMalformedSignatureIsMismatch(t *testing.T) {
	kp := generate(t)
	for _, sig := range [][]byte{nil, {0x30, 0x00}, make([]byte, 63), make([]byte, SignatureSize)} {
		require.ErrorIs(t, Verify(kp.Public, []byte("m"), sig), drmerr.ErrSignatureMismatch)
	}
}

func TestVerifyRejectsOffCurveKey(t *testing.T) {
	var bogus [PublicKeySize]byte
	bogus[0] = 1
	require.ErrorIs(t, Verify(bogus, []byte("m"), make([]byte, SignatureSize)), drmerr.ErrPointNotOnCurve)
}

func TestSignRejectsInvalidScalar(t *testing.T) {
	var zero [PrivateKeySize]byte
	_, err := Sign(zero, []byte("m"))
	require.ErrorIs(t, err, drmerr.ErrInvalidScalar)

	var huge [PrivateKeySize]byte
	for i := range huge {
		huge[i] = 0xFF
	}
	_, err = Sign(huge, []byte("m"))
	require.ErrorIs(t, err, drmerr.ErrInvalidScalar)
}

func TestElGamalRoundTrip(t *testing.T) {
	recipient := generate(t)
	for i := 0; i < 8; i++ {
		msg := generate(t).Public

		ct, err := Encrypt(recipient.Public, msg)
		require.NoError(t, err)

		x, err := Decrypt(recipient.Private, ct[:])
		require.NoError(t, err)
		require.Equal(t, msg[:CoordinateSize], x[:])
	}
}

func TestElGamalEncryptIsRandomized(t *testing.T) {
	recipient, msg := generate(t), generate(t).Public
	ct1, err := Encrypt(recipient.Public, msg)
	require.NoError(t, err)
	ct2, err := Encrypt(recipient.Public, msg)
	require.NoError(t, err)
	require.NotEqual(t, ct1, ct2)
}

func TestElGamalWrongKey(t *testing.T) {
	recipient, wrong := generate(t), generate(t)
	msg := generate(t).Public

	ct, err := Encrypt(recipient.Public, msg)
	require.NoError(t, err)

	x, err := Decrypt(wrong.Private, ct[:])
	require.NoError(t, err)
	require.NotEqual(t, msg[:CoordinateSize], x[:])
}

func TestElGamalIgnoresTrailingBytes(t *testing.T) {
	recipient, msg := generate(t), generate(t).Public
	ct, err := Encrypt(recipient.Public, msg)
	require.NoError(t, err)

	long := append(ct[:], 0xDE, 0xAD, 0xBE, 0xEF)
	x, err := Decrypt(recipient.Private, long)
	require.NoError(t, err)
	require.Equal(t, msg[:CoordinateSize], x[:])
}

func TestElGamalShortCiphertext(t *testing.T) {
	kp := generate(t)
	_, err := Decrypt(kp.Private, make([]byte, CiphertextSize-1))
	require.ErrorIs(t, err, drmerr.ErrTruncated)
}

func TestElGamalRejectsOffCurveCiphertext(t *testing.T) {
	kp := generate(t)
	ct := make([]byte, CiphertextSize)
	ct[10] = 7
	_, err := Decrypt(kp.Private, ct)
	require.ErrorIs(t, err, drmerr.ErrPointNotOnCurve)

	var bogus [PublicKeySize]byte
	_, err = Encrypt(bogus, kp.Public)
	require.ErrorIs(t, err, drmerr.ErrPointNotOnCurve)
}

func TestElGamalIdentity(t *testing.T) {
	kp := generate(t)
	g := generator(t)

	// C1 = G, C2 = d*G, so C2 - d*C1 is the identity.
	ct := append(g[:], kp.Public[:]...)
	_, err := Decrypt(kp.Private, ct)
	require.ErrorIs(t, err, ErrDecryptIdentity)
}
