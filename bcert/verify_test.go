package bcert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/ecc"
)

type testChain struct {
	root, intermediate, signing, encryption ecc.KeyPair
	certs                                   [][]byte
}

// newTestChain builds leaf <- intermediate <- self-signed root.
func newTestChain(t *testing.T) *testChain {
	t.Helper()
	tc := &testChain{
		root:         newKeyPair(t),
		intermediate: newKeyPair(t),
		signing:      newKeyPair(t),
		encryption:   newKeyPair(t),
	}
	intermediate, err := NewCertificateBuilder().
		AddBasicInfo(BasicInfo{CertType: CertTypeIssuer, ExpirationDate: NeverExpires}).
		AddKeys(CertKey{Type: KeyTypeECC256, Key: tc.intermediate.Public[:], Usages: []KeyUsage{KeyUsageIssuerDevice}}).
		Sign(tc.root)
	require.NoError(t, err)

	tc.certs = [][]byte{
		leafCertificate(t, tc.intermediate, tc.signing, tc.encryption),
		intermediate,
		rootCertificate(t, tc.root),
	}
	return tc
}

func (tc *testChain) parse(t *testing.T) *Chain {
	t.Helper()
	chain, err := ParseChain(MarshalChain(tc.certs...))
	require.NoError(t, err)
	return chain
}

func TestVerifyChain(t *testing.T) {
	tc := newTestChain(t)
	keys, err := VerifyChain(tc.parse(t), tc.root.Public[:])
	require.NoError(t, err)
	require.Equal(t, tc.signing.Public[:], keys.SigningKey)
	require.Equal(t, tc.encryption.Public[:], keys.EncryptionKey)
	require.Equal(t, uint32(3000), keys.SecurityLevel)
	require.Equal(t, tc.certs[0], keys.Leaf.Raw())
}

func TestVerifyChainSingleRoot(t *testing.T) {
	root := newKeyPair(t)
	chain, err := ParseChain(MarshalChain(rootCertificate(t, root)))
	require.NoError(t, err)

	keys, err := VerifyChain(chain, root.Public[:])
	require.NoError(t, err)
	require.Nil(t, keys.SigningKey)
}

func TestVerifyChainSingleLeafRejected(t *testing.T) {
	tc := newTestChain(t)
	// signed directly by the root but does not declare the root key itself
	leaf := leafCertificate(t, tc.root, tc.signing, tc.encryption)
	chain, err := ParseChain(MarshalChain(leaf))
	require.NoError(t, err)

	_, err = VerifyChain(chain, tc.root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
}

func TestVerifyChainTopNotDeclaringAnchorRejected(t *testing.T) {
	tc := newTestChain(t)
	// Every link verifies, but the top certificate declares tc.intermediate
	// as its key while being signed by the pinned root.
	top, err := NewCertificateBuilder().
		AddBasicInfo(BasicInfo{CertType: CertTypeIssuer, ExpirationDate: NeverExpires}).
		AddKeys(CertKey{Type: KeyTypeECC256, Key: tc.intermediate.Public[:], Usages: []KeyUsage{KeyUsageIssuerAll}}).
		Sign(tc.root)
	require.NoError(t, err)
	chain, err := ParseChain(MarshalChain(tc.certs[0], top))
	require.NoError(t, err)

	_, err = VerifyChain(chain, tc.root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
	require.ErrorContains(t, err, "does not declare the trusted key")

	// The same chain is accepted once the pinned root itself closes it.
	chain, err = ParseChain(MarshalChain(tc.certs[0], top, tc.certs[2]))
	require.NoError(t, err)
	_, err = VerifyChain(chain, tc.root.Public[:])
	require.NoError(t, err)
}

func TestVerifyChainTamperedSignature(t *testing.T) {
	tc := newTestChain(t)
	cert, err := ParseCertificate(tc.certs[1])
	require.NoError(t, err)

	other, err := ecc.Sign(tc.root.Private, []byte("different bytes"))
	require.NoError(t, err)
	// signature bytes follow the attribute header, type and size fields
	off := int(cert.SignedLength) + attributeHeaderSize + 4
	copy(tc.certs[1][off:], other[:])

	_, err = VerifyChain(tc.parse(t), tc.root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
	require.NotErrorIs(t, err, drmerr.ErrSignatureMismatch)
}

func TestVerifyChainTamperedSignedBytes(t *testing.T) {
	tc := newTestChain(t)
	// flip a byte of the leaf's BasicInfo security level
	tc.certs[0][certHeaderSize+attributeHeaderSize+19] ^= 0x01

	_, err := VerifyChain(tc.parse(t), tc.root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
}

func TestVerifyChainMissingSignature(t *testing.T) {
	tc := newTestChain(t)
	unsigned, err := NewCertificateBuilder().
		AddBasicInfo(BasicInfo{SecurityLevel: 150, CertType: CertTypeDevice}).
		Unsigned()
	require.NoError(t, err)
	tc.certs[0] = unsigned

	_, err = VerifyChain(tc.parse(t), tc.root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
}

func TestVerifyChainMissingIssuerKey(t *testing.T) {
	tc := newTestChain(t)
	noKeys, err := NewCertificateBuilder().
		AddBasicInfo(BasicInfo{CertType: CertTypeIssuer}).
		Sign(tc.root)
	require.NoError(t, err)
	tc.certs[1] = noKeys

	_, err = VerifyChain(tc.parse(t), tc.root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
}

func TestVerifyChainWrongAnchor(t *testing.T) {
	tc := newTestChain(t)
	other := newKeyPair(t)

	_, err := VerifyChain(tc.parse(t), other.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)

	_, err = VerifyChain(tc.parse(t), []byte{1, 2, 3})
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
}

func TestVerifyChainWrongIssuer(t *testing.T) {
	tc := newTestChain(t)
	// leaf signed by a key that is not the intermediate's
	tc.certs[0] = leafCertificate(t, newKeyPair(t), tc.signing, tc.encryption)

	_, err := VerifyChain(tc.parse(t), tc.root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
}

func TestVerifyChainEmpty(t *testing.T) {
	_, err := VerifyChain(&Chain{}, make([]byte, ecc.PublicKeySize))
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)
}

func TestVerifier(t *testing.T) {
	tc := newTestChain(t)
	calls := 0
	v := NewVerifier(func() ([]byte, error) {
		calls++
		return tc.root.Public[:], nil
	})
	_, err := v.Verify(tc.parse(t))
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	boom := errors.New("anchor store offline")
	v = NewVerifier(func() ([]byte, error) { return nil, boom })
	_, err = v.Verify(tc.parse(t))
	require.ErrorIs(t, err, boom)
}
