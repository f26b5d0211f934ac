package device

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/devatadev/godrmcore/bcert"
	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/internal/testpki"
)

func provision(t *testing.T) (*testpki.PKI, *Device) {
	t.Helper()
	pki := testpki.New(t)
	d, err := Provision(rand.Reader, pki.Group, pki.GroupChain)
	require.NoError(t, err)
	return pki, d
}

func TestProvisionedChainVerifies(t *testing.T) {
	pki, d := provision(t)
	require.Equal(t, uint32(2000), d.SecurityLevel)

	chain, err := d.Chain()
	require.NoError(t, err)
	require.Equal(t, 3, chain.Len())

	keys, err := bcert.VerifyChain(chain, pki.Root.Public[:])
	require.NoError(t, err)
	require.Equal(t, d.SigningKey.Public[:], keys.SigningKey)
	require.Equal(t, d.EncryptionKey.Public[:], keys.EncryptionKey)
	require.Equal(t, uint32(2000), keys.SecurityLevel)
	require.Equal(t, "Test", chain.Leaf().ManufacturerInfo().Name)
}

func TestProvisionRejectsForeignGroupKey(t *testing.T) {
	pki := testpki.New(t)
	_, err := Provision(rand.Reader, testpki.KeyPair(t), pki.GroupChain)
	require.ErrorIs(t, err, drmerr.ErrMalformed)
}

func TestMarshalRoundTrip(t *testing.T) {
	_, d := provision(t)
	b, err := d.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, "PRD\x03", string(b[:4]))

	got, err := Parse(b)
	require.NoError(t, err)
	if diff := cmp.Diff(d, got); diff != "" {
		t.Errorf("device mismatch (-want +got):\n%s", diff)
	}

	got, err = ParseBase64(base64.StdEncoding.EncodeToString(b))
	require.NoError(t, err)
	require.Equal(t, d.SigningKey, got.SigningKey)
}

func TestParseV2(t *testing.T) {
	_, d := provision(t)

	b := []byte("PRD\x02")
	b = append(b, byte(len(d.CertificateChain)>>24), byte(len(d.CertificateChain)>>16), byte(len(d.CertificateChain)>>8), byte(len(d.CertificateChain)))
	b = append(b, d.CertificateChain...)
	b = append(b, d.EncryptionKey.Private[:]...)
	b = append(b, d.EncryptionKey.Public[:]...)
	b = append(b, d.SigningKey.Private[:]...)
	b = append(b, d.SigningKey.Public[:]...)

	got, err := Parse(b)
	require.NoError(t, err)
	require.Nil(t, got.GroupKey)
	require.Equal(t, d.EncryptionKey, got.EncryptionKey)
	require.Equal(t, d.SigningKey, got.SigningKey)
	require.Equal(t, d.SecurityLevel, got.SecurityLevel)

	// v2 devices are written back as v3 with a zero group key
	out, err := got.MarshalBinary()
	require.NoError(t, err)
	again, err := Parse(out)
	require.NoError(t, err)
	require.Nil(t, again.GroupKey)
}

func TestParseErrors(t *testing.T) {
	_, d := provision(t)
	good, err := d.MarshalBinary()
	require.NoError(t, err)

	for _, tc := range []struct {
		name string
		in   []byte
		want error
	}{
		{name: "empty", in: nil, want: drmerr.ErrTruncated},
		{name: "bad magic", in: []byte("XYZ\x03"), want: drmerr.ErrBadMagic},
		{name: "no version", in: []byte("PRD"), want: drmerr.ErrTruncated},
		{name: "version 1", in: []byte("PRD\x01"), want: drmerr.ErrUnsupportedVersion},
		{name: "version 9", in: []byte("PRD\x09"), want: drmerr.ErrUnsupportedVersion},
		{name: "truncated keys", in: good[:100], want: drmerr.ErrTruncated},
		{name: "truncated chain", in: good[:len(good)-1], want: drmerr.ErrTruncated},
		{name: "v2 truncated length", in: []byte("PRD\x02\x00\x00"), want: drmerr.ErrTruncated},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.in)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLoad(t *testing.T) {
	_, d := provision(t)
	b, err := d.MarshalBinary()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "device.prd")
	require.NoError(t, os.WriteFile(path, b, 0o600))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, d.CertificateChain, got.CertificateChain)

	_, err = Load(filepath.Join(t.TempDir(), "missing.prd"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
