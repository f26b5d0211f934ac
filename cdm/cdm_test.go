package cdm

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/devatadev/godrmcore/device"
	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/ecc"
	"github.com/devatadev/godrmcore/internal/testpki"
	"github.com/devatadev/godrmcore/license"
	"github.com/devatadev/godrmcore/pssh"
)

var (
	contentKID = uuid.MustParse("0102030405060708090a0b0c0d0e0f10")
	contentKey = []byte("0123456789abcdef")
)

func newCDM(t *testing.T, opts ...CDMOption) (*testpki.PKI, *CDM) {
	t.Helper()
	pki := testpki.New(t)
	d, err := device.Provision(rand.Reader, pki.Group, pki.GroupChain)
	require.NoError(t, err)
	opts = append([]CDMOption{WithTrustedRoot(pki.Root.Public[:])}, opts...)
	return pki, NewCDM(d, opts...)
}

// respond plays the license server for a challenge.
func respond(t *testing.T, pki *testpki.PKI, challenge []byte, keys []license.IssuedKey) []byte {
	t.Helper()
	ch, err := VerifyChallenge(challenge, pki.Root.Public[:])
	require.NoError(t, err)

	var encPub [ecc.PublicKeySize]byte
	copy(encPub[:], ch.Client.EncryptionKey)
	sessionKey, wrapped, err := license.NewSessionKey(rand.Reader, encPub)
	require.NoError(t, err)

	msg, err := license.Issue(rand.Reader, sessionKey[:], ch.Raw, keys)
	require.NoError(t, err)
	msg.SessionKey = wrapped[:]
	return msg.Marshal()
}

func contentPSSH() *pssh.PSSH {
	return pssh.New(pssh.WidevineSystemID, []uuid.UUID{contentKID}, nil)
}

func TestLicenseExchange(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	pki, c := newCDM(t, WithNow(func() time.Time { return now }))

	s, err := c.OpenSession()
	require.NoError(t, err)
	require.Len(t, s.ID, sessionIDLength)

	challenge, err := c.GetLicenseChallenge(s.ID, contentPSSH(), license.LicenseStreaming)
	require.NoError(t, err)

	ch, err := VerifyChallenge(challenge, pki.Root.Public[:])
	require.NoError(t, err)
	require.Equal(t, now.Unix(), ch.Request.RequestTime)
	require.Equal(t, license.LicenseStreaming, ch.Request.LicenseType)
	require.Equal(t, c.Device().CertificateChain, ch.Request.ClientChain)

	response := respond(t, pki, challenge, []license.IssuedKey{
		{ID: contentKID[:], Key: contentKey, Type: license.KeyTypeContent},
		{ID: []byte("signing"), Key: make([]byte, 32), Type: license.KeyTypeSigning},
	})
	require.NoError(t, c.ParseLicense(s.ID, response))

	keys, err := c.GetKeys(s.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	content, err := c.GetKeysByType(s.ID, license.KeyTypeContent)
	require.NoError(t, err)
	require.Len(t, content, 1)
	require.Equal(t, contentKID, content[0].KID)
	require.Equal(t, contentKey, content[0].Key)

	require.NoError(t, c.CloseSession(s.ID))
	_, err = c.GetKeys(s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSnapshotsDoNotShareSessionState(t *testing.T) {
	pki, c := newCDM(t)
	s, err := c.OpenSession()
	require.NoError(t, err)
	challenge, err := c.GetLicenseChallenge(s.ID, contentPSSH(), license.LicenseStreaming)
	require.NoError(t, err)
	response := respond(t, pki, challenge, []license.IssuedKey{{ID: contentKID[:], Key: contentKey, Type: license.KeyTypeContent}})
	require.NoError(t, c.ParseLicense(s.ID, response))

	keys, err := c.GetKeys(s.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	keys[0].Key[0] ^= 0xff
	keys[0].Type = license.KeyTypeSigning

	snapshot, err := c.GetSession(s.ID)
	require.NoError(t, err)
	request := bytes.Clone(snapshot.Request)
	snapshot.Request[0] ^= 0xff
	snapshot.ID[0] ^= 0xff

	got, err := c.GetSession(s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)
	require.Equal(t, request, got.Request)
	require.Equal(t, []license.ContentKey{{KID: contentKID, Key: contentKey, Type: license.KeyTypeContent}}, got.Keys)
}

func TestParseLicenseFromOtherChallenge(t *testing.T) {
	pki, c := newCDM(t)
	s, err := c.OpenSession()
	require.NoError(t, err)

	first, err := c.GetLicenseChallenge(s.ID, contentPSSH(), license.LicenseStreaming)
	require.NoError(t, err)
	_, err = c.GetLicenseChallenge(s.ID, contentPSSH(), license.LicenseStreaming)
	require.NoError(t, err)

	response := respond(t, pki, first, []license.IssuedKey{{ID: contentKID[:], Key: contentKey, Type: license.KeyTypeContent}})
	require.ErrorIs(t, c.ParseLicense(s.ID, response), drmerr.ErrResponseAuthentication)
}

func TestParseLicenseWithoutChallenge(t *testing.T) {
	_, c := newCDM(t)
	s, err := c.OpenSession()
	require.NoError(t, err)
	require.ErrorIs(t, c.ParseLicense(s.ID, []byte{0x08, 0x02}), ErrNoChallenge)
}

func TestParseLicenseForOtherDevice(t *testing.T) {
	pki, c := newCDM(t)
	s, err := c.OpenSession()
	require.NoError(t, err)
	challenge, err := c.GetLicenseChallenge(s.ID, contentPSSH(), license.LicenseStreaming)
	require.NoError(t, err)

	// Same group, different encryption key.
	d, err := device.Provision(rand.Reader, pki.Group, pki.GroupChain)
	require.NoError(t, err)
	other := NewCDM(d)
	os, err := other.OpenSession()
	require.NoError(t, err)
	_, err = other.GetLicenseChallenge(os.ID, contentPSSH(), license.LicenseStreaming)
	require.NoError(t, err)

	response := respond(t, pki, challenge, []license.IssuedKey{{ID: contentKID[:], Key: contentKey, Type: license.KeyTypeContent}})
	require.Error(t, other.ParseLicense(os.ID, response))

	keys, err := other.GetKeys(os.ID)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestMaxSessions(t *testing.T) {
	_, c := newCDM(t, WithMaxSessions(2))
	a, err := c.OpenSession()
	require.NoError(t, err)
	_, err = c.OpenSession()
	require.NoError(t, err)
	_, err = c.OpenSession()
	require.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, c.CloseSession(a.ID))
	s, err := c.OpenSession()
	require.NoError(t, err)
	require.Equal(t, 3, s.Number)
}

func TestUnknownSession(t *testing.T) {
	_, c := newCDM(t)
	id := make([]byte, sessionIDLength)
	require.ErrorIs(t, c.CloseSession(id), ErrSessionNotFound)
	_, err := c.GetLicenseChallenge(id, contentPSSH(), license.LicenseStreaming)
	require.ErrorIs(t, err, ErrSessionNotFound)
	require.ErrorIs(t, c.ParseLicense(id, nil), ErrSessionNotFound)
	_, err = c.SetServiceCertificate(id, c.Device().CertificateChain)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetServiceCertificate(t *testing.T) {
	pki, c := newCDM(t)
	s, err := c.OpenSession()
	require.NoError(t, err)

	server, err := device.Provision(rand.Reader, pki.Group, pki.GroupChain)
	require.NoError(t, err)
	keys, err := c.SetServiceCertificate(s.ID, server.CertificateChain)
	require.NoError(t, err)
	require.Equal(t, server.SigningKey.Public[:], keys.SigningKey)

	got, err := c.GetSession(s.ID)
	require.NoError(t, err)
	require.Equal(t, keys, got.ServiceKeys)

	foreign := testpki.New(t)
	untrusted, err := device.Provision(rand.Reader, foreign.Group, foreign.GroupChain)
	require.NoError(t, err)
	_, err = c.SetServiceCertificate(s.ID, untrusted.CertificateChain)
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)

	_, err = c.SetServiceCertificate(s.ID, []byte("garbage"))
	require.Error(t, err)
}

func TestSetServiceCertificateWithoutRoot(t *testing.T) {
	_, c := newCDM(t)
	plain := NewCDM(c.Device())
	s, err := plain.OpenSession()
	require.NoError(t, err)
	_, err = plain.SetServiceCertificate(s.ID, c.Device().CertificateChain)
	require.ErrorIs(t, err, ErrNoTrustedRoot)
}

func TestVerifyChallengeRejectsTampering(t *testing.T) {
	pki, c := newCDM(t)
	s, err := c.OpenSession()
	require.NoError(t, err)
	challenge, err := c.GetLicenseChallenge(s.ID, contentPSSH(), license.LicenseOffline)
	require.NoError(t, err)

	msg, err := license.UnmarshalSignedMessage(challenge)
	require.NoError(t, err)
	msg.Signature[0] ^= 0xff
	_, err = VerifyChallenge(msg.Marshal(), pki.Root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrSignatureMismatch)

	_, err = VerifyChallenge(challenge, testpki.New(t).Root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrChainUntrusted)

	_, err = VerifyChallenge(license.ServiceCertificateRequest, pki.Root.Public[:])
	require.ErrorIs(t, err, drmerr.ErrMalformed)
}
