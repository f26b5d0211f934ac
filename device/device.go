// Package device reads and writes PRD device credential files and
// provisions new device certificates under a group key.
package device

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"

	"golang.org/x/crypto/cryptobyte"

	"github.com/devatadev/godrmcore/bcert"
	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/ecc"
	"github.com/devatadev/godrmcore/reader"
)

const (
	magic     = "PRD"
	keySize   = ecc.PrivateKeySize + ecc.PublicKeySize
	versionV2 = 2
	versionV3 = 3
)

// Device is a client identity: its keys and the certificate chain that
// vouches for them.
type Device struct {
	SecurityLevel uint32
	// GroupKey is only present on devices able to provision new leaves.
	GroupKey      *ecc.KeyPair
	EncryptionKey ecc.KeyPair
	SigningKey    ecc.KeyPair
	// CertificateChain is the encoded chain, leaf first.
	CertificateChain []byte
}

// Load reads a PRD file from disk.
func Load(path string) (*Device, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseBase64 decodes a base64 PRD file.
func ParseBase64(s string) (*Device, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: device: %v", drmerr.ErrMalformed, err)
	}
	return Parse(b)
}

// Parse decodes a PRD v2 or v3 file.
func Parse(b []byte) (*Device, error) {
	r := reader.New(bytes.Clone(b))
	m, err := r.ReadBytes(len(magic))
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}
	if string(m) != magic {
		return nil, fmt.Errorf("%w: expected %q, got %q", drmerr.ErrBadMagic, magic, m)
	}
	version, err := r.ReadU8()
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	d := &Device{}
	switch version {
	case versionV2:
		err = d.parseV2(r)
	case versionV3:
		err = d.parseV3(r)
	default:
		return nil, fmt.Errorf("%w: device version %d", drmerr.ErrUnsupportedVersion, version)
	}
	if err != nil {
		return nil, fmt.Errorf("device v%d: %w", version, err)
	}
	if d.SecurityLevel, err = leafSecurityLevel(d.CertificateChain); err != nil {
		return nil, err
	}
	return d, nil
}

// v2: cert_len, cert, encryption key, signing key
func (d *Device) parseV2(r *reader.Reader) error {
	var err error
	if d.CertificateChain, err = readChain(r); err != nil {
		return err
	}
	if d.EncryptionKey, err = readKeyPair(r); err != nil {
		return err
	}
	d.SigningKey, err = readKeyPair(r)
	return err
}

// v3: group key, encryption key, signing key, cert_len, cert
func (d *Device) parseV3(r *reader.Reader) error {
	group, err := readKeyPair(r)
	if err != nil {
		return err
	}
	if group.Private != [ecc.PrivateKeySize]byte{} {
		d.GroupKey = &group
	}
	if d.EncryptionKey, err = readKeyPair(r); err != nil {
		return err
	}
	if d.SigningKey, err = readKeyPair(r); err != nil {
		return err
	}
	d.CertificateChain, err = readChain(r)
	return err
}

func readKeyPair(r *reader.Reader) (ecc.KeyPair, error) {
	var kp ecc.KeyPair
	if err := r.Ensure(keySize); err != nil {
		return kp, err
	}
	_ = r.ReadInto(kp.Private[:])
	_ = r.ReadInto(kp.Public[:])
	return kp, nil
}

func readChain(r *reader.Reader) ([]byte, error) {
	n, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(int(n))
}

func leafSecurityLevel(chain []byte) (uint32, error) {
	c, err := bcert.ParseChain(chain)
	if err != nil {
		return 0, fmt.Errorf("device certificate: %w", err)
	}
	leaf := c.Leaf()
	if leaf == nil || leaf.BasicInfo() == nil {
		return 0, fmt.Errorf("%w: device certificate has no basic info", drmerr.ErrMalformed)
	}
	return leaf.BasicInfo().SecurityLevel, nil
}

// MarshalBinary encodes the device as a PRD v3 file. An absent group key
// is written as zeros.
func (d *Device) MarshalBinary() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddBytes([]byte(magic))
	b.AddUint8(versionV3)
	var group ecc.KeyPair
	if d.GroupKey != nil {
		group = *d.GroupKey
	}
	for _, kp := range []ecc.KeyPair{group, d.EncryptionKey, d.SigningKey} {
		b.AddBytes(kp.Private[:])
		b.AddBytes(kp.Public[:])
	}
	b.AddUint32(uint32(len(d.CertificateChain)))
	b.AddBytes(d.CertificateChain)
	return b.Bytes()
}

// Chain parses the device certificate chain.
func (d *Device) Chain() (*bcert.Chain, error) {
	return bcert.ParseChain(d.CertificateChain)
}
