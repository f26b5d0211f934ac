package device

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/devatadev/godrmcore/bcert"
	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/ecc"
)

// Leaf certificate limits and features written by Provision.
var (
	leafDeviceInfo = bcert.DeviceInfo{MaxLicense: 10240, MaxHeader: 15360, MaxChainDepth: 2}
	leafFeatures   = []uint32{4, 9, 13}
)

// Provision creates a device with fresh signing and encryption keys. Its
// leaf certificate is signed by group and prepended to groupChain, whose
// leaf must declare group's public key.
func Provision(rand io.Reader, group ecc.KeyPair, groupChain []byte) (*Device, error) {
	chain, err := bcert.ParseChain(groupChain)
	if err != nil {
		return nil, fmt.Errorf("group certificate: %w", err)
	}
	groupLeaf := chain.Leaf()
	if groupLeaf == nil || groupLeaf.BasicInfo() == nil {
		return nil, fmt.Errorf("%w: group certificate has no basic info", drmerr.ErrMalformed)
	}
	if subtle.ConstantTimeCompare(groupLeaf.IssuerKey(), group.Public[:]) != 1 {
		return nil, fmt.Errorf("%w: group key does not match group certificate", drmerr.ErrMalformed)
	}

	d := &Device{GroupKey: &group, SecurityLevel: groupLeaf.BasicInfo().SecurityLevel}
	if d.SigningKey, err = ecc.GenerateKeyPair(rand); err != nil {
		return nil, err
	}
	if d.EncryptionKey, err = ecc.GenerateKeyPair(rand); err != nil {
		return nil, err
	}

	basic := bcert.BasicInfo{
		SecurityLevel:   d.SecurityLevel,
		CertType:        bcert.CertTypeDevice,
		PublicKeyDigest: sha256.Sum256(d.SigningKey.Public[:]),
		ExpirationDate:  bcert.NeverExpires,
	}
	if _, err := io.ReadFull(rand, basic.CertID[:]); err != nil {
		return nil, fmt.Errorf("certificate id: %w", err)
	}
	basic.ClientID = groupLeaf.BasicInfo().ClientID

	builder := bcert.NewCertificateBuilder().
		AddBasicInfo(basic).
		AddDeviceInfo(leafDeviceInfo).
		AddFeatures(leafFeatures...).
		AddKeys(
			bcert.CertKey{Type: bcert.KeyTypeECC256, Key: d.SigningKey.Public[:], Usages: []bcert.KeyUsage{bcert.KeyUsageSign}},
			bcert.CertKey{Type: bcert.KeyTypeECC256, Key: d.EncryptionKey.Public[:], Usages: []bcert.KeyUsage{bcert.KeyUsageEncryptKey}},
		)
	if m := groupLeaf.ManufacturerInfo(); m != nil {
		builder.AddManufacturer(*m)
	}
	leaf, err := builder.Sign(group)
	if err != nil {
		return nil, err
	}
	if d.CertificateChain, err = bcert.PrependCertificate(groupChain, leaf); err != nil {
		return nil, err
	}
	return d, nil
}
