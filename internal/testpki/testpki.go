// Package testpki builds throwaway certificate hierarchies for tests.
package testpki

import (
	"crypto/rand"
	"testing"

	"github.com/devatadev/godrmcore/bcert"
	"github.com/devatadev/godrmcore/ecc"
)

// PKI is a root certificate and a group certificate it signed.
type PKI struct {
	Root       ecc.KeyPair
	Group      ecc.KeyPair
	GroupChain []byte
}

// New builds a two-level hierarchy with a group security level of 2000.
func New(t testing.TB) *PKI {
	t.Helper()
	p := &PKI{Root: KeyPair(t), Group: KeyPair(t)}

	root, err := bcert.NewCertificateBuilder().
		AddBasicInfo(bcert.BasicInfo{SecurityLevel: 2000, CertType: bcert.CertTypeIssuer, ExpirationDate: bcert.NeverExpires}).
		AddKeys(bcert.CertKey{Type: bcert.KeyTypeECC256, Key: p.Root.Public[:], Usages: []bcert.KeyUsage{bcert.KeyUsageIssuerAll}}).
		Sign(p.Root)
	if err != nil {
		t.Fatalf("root certificate: %v", err)
	}
	group, err := bcert.NewCertificateBuilder().
		AddBasicInfo(bcert.BasicInfo{SecurityLevel: 2000, CertType: bcert.CertTypeDevice, ExpirationDate: bcert.NeverExpires}).
		AddKeys(bcert.CertKey{Type: bcert.KeyTypeECC256, Key: p.Group.Public[:], Usages: []bcert.KeyUsage{bcert.KeyUsageIssuerDevice}}).
		AddManufacturer(bcert.ManufacturerInfo{Name: "Test", ModelName: "Model", ModelNumber: "1"}).
		Sign(p.Root)
	if err != nil {
		t.Fatalf("group certificate: %v", err)
	}
	p.GroupChain = bcert.MarshalChain(group, root)
	return p
}

func KeyPair(t testing.TB) ecc.KeyPair {
	t.Helper()
	kp, err := ecc.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return kp
}
