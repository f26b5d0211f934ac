package bcert

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/ecc"
)

// VerifiedKeys are the leaf keys of a chain that verified up to a trusted
// root.
type VerifiedKeys struct {
	Leaf          *Certificate
	SigningKey    []byte
	EncryptionKey []byte
	SecurityLevel uint32
}

// Verifier checks chains against a root key fetched on every call.
type Verifier struct {
	root func() ([]byte, error)
}

func NewVerifier(root func() ([]byte, error)) *Verifier {
	return &Verifier{root: root}
}

// Verify checks chain against the current trusted root.
func (v *Verifier) Verify(chain *Chain) (*VerifiedKeys, error) {
	root, err := v.root()
	if err != nil {
		return nil, fmt.Errorf("fetching trusted root: %w", err)
	}
	return VerifyChain(chain, root)
}

// VerifyChain checks every link of chain from the leaf up. The last
// certificate must declare root as its own issuer key and be self-signed
// with it. Any failure is reported as
// drmerr.ErrChainUntrusted and no keys are returned.
func VerifyChain(chain *Chain, root []byte) (*VerifiedKeys, error) {
	if chain == nil || chain.Len() == 0 {
		return nil, fmt.Errorf("%w: empty chain", drmerr.ErrChainUntrusted)
	}
	anchor, err := publicKey(root)
	if err != nil {
		return nil, fmt.Errorf("%w: trusted root: %v", drmerr.ErrChainUntrusted, err)
	}

	last := chain.Len() - 1
	for i := 0; i < last; i++ {
		parentKey := chain.Certificates[i+1].IssuerKey()
		if parentKey == nil {
			return nil, fmt.Errorf("%w: certificate %d has no issuer key", drmerr.ErrChainUntrusted, i+1)
		}
		if err := checkSignature(chain.Certificates[i], parentKey); err != nil {
			return nil, fmt.Errorf("%w: certificate %d: %v", drmerr.ErrChainUntrusted, i, err)
		}
		glog.V(2).Infof("bcert: link %d verified", i)
	}
	// The last certificate must be the anchor's own self-signed certificate.
	// A certificate merely signed by the anchor is not enough.
	rootCert := chain.Root()
	if subtle.ConstantTimeCompare(rootCert.IssuerKey(), anchor[:]) != 1 {
		return nil, fmt.Errorf("%w: root certificate does not declare the trusted key", drmerr.ErrChainUntrusted)
	}
	if err := checkSignature(rootCert, anchor[:]); err != nil {
		return nil, fmt.Errorf("%w: root certificate: %v", drmerr.ErrChainUntrusted, err)
	}
	glog.V(2).Infof("bcert: chain of %d verified against trusted root", chain.Len())

	leaf := chain.Leaf()
	return &VerifiedKeys{
		Leaf:          leaf,
		SigningKey:    leaf.SigningKey(),
		EncryptionKey: leaf.EncryptionKey(),
		SecurityLevel: leaf.SecurityLevel(),
	}, nil
}

var errUnexpectedIssuer = errors.New("signed by an unexpected key")

// checkSignature verifies that cert was signed by issuer. The returned
// errors never say whether a signature was malformed or merely wrong.
func checkSignature(cert *Certificate, issuer []byte) error {
	sig := cert.SignatureInfo()
	if sig == nil {
		return fmt.Errorf("%w: missing signature", drmerr.ErrMalformed)
	}
	if subtle.ConstantTimeCompare(sig.SigningKey, issuer) != 1 {
		return errUnexpectedIssuer
	}
	signed, err := cert.SignedBytes()
	if err != nil {
		return err
	}
	key, err := publicKey(issuer)
	if err != nil {
		return err
	}
	if err := ecc.Verify(key, signed, sig.Signature); err != nil {
		return drmerr.ErrSignatureMismatch
	}
	return nil
}

func publicKey(b []byte) ([ecc.PublicKeySize]byte, error) {
	var key [ecc.PublicKeySize]byte
	if len(b) != ecc.PublicKeySize {
		return key, fmt.Errorf("%w: public key is %d bytes", drmerr.ErrMalformed, len(b))
	}
	copy(key[:], b)
	return key, nil
}
