// Package bcert parses binary certificate chains ("CHAI" containers of
// "CERT" records) and verifies them against a trusted root key.
package bcert

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/reader"
)

// Chain is a parsed certificate chain. Certificates are ordered leaf first.
type Chain struct {
	Version      uint32
	Flags        uint32
	Certificates []*Certificate
}

// Certificate is a parsed certificate. It keeps the exact bytes it was
// parsed from so signatures are always checked against the original
// encoding.
type Certificate struct {
	Version      uint32
	TotalLength  uint32
	SignedLength uint32
	Attributes   []Attribute

	raw []byte
}

// ParseChain decodes a certificate chain. The input is copied once so the
// result does not alias the caller's buffer. Bytes after the last
// certificate are ignored.
func ParseChain(data []byte) (*Chain, error) {
	r := reader.New(bytes.Clone(data))

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("chain header: %w", err)
	}
	if string(magic) != ChainMagic {
		return nil, fmt.Errorf("%w: expected %q, got %q", drmerr.ErrBadMagic, ChainMagic, magic)
	}
	if err := r.Ensure(chainHeaderSize - 4); err != nil {
		return nil, fmt.Errorf("chain header: %w", err)
	}
	chain := &Chain{}
	chain.Version, _ = r.ReadU32BE()
	_, _ = r.ReadU32BE() // total length, informational
	chain.Flags, _ = r.ReadU32BE()
	count, _ := r.ReadU32BE()

	for i := uint32(0); i < count; i++ {
		cert, err := parseCertificate(r)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", i, err)
		}
		chain.Certificates = append(chain.Certificates, cert)
	}
	return chain, nil
}

// ParseCertificate decodes a single certificate that is not wrapped in a
// chain container.
func ParseCertificate(data []byte) (*Certificate, error) {
	return parseCertificate(reader.New(bytes.Clone(data)))
}

func parseCertificate(r *reader.Reader) (*Certificate, error) {
	start := r.Position()

	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != CertMagic {
		return nil, fmt.Errorf("%w: expected %q, got %q", drmerr.ErrBadMagic, CertMagic, magic)
	}
	if err := r.Ensure(certHeaderSize - 4); err != nil {
		return nil, err
	}
	cert := &Certificate{}
	cert.Version, _ = r.ReadU32BE()
	cert.TotalLength, _ = r.ReadU32BE()
	cert.SignedLength, _ = r.ReadU32BE()

	if cert.TotalLength < certHeaderSize {
		return nil, fmt.Errorf("%w: certificate total length %d", drmerr.ErrMalformed, cert.TotalLength)
	}
	end := min(start+int(cert.TotalLength), len(r.Data()))
	cert.raw = r.Data()[start:end:end]

	// Attributes are read from the shared cursor; one that overruns the
	// boundary ends the certificate and the cursor is pulled back to it.
	for r.Position() < end && end-r.Position() >= attributeHeaderSize {
		attr, err := parseAttribute(r)
		if err != nil {
			return nil, err
		}
		cert.Attributes = append(cert.Attributes, attr)
	}
	r.Seek(end)
	return cert, nil
}

// Leaf returns the first certificate, or nil for an empty chain.
func (c *Chain) Leaf() *Certificate {
	if len(c.Certificates) == 0 {
		return nil
	}
	return c.Certificates[0]
}

// Root returns the last certificate, or nil for an empty chain.
func (c *Chain) Root() *Certificate {
	if len(c.Certificates) == 0 {
		return nil
	}
	return c.Certificates[len(c.Certificates)-1]
}

func (c *Chain) Len() int {
	return len(c.Certificates)
}

// Raw returns the certificate's bytes as parsed.
func (c *Certificate) Raw() []byte {
	return c.raw
}

// SignedBytes returns the prefix of the certificate covered by its signature.
func (c *Certificate) SignedBytes() ([]byte, error) {
	if c.SignedLength < certHeaderSize || int(c.SignedLength) > len(c.raw) {
		return nil, fmt.Errorf("%w: signed length %d exceeds certificate length %d",
			drmerr.ErrMalformed, c.SignedLength, len(c.raw))
	}
	return c.raw[:c.SignedLength], nil
}

// Attribute returns the first attribute with the given tag.
func (c *Certificate) Attribute(tag AttributeTag) (Attribute, bool) {
	i := slices.IndexFunc(c.Attributes, func(a Attribute) bool { return a.Tag == tag })
	if i < 0 {
		return Attribute{}, false
	}
	return c.Attributes[i], true
}

func findData[T AttributeData](c *Certificate) T {
	var zero T
	for _, a := range c.Attributes {
		if v, ok := a.Data.(T); ok {
			return v
		}
	}
	return zero
}

func (c *Certificate) BasicInfo() *BasicInfo               { return findData[*BasicInfo](c) }
func (c *Certificate) KeyInfo() *KeyInfo                   { return findData[*KeyInfo](c) }
func (c *Certificate) SignatureInfo() *SignatureInfo       { return findData[*SignatureInfo](c) }
func (c *Certificate) ManufacturerInfo() *ManufacturerInfo { return findData[*ManufacturerInfo](c) }
func (c *Certificate) DeviceInfo() *DeviceInfo             { return findData[*DeviceInfo](c) }
func (c *Certificate) FeatureInfo() *FeatureInfo           { return findData[*FeatureInfo](c) }

// SecurityVersion returns the first SecurityVersion or SecurityVersion2
// attribute, nil when absent.
func (c *Certificate) SecurityVersion() *SecurityVersionInfo {
	return findData[*SecurityVersionInfo](c)
}

// KeyByUsage returns the first embedded key carrying any of usages.
func (c *Certificate) KeyByUsage(usages ...KeyUsage) []byte {
	info := c.KeyInfo()
	if info == nil {
		return nil
	}
	for i := range info.Keys {
		if info.Keys[i].HasUsage(usages...) {
			return info.Keys[i].Key
		}
	}
	return nil
}

// SigningKey returns the first key with the Sign usage.
func (c *Certificate) SigningKey() []byte {
	return c.KeyByUsage(KeyUsageSign)
}

// EncryptionKey returns the first key with the EncryptKey usage.
func (c *Certificate) EncryptionKey() []byte {
	return c.KeyByUsage(KeyUsageEncryptKey)
}

// IssuerKey returns the key this certificate uses to sign subordinate
// certificates: the first key with Sign or any issuer usage.
func (c *Certificate) IssuerKey() []byte {
	return c.KeyByUsage(issuerUsages...)
}

// SecurityLevel is a shorthand for BasicInfo().SecurityLevel. It is zero
// when the certificate has no BasicInfo.
func (c *Certificate) SecurityLevel() uint32 {
	if b := c.BasicInfo(); b != nil {
		return b.SecurityLevel
	}
	return 0
}
