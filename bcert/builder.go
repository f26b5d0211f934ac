package bcert

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/ecc"
	"github.com/devatadev/godrmcore/reader"
)

const (
	certVersion  = 1
	chainVersion = 1
)

// CertificateBuilder assembles a certificate attribute by attribute. The
// signature attribute is always added last by Sign.
type CertificateBuilder struct {
	attrs cryptobyte.Builder
}

func NewCertificateBuilder() *CertificateBuilder {
	return &CertificateBuilder{}
}

// AddAttribute appends a raw attribute.
func (b *CertificateBuilder) AddAttribute(flags uint16, tag AttributeTag, payload []byte) *CertificateBuilder {
	b.attrs.AddUint16(flags)
	b.attrs.AddUint16(uint16(tag))
	b.attrs.AddUint32(uint32(attributeHeaderSize + len(payload)))
	b.attrs.AddBytes(payload)
	return b
}

func (b *CertificateBuilder) AddBasicInfo(info BasicInfo) *CertificateBuilder {
	var p cryptobyte.Builder
	p.AddBytes(info.CertID[:])
	p.AddUint32(info.SecurityLevel)
	p.AddUint32(info.Flags)
	p.AddUint32(uint32(info.CertType))
	p.AddBytes(info.PublicKeyDigest[:])
	p.AddUint32(info.ExpirationDate)
	p.AddBytes(info.ClientID[:])
	return b.AddAttribute(FlagMustUnderstand, TagBasic, p.BytesOrPanic())
}

func (b *CertificateBuilder) AddKeys(keys ...CertKey) *CertificateBuilder {
	var p cryptobyte.Builder
	p.AddUint32(uint32(len(keys)))
	for _, k := range keys {
		p.AddUint16(k.Type)
		p.AddUint16(uint16(len(k.Key) * 8))
		p.AddUint32(k.Flags)
		p.AddBytes(k.Key)
		p.AddUint32(uint32(len(k.Usages)))
		for _, u := range k.Usages {
			p.AddUint32(uint32(u))
		}
	}
	return b.AddAttribute(FlagMustUnderstand, TagKey, p.BytesOrPanic())
}

func (b *CertificateBuilder) AddDeviceInfo(info DeviceInfo) *CertificateBuilder {
	var p cryptobyte.Builder
	p.AddUint32(info.MaxLicense)
	p.AddUint32(info.MaxHeader)
	p.AddUint32(info.MaxChainDepth)
	return b.AddAttribute(FlagMustUnderstand, TagDevice, p.BytesOrPanic())
}

func (b *CertificateBuilder) AddFeatures(features ...uint32) *CertificateBuilder {
	var p cryptobyte.Builder
	p.AddUint32(uint32(len(features)))
	for _, f := range features {
		p.AddUint32(f)
	}
	return b.AddAttribute(FlagMustUnderstand, TagFeature, p.BytesOrPanic())
}

func (b *CertificateBuilder) AddManufacturer(info ManufacturerInfo) *CertificateBuilder {
	var p cryptobyte.Builder
	p.AddUint32(info.Flags)
	addString(&p, info.Name)
	addString(&p, info.ModelName)
	addString(&p, info.ModelNumber)
	return b.AddAttribute(0, TagManufacturer, p.BytesOrPanic())
}

// Unsigned returns the certificate without a signature attribute. Its
// signed length covers the whole certificate.
func (b *CertificateBuilder) Unsigned() ([]byte, error) {
	body, err := b.attrs.Bytes()
	if err != nil {
		return nil, err
	}
	total := certHeaderSize + len(body)
	return marshalCertificate(uint32(total), uint32(total), body), nil
}

// Sign appends a signature attribute made with issuer over everything
// before it and returns the encoded certificate.
func (b *CertificateBuilder) Sign(issuer ecc.KeyPair) ([]byte, error) {
	body, err := b.attrs.Bytes()
	if err != nil {
		return nil, err
	}
	const sigAttrSize = attributeHeaderSize + 2 + 2 + ecc.SignatureSize + 4 + ecc.PublicKeySize
	signedLength := certHeaderSize + len(body)
	total := signedLength + sigAttrSize

	cert := marshalCertificate(uint32(total), uint32(signedLength), body)

	sig, err := ecc.Sign(issuer.Private, cert)
	if err != nil {
		return nil, fmt.Errorf("signing certificate: %w", err)
	}
	var p cryptobyte.Builder
	p.AddUint16(SignatureTypeP256SHA256)
	p.AddUint16(ecc.SignatureSize)
	p.AddBytes(sig[:])
	p.AddUint32(ecc.PublicKeySize * 8)
	p.AddBytes(issuer.Public[:])

	var out cryptobyte.Builder
	out.AddBytes(cert)
	out.AddUint16(FlagMustUnderstand)
	out.AddUint16(uint16(TagSignature))
	out.AddUint32(sigAttrSize)
	out.AddBytes(p.BytesOrPanic())
	return out.Bytes()
}

func marshalCertificate(total, signed uint32, body []byte) []byte {
	var c cryptobyte.Builder
	c.AddBytes([]byte(CertMagic))
	c.AddUint32(certVersion)
	c.AddUint32(total)
	c.AddUint32(signed)
	c.AddBytes(body)
	return c.BytesOrPanic()
}

func addString(p *cryptobyte.Builder, s string) {
	p.AddUint32(uint32(len(s)))
	p.AddBytes([]byte(s))
	if pad := (4 - len(s)%4) % 4; pad > 0 {
		p.AddBytes(make([]byte, pad))
	}
}

// MarshalChain wraps encoded certificates, leaf first, in a chain container.
func MarshalChain(certs ...[]byte) []byte {
	size := chainHeaderSize
	for _, c := range certs {
		size += len(c)
	}
	var b cryptobyte.Builder
	b.AddBytes([]byte(ChainMagic))
	b.AddUint32(chainVersion)
	b.AddUint32(uint32(size))
	b.AddUint32(0)
	b.AddUint32(uint32(len(certs)))
	for _, c := range certs {
		b.AddBytes(c)
	}
	return b.BytesOrPanic()
}

// PrependCertificate returns a copy of chain with cert added as the new
// leaf. The chain's version and flags are preserved.
func PrependCertificate(chain, cert []byte) ([]byte, error) {
	r := reader.New(chain)
	magic, err := r.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != ChainMagic {
		return nil, fmt.Errorf("%w: expected %q, got %q", drmerr.ErrBadMagic, ChainMagic, magic)
	}
	if err := r.Ensure(chainHeaderSize - 4); err != nil {
		return nil, err
	}
	version, _ := r.ReadU32BE()
	_, _ = r.ReadU32BE()
	flags, _ := r.ReadU32BE()
	count, _ := r.ReadU32BE()

	var b cryptobyte.Builder
	b.AddBytes([]byte(ChainMagic))
	b.AddUint32(version)
	b.AddUint32(uint32(len(chain) + len(cert)))
	b.AddUint32(flags)
	b.AddUint32(count + 1)
	b.AddBytes(cert)
	b.AddBytes(chain[chainHeaderSize:])
	return b.Bytes()
}
