package bcert

import (
	"fmt"
	"slices"
	"time"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/reader"
)

// Attribute is one TLV entry of a certificate.
type Attribute struct {
	Flags uint16
	Tag   AttributeTag
	Data  AttributeData
}

// AttributeData is the decoded payload of an attribute. It is one of the
// *Info types in this package or *UnknownAttribute.
type AttributeData interface {
	attributeData()
}

type BasicInfo struct {
	CertID          [16]byte
	SecurityLevel   uint32
	Flags           uint32
	CertType        CertType
	PublicKeyDigest [32]byte
	ExpirationDate  uint32
	ClientID        [16]byte
}

// Expired reports whether the certificate's expiration date is before t.
func (b *BasicInfo) Expired(t time.Time) bool {
	if b.ExpirationDate == NeverExpires {
		return false
	}
	return t.Unix() > int64(b.ExpirationDate)
}

type DomainInfo struct {
	ServiceID         [16]byte
	AccountID         [16]byte
	RevisionTimestamp uint32
	DomainURL         string
}

type PCInfo struct {
	SecurityVersion uint32
}

type DeviceInfo struct {
	MaxLicense    uint32
	MaxHeader     uint32
	MaxChainDepth uint32
}

type FeatureInfo struct {
	Features []uint32
}

type KeyInfo struct {
	Keys []CertKey
}

// CertKey is a public key embedded in a certificate.
type CertKey struct {
	Type   uint16
	Key    []byte // X‖Y for ECC-256
	Flags  uint32
	Usages []KeyUsage
}

// HasUsage reports whether any of usages is listed for the key.
func (k *CertKey) HasUsage(usages ...KeyUsage) bool {
	for _, u := range usages {
		if slices.Contains(k.Usages, u) {
			return true
		}
	}
	return false
}

type ManufacturerInfo struct {
	Flags       uint32
	Name        string
	ModelName   string
	ModelNumber string
}

// SignatureInfo is the issuer's signature over the certificate's signed
// region together with the issuer public key that produced it.
type SignatureInfo struct {
	Type       uint16
	Signature  []byte
	SigningKey []byte
}

type SilverlightInfo struct {
	SecurityVersion    uint32
	PlatformIdentifier uint32
}

type MeteringInfo struct {
	MeteringID  [16]byte
	MeteringURL string
}

type ExtDataSignKeyInfo struct {
	Type  uint16
	Flags uint32
	Key   []byte
}

type ServerInfo struct {
	WarningDays uint32
}

type SecurityVersionInfo struct {
	SecurityVersion    uint32
	PlatformIdentifier uint32
}

// UnknownAttribute keeps the payload of tags this package does not decode.
type UnknownAttribute struct {
	Payload []byte
}

func (*BasicInfo) attributeData()           {}
func (*DomainInfo) attributeData()          {}
func (*PCInfo) attributeData()              {}
func (*DeviceInfo) attributeData()          {}
func (*FeatureInfo) attributeData()         {}
func (*KeyInfo) attributeData()             {}
func (*ManufacturerInfo) attributeData()    {}
func (*SignatureInfo) attributeData()       {}
func (*SilverlightInfo) attributeData()     {}
func (*MeteringInfo) attributeData()        {}
func (*ExtDataSignKeyInfo) attributeData()  {}
func (*ServerInfo) attributeData()          {}
func (*SecurityVersionInfo) attributeData() {}
func (*UnknownAttribute) attributeData()    {}

type attributeDecoder func(r *reader.Reader) (AttributeData, error)

var attributeDecoders = map[AttributeTag]attributeDecoder{
	TagBasic:            decodeBasic,
	TagDomain:           decodeDomain,
	TagPC:               decodePC,
	TagDevice:           decodeDevice,
	TagFeature:          decodeFeature,
	TagKey:              decodeKey,
	TagManufacturer:     decodeManufacturer,
	TagSignature:        decodeSignature,
	TagSilverlight:      decodeSilverlight,
	TagMetering:         decodeMetering,
	TagExtDataSignKey:   decodeExtDataSignKey,
	TagServer:           decodeServer,
	TagSecurityVersion:  decodeSecurityVersion,
	TagSecurityVersion2: decodeSecurityVersion,
}

func parseAttribute(r *reader.Reader) (Attribute, error) {
	flags, err := r.ReadU16BE()
	if err != nil {
		return Attribute{}, err
	}
	tag, err := r.ReadU16BE()
	if err != nil {
		return Attribute{}, err
	}
	length, err := r.ReadU32BE()
	if err != nil {
		return Attribute{}, err
	}
	if length < attributeHeaderSize {
		return Attribute{}, fmt.Errorf("%w: attribute 0x%04X declares length %d", drmerr.ErrMalformed, tag, length)
	}
	payload, err := r.ReadBytes(int(length - attributeHeaderSize))
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute 0x%04X: %w", tag, err)
	}

	attr := Attribute{Flags: flags, Tag: AttributeTag(tag)}
	decode, ok := attributeDecoders[attr.Tag]
	if !ok {
		attr.Data = &UnknownAttribute{Payload: payload}
		return attr, nil
	}
	if attr.Data, err = decode(reader.New(payload)); err != nil {
		return Attribute{}, fmt.Errorf("attribute %s: %w", attr.Tag, err)
	}
	return attr, nil
}

func decodeBasic(r *reader.Reader) (AttributeData, error) {
	if err := r.Ensure(basicInfoSize); err != nil {
		return nil, err
	}
	var b BasicInfo
	_ = r.ReadInto(b.CertID[:])
	b.SecurityLevel, _ = r.ReadU32BE()
	b.Flags, _ = r.ReadU32BE()
	certType, _ := r.ReadU32BE()
	b.CertType = CertType(certType)
	_ = r.ReadInto(b.PublicKeyDigest[:])
	b.ExpirationDate, _ = r.ReadU32BE()
	_ = r.ReadInto(b.ClientID[:])
	return &b, nil
}

func decodeDomain(r *reader.Reader) (AttributeData, error) {
	var d DomainInfo
	if err := r.ReadInto(d.ServiceID[:]); err != nil {
		return nil, err
	}
	if err := r.ReadInto(d.AccountID[:]); err != nil {
		return nil, err
	}
	var err error
	if d.RevisionTimestamp, err = r.ReadU32BE(); err != nil {
		return nil, err
	}
	if d.DomainURL, err = readString(r); err != nil {
		return nil, err
	}
	return &d, nil
}

func decodePC(r *reader.Reader) (AttributeData, error) {
	v, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	return &PCInfo{SecurityVersion: v}, nil
}

func decodeDevice(r *reader.Reader) (AttributeData, error) {
	if err := r.Ensure(12); err != nil {
		return nil, err
	}
	var d DeviceInfo
	d.MaxLicense, _ = r.ReadU32BE()
	d.MaxHeader, _ = r.ReadU32BE()
	d.MaxChainDepth, _ = r.ReadU32BE()
	return &d, nil
}

func decodeFeature(r *reader.Reader) (AttributeData, error) {
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	n := min(int(count), maxFeatures)
	f := &FeatureInfo{Features: make([]uint32, 0, n)}
	for i := 0; i < n; i++ {
		v, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		f.Features = append(f.Features, v)
	}
	return f, nil
}

func decodeKey(r *reader.Reader) (AttributeData, error) {
	count, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	// each key needs at least 12 bytes, which bounds the allocation
	info := &KeyInfo{Keys: make([]CertKey, 0, min(int(count), r.Remaining()/12))}
	for i := uint32(0); i < count; i++ {
		var k CertKey
		if k.Type, err = r.ReadU16BE(); err != nil {
			return nil, err
		}
		bits, err := r.ReadU16BE()
		if err != nil {
			return nil, err
		}
		if k.Flags, err = r.ReadU32BE(); err != nil {
			return nil, err
		}
		if k.Key, err = r.ReadBytes(int(bits) / 8); err != nil {
			return nil, err
		}
		usageCount, err := r.ReadU32BE()
		if err != nil {
			return nil, err
		}
		if err := r.Ensure(int(usageCount) * 4); err != nil {
			return nil, err
		}
		k.Usages = make([]KeyUsage, usageCount)
		for j := range k.Usages {
			u, _ := r.ReadU32BE()
			k.Usages[j] = KeyUsage(u)
		}
		info.Keys = append(info.Keys, k)
	}
	return info, nil
}

func decodeManufacturer(r *reader.Reader) (AttributeData, error) {
	var (
		m   ManufacturerInfo
		err error
	)
	if m.Flags, err = r.ReadU32BE(); err != nil {
		return nil, err
	}
	if m.Name, err = readString(r); err != nil {
		return nil, err
	}
	if m.ModelName, err = readString(r); err != nil {
		return nil, err
	}
	if m.ModelNumber, err = readString(r); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeSignature(r *reader.Reader) (AttributeData, error) {
	var (
		s   SignatureInfo
		err error
	)
	if s.Type, err = r.ReadU16BE(); err != nil {
		return nil, err
	}
	if s.Type != SignatureTypeP256SHA256 {
		return nil, fmt.Errorf("%w: signature type %d", drmerr.ErrUnknownEnum, s.Type)
	}
	size, err := r.ReadU16BE()
	if err != nil {
		return nil, err
	}
	if s.Signature, err = r.ReadBytes(int(size)); err != nil {
		return nil, err
	}
	bits, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	if s.SigningKey, err = r.ReadBytes(int(bits / 8)); err != nil {
		return nil, err
	}
	return &s, nil
}

func decodeSilverlight(r *reader.Reader) (AttributeData, error) {
	if err := r.Ensure(8); err != nil {
		return nil, err
	}
	var s SilverlightInfo
	s.SecurityVersion, _ = r.ReadU32BE()
	s.PlatformIdentifier, _ = r.ReadU32BE()
	return &s, nil
}

func decodeMetering(r *reader.Reader) (AttributeData, error) {
	var m MeteringInfo
	if err := r.ReadInto(m.MeteringID[:]); err != nil {
		return nil, err
	}
	var err error
	if m.MeteringURL, err = readString(r); err != nil {
		return nil, err
	}
	return &m, nil
}

func decodeExtDataSignKey(r *reader.Reader) (AttributeData, error) {
	if err := r.Ensure(8); err != nil {
		return nil, err
	}
	var e ExtDataSignKeyInfo
	e.Type, _ = r.ReadU16BE()
	bits, _ := r.ReadU16BE()
	e.Flags, _ = r.ReadU32BE()
	var err error
	if e.Key, err = r.ReadBytes(int(bits) / 8); err != nil {
		return nil, err
	}
	return &e, nil
}

func decodeServer(r *reader.Reader) (AttributeData, error) {
	v, err := r.ReadU32BE()
	if err != nil {
		return nil, err
	}
	return &ServerInfo{WarningDays: v}, nil
}

func decodeSecurityVersion(r *reader.Reader) (AttributeData, error) {
	if err := r.Ensure(8); err != nil {
		return nil, err
	}
	var s SecurityVersionInfo
	s.SecurityVersion, _ = r.ReadU32BE()
	s.PlatformIdentifier, _ = r.ReadU32BE()
	return &s, nil
}

func readString(r *reader.Reader) (string, error) {
	n, err := r.ReadU32BE()
	if err != nil {
		return "", err
	}
	return r.ReadPaddedString(int(n))
}
