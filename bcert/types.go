package bcert

import "fmt"

const (
	ChainMagic = "CHAI"
	CertMagic  = "CERT"

	chainHeaderSize     = 20
	certHeaderSize      = 16
	attributeHeaderSize = 8
	basicInfoSize       = 80
	maxFeatures         = 32
)

// AttributeTag identifies the payload of a certificate attribute.
type AttributeTag uint16

const (
	TagBasic            AttributeTag = 0x0001
	TagDomain           AttributeTag = 0x0002
	TagPC               AttributeTag = 0x0003
	TagDevice           AttributeTag = 0x0004
	TagFeature          AttributeTag = 0x0005
	TagKey              AttributeTag = 0x0006
	TagManufacturer     AttributeTag = 0x0007
	TagSignature        AttributeTag = 0x0008
	TagSilverlight      AttributeTag = 0x0009
	TagMetering         AttributeTag = 0x000A
	TagExtDataSignKey   AttributeTag = 0x000B
	TagExtDataContainer AttributeTag = 0x000C
	TagExtDataSignature AttributeTag = 0x000D
	TagExtDataHWID      AttributeTag = 0x000E
	TagServer           AttributeTag = 0x000F
	TagSecurityVersion  AttributeTag = 0x0010
	TagSecurityVersion2 AttributeTag = 0x0011
)

var attributeTagNames = map[AttributeTag]string{
	TagBasic:            "BASIC",
	TagDomain:           "DOMAIN",
	TagPC:               "PC",
	TagDevice:           "DEVICE",
	TagFeature:          "FEATURE",
	TagKey:              "KEY",
	TagManufacturer:     "MANUFACTURER",
	TagSignature:        "SIGNATURE",
	TagSilverlight:      "SILVERLIGHT",
	TagMetering:         "METERING",
	TagExtDataSignKey:   "EXTDATA_SIGN_KEY",
	TagExtDataContainer: "EXTDATA_CONTAINER",
	TagExtDataSignature: "EXTDATA_SIGNATURE",
	TagExtDataHWID:      "EXTDATA_HWID",
	TagServer:           "SERVER",
	TagSecurityVersion:  "SECURITY_VERSION",
	TagSecurityVersion2: "SECURITY_VERSION_2",
}

func (t AttributeTag) String() string {
	if name, ok := attributeTagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", uint16(t))
}

// Attribute flags.
const (
	FlagMustUnderstand uint16 = 0x0001
	FlagContainerObj   uint16 = 0x0002
)

// CertType is the certificate role declared in BasicInfo.
type CertType uint32

const (
	CertTypeUnknown CertType = iota
	CertTypePC
	CertTypeDevice
	CertTypeDomain
	CertTypeIssuer
	CertTypeCRLSigner
	CertTypeService
	CertTypeSilverlight
	CertTypeApplication
	CertTypeMetering
	CertTypeKeyFileSigner
	CertTypeServer
	CertTypeLicenseSigner
	CertTypeSecureTimeServer
	CertTypeRProvModelAuth
)

var certTypeNames = [...]string{
	"UNKNOWN", "PC", "DEVICE", "DOMAIN", "ISSUER", "CRL_SIGNER", "SERVICE",
	"SILVERLIGHT", "APPLICATION", "METERING", "KEYFILE_SIGNER", "SERVER",
	"LICENSE_SIGNER", "SECURE_TIME_SERVER", "RPROV_MODEL_AUTH",
}

func (t CertType) String() string {
	if int(t) < len(certTypeNames) {
		return certTypeNames[t]
	}
	return fmt.Sprintf("CertType(%d)", uint32(t))
}

// KeyUsage marks what an embedded key may be used for.
type KeyUsage uint32

const (
	KeyUsageUnknown KeyUsage = iota
	KeyUsageSign
	KeyUsageEncryptKey
	KeyUsageSignCRL
	KeyUsageIssuerAll
	KeyUsageIssuerIndiv
	KeyUsageIssuerDevice
	KeyUsageIssuerLink
	KeyUsageIssuerDomain
	KeyUsageIssuerSilverlight
	KeyUsageIssuerApplication
	KeyUsageIssuerCRL
	KeyUsageIssuerMetering
	KeyUsageIssuerSignKeyfile
	KeyUsageSignKeyfile
	KeyUsageIssuerServer
	KeyUsageEncryptKeySampleProtectionRC4
	KeyUsageReserved2
	KeyUsageIssuerSignLicense
	KeyUsageSignLicense
	KeyUsageSignResponse
	KeyUsagePRNDEncryptKeyDeprecated
	KeyUsageEncryptKeySampleProtectionAES128CTR
	KeyUsageIssuerSecureTimeServer
	KeyUsageIssuerRProvModelAuth
)

// issuerUsages are the usages that entitle a key to sign subordinate certificates.
var issuerUsages = []KeyUsage{
	KeyUsageSign,
	KeyUsageIssuerAll,
	KeyUsageIssuerIndiv,
	KeyUsageIssuerDevice,
	KeyUsageIssuerLink,
	KeyUsageIssuerDomain,
	KeyUsageIssuerSilverlight,
	KeyUsageIssuerApplication,
	KeyUsageIssuerCRL,
	KeyUsageIssuerMetering,
	KeyUsageIssuerSignKeyfile,
	KeyUsageIssuerServer,
	KeyUsageIssuerSignLicense,
	KeyUsageIssuerSecureTimeServer,
	KeyUsageIssuerRProvModelAuth,
}

// Key and signature algorithm identifiers.
const (
	KeyTypeECC256           uint16 = 0x0001
	SignatureTypeP256SHA256 uint16 = 0x0001
)

// NeverExpires is the BasicInfo expiration value for certificates without an end date.
const NeverExpires uint32 = 0xFFFFFFFF
