package license

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// LicenseType is the kind of license being asked for.
type LicenseType int32

const (
	LicenseStreaming LicenseType = 1
	LicenseOffline   LicenseType = 2
	LicenseAutomatic LicenseType = 3
)

var licenseTypeNames = map[string]LicenseType{
	"STREAMING": LicenseStreaming,
	"OFFLINE":   LicenseOffline,
	"AUTOMATIC": LicenseAutomatic,
}

// ParseLicenseType maps a license type name onto its value.
func ParseLicenseType(s string) (LicenseType, error) {
	t, ok := licenseTypeNames[s]
	if !ok {
		return 0, fmt.Errorf("unknown license type %q", s)
	}
	return t, nil
}

const (
	requestTypeNew  = 1
	protocolVersion = 21 // 2.1
	tokenTypeChain  = 1
)

// Request is the license request a client sends inside a SignedMessage.
// The client identifies itself with its certificate chain.
type Request struct {
	ClientChain []byte
	PSSHData    [][]byte
	LicenseType LicenseType
	RequestID   []byte
	RequestTime int64
	Nonce       uint32
}

func (r *Request) Marshal() []byte {
	var client []byte
	client = appendVarint(client, 1, tokenTypeChain)
	client = appendBytes(client, 2, r.ClientChain)

	var pssh []byte
	for _, d := range r.PSSHData {
		pssh = protowire.AppendTag(pssh, 1, protowire.BytesType)
		pssh = protowire.AppendBytes(pssh, d)
	}
	pssh = appendVarint(pssh, 2, uint64(r.LicenseType))
	pssh = appendBytes(pssh, 3, r.RequestID)

	var contentID []byte
	contentID = appendBytes(contentID, 1, pssh)

	var b []byte
	b = appendBytes(b, 1, client)
	b = appendBytes(b, 2, contentID)
	b = appendVarint(b, 3, requestTypeNew)
	b = appendVarint(b, 4, uint64(r.RequestTime))
	b = appendVarint(b, 6, protocolVersion)
	b = appendVarint(b, 7, uint64(r.Nonce))
	return b
}

func UnmarshalRequest(b []byte) (*Request, error) {
	r := &Request{}
	err := consumeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			var client []byte
			if err := f.bytes(&client); err != nil {
				return err
			}
			return consumeFields(client, func(num protowire.Number, f field) error {
				if num == 2 {
					return f.bytes(&r.ClientChain)
				}
				return nil
			})
		case 2:
			var contentID []byte
			if err := f.bytes(&contentID); err != nil {
				return err
			}
			return consumeFields(contentID, func(num protowire.Number, f field) error {
				if num != 1 {
					return nil
				}
				var pssh []byte
				if err := f.bytes(&pssh); err != nil {
					return err
				}
				return r.unmarshalPSSH(pssh)
			})
		case 4:
			v, err := f.varint()
			r.RequestTime = int64(v)
			return err
		case 7:
			v, err := f.varint()
			r.Nonce = uint32(v)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("license request: %w", err)
	}
	return r, nil
}

func (r *Request) unmarshalPSSH(b []byte) error {
	return consumeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			var d []byte
			if err := f.bytes(&d); err != nil {
				return err
			}
			r.PSSHData = append(r.PSSHData, d)
		case 2:
			v, err := f.varint()
			r.LicenseType = LicenseType(v)
			return err
		case 3:
			return f.bytes(&r.RequestID)
		}
		return nil
	})
}
