package license

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/devatadev/godrmcore/drmerr"
)

// MessageType is the SignedMessage.type field.
type MessageType int32

const (
	MessageLicenseRequest            MessageType = 1
	MessageLicense                   MessageType = 2
	MessageErrorResponse             MessageType = 3
	MessageServiceCertificateRequest MessageType = 4
	MessageServiceCertificate        MessageType = 5
)

// SignedMessage is the envelope of every request and response.
type SignedMessage struct {
	Type      MessageType
	Msg       []byte
	Signature []byte
	// SessionKey carries the ElGamal-encrypted session key in license
	// responses.
	SessionKey []byte
}

// ServiceCertificateRequest is the encoded SignedMessage asking a license
// server for its certificate.
var ServiceCertificateRequest = (&SignedMessage{Type: MessageServiceCertificateRequest}).Marshal()

func (m *SignedMessage) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Type))
	b = appendBytes(b, 2, m.Msg)
	b = appendBytes(b, 3, m.Signature)
	b = appendBytes(b, 4, m.SessionKey)
	return b
}

func UnmarshalSignedMessage(b []byte) (*SignedMessage, error) {
	m := &SignedMessage{}
	err := consumeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			v, err := f.varint()
			m.Type = MessageType(v)
			return err
		case 2:
			return f.bytes(&m.Msg)
		case 3:
			return f.bytes(&m.Signature)
		case 4:
			return f.bytes(&m.SessionKey)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("signed message: %w", err)
	}
	return m, nil
}

// License is the body of a license response.
type License struct {
	ID        []byte
	Keys      []KeyContainer
	StartTime int64
}

// KeyContainer is one wrapped key inside a license.
type KeyContainer struct {
	ID    []byte
	IV    []byte
	Key   []byte
	Type  KeyType
	Level uint32
}

func (l *License) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, l.ID)
	for i := range l.Keys {
		b = appendBytes(b, 3, l.Keys[i].Marshal())
	}
	if l.StartTime != 0 {
		b = appendVarint(b, 4, uint64(l.StartTime))
	}
	return b
}

func UnmarshalLicense(b []byte) (*License, error) {
	l := &License{}
	err := consumeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			return f.bytes(&l.ID)
		case 3:
			var raw []byte
			if err := f.bytes(&raw); err != nil {
				return err
			}
			kc, err := UnmarshalKeyContainer(raw)
			if err != nil {
				return err
			}
			l.Keys = append(l.Keys, *kc)
		case 4:
			v, err := f.varint()
			l.StartTime = int64(v)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("license: %w", err)
	}
	return l, nil
}

func (k *KeyContainer) Marshal() []byte {
	var b []byte
	b = appendBytes(b, 1, k.ID)
	b = appendBytes(b, 2, k.IV)
	b = appendBytes(b, 3, k.Key)
	b = appendVarint(b, 4, uint64(k.Type))
	b = appendVarint(b, 5, uint64(k.Level))
	return b
}

func UnmarshalKeyContainer(b []byte) (*KeyContainer, error) {
	k := &KeyContainer{}
	err := consumeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			return f.bytes(&k.ID)
		case 2:
			return f.bytes(&k.IV)
		case 3:
			return f.bytes(&k.Key)
		case 4:
			v, err := f.varint()
			k.Type = KeyType(v)
			return err
		case 5:
			v, err := f.varint()
			k.Level = uint32(v)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("key container: %w", err)
	}
	return k, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// field is the undecoded value of one protobuf field.
type field struct {
	typ  protowire.Type
	data []byte
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: expected varint, got wire type %d", drmerr.ErrMalformed, f.typ)
	}
	v, n := protowire.ConsumeVarint(f.data)
	if n < 0 {
		return 0, wireError(n)
	}
	return v, nil
}

func (f field) bytes(dst *[]byte) error {
	if f.typ != protowire.BytesType {
		return fmt.Errorf("%w: expected bytes, got wire type %d", drmerr.ErrMalformed, f.typ)
	}
	v, n := protowire.ConsumeBytes(f.data)
	if n < 0 {
		return wireError(n)
	}
	*dst = v
	return nil
}

func consumeFields(b []byte, handle func(protowire.Number, field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]

		f := field{typ: typ, data: b}
		if err := handle(num, f); err != nil {
			return err
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return wireError(n)
		}
		b = b[n:]
	}
	return nil
}

func wireError(n int) error {
	return fmt.Errorf("%w: %v", drmerr.ErrMalformed, protowire.ParseError(n))
}
