// Package pssh decodes protection system specific header boxes and the
// PlayReady header records they carry.
package pssh

import (
	"bytes"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/kid"
)

var (
	WidevineSystemID  = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	PlayReadySystemID = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")
)

// PSSH is a decoded pssh box.
type PSSH struct {
	box *mp4.PsshBox
}

// Parse decodes a complete pssh box, header included.
func Parse(b []byte) (*PSSH, error) {
	box, err := mp4.DecodeBox(0, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: decode box: %v", drmerr.ErrMalformed, err)
	}
	psshBox, ok := box.(*mp4.PsshBox)
	if !ok {
		return nil, fmt.Errorf("%w: box is a %s instead of a pssh", drmerr.ErrMalformed, box.Type())
	}
	if len(psshBox.SystemID) != 16 {
		return nil, fmt.Errorf("%w: system id is %d bytes", drmerr.ErrMalformed, len(psshBox.SystemID))
	}
	return &PSSH{box: psshBox}, nil
}

// New builds a pssh box. A version 1 box is produced when kids is not empty.
func New(systemID uuid.UUID, kids []uuid.UUID, data []byte) *PSSH {
	box := &mp4.PsshBox{SystemID: mp4.UUID(systemID[:]), Data: data}
	if len(kids) > 0 {
		box.Version = 1
		for _, k := range kids {
			box.KIDs = append(box.KIDs, mp4.UUID(k[:]))
		}
	}
	return &PSSH{box: box}
}

// Marshal encodes the box.
func (p *PSSH) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.box.Encode(&buf); err != nil {
		return nil, fmt.Errorf("encode pssh: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *PSSH) SystemID() uuid.UUID {
	return uuid.UUID(p.box.SystemID)
}

func (p *PSSH) Version() byte {
	return p.box.Version
}

func (p *PSSH) Flags() uint32 {
	return p.box.Flags
}

// Data returns the system specific payload.
func (p *PSSH) Data() []byte {
	return p.box.Data
}

// KeyIDs returns the key IDs listed in the box header and, for Widevine and
// PlayReady boxes, those found in the payload. Duplicates are dropped.
func (p *PSSH) KeyIDs() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, k := range p.box.KIDs {
		if len(k) != 16 {
			return nil, fmt.Errorf("%w: key id is %d bytes", drmerr.ErrMalformed, len(k))
		}
		add(uuid.UUID(k))
	}

	switch p.SystemID() {
	case WidevineSystemID:
		wvIDs, err := widevineKeyIDs(p.box.Data)
		if err != nil {
			return nil, err
		}
		for _, id := range wvIDs {
			add(id)
		}
	case PlayReadySystemID:
		if len(p.box.Data) == 0 {
			break
		}
		obj, err := ParsePlayReadyObject(p.box.Data)
		if err != nil {
			return nil, err
		}
		header, err := obj.WRMHeader()
		if err != nil {
			return nil, err
		}
		for _, k := range header.KIDs {
			add(k.ID)
		}
	}
	return ids, nil
}

// widevineKeyIDs reads the repeated key_ids field (2) of WidevinePsshData.
func widevineKeyIDs(data []byte) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: widevine pssh data: %v", drmerr.ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		if num == 2 && typ == protowire.BytesType {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: widevine pssh data: %v", drmerr.ErrMalformed, protowire.ParseError(m))
			}
			id, err := kid.Normalize(v)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("%w: widevine pssh data: %v", drmerr.ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
	}
	return ids, nil
}
