package pssh

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/devatadev/godrmcore/drmerr"
	"github.com/devatadev/godrmcore/kid"
	"github.com/devatadev/godrmcore/reader"
)

// RecordWRMHeader is the PlayReady Object record holding the WRM header.
const RecordWRMHeader = 1

// PlayReadyObject is the little-endian record container found in
// PlayReady pssh payloads.
type PlayReadyObject struct {
	Records []Record
}

type Record struct {
	Type uint16
	Data []byte
}

func ParsePlayReadyObject(b []byte) (*PlayReadyObject, error) {
	r := reader.New(b)
	if _, err := r.ReadU32LE(); err != nil {
		return nil, fmt.Errorf("playready object: %w", err)
	}
	count, err := r.ReadU16LE()
	if err != nil {
		return nil, fmt.Errorf("playready object: %w", err)
	}
	obj := &PlayReadyObject{}
	for i := 0; i < int(count); i++ {
		typ, err := r.ReadU16LE()
		if err != nil {
			return nil, fmt.Errorf("playready record %d: %w", i, err)
		}
		size, err := r.ReadU16LE()
		if err != nil {
			return nil, fmt.Errorf("playready record %d: %w", i, err)
		}
		data, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("playready record %d: %w", i, err)
		}
		obj.Records = append(obj.Records, Record{Type: typ, Data: data})
	}
	return obj, nil
}

// Marshal encodes the object.
func (o *PlayReadyObject) Marshal() []byte {
	size := 6
	for _, rec := range o.Records {
		size += 4 + len(rec.Data)
	}
	b := make([]byte, 0, size)
	b = appendU32LE(b, uint32(size))
	b = appendU16LE(b, uint16(len(o.Records)))
	for _, rec := range o.Records {
		b = appendU16LE(b, rec.Type)
		b = appendU16LE(b, uint16(len(rec.Data)))
		b = append(b, rec.Data...)
	}
	return b
}

func appendU16LE(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

func appendU32LE(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// WRMHeaderXML returns the text of the first WRM header record.
func (o *PlayReadyObject) WRMHeaderXML() (string, error) {
	for _, rec := range o.Records {
		if rec.Type == RecordWRMHeader {
			return decodeUTF16LE(rec.Data)
		}
	}
	return "", fmt.Errorf("%w: no WRM header record", drmerr.ErrMalformed)
}

// WRMHeader parses the first WRM header record.
func (o *PlayReadyObject) WRMHeader() (*WRMHeader, error) {
	text, err := o.WRMHeaderXML()
	if err != nil {
		return nil, err
	}
	return ParseWRMHeader(text)
}

var (
	utf16Decoding = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
	utf16Encoding = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

func decodeUTF16LE(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("%w: odd UTF-16 byte count", drmerr.ErrMalformed)
	}
	out, err := utf16Decoding.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("%w: %v", drmerr.ErrMalformed, err)
	}
	return strings.TrimSuffix(string(out), "\x00"), nil
}

// EncodeUTF16LE is the inverse of the record text decoding.
func EncodeUTF16LE(s string) ([]byte, error) {
	return utf16Encoding.NewEncoder().Bytes([]byte(s))
}

// WRMHeader is the parsed WRM header XML.
type WRMHeader struct {
	Version string
	KIDs    []SignedKeyID
	LAURL   string
	LUIURL  string
	DSID    string
}

// SignedKeyID is a key ID with its optional algorithm and checksum.
type SignedKeyID struct {
	ID       uuid.UUID
	AlgID    string
	Checksum string
}

// ParseWRMHeader parses WRM header XML, versions 4.0 through 4.3. Key IDs
// are converted from GUID to UUID order.
func ParseWRMHeader(text string) (*WRMHeader, error) {
	h := &WRMHeader{}
	dec := xml.NewDecoder(strings.NewReader(text))

	var (
		path     []string
		v40KIDs  []string
		v40AlgID string
		cdata    bytes.Buffer
	)
	inProtectInfo := func() bool {
		for _, p := range path {
			if p == "PROTECTINFO" {
				return true
			}
		}
		return false
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: WRM header: %v", drmerr.ErrMalformed, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if name == "WRMHEADER" {
				h.Version = attr(t, "version")
			}
			if name == "KID" && inProtectInfo() {
				if value := attr(t, "VALUE"); value != "" {
					id, err := kid.FromGUIDBase64(strings.TrimSpace(value))
					if err != nil {
						return nil, err
					}
					h.KIDs = append(h.KIDs, SignedKeyID{ID: id, AlgID: attr(t, "ALGID"), Checksum: attr(t, "CHECKSUM")})
				}
			}
			path = append(path, name)
			cdata.Reset()
		case xml.CharData:
			cdata.Write(t)
		case xml.EndElement:
			text := strings.TrimSpace(cdata.String())
			cdata.Reset()
			switch t.Name.Local {
			case "KID":
				if !inProtectInfo() && text != "" {
					v40KIDs = append(v40KIDs, text)
				}
			case "ALGID":
				v40AlgID = text
			case "LA_URL":
				h.LAURL = text
			case "LUI_URL":
				h.LUIURL = text
			case "DS_ID":
				h.DSID = text
			}
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}
	if h.Version == "" {
		return nil, fmt.Errorf("%w: WRM header has no version", drmerr.ErrMalformed)
	}
	for _, v := range v40KIDs {
		id, err := kid.FromGUIDBase64(v)
		if err != nil {
			return nil, err
		}
		h.KIDs = append(h.KIDs, SignedKeyID{ID: id, AlgID: v40AlgID})
	}
	return h, nil
}

func attr(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
