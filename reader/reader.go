// Package reader implements a bounds-checked cursor over binary data.
package reader

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/devatadev/godrmcore/drmerr"
)

// UnexpectedEndError reports a read past the end of the underlying data.
// Needed is the absolute offset the read would have required.
type UnexpectedEndError struct {
	Needed int
	Have   int
}

func (e *UnexpectedEndError) Error() string {
	return fmt.Sprintf("unexpected end of data: need %d bytes, have %d", e.Needed, e.Have)
}

func (e *UnexpectedEndError) Is(target error) bool {
	return target == drmerr.ErrTruncated
}

// Reader tracks a position over an immutable byte slice. Slices returned by
// ReadBytes alias the underlying data.
type Reader struct {
	data []byte
	pos  int
}

func New(data []byte) *Reader {
	return &Reader{data: data}
}

// Position returns the current byte offset.
func (r *Reader) Position() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.pos >= len(r.data) {
		return 0
	}
	return len(r.data) - r.pos
}

// Data returns the full underlying slice.
func (r *Reader) Data() []byte {
	return r.data
}

// Seek moves the cursor to pos, clamped to [0, len(data)].
func (r *Reader) Seek(pos int) {
	switch {
	case pos < 0:
		r.pos = 0
	case pos > len(r.data):
		r.pos = len(r.data)
	default:
		r.pos = pos
	}
}

// Ensure checks that at least n bytes remain.
func (r *Reader) Ensure(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative length %d", drmerr.ErrMalformed, n)
	}
	if r.Remaining() < n {
		return &UnexpectedEndError{Needed: r.pos + n, Have: len(r.data)}
	}
	return nil
}

// ReadBytes returns the next n bytes and advances past them.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if err := r.Ensure(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadInto fills dst from the cursor.
func (r *Reader) ReadInto(dst []byte) error {
	b, err := r.ReadBytes(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) ReadU16BE() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Reader) ReadU32BE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Reader) ReadU64BE() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Reader) ReadU16LE() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) ReadU32LE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadPaddedString reads a NUL-padded string field whose declared length is
// rawLen. The cursor advances by rawLen rounded up to a multiple of 4; the
// result stops at the first NUL or at rawLen, whichever comes first.
func (r *Reader) ReadPaddedString(rawLen int) (string, error) {
	if rawLen < 0 {
		return "", fmt.Errorf("%w: negative string length %d", drmerr.ErrMalformed, rawLen)
	}
	aligned := (rawLen + 3) &^ 3
	b, err := r.ReadBytes(aligned)
	if err != nil {
		return "", err
	}
	end := min(rawLen, aligned)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	return lossyString(b[:end]), nil
}

// lossyString decodes b as UTF-8, replacing each invalid byte with U+FFFD.
func lossyString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 2)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}
