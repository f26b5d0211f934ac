package reader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/devatadev/godrmcore/drmerr"
)

func TestReadIntegers(t *testing.T) {
	r := New([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})

	v16, err := r.ReadU16BE()
	require.NoError(t, err)
	require.Equal(t, uint16(0x0001), v16)

	v32, err := r.ReadU32BE()
	require.NoError(t, err)
	require.Equal(t, uint32(0x02030405), v32)
	require.Equal(t, 2, r.Remaining())
}

func TestReadLittleEndian(t *testing.T) {
	r := New([]byte{0x01, 0x00, 0x04, 0x03, 0x02, 0x01})

	v16, err := r.ReadU16LE()
	require.NoError(t, err)
	require.Equal(t, uint16(1), v16)

	v32, err := r.ReadU32LE()
	require.NoError(t, err)
	require.Equal(t, uint32(0x01020304), v32)
}

func TestReadU64(t *testing.T) {
	r := New([]byte{0, 0, 0, 0, 0, 0, 0x01, 0x00})
	v, err := r.ReadU64BE()
	require.NoError(t, err)
	require.Equal(t, uint64(256), v)
}

func TestReadPastEnd(t *testing.T) {
	r := New([]byte{0x00, 0x01})
	_, err := r.ReadU32BE()
	require.Error(t, err)
	require.True(t, errors.Is(err, drmerr.ErrTruncated))

	var eod *UnexpectedEndError
	require.True(t, errors.As(err, &eod))
	require.Equal(t, 4, eod.Needed)
	require.Equal(t, 2, eod.Have)
	require.Equal(t, 0, r.Position(), "failed read must not advance")
}

func TestEnsureRejectsNegative(t *testing.T) {
	r := New(make([]byte, 4))
	require.ErrorIs(t, r.Ensure(-1), drmerr.ErrMalformed)
}

func TestPositionTracking(t *testing.T) {
	r := New(make([]byte, 16))
	require.Equal(t, 0, r.Position())

	b, err := r.ReadBytes(5)
	require.NoError(t, err)
	require.Len(t, b, 5)
	require.Equal(t, 5, r.Position())
	require.Equal(t, 11, r.Remaining())

	r.Seek(100)
	require.Equal(t, 16, r.Position())
	require.Equal(t, 0, r.Remaining())
}

func TestReadInto(t *testing.T) {
	r := New([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	var dst [4]byte
	require.NoError(t, r.ReadInto(dst[:]))
	require.Equal(t, [4]byte{0xAA, 0xBB, 0xCC, 0xDD}, dst)
	require.Equal(t, 0, r.Remaining())
}

func TestReadPaddedString(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		rawLen  int
		want    string
		wantPos int
	}{
		{"aligned", []byte{'a', 'b', 'c', 0}, 4, "abc", 4},
		{"needs padding", []byte{'h', 'i', 0, 0, 0xFF}, 3, "hi", 4},
		{"no terminator", []byte{'a', 'b', 'c', 'd', 'e', 'f', 'g', 'h'}, 6, "abcdef", 8},
		{"empty", []byte{0xFF}, 0, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.data)
			s, err := r.ReadPaddedString(tt.rawLen)
			require.NoError(t, err)
			require.Equal(t, tt.want, s)
			require.Equal(t, tt.wantPos, r.Position())
		})
	}
}

func TestReadPaddedStringTruncated(t *testing.T) {
	r := New([]byte{'a', 'b', 'c'})
	_, err := r.ReadPaddedString(3)
	require.ErrorIs(t, err, drmerr.ErrTruncated)
}

func TestReadPaddedStringLossy(t *testing.T) {
	r := New([]byte{'o', 0xFF, 'k', 0})
	s, err := r.ReadPaddedString(3)
	require.NoError(t, err)
	require.Equal(t, "o\uFFFDk", s)
}

func TestReadPaddedStringReplacesEachInvalidByte(t *testing.T) {
	r := New([]byte{0xFF, 0xFE, 'a', 0})
	s, err := r.ReadPaddedString(3)
	require.NoError(t, err)
	require.Equal(t, "\uFFFD\uFFFDa", s)
	require.Equal(t, 4, r.Position())
}
