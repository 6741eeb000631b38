package wgs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitive_RoundTrip(t *testing.T) {
	var w Writer
	w.U8(0xab)
	w.U32(0xdeadbeef)
	w.U64(0x0102030405060708)
	require.NoError(t, w.UTF16("Saves/Quick Save.sfs"))
	require.NoError(t, w.UTF16(""))
	require.NoError(t, w.UTF16("héllo 😀"))
	require.NoError(t, w.FixedUTF16("toc", FileNameWidth))

	// u32 + "" is just a zero count
	assert.Equal(t, 1+4+8+(4+2*20)+4+(4+2*8)+2*FileNameWidth, w.Len())

	r := NewReader(w.Data())
	u8, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xab), u8)

	u32, err := r.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), u32)

	u64, err := r.U64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	for _, want := range []string{"Saves/Quick Save.sfs", "", "héllo 😀"} {
		s, err := r.UTF16()
		require.NoError(t, err)
		assert.Equal(t, want, s)
	}

	s, err := r.FixedUTF16(FileNameWidth)
	require.NoError(t, err)
	assert.Equal(t, "toc", s)
	assert.Equal(t, 0, r.Remaining())
}

func TestPrimitive_LittleEndianLayout(t *testing.T) {
	var w Writer
	w.U32(0x48)
	require.NoError(t, w.UTF16("AB"))
	assert.Equal(t, []byte{
		0x48, 0, 0, 0,
		2, 0, 0, 0, 'A', 0, 'B', 0,
	}, w.Data())
}

func TestFixedUTF16_AllWidths(t *testing.T) {
	for k := 0; k <= FileNameWidth; k++ {
		name := strings.Repeat("x", k)

		var w Writer
		require.NoError(t, w.FixedUTF16(name, FileNameWidth))
		require.Equal(t, 2*FileNameWidth, w.Len())

		got, err := NewReader(w.Data()).FixedUTF16(FileNameWidth)
		require.NoError(t, err)
		assert.Equal(t, name, got, "k=%d", k)
	}
}

func TestFixedUTF16_TooWide(t *testing.T) {
	var w Writer
	err := w.FixedUTF16(strings.Repeat("x", FileNameWidth+1), FileNameWidth)
	require.ErrorIs(t, err, ErrFormatViolation)
	assert.Equal(t, 0, w.Len())
}

func TestReader_Truncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(r *Reader) error
	}{
		{"u8", nil, func(r *Reader) error { _, err := r.U8(); return err }},
		{"u32", []byte{1, 2, 3}, func(r *Reader) error { _, err := r.U32(); return err }},
		{"u64", []byte{1, 2, 3, 4, 5, 6, 7}, func(r *Reader) error { _, err := r.U64(); return err }},
		{"string body", []byte{3, 0, 0, 0, 'a', 0}, func(r *Reader) error { _, err := r.UTF16(); return err }},
		{"huge count", []byte{0xff, 0xff, 0xff, 0xff}, func(r *Reader) error { _, err := r.UTF16(); return err }},
		{"fixed", make([]byte, 10), func(r *Reader) error { _, err := r.FixedUTF16(FileNameWidth); return err }},
		{"guid", make([]byte, 15), func(r *Reader) error { _, err := r.GUID(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.data))
			assert.ErrorIs(t, err, ErrFormatViolation)
		})
	}
}

func TestReader_Seek(t *testing.T) {
	r := NewReader(make([]byte, 8))
	require.NoError(t, r.Seek(8))
	assert.Equal(t, 0, r.Remaining())
	assert.ErrorIs(t, r.Seek(9), ErrFormatViolation)
	assert.ErrorIs(t, r.Seek(-1), ErrFormatViolation)
}

func TestUTF16_RejectsUnpairedSurrogates(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"lone high", []byte{1, 0, 0, 0, 0x00, 0xD8}},
		{"lone low", []byte{1, 0, 0, 0, 0x00, 0xDC}},
		{"high then letter", []byte{2, 0, 0, 0, 0x3D, 0xD8, 'a', 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(tt.data).UTF16()
			assert.ErrorIs(t, err, ErrFormatViolation)
		})
	}

	_, err := NewReader(append(make([]byte, 2*FileNameWidth-2), 0x00, 0xD8)).FixedUTF16(FileNameWidth)
	assert.ErrorIs(t, err, ErrFormatViolation)
}

func TestUTF16_EncodeRejectsInvalidUTF8(t *testing.T) {
	var w Writer
	assert.ErrorIs(t, w.UTF16("bad\xff"), ErrFormatViolation)
	assert.ErrorIs(t, w.FixedUTF16("bad\xff", FileNameWidth), ErrFormatViolation)
	assert.Equal(t, 0, w.Len())
}
