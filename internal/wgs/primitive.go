package wgs

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"
)

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Reader decodes little-endian primitives from an in-memory buffer. The
// offset is explicit: Seek moves it to an absolute position and every read
// advances it by the number of bytes consumed. Running past the end of the
// buffer is a FormatViolation.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset returns the absolute position of the next read.
func (r *Reader) Offset() int { return r.off }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) Seek(off int) error {
	if off < 0 || off > len(r.buf) {
		return Violationf("seek to offset %d beyond end of data (%d bytes)", off, len(r.buf))
	}
	r.off = off
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, Violationf("unexpected end of data: need %d bytes at offset %d, have %d", n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Bytes returns a copy of the next n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(b), nil
}

func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// UTF16 reads a string stored as a 32-bit code unit count followed by that
// many UTF-16LE code units.
func (r *Reader) UTF16() (string, error) {
	b, err := r.RawUTF16()
	if err != nil {
		return "", err
	}
	return decodeUTF16(b)
}

// RawUTF16 reads a length-prefixed string like UTF16 but returns its code
// units undecoded.
func (r *Reader) RawUTF16() ([]byte, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if uint64(n)*2 > uint64(r.Remaining()) {
		return nil, Violationf("string of %d code units at offset %d overruns data", n, r.off)
	}
	return r.take(int(n) * 2)
}

// FixedUTF16 reads exactly width UTF-16LE code units and strips trailing
// null code units.
func (r *Reader) FixedUTF16(width int) (string, error) {
	b, err := r.take(width * 2)
	if err != nil {
		return "", err
	}
	end := len(b)
	for end >= 2 && b[end-2] == 0 && b[end-1] == 0 {
		end -= 2
	}
	return decodeUTF16(b[:end])
}

// GUID reads 16 bytes in RFC 4122 byte order.
func (r *Reader) GUID() (uuid.UUID, error) {
	b, err := r.take(16)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(b)
}

func (r *Reader) Timestamp() (Timestamp, error) {
	v, err := r.U64()
	return Timestamp(v), err
}

// decodeUTF16 decodes UTF-16LE code units. An unpaired surrogate is a
// FormatViolation; the x/text decoder alone would replace it with U+FFFD.
func decodeUTF16(b []byte) (string, error) {
	if err := checkSurrogates(b); err != nil {
		return "", err
	}
	s, err := utf16LE.NewDecoder().Bytes(b)
	if err != nil {
		return "", Violationf("invalid UTF-16 string: %v", err)
	}
	return string(s), nil
}

func checkSurrogates(b []byte) error {
	n := len(b) / 2
	for i := 0; i < n; i++ {
		u := rune(binary.LittleEndian.Uint16(b[2*i:]))
		if !utf16.IsSurrogate(u) {
			continue
		}
		if u < 0xdc00 && i+1 < n {
			next := rune(binary.LittleEndian.Uint16(b[2*i+2:]))
			if utf16.DecodeRune(u, next) != utf8.RuneError {
				i++
				continue
			}
		}
		return Violationf("invalid UTF-16 string: unpaired surrogate 0x%04X at code unit %d", u, i)
	}
	return nil
}

// Writer accumulates little-endian primitives.
type Writer struct {
	buf []byte
}

// Data returns the bytes written so far.
func (w *Writer) Data() []byte { return w.buf }

func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) Bytes(b []byte) { w.buf = append(w.buf, b...) }

// Zero appends n zero bytes.
func (w *Writer) Zero(n int) { w.buf = append(w.buf, make([]byte, n)...) }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// UTF16 writes s as a code unit count followed by its UTF-16LE encoding. The
// empty string is a zero count with no trailing bytes.
func (w *Writer) UTF16(s string) error {
	b, err := encodeUTF16(s)
	if err != nil {
		return err
	}
	w.U32(uint32(len(b) / 2))
	w.Bytes(b)
	return nil
}

// FixedUTF16 writes s as exactly width UTF-16LE code units, padding with
// null code units. A string that does not fit is a FormatViolation rather
// than being truncated.
func (w *Writer) FixedUTF16(s string, width int) error {
	b, err := encodeUTF16(s)
	if err != nil {
		return err
	}
	if units := len(b) / 2; units > width {
		return Violationf("string %q is %d code units, wider than fixed width %d", s, units, width)
	}
	w.Bytes(b)
	w.Zero(width*2 - len(b))
	return nil
}

func (w *Writer) GUID(id uuid.UUID) { w.Bytes(id[:]) }

func (w *Writer) Timestamp(t Timestamp) { w.U64(uint64(t)) }

func encodeUTF16(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, Violationf("cannot encode %q as UTF-16: invalid UTF-8", s)
	}
	b, err := utf16LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, Violationf("cannot encode %q as UTF-16: %v", s, err)
	}
	return b, nil
}
