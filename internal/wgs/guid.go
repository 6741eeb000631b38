package wgs

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// BytesLE returns the GUID in its mixed-endian in-memory form: the first
// three groups byte-swapped, the last eight bytes unchanged.
func BytesLE(id uuid.UUID) [16]byte {
	var b [16]byte
	copy(b[:], id[:])
	b[0], b[1], b[2], b[3] = id[3], id[2], id[1], id[0]
	b[4], b[5] = id[5], id[4]
	b[6], b[7] = id[7], id[6]
	return b
}

// BlobName renders id the way the storage layer names blob files and
// container payload directories: the mixed-endian bytes in uppercase hex.
func BlobName(id uuid.UUID) string {
	b := BytesLE(id)
	return strings.ToUpper(hex.EncodeToString(b[:]))
}

// ParseBlobName is the inverse of BlobName.
func ParseBlobName(name string) (uuid.UUID, error) {
	raw, err := hex.DecodeString(name)
	if err != nil || len(raw) != 16 {
		return uuid.Nil, Violationf("invalid blob name %q", name)
	}
	var le uuid.UUID
	copy(le[:], raw)
	return uuid.UUID(BytesLE(le)), nil
}
