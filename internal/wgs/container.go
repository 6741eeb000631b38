package wgs

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

// FlagCloudID is the flag bit that tracks whether a container carries a
// cloud identifier.
const FlagCloudID = 4

// Container is one entry of a ContainerIndex: the metadata for a single
// save slot whose payload lives in a sibling directory named by BlobName(ID).
type Container struct {
	Name     string
	CloudID  string
	Seq      uint8
	Flag     uint32
	ID       uuid.UUID
	Modified Timestamp
	Size     uint64
}

// PayloadDir returns the directory name holding the container's file list
// and blobs.
func (c *Container) PayloadDir() string {
	return BlobName(c.ID)
}

// DecodeContainer reads one container record. The name is stored twice and
// both copies must be byte-identical, the reserved field must be zero, and the cloud id
// must be present exactly when FlagCloudID is set. Flag bits other than
// FlagCloudID are not interpreted and round-trip unchanged.
func DecodeContainer(r *Reader) (*Container, error) {
	rawName, err := r.RawUTF16()
	if err != nil {
		return nil, err
	}
	rawRepeated, err := r.RawUTF16()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(rawName, rawRepeated) {
		return nil, Violationf("container name mismatch: % X != % X", rawName, rawRepeated)
	}
	name, err := decodeUTF16(rawName)
	if err != nil {
		return nil, err
	}
	cloudID, err := r.UTF16()
	if err != nil {
		return nil, err
	}
	seq, err := r.U8()
	if err != nil {
		return nil, err
	}
	flag, err := r.U32()
	if err != nil {
		return nil, err
	}
	if (cloudID == "") != (flag&FlagCloudID == 0) {
		return nil, &FormatViolation{
			What: fmt.Sprintf("mismatch between cloud id %q and flag 0x%x", cloudID, flag),
			Kind: ErrCloudFlagMismatch,
		}
	}
	id, err := r.GUID()
	if err != nil {
		return nil, err
	}
	mtime, err := r.Timestamp()
	if err != nil {
		return nil, err
	}
	reserved, err := r.U64()
	if err != nil {
		return nil, err
	}
	if reserved != 0 {
		return nil, Violationf("unexpected data in container %q: %d != 0", name, reserved)
	}
	size, err := r.U64()
	if err != nil {
		return nil, err
	}

	return &Container{
		Name:     name,
		CloudID:  cloudID,
		Seq:      seq,
		Flag:     flag,
		ID:       id,
		Modified: mtime,
		Size:     size,
	}, nil
}

// EncodeTo appends the record to w. The name is always written twice and the
// reserved field as zero; no other validation happens here.
func (c *Container) EncodeTo(w *Writer) error {
	if err := w.UTF16(c.Name); err != nil {
		return err
	}
	if err := w.UTF16(c.Name); err != nil {
		return err
	}
	if err := w.UTF16(c.CloudID); err != nil {
		return err
	}
	w.U8(c.Seq)
	w.U32(c.Flag)
	w.GUID(c.ID)
	w.Timestamp(c.Modified)
	w.U64(0)
	w.U64(c.Size)
	return nil
}

func (c *Container) MarshalBinary() ([]byte, error) {
	var w Writer
	if err := c.EncodeTo(&w); err != nil {
		return nil, err
	}
	return w.Data(), nil
}

func (c *Container) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	decoded, err := DecodeContainer(r)
	if err != nil {
		return err
	}
	if r.Remaining() != 0 {
		return Violationf("%d trailing bytes after container record", r.Remaining())
	}
	*c = *decoded
	return nil
}
