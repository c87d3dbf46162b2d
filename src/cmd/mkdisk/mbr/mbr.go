// Package mbr encodes and decodes legacy master boot record sectors.
//
// A record is one 512 byte sector:
//
//	offset  size  field
//	0       446   boot code, zero filled when encoded here
//	446     16    partition entry 0
//	462     16    partition entry 1
//	478     16    partition entry 2
//	494     16    partition entry 3
//	510     2     signature 0x55 0xAA (0xAA55 little-endian)
//
// and each partition entry is:
//
//	offset  size  field
//	0       1     status, 0x80 when active
//	1       3     first CHS address, unused, zero
//	4       1     partition type
//	5       3     last CHS address, unused, zero
//	8       4     first LBA, little-endian
//	12      4     sector count, little-endian
//
// Extended boot records use the same layout.
package mbr

import (
	"encoding/binary"
	"math"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
)

const (
	// SectorSize is the size of an encoded record.
	SectorSize = 512

	// EntriesOffset is the offset of the first partition entry.
	EntriesOffset = 446
	// EntrySize is the size of one partition entry.
	EntrySize = 16
	// EntryCount is the number of partition entries in a record.
	EntryCount = 4
	// SignatureOffset is the offset of the two signature bytes.
	SignatureOffset = 510

	entryStatus   = 0
	entryType     = 4
	entryFirstLBA = 8
	entrySectors  = 12

	statusActive = 0x80

	// TypeExtended is the partition type of an extended container and of an
	// EBR link entry.
	TypeExtended = 0x05
	// TypeGPTProtective marks a range as owned by a GPT.
	TypeGPTProtective = 0xee
)

// Signature is the trailer of every valid record.
var Signature = [2]byte{0x55, 0xaa}

// Entry is one partition entry.
type Entry struct {
	Active   bool
	Type     byte
	FirstLBA uint32
	Sectors  uint32
}

// Empty reports whether the entry describes no partition.
func (e Entry) Empty() bool {
	return e.Type == 0 && e.Sectors == 0
}

func (e Entry) put(b []byte) {
	for i := range b[:EntrySize] {
		b[i] = 0
	}
	if e.Active {
		b[entryStatus] = statusActive
	}
	b[entryType] = e.Type
	binary.LittleEndian.PutUint32(b[entryFirstLBA:], e.FirstLBA)
	binary.LittleEndian.PutUint32(b[entrySectors:], e.Sectors)
}

func entryFrom(b []byte) Entry {
	return Entry{
		Active:   b[entryStatus]&statusActive != 0,
		Type:     b[entryType],
		FirstLBA: binary.LittleEndian.Uint32(b[entryFirstLBA:]),
		Sectors:  binary.LittleEndian.Uint32(b[entrySectors:]),
	}
}

// NewEntry describes extent e, relative to base, as an entry.
func NewEntry(active bool, typ byte, e layout.Extent, base uint64) (Entry, error) {
	if e.Start < base {
		return Entry{}, errdefs.Encoding("extent %s starts before its base sector %d", e, base)
	}
	first := e.Start - base
	if first > math.MaxUint32 || e.Sectors() > math.MaxUint32 {
		return Entry{}, errdefs.Encoding("extent %s does not fit a 32-bit mbr entry", e)
	}
	return Entry{Active: active, Type: typ, FirstLBA: uint32(first), Sectors: uint32(e.Sectors())}, nil
}

// Record is a boot sector's partition table.
type Record struct {
	Entries [EntryCount]Entry
}

// Bytes encodes the record as a full sector with a zero boot code area.
func (r Record) Bytes() []byte {
	b := make([]byte, SectorSize)
	for i, e := range r.Entries {
		off := EntriesOffset + i*EntrySize
		e.put(b[off : off+EntrySize])
	}
	copy(b[SignatureOffset:], Signature[:])
	return b
}

// Table encodes only the entries and signature, bytes 446 to 511, so that
// it can be written over an existing boot sector without touching its code.
func (r Record) Table() []byte {
	return r.Bytes()[EntriesOffset:]
}

// Decode parses a sector. It fails when the sector is short or unsigned.
func Decode(b []byte) (Record, error) {
	var r Record
	if len(b) < SectorSize {
		return r, errdefs.Encoding("boot record is %d bytes, need %d", len(b), SectorSize)
	}
	if b[SignatureOffset] != Signature[0] || b[SignatureOffset+1] != Signature[1] {
		return r, errdefs.Encoding("boot record signature is %#02x%02x", b[SignatureOffset+1], b[SignatureOffset])
	}
	for i := range r.Entries {
		off := EntriesOffset + i*EntrySize
		r.Entries[i] = entryFrom(b[off : off+EntrySize])
	}
	return r, nil
}
