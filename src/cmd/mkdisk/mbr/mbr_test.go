package mbr

import (
	"encoding/binary"
	"testing"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBytes(t *testing.T) {
	r := Record{}
	r.Entries[0] = Entry{Active: true, Type: 0x83, FirstLBA: 2048, Sectors: 4096}
	r.Entries[2] = Entry{Type: 0x0c, FirstLBA: 0x01020304, Sectors: 0x0a0b0c0d}
	b := r.Bytes()
	require.Len(t, b, SectorSize)

	assert.Equal(t, make([]byte, EntriesOffset), b[:EntriesOffset])
	assert.Equal(t, []byte{
		0x80, 0, 0, 0, 0x83, 0, 0, 0,
		0x00, 0x08, 0x00, 0x00,
		0x00, 0x10, 0x00, 0x00,
	}, b[446:462])
	assert.Equal(t, make([]byte, EntrySize), b[462:478])
	assert.Equal(t, []byte{
		0, 0, 0, 0, 0x0c, 0, 0, 0,
		0x04, 0x03, 0x02, 0x01,
		0x0d, 0x0c, 0x0b, 0x0a,
	}, b[478:494])
	assert.Equal(t, byte(0x55), b[510])
	assert.Equal(t, byte(0xaa), b[511])
	assert.Equal(t, uint16(0xaa55), binary.LittleEndian.Uint16(b[510:]))

	assert.Equal(t, b[EntriesOffset:], r.Table())
	assert.Len(t, r.Table(), 66)
}

func TestDecode(t *testing.T) {
	r := Record{}
	r.Entries[1] = Entry{Active: true, Type: 0x82, FirstLBA: 10, Sectors: 20}
	got, err := Decode(r.Bytes())
	require.NoError(t, err)
	assert.Equal(t, r, got)
	assert.True(t, got.Entries[0].Empty())
	assert.False(t, got.Entries[1].Empty())

	_, err = Decode(make([]byte, 100))
	assert.True(t, errdefs.IsEncoding(err))
	_, err = Decode(make([]byte, SectorSize))
	assert.True(t, errdefs.IsEncoding(err))
}

func TestNewEntry(t *testing.T) {
	e, err := NewEntry(true, 0x83, layout.Extent{Start: 6144, End: 14335}, 4096)
	require.NoError(t, err)
	assert.Equal(t, Entry{Active: true, Type: 0x83, FirstLBA: 2048, Sectors: 8192}, e)

	_, err = NewEntry(false, 0x83, layout.Extent{Start: 10, End: 20}, 11)
	assert.True(t, errdefs.IsEncoding(err))

	_, err = NewEntry(false, 0x83, layout.Extent{Start: 1 << 32, End: 1<<32 + 10}, 0)
	assert.True(t, errdefs.IsEncoding(err))
}
