package layout

import (
	"testing"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mib       = 1 << 20
	disk64M   = 64 * mib
	sectors64 = disk64M / SectorSize
)

func TestNegativeEnd(t *testing.T) {
	plan, err := NewPlan(disk64M, TableGPT, []Geometry{{Type: Primary, End: -64}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, uint64(131072), uint64(sectors64))
	assert.Equal(t, Extent{Start: 2048, End: 131008}, plan[0])
}

func TestChaining(t *testing.T) {
	parts := []Geometry{
		{Type: Primary, Size: 1 * mib},
		{Type: Extended, End: -1},
		{Type: Logical, Size: 4 * mib},
		{Type: Logical, End: -1},
	}
	for _, kind := range []Kind{TableMBR, TableHybrid} {
		t.Run(string(kind), func(t *testing.T) {
			plan, err := NewPlan(disk64M, kind, parts)
			require.NoError(t, err)
			require.Len(t, plan, 4)
			assert.Equal(t, Extent{2048, 4095}, plan[0])
			assert.Equal(t, uint64(4096), plan[1].Start)
			assert.Equal(t, uint64(sectors64-1), plan[1].End)
			assert.Equal(t, plan[1].Start+AlignSectors, plan[2].Start)
			assert.Equal(t, plan[2].Start+8192-1, plan[2].End)
			assert.Equal(t, plan[2].End+1+AlignSectors, plan[3].Start)
			assert.Equal(t, uint64(sectors64-1), plan[3].End)
		})
	}
}

func TestGPTIgnoresChaining(t *testing.T) {
	plan, err := NewPlan(disk64M, TableGPT, []Geometry{
		{Type: Primary, Size: 1 * mib},
		{Type: Logical, Size: 1 * mib},
		{Type: Extended, Size: 1 * mib},
		{Type: Primary, Size: 1 * mib},
	})
	require.NoError(t, err)
	assert.Equal(t, Plan{{2048, 4095}, {4096, 6143}, {6144, 8191}, {8192, 10239}}, plan)
}

func TestSizeRoundsUpToSectors(t *testing.T) {
	plan, err := NewPlan(disk64M, TableMBR, []Geometry{
		{Type: Primary, Size: 1},
		{Type: Primary, Size: 513},
	})
	require.NoError(t, err)
	assert.Equal(t, Plan{{2048, 2048}, {2049, 2050}}, plan)
}

func TestExplicitGeometry(t *testing.T) {
	plan, err := NewPlan(disk64M, TableMBR, []Geometry{
		{Type: Primary, Start: 4096, End: 8191},
		{Type: Primary, Size: mib},
		{Type: Primary, Start: -4096, Size: mib},
	})
	require.NoError(t, err)
	assert.Equal(t, Plan{{4096, 8191}, {8192, 10239}, {sectors64 - 4096, sectors64 - 2049}}, plan)
}

func TestPlanIsRepeatable(t *testing.T) {
	parts := []Geometry{
		{Type: Primary, Size: 2 * mib},
		{Type: Extended, Size: 32 * mib},
		{Type: Logical, Size: 4 * mib},
		{Type: Logical, Size: 4 * mib},
		{Type: Primary, End: -1},
	}
	first, err := NewPlan(disk64M, TableMBR, parts)
	require.NoError(t, err)
	second, err := NewPlan(disk64M, TableMBR, parts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(2048), first[0].Start)
}

func TestPlanErrors(t *testing.T) {
	tests := []struct {
		name  string
		kind  Kind
		parts []Geometry
	}{
		{"unresolved", TableMBR, []Geometry{{Type: Primary}}},
		{"inverted", TableGPT, []Geometry{{Type: Primary, Start: 5000, End: 4000}}},
		{"past end", TableGPT, []Geometry{{Type: Primary, Size: 64 * mib}}},
		{"negative before start", TableGPT, []Geometry{{Type: Primary, End: -(sectors64 + 1)}}},
		{"gpt overlap", TableGPT, []Geometry{
			{Type: Primary, Size: 2 * mib},
			{Type: Primary, Start: 3000, Size: mib},
		}},
		{"mbr overlap", TableMBR, []Geometry{
			{Type: Primary, Start: 2048, End: 10000},
			{Type: Primary, Start: 10000, End: 20000},
		}},
		{"logical overlap", TableMBR, []Geometry{
			{Type: Extended, Size: 32 * mib},
			{Type: Logical, Size: 4 * mib},
			{Type: Logical, Start: 6144, Size: mib},
		}},
		{"logical without extended", TableMBR, []Geometry{
			{Type: Logical, Size: mib},
		}},
		{"logical outside extended", TableHybrid, []Geometry{
			{Type: Extended, Size: 4 * mib},
			{Type: Logical, Size: 8 * mib},
		}},
		{"two extended", TableMBR, []Geometry{
			{Type: Extended, Size: 4 * mib},
			{Type: Extended, Size: 4 * mib},
		}},
		{"two raw partitions", TableRaw, []Geometry{{}, {}}},
		{"five primaries", TableMBR, []Geometry{
			{Type: Primary, Size: mib},
			{Type: Primary, Size: mib},
			{Type: Primary, Size: mib},
			{Type: Primary, Size: mib},
			{Type: Primary, Size: mib},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan(disk64M, tt.kind, tt.parts)
			require.Error(t, err)
			assert.True(t, errdefs.IsLayout(err), "%v", err)
		})
	}
}

func TestRawDisk(t *testing.T) {
	plan, err := NewPlan(disk64M, TableRaw, []Geometry{{Type: Primary}})
	require.NoError(t, err)
	assert.Equal(t, Plan{{Start: 0, End: sectors64 - 1}}, plan)

	plan, err = NewPlan(disk64M, TableRaw, nil)
	require.NoError(t, err)
	assert.Empty(t, plan)
}

func TestExtent(t *testing.T) {
	e := Extent{Start: 2048, End: 4095}
	assert.Equal(t, uint64(2048), e.Sectors())
	assert.Equal(t, int64(mib), e.Offset())
	assert.Equal(t, int64(mib), e.Bytes())
	assert.True(t, e.Contains(Extent{2048, 2048}))
	assert.False(t, e.Contains(Extent{2047, 2048}))
	assert.Equal(t, "[2048,4095]", e.String())
}
