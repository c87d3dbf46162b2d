// Package layout resolves declared partition geometry into absolute sectors.
package layout

import (
	"fmt"
	"sort"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
)

const (
	// SectorSize is the logical block size all offsets are expressed in.
	SectorSize = 512
	// AlignSectors is the 1 MiB alignment of the first partition and of the
	// gap left in front of every logical partition for its EBR.
	AlignSectors = 2048
)

// Kind is a partition table kind.
type Kind string

// Supported partition table kinds
const (
	TableMBR    Kind = "mbr"
	TableGPT    Kind = "gpt"
	TableHybrid Kind = "hybrid"
	TableRaw    Kind = "raw"
)

// Valid reports whether k is a known table kind.
func (k Kind) Valid() bool {
	switch k {
	case TableMBR, TableGPT, TableHybrid, TableRaw:
		return true
	}
	return false
}

// chained is true for kinds that distinguish extended and logical partitions
// when planning.
func (k Kind) chained() bool {
	return k == TableMBR || k == TableHybrid
}

// PartType is the MBR role of a partition.
type PartType string

// Partition roles
const (
	Primary  PartType = "p"
	Extended PartType = "e"
	Logical  PartType = "l"
)

// Valid reports whether t is a known partition role.
func (t PartType) Valid() bool {
	return t == Primary || t == Extended || t == Logical
}

// Geometry is the declared placement of one partition. Zero Start or End
// means unset; negative values count back from the end of the disk.
type Geometry struct {
	Type  PartType
	Start int64
	End   int64
	Size  uint64
}

// Extent is an inclusive range of absolute sectors.
type Extent struct {
	Start uint64
	End   uint64
}

// Sectors is the number of sectors covered by the extent.
func (e Extent) Sectors() uint64 {
	return e.End - e.Start + 1
}

// Offset is the byte offset of the first sector.
func (e Extent) Offset() int64 {
	return int64(e.Start * SectorSize)
}

// Bytes is the length of the extent in bytes.
func (e Extent) Bytes() int64 {
	return int64(e.Sectors() * SectorSize)
}

// Contains reports whether o lies entirely inside e.
func (e Extent) Contains(o Extent) bool {
	return o.Start >= e.Start && o.End <= e.End
}

func (e Extent) overlaps(o Extent) bool {
	return e.Start <= o.End && o.Start <= e.End
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d]", e.Start, e.End)
}

// Plan holds one extent per declared partition, in declaration order.
type Plan []Extent

// cursors are the next free sectors for primary/extended and for logical
// partitions. They only live for the duration of one NewPlan call.
type cursors struct {
	main    uint64
	logical uint64
}

func startCursors() cursors {
	return cursors{main: AlignSectors, logical: AlignSectors}
}

func (c cursors) startFor(kind Kind, t PartType) uint64 {
	if kind.chained() && t == Logical {
		return c.logical
	}
	return c.main
}

// advance returns the cursors after placing a partition of type t at e.
func (c cursors) advance(kind Kind, t PartType, e Extent) cursors {
	if !kind.chained() {
		c.main = e.End + 1
		return c
	}
	switch t {
	case Extended:
		c.main = e.End + 1
		c.logical = e.Start + AlignSectors
	case Logical:
		c.logical = e.End + 1 + AlignSectors
	default:
		c.main = e.End + 1
	}
	return c
}

// NewPlan resolves every partition to absolute sectors on a disk of
// diskSize bytes. Planning the same input twice always gives the same plan.
// A raw disk has no table and its single partition, if any, is the whole
// disk.
func NewPlan(diskSize uint64, kind Kind, parts []Geometry) (Plan, error) {
	diskSectors := diskSize / SectorSize
	if kind == TableRaw {
		return rawPlan(diskSectors, parts)
	}
	plan := make(Plan, 0, len(parts))
	c := startCursors()
	for i, g := range parts {
		e, err := resolve(g, c.startFor(kind, g.Type), diskSectors)
		if err != nil {
			return nil, errdefs.WrapLayout(err, "partition %d", i+1)
		}
		plan = append(plan, e)
		c = c.advance(kind, g.Type, e)
	}
	if err := plan.check(kind, parts); err != nil {
		return nil, err
	}
	return plan, nil
}

func rawPlan(diskSectors uint64, parts []Geometry) (Plan, error) {
	switch {
	case len(parts) == 0:
		return Plan{}, nil
	case len(parts) > 1:
		return nil, errdefs.Layout("a raw disk holds one filesystem, got %d partitions", len(parts))
	case diskSectors == 0:
		return nil, errdefs.Layout("disk is smaller than one sector")
	}
	return Plan{{Start: 0, End: diskSectors - 1}}, nil
}

func fromEnd(v int64, diskSectors uint64) (uint64, error) {
	if v >= 0 {
		return uint64(v), nil
	}
	abs := uint64(-v)
	if abs > diskSectors {
		return 0, fmt.Errorf("%d is before the start of a %d sector disk", v, diskSectors)
	}
	return diskSectors - abs, nil
}

func resolve(g Geometry, cursor, diskSectors uint64) (Extent, error) {
	var (
		e   Extent
		err error
	)
	e.Start = cursor
	if g.Start != 0 {
		if e.Start, err = fromEnd(g.Start, diskSectors); err != nil {
			return e, fmt.Errorf("start: %w", err)
		}
	}
	sizeSectors := (g.Size + SectorSize - 1) / SectorSize
	switch {
	case g.End != 0:
		if e.End, err = fromEnd(g.End, diskSectors); err != nil {
			return e, fmt.Errorf("end: %w", err)
		}
	case sizeSectors > 0:
		e.End = e.Start + sizeSectors - 1
	default:
		return e, fmt.Errorf("neither end nor size given")
	}
	if e.End < e.Start {
		return e, fmt.Errorf("end %d is before start %d", e.End, e.Start)
	}
	if e.End >= diskSectors {
		return e, fmt.Errorf("%s extends past the last sector %d", e, diskSectors-1)
	}
	return e, nil
}

type indexed struct {
	Extent
	n int
}

func disjoint(list []indexed) error {
	sort.Slice(list, func(i, j int) bool { return list[i].Start < list[j].Start })
	for i := 1; i < len(list); i++ {
		if list[i-1].overlaps(list[i].Extent) {
			return errdefs.Layout("partition %d %s overlaps partition %d %s",
				list[i-1].n, list[i-1].Extent, list[i].n, list[i].Extent)
		}
	}
	return nil
}

// check enforces that no two partitions share a sector, other than logical
// partitions lying inside their extended container.
func (p Plan) check(kind Kind, parts []Geometry) error {
	if !kind.chained() {
		all := make([]indexed, len(p))
		for i, e := range p {
			all[i] = indexed{e, i + 1}
		}
		return disjoint(all)
	}

	var (
		top, logical []indexed
		container    *indexed
	)
	for i, e := range p {
		ie := indexed{e, i + 1}
		switch parts[i].Type {
		case Logical:
			if container == nil {
				return errdefs.Layout("logical partition %d has no extended partition before it", i+1)
			}
			if !container.Contains(e) {
				return errdefs.Layout("logical partition %d %s is outside extended partition %d %s",
					i+1, e, container.n, container.Extent)
			}
			logical = append(logical, ie)
		case Extended:
			if container != nil {
				return errdefs.Layout("partition %d is a second extended partition", i+1)
			}
			container = &ie
			top = append(top, ie)
		default:
			top = append(top, ie)
		}
	}
	if kind == TableMBR && len(top) > 4 {
		return errdefs.Layout("an mbr table holds at most 4 primary and extended partitions, got %d", len(top))
	}
	if err := disjoint(top); err != nil {
		return err
	}
	return disjoint(logical)
}
