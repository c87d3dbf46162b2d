package mbr

import (
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
)

// Logical is a logical partition inside an extended container.
type Logical struct {
	Extent layout.Extent
	Active bool
	Type   byte
}

// Boot is an encoded boot record and the sector it belongs at.
type Boot struct {
	LBA    uint64
	Record Record
}

// Chain lays out the extended boot records for logicals, which must be
// sorted by start and lie inside container. The first EBR is at the start
// of the container and every following one directly after the previous
// logical partition. Each EBR describes its logical relative to itself and
// links to the next EBR relative to the container start.
func Chain(container layout.Extent, logicals []Logical) ([]Boot, error) {
	if len(logicals) == 0 {
		return []Boot{{LBA: container.Start}}, nil
	}
	ebrs := make([]uint64, len(logicals))
	for i, l := range logicals {
		if i == 0 {
			ebrs[i] = container.Start
		} else {
			ebrs[i] = logicals[i-1].Extent.End + 1
		}
		if ebrs[i] >= l.Extent.Start {
			return nil, errdefs.Encoding("no room for the boot record of logical partition %s at sector %d", l.Extent, ebrs[i])
		}
	}

	boots := make([]Boot, len(logicals))
	for i, l := range logicals {
		b := Boot{LBA: ebrs[i]}
		e, err := NewEntry(l.Active, l.Type, l.Extent, ebrs[i])
		if err != nil {
			return nil, err
		}
		b.Record.Entries[0] = e
		if i+1 < len(logicals) {
			next := layout.Extent{Start: ebrs[i+1], End: logicals[i+1].Extent.End}
			link, err := NewEntry(false, TypeExtended, next, container.Start)
			if err != nil {
				return nil, err
			}
			b.Record.Entries[1] = link
		}
		boots[i] = b
	}
	return boots, nil
}
