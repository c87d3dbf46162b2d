package mbr

import (
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
)

const (
	// MaxMirrored is how many GPT partitions a hybrid record can mirror.
	MaxMirrored = EntryCount - 1

	protectiveSlot     = EntryCount - 1
	protectiveFirstLBA = 1
	// GPT header plus a 128 entry partition array
	protectiveSectors = 33
)

// Mirror is the legacy view of one GPT partition.
type Mirror struct {
	Active bool
	Type   byte
}

// Hybrid encodes the boot sector of a hybrid disk. Slots 0 to 2 mirror
// the planned partitions in order and slot 3 protects the primary GPT.
func Hybrid(plan layout.Plan, parts []Mirror) ([]byte, error) {
	if len(plan) != len(parts) {
		return nil, errdefs.Encoding("plan has %d partitions but %d were described", len(plan), len(parts))
	}
	if len(parts) > MaxMirrored {
		return nil, errdefs.Encoding("a hybrid mbr mirrors at most %d partitions, got %d", MaxMirrored, len(parts))
	}
	var r Record
	for i, p := range parts {
		e, err := NewEntry(p.Active, p.Type, plan[i], 0)
		if err != nil {
			return nil, err
		}
		r.Entries[i] = e
	}
	r.Entries[protectiveSlot] = Entry{
		Type:     TypeGPTProtective,
		FirstLBA: protectiveFirstLBA,
		Sectors:  protectiveSectors,
	}
	return r.Bytes(), nil
}
