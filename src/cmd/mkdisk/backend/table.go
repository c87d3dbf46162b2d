package backend

import (
	"sort"
	"strings"

	"github.com/diskfs/go-diskfs/partition/gpt"
	diskfsmbr "github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/google/uuid"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/mbr"
	log "github.com/sirupsen/logrus"
)

const (
	// sectors taken by the backup GPT header and partition array
	gptBackupSectors = 33
	// attribute bit 2, legacy BIOS bootable
	gptAttrLegacyBootable = 1 << 2
)

type tablePartition struct {
	typ      layout.PartType
	extent   layout.Extent
	mbrID    byte
	gptType  string
	label    string
	bootable bool
	guid     string
}

// table is the partition table as built so far. It is written to the image
// lazily, see flushTable.
type table struct {
	kind  layout.Kind
	guid  string
	parts []*tablePartition
	dirty bool
}

func (t *table) gptBased() bool {
	return t.kind == layout.TableGPT || t.kind == layout.TableHybrid
}

// InitPartitionTable starts an empty table. Hybrid disks get a GPT here;
// their legacy MBR is written separately.
func (i *Image) InitPartitionTable(kind layout.Kind) error {
	if err := i.attached(); err != nil {
		return err
	}
	if i.table != nil {
		return errdefs.Backend("partition table already initialized as %s", i.table.kind)
	}
	switch kind {
	case layout.TableMBR, layout.TableGPT, layout.TableHybrid:
	default:
		return errdefs.Backend("cannot initialize a %q partition table", kind)
	}
	i.table = &table{kind: kind, guid: strings.ToUpper(uuid.NewString()), dirty: true}
	return nil
}

// AddPartition adds a partition covering sectors start to end inclusive.
func (i *Image) AddPartition(typ layout.PartType, start, end uint64) (PartitionID, error) {
	if err := i.attached(); err != nil {
		return 0, err
	}
	if i.table == nil {
		return 0, errdefs.Backend("add partition before the partition table was initialized")
	}
	e := layout.Extent{Start: start, End: end}
	last := i.diskExtent().End
	if i.table.gptBased() {
		if typ != layout.Primary {
			return 0, errdefs.Backend("a %s table has no %q partitions", i.table.kind, typ)
		}
		last -= gptBackupSectors
	}
	if end < start || start == 0 || end > last {
		return 0, errdefs.Backend("partition %s does not fit sectors 1 to %d", e, last)
	}
	i.table.parts = append(i.table.parts, &tablePartition{
		typ:     typ,
		extent:  e,
		mbrID:   byte(diskfsmbr.Linux),
		gptType: string(gpt.LinuxFilesystem),
		guid:    strings.ToUpper(uuid.NewString()),
	})
	i.table.dirty = true
	id := PartitionID(len(i.table.parts))
	log.Debugf("added %s %s as %s", typ, e, id)
	return id, nil
}

func (i *Image) partition(id PartitionID) (*tablePartition, error) {
	if i.table == nil || id < 1 || int(id) > len(i.table.parts) {
		return nil, errdefs.Backend("no %s", id)
	}
	return i.table.parts[id-1], nil
}

func (i *Image) setPartition(id PartitionID, set func(p *tablePartition)) error {
	p, err := i.partition(id)
	if err != nil {
		return err
	}
	set(p)
	i.table.dirty = true
	return nil
}

// SetMbrID sets the MBR partition type byte.
func (i *Image) SetMbrID(id PartitionID, mbrID byte) error {
	return i.setPartition(id, func(p *tablePartition) { p.mbrID = mbrID })
}

// SetGptType sets the GPT partition type GUID.
func (i *Image) SetGptType(id PartitionID, gptType string) error {
	u, err := uuid.Parse(gptType)
	if err != nil {
		return errdefs.WrapBackend(err, "gpt type %q", gptType)
	}
	return i.setPartition(id, func(p *tablePartition) { p.gptType = strings.ToUpper(u.String()) })
}

// SetPartitionLabel sets the GPT partition name.
func (i *Image) SetPartitionLabel(id PartitionID, label string) error {
	if len([]rune(label)) > 36 {
		return errdefs.Backend("gpt partition name %q is longer than 36 characters", label)
	}
	return i.setPartition(id, func(p *tablePartition) { p.label = label })
}

// SetBootable sets the MBR active flag or the GPT legacy BIOS bootable
// attribute.
func (i *Image) SetBootable(id PartitionID, bootable bool) error {
	return i.setPartition(id, func(p *tablePartition) { p.bootable = bootable })
}

// flushTable writes the table if it changed since it was last written.
func (i *Image) flushTable() error {
	if i.table == nil || !i.table.dirty {
		return nil
	}
	var err error
	if i.table.gptBased() {
		err = i.writeGPT()
	} else {
		err = i.writeMBR()
	}
	if err != nil {
		return err
	}
	i.table.dirty = false
	return nil
}

func (i *Image) writeGPT() error {
	t := &gpt.Table{
		LogicalSectorSize:  layout.SectorSize,
		PhysicalSectorSize: layout.SectorSize,
		GUID:               i.table.guid,
		ProtectiveMBR:      true,
	}
	for _, p := range i.table.parts {
		gp := &gpt.Partition{
			Start: p.extent.Start,
			End:   p.extent.End,
			Size:  uint64(p.extent.Bytes()),
			Type:  gpt.Type(p.gptType),
			Name:  p.label,
			GUID:  p.guid,
		}
		if p.bootable {
			gp.Attributes |= gptAttrLegacyBootable
		}
		t.Partitions = append(t.Partitions, gp)
	}
	if err := i.disk.Partition(t); err != nil {
		return errdefs.WrapBackend(err, "write gpt")
	}
	return nil
}

// writeMBR writes the primary table over bytes 446 to 511 of sector 0,
// keeping any boot code, followed by the EBR chain of the extended
// partition.
func (i *Image) writeMBR() error {
	var (
		primary   mbr.Record
		n         int
		container *tablePartition
		logicals  []mbr.Logical
	)
	for _, p := range i.table.parts {
		if p.typ == layout.Logical {
			logicals = append(logicals, mbr.Logical{Extent: p.extent, Active: p.bootable, Type: p.mbrID})
			continue
		}
		if n == mbr.EntryCount {
			return errdefs.Backend("an mbr holds at most %d primary and extended partitions", mbr.EntryCount)
		}
		e, err := mbr.NewEntry(p.bootable, p.mbrID, p.extent, 0)
		if err != nil {
			return errdefs.WrapBackend(err, "mbr entry")
		}
		primary.Entries[n] = e
		n++
		if p.typ == layout.Extended {
			if container != nil {
				return errdefs.Backend("an mbr holds one extended partition")
			}
			container = p
		}
	}
	if _, err := i.disk.File.WriteAt(primary.Table(), mbr.EntriesOffset); err != nil {
		return errdefs.WrapBackend(err, "write mbr")
	}

	if container == nil {
		if len(logicals) > 0 {
			return errdefs.Backend("logical partitions need an extended partition")
		}
		return nil
	}
	sort.Slice(logicals, func(a, b int) bool { return logicals[a].Extent.Start < logicals[b].Extent.Start })
	for _, l := range logicals {
		if !container.extent.Contains(l.Extent) {
			return errdefs.Backend("logical partition %s is outside the extended partition %s", l.Extent, container.extent)
		}
	}
	boots, err := mbr.Chain(container.extent, logicals)
	if err != nil {
		return errdefs.WrapBackend(err, "extended boot records")
	}
	for _, b := range boots {
		if _, err := i.disk.File.WriteAt(b.Record.Bytes(), int64(b.LBA*layout.SectorSize)); err != nil {
			return errdefs.WrapBackend(err, "write ebr at sector %d", b.LBA)
		}
	}
	return nil
}
