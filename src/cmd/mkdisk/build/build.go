// Package build turns a resolved image description into a disk image.
package build

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/backend"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/config"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/mbr"
	log "github.com/sirupsen/logrus"
)

// Options control where a build writes its output.
type Options struct {
	// OutputDir is the directory the image is created in. Defaults to the
	// current directory.
	OutputDir string
}

// OutputName is the file name of the image built from img.
func OutputName(img config.DiskImage) string {
	name := img.Name
	if img.Version != "" {
		name += "_" + img.Version
	}
	return fmt.Sprintf("%s.%s.img", name, img.Format)
}

// Build creates the image described by img using be and returns its path.
// The image appears under its final name only once it is complete: on any
// failure, including cancellation of ctx, nothing is left behind. be is
// closed before Build returns.
func Build(ctx context.Context, img config.DiskImage, be backend.Backend, opts Options) (path string, err error) {
	plan, hybrid, err := prepare(img)
	if err != nil {
		_ = be.Close()
		return "", err
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	final := filepath.Join(dir, OutputName(img))
	s, err := newSession(ctx, final, be)
	if err != nil {
		_ = be.Close()
		return "", err
	}
	defer func() {
		err = s.release(err)
		if err != nil {
			path = ""
		}
	}()

	b := &builder{session: s, img: img, plan: plan, ids: make([]backend.PartitionID, len(img.Parts))}
	if err := b.run(hybrid); err != nil {
		return "", err
	}
	return final, nil
}

// prepare plans the layout and encodes the hybrid MBR, if any, so that
// mistakes in the description are found before anything is created.
func prepare(img config.DiskImage) (layout.Plan, []byte, error) {
	if img.Table == layout.TableGPT || img.Table == layout.TableHybrid {
		// a GPT has no container partitions, every part is its own entry
		for i, p := range img.Parts {
			if p.Type == layout.Extended || p.Type == layout.Logical {
				return nil, nil, errdefs.Layout("partition %d: type %q partitions need an mbr table, not %s", i+1, p.Type, img.Table)
			}
		}
	}
	plan, err := layout.NewPlan(img.Size, img.Table, img.Geometries())
	if err != nil {
		return nil, nil, err
	}
	for i, e := range plan {
		log.Debugf("partition %d: sectors %s", i+1, e)
	}
	if img.Table != layout.TableHybrid {
		return plan, nil, nil
	}
	mirrors := make([]mbr.Mirror, len(img.Parts))
	for i, p := range img.Parts {
		mirrors[i] = mbr.Mirror{Active: p.Active, Type: p.MbrID}
	}
	hybrid, err := mbr.Hybrid(plan, mirrors)
	if err != nil {
		return nil, nil, err
	}
	return plan, hybrid, nil
}

// builder walks the build steps in order. ids holds the backend's handle
// for each partition of img.
type builder struct {
	*session
	img  config.DiskImage
	plan layout.Plan
	ids  []backend.PartitionID
}

func (b *builder) run(hybrid []byte) error {
	log.Infof("Create image %s", b.final)
	if err := b.step("create image", func() error {
		return b.be.CreateImage(b.temp, b.img.Format, b.img.Size)
	}); err != nil {
		return err
	}
	if err := b.step("attach image", func() error { return b.be.Attach(b.ctx) }); err != nil {
		return err
	}

	if b.img.Table == layout.TableRaw {
		for i := range b.ids {
			b.ids[i] = backend.Device
		}
	} else if err := b.partition(); err != nil {
		return err
	}
	if err := b.format(); err != nil {
		return err
	}
	if err := b.populate(); err != nil {
		return err
	}
	if err := b.patch(); err != nil {
		return err
	}
	if hybrid != nil {
		log.Infof("Write hybrid MBR")
		if err := b.step("write hybrid mbr", func() error {
			return b.be.RawWrite(backend.Device, hybrid, 0)
		}); err != nil {
			return err
		}
	}

	log.Infof("Finalize %s", b.final)
	if err := b.step("sync", b.be.Sync); err != nil {
		return err
	}
	if err := b.step("detach image", b.be.Detach); err != nil {
		return err
	}
	return b.commit()
}

// partition creates the table and one entry per planned partition.
func (b *builder) partition() error {
	log.Infof("Partition (%s)", b.img.Table)
	if err := b.step("initialize partition table", func() error {
		return b.be.InitPartitionTable(b.img.Table)
	}); err != nil {
		return err
	}
	gpt := b.img.Table == layout.TableGPT || b.img.Table == layout.TableHybrid
	for i, p := range b.img.Parts {
		e := b.plan[i]
		desc := fmt.Sprintf("partition %d", i+1)
		if err := b.step("add "+desc, func() error {
			id, err := b.be.AddPartition(p.Type, e.Start, e.End)
			b.ids[i] = id
			return err
		}); err != nil {
			return err
		}
		id := b.ids[i]
		err := b.step("set metadata of "+desc, func() error {
			if !gpt {
				if err := b.be.SetMbrID(id, p.MbrID); err != nil {
					return err
				}
			} else {
				if err := b.be.SetGptType(id, p.GptType); err != nil {
					return err
				}
				if p.Label != "" {
					if err := b.be.SetPartitionLabel(id, p.Label); err != nil {
						return err
					}
				}
			}
			if p.Active {
				return b.be.SetBootable(id, true)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// format puts a filesystem, swap area or raw image on every partition
// that is not an extended container.
func (b *builder) format() error {
	for i, p := range b.img.Parts {
		id := b.ids[i]
		desc := fmt.Sprintf("partition %d", i+1)
		var err error
		switch {
		case p.Type == layout.Extended:
			continue
		case p.RawImage != "":
			log.Infof("Copy %s to %s", p.RawImage, desc)
			err = b.step("copy raw image to "+desc, func() error { return copyRaw(b.be, id, p.RawImage) })
		case p.Filesystem == backend.Swap:
			log.Infof("Format %s as swap", desc)
			err = b.step("make swap on "+desc, func() error { return b.be.MakeSwap(id, p.Label) })
		case p.Filesystem != backend.FSNone && p.Filesystem != "":
			log.Infof("Format %s as %s", desc, p.Filesystem)
			err = b.step("format "+desc, func() error {
				return b.be.MakeFilesystem(id, p.Filesystem, p.BlockSize, p.Label)
			})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// populate mounts each partition with contents in turn and applies them.
func (b *builder) populate() error {
	for i, p := range b.img.Parts {
		if len(p.Contents) == 0 {
			continue
		}
		id := b.ids[i]
		desc := fmt.Sprintf("partition %d", i+1)
		log.Infof("Populate %s", desc)
		if err := b.step("mount "+desc, func() error { return b.be.Mount(id, "/") }); err != nil {
			return err
		}
		b.mounted = true
		for _, op := range p.Contents {
			log.Debugf("%s: %s", desc, op)
			if err := b.step(op.String(), func() error { return b.apply(op) }); err != nil {
				return err
			}
		}
		b.mounted = false
		if err := b.step("unmount "+desc, func() error { return b.be.Unmount("/") }); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) apply(op config.ContentOp) error {
	switch o := op.(type) {
	case config.Extract:
		return b.be.ExtractArchive(o.Source, o.Target, o.Compression)
	case config.Upload:
		return b.be.UploadFile(o.Source, o.Target)
	case config.Write:
		return b.be.WriteFile(o.Target, o.Content, o.Mode)
	}
	return fmt.Errorf("unknown content operation %T", op)
}

// patch writes partition binaries, then disk binaries.
func (b *builder) patch() error {
	type target struct {
		id      backend.PartitionID
		desc    string
		patches []config.BinaryPatch
	}
	var targets []target
	for i, p := range b.img.Parts {
		targets = append(targets, target{b.ids[i], fmt.Sprintf("partition %d", i+1), p.Binaries})
	}
	targets = append(targets, target{backend.Device, "disk", b.img.Binaries})
	for _, t := range targets {
		for _, bp := range t.patches {
			log.Infof("Patch %s at offset %d", t.desc, bp.Offset)
			if err := b.step(fmt.Sprintf("%s of %s", bp, t.desc), func() error {
				return writePatch(b.be, t.id, bp)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}
