package config

import (
	"fmt"
	"os"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/backend"
)

// ContentOp is one step that populates a mounted filesystem. It is one of
// Extract, Upload or Write.
type ContentOp interface {
	contentOp()
	fmt.Stringer
}

// Extract unpacks a tar archive from the host under Target.
type Extract struct {
	Source      string
	Target      string
	Compression backend.Compression
}

// Upload copies one host file to Target.
type Upload struct {
	Source string
	Target string
}

// Write creates Target with literal content.
type Write struct {
	Target  string
	Content []byte
	Mode    os.FileMode
}

func (Extract) contentOp() {}
func (Upload) contentOp()  {}
func (Write) contentOp()   {}

func (o Extract) String() string {
	return fmt.Sprintf("extract %s to %s (%s)", o.Source, o.Target, o.Compression)
}

func (o Upload) String() string {
	return fmt.Sprintf("upload %s to %s", o.Source, o.Target)
}

func (o Write) String() string {
	return fmt.Sprintf("write %d bytes to %s", len(o.Content), o.Target)
}

// BinaryPatch writes the Sources back to back at Offset bytes into a
// partition or the whole disk.
type BinaryPatch struct {
	Sources []string
	Offset  int64
}

func (p BinaryPatch) String() string {
	return fmt.Sprintf("patch %v at offset %d", p.Sources, p.Offset)
}
