// Package config loads image descriptions.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/diskfs/go-diskfs/partition/gpt"
	diskfsmbr "github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/google/uuid"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/backend"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/layout"
	log "github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v2"
)

// DiskImage is a fully resolved image description. Every source path is
// absolute and exists, and every default has been filled in.
type DiskImage struct {
	Name     string
	Version  string
	Size     uint64
	Format   backend.Format
	Table    layout.Kind
	Parts    []Partition
	Binaries []BinaryPatch
}

// Partition is one partition of a DiskImage.
type Partition struct {
	layout.Geometry
	Filesystem backend.Filesystem
	MbrID      byte
	GptType    string
	Label      string
	Active     bool
	BlockSize  int
	RawImage   string
	// Contents are applied in order: extractions, uploads, writes.
	Contents []ContentOp
	Binaries []BinaryPatch
}

// Geometries returns the declared geometry of every partition.
func (d DiskImage) Geometries() []layout.Geometry {
	g := make([]layout.Geometry, len(d.Parts))
	for i, p := range d.Parts {
		g[i] = p.Geometry
	}
	return g
}

// sizeValue is a size given either as a number of bytes or as a string
// for layout.ParseSize.
type sizeValue struct {
	text string
	set  bool
}

func (s *sizeValue) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	s.set = true
	s.text = fmt.Sprint(v)
	return nil
}

func (s sizeValue) bytes() (uint64, error) {
	if !s.set {
		return 0, nil
	}
	return layout.ParseSize(s.text)
}

// mbrID is a partition type byte, always written in hex. A bare YAML
// number like 83 keeps its digits, so it means 0x83 as it does to fdisk.
type mbrID string

func (m *mbrID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	// yaml.v2 hands a string target the scalar as written
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	*m = mbrID(s)
	return nil
}

func (m mbrID) value() (byte, error) {
	s := strings.TrimPrefix(strings.ToLower(string(m)), "0x")
	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%q is not a hex byte", string(m))
	}
	return byte(n), nil
}

type rawTarball struct {
	Source      string `yaml:"source"`
	Target      string `yaml:"target"`
	Compression string `yaml:"compression"`
}

type rawUpload struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

type rawWrite struct {
	Target  string `yaml:"target"`
	Content string `yaml:"content"`
	Mode    string `yaml:"mode"`
}

type rawBinary struct {
	Source string    `yaml:"source"`
	Offset sizeValue `yaml:"offset"`
}

type rawPart struct {
	Filesystem string       `yaml:"filesystem"`
	Type       string       `yaml:"type"`
	Start      int64        `yaml:"start"`
	End        int64        `yaml:"end"`
	Size       sizeValue    `yaml:"size"`
	MbrID      *mbrID       `yaml:"mbr_id"`
	GptType    string       `yaml:"gpt_type"`
	Label      string       `yaml:"label"`
	Active     bool         `yaml:"active"`
	BlockSize  int          `yaml:"block_size"`
	RawImage   string       `yaml:"raw_image"`
	Tarballs   []rawTarball `yaml:"tarballs"`
	Uploads    []rawUpload  `yaml:"uploads"`
	Writes     []rawWrite   `yaml:"writes"`
	Binaries   []rawBinary  `yaml:"binaries"`
}

type rawImage struct {
	Name           string      `yaml:"name"`
	Version        string      `yaml:"version"`
	Size           sizeValue   `yaml:"size"`
	ImageFormat    string      `yaml:"image_format"`
	PartitionTable string      `yaml:"partition_table"`
	Parts          []rawPart   `yaml:"parts"`
	Binaries       []rawBinary `yaml:"binaries"`
}

// Converts the map[interface{}]interface{} trees yaml.v2 produces into
// the map[string]interface{} trees the schema validator needs.
func convert(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			m2[fmt.Sprint(k)] = convert(v)
		}
		return m2
	case []interface{}:
		for i, v := range x {
			x[i] = convert(v)
		}
	}
	return i
}

func validate(config []byte) error {
	var rawYaml interface{}
	if err := yaml.Unmarshal(config, &rawYaml); err != nil {
		return errdefs.WrapConfig(err, "parse")
	}
	rawJSON := convert(rawYaml)

	schemaLoader := gojsonschema.NewStringLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(rawJSON)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return errdefs.WrapConfig(err, "validate")
	}
	if !result.Valid() {
		log.Errorf("The configuration file is invalid:")
		var msgs []string
		for _, desc := range result.Errors() {
			log.Errorf("- %s", desc)
			msgs = append(msgs, desc.String())
		}
		return errdefs.Config("invalid configuration file: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Load reads and resolves the image description at path. Relative sources
// in it are resolved against its directory.
func Load(path string) (DiskImage, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return DiskImage{}, errdefs.HostIO(err, "resolve %s", path)
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return DiskImage{}, errdefs.HostIO(err, "read %s", path)
	}
	return NewConfig(b, filepath.Dir(abs))
}

// NewConfig parses, validates and resolves an image description given as
// YAML or JSON. dir is the directory relative sources are resolved against.
func NewConfig(config []byte, dir string) (DiskImage, error) {
	if err := validate(config); err != nil {
		return DiskImage{}, err
	}
	var raw rawImage
	if err := yaml.Unmarshal(config, &raw); err != nil {
		return DiskImage{}, errdefs.WrapConfig(err, "parse")
	}
	r := resolver{dir: dir}
	return r.image(raw)
}

func (r resolver) image(raw rawImage) (DiskImage, error) {
	d := DiskImage{
		Name:    raw.Name,
		Version: raw.Version,
		Format:  backend.Format(raw.ImageFormat),
		Table:   layout.Kind(raw.PartitionTable),
	}
	if d.Format == "" {
		d.Format = backend.FormatRaw
	}
	if d.Table == "" {
		d.Table = layout.TableMBR
	}
	if strings.ContainsRune(d.Name, filepath.Separator) || strings.ContainsRune(d.Version, filepath.Separator) {
		return d, errdefs.Config("name and version must not contain %q", filepath.Separator)
	}
	size, err := raw.Size.bytes()
	if err != nil {
		return d, errdefs.WrapConfig(err, "size")
	}
	if size < layout.SectorSize || size%layout.SectorSize != 0 {
		return d, errdefs.Config("size %d is not a whole number of %d byte sectors", size, layout.SectorSize)
	}
	d.Size = size
	if d.Table == layout.TableRaw && len(raw.Parts) > 1 {
		return d, errdefs.Config("a raw image holds at most one filesystem, got %d parts", len(raw.Parts))
	}
	for i, rp := range raw.Parts {
		p, err := r.part(rp)
		if err != nil {
			return d, fmt.Errorf("part %d: %w", i+1, err)
		}
		d.Parts = append(d.Parts, p)
	}
	if d.Binaries, err = r.binaries(raw.Binaries); err != nil {
		return d, fmt.Errorf("binaries: %w", err)
	}
	return d, nil
}

var extBlockSizes = map[int]bool{1024: true, 2048: true, 4096: true}

func (r resolver) part(raw rawPart) (Partition, error) {
	p := Partition{
		Geometry: layout.Geometry{
			Type:  layout.PartType(raw.Type),
			Start: raw.Start,
			End:   raw.End,
		},
		Label:     raw.Label,
		Active:    raw.Active,
		BlockSize: raw.BlockSize,
	}
	if p.Type == "" {
		p.Type = layout.Primary
	}
	var err error
	if p.Size, err = raw.Size.bytes(); err != nil {
		return p, errdefs.WrapConfig(err, "size")
	}
	if p.Filesystem, err = backend.ParseFilesystem(raw.Filesystem); err != nil {
		return p, errdefs.WrapConfig(err, "filesystem")
	}
	if p.BlockSize != 0 && p.Filesystem.IsExt() && !extBlockSizes[p.BlockSize] {
		return p, errdefs.Config("block size %d is not one of 1024, 2048 or 4096", p.BlockSize)
	}

	if raw.MbrID != nil {
		if p.MbrID, err = raw.MbrID.value(); err != nil {
			return p, errdefs.WrapConfig(err, "mbr_id")
		}
	} else {
		p.MbrID = defaultMbrID(p.Type, p.Filesystem)
	}
	if raw.GptType != "" {
		u, err := uuid.Parse(raw.GptType)
		if err != nil {
			return p, errdefs.WrapConfig(err, "gpt_type %q", raw.GptType)
		}
		p.GptType = strings.ToUpper(u.String())
	} else {
		p.GptType = defaultGptType(p.Filesystem)
	}

	hasContents := len(raw.Tarballs)+len(raw.Uploads)+len(raw.Writes) > 0
	if p.Type == layout.Extended {
		if p.Filesystem != backend.FSNone || raw.RawImage != "" || hasContents || len(raw.Binaries) > 0 {
			return p, errdefs.Config("an extended partition cannot have a filesystem, raw image or contents")
		}
	}
	if raw.RawImage != "" {
		if p.Filesystem != backend.FSNone {
			return p, errdefs.Config("raw_image and filesystem %s are exclusive", p.Filesystem)
		}
		srcs, err := r.sources(raw.RawImage)
		if err != nil {
			return p, fmt.Errorf("raw_image: %w", err)
		}
		if len(srcs) != 1 {
			return p, errdefs.Config("raw_image %q matches %d files", raw.RawImage, len(srcs))
		}
		p.RawImage = srcs[0]
	}
	if hasContents && !p.Filesystem.Mountable() && p.RawImage == "" {
		return p, errdefs.Config("contents need an ext or vfat filesystem, not %s", p.Filesystem)
	}

	if p.Contents, err = r.contents(raw); err != nil {
		return p, err
	}
	if p.Binaries, err = r.binaries(raw.Binaries); err != nil {
		return p, fmt.Errorf("binaries: %w", err)
	}
	return p, nil
}

func defaultMbrID(t layout.PartType, fs backend.Filesystem) byte {
	if t == layout.Extended {
		return byte(diskfsmbr.ExtendedCHS)
	}
	switch fs {
	case backend.Swap:
		return byte(diskfsmbr.LinuxSwap)
	case backend.VFAT:
		return byte(diskfsmbr.Fat32LBA)
	}
	return byte(diskfsmbr.Linux)
}

func defaultGptType(fs backend.Filesystem) string {
	switch fs {
	case backend.Swap:
		return string(gpt.LinuxSwap)
	case backend.VFAT:
		return string(gpt.MicrosoftBasicData)
	}
	return string(gpt.LinuxFilesystem)
}

func (r resolver) contents(raw rawPart) ([]ContentOp, error) {
	var ops []ContentOp
	for _, t := range raw.Tarballs {
		c, err := backend.ParseCompression(t.Compression)
		if err != nil {
			return nil, errdefs.WrapConfig(err, "tarball %s", t.Source)
		}
		srcs, err := r.sources(t.Source)
		if err != nil {
			return nil, fmt.Errorf("tarball: %w", err)
		}
		target := t.Target
		if target == "" {
			target = "/"
		}
		for _, s := range srcs {
			op := Extract{Source: s, Target: target, Compression: c}
			if c == backend.CompressionAuto {
				op.Compression = backend.DetectCompression(s)
			}
			ops = append(ops, op)
		}
	}
	for _, u := range raw.Uploads {
		srcs, err := r.sources(u.Source)
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		intoDir := len(srcs) > 1 || strings.HasSuffix(u.Target, "/")
		for _, s := range srcs {
			target := u.Target
			if intoDir {
				target = joinTarget(u.Target, filepath.Base(s))
			}
			ops = append(ops, Upload{Source: s, Target: target})
		}
	}
	for _, w := range raw.Writes {
		mode := os.FileMode(0644)
		if w.Mode != "" {
			m, err := strconv.ParseUint(w.Mode, 8, 32)
			if err != nil {
				return nil, errdefs.WrapConfig(err, "write %s mode", w.Target)
			}
			mode = fileMode(uint32(m))
		}
		ops = append(ops, Write{Target: w.Target, Content: []byte(expandEnv(w.Content)), Mode: mode})
	}
	return ops, nil
}

// fileMode converts a unix mode, special bits included, to an os.FileMode.
func fileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	if m&04000 != 0 {
		mode |= os.ModeSetuid
	}
	if m&02000 != 0 {
		mode |= os.ModeSetgid
	}
	if m&01000 != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func (r resolver) binaries(raw []rawBinary) ([]BinaryPatch, error) {
	var patches []BinaryPatch
	for _, b := range raw {
		off, err := b.Offset.bytes()
		if err != nil {
			return nil, errdefs.WrapConfig(err, "offset of %s", b.Source)
		}
		srcs, err := r.sources(b.Source)
		if err != nil {
			return nil, err
		}
		patches = append(patches, BinaryPatch{Sources: srcs, Offset: int64(off)})
	}
	return patches, nil
}
