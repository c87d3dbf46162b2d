package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/mbr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 1, exitCode(errors.New(`accepts 1 arg(s), received 0`)))
	assert.Equal(t, 1, exitCode(&buildError{fmt.Errorf("cancelled before sync: %w", context.Canceled)}))
	assert.Equal(t, 2, exitCode(&buildError{errdefs.Backend("no space")}))
}

func TestReadConfig(t *testing.T) {
	home := t.TempDir()
	cfg, err := readConfig(home)
	require.NoError(t, err)
	assert.Equal(t, GlobalConfig{}, cfg)

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".mkdisk"), 0755))
	cfgPath := filepath.Join(home, ".mkdisk", "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("verbose: 2\noutput_dir: /srv/images\nmke2fs: /sbin/mke2fs\n"), 0644))
	cfg, err = readConfig(home)
	require.NoError(t, err)
	require.NotNil(t, cfg.Verbose)
	assert.Equal(t, 2, *cfg.Verbose)
	assert.Equal(t, "/srv/images", cfg.OutputDir)
	assert.Equal(t, "/sbin/mke2fs", cfg.Mke2fs)

	require.NoError(t, os.WriteFile(cfgPath, []byte("verbose: [\n"), 0644))
	_, err = readConfig(home)
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(context.Background())
}

func TestArgs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(envQuiet, "1")
	assert.Equal(t, 1, exitCode(run(t)))
	assert.Equal(t, 1, exitCode(run(t, "a.yml", "b.yml")))
	assert.Equal(t, 2, exitCode(run(t, filepath.Join(t.TempDir(), "missing.yml"))))
}

func TestBuildHybridFAT(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(envQuiet, "1")
	t.Setenv(envOutputDir, out)
	t.Setenv(envTmpDir, t.TempDir())
	t.Setenv("MKDISK_E2E_GREETING", "hello")

	cfgPath := filepath.Join(dir, "efi.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
name: efi
version: "2"
size: 64M
partition_table: hybrid
parts:
  - filesystem: vfat
    size: 32M
    label: EFI
    active: true
    writes:
      - target: /EFI/BOOT/hello.txt
        content: "${MKDISK_E2E_GREETING}"
`), 0644))
	require.NoError(t, run(t, cfgPath))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".lock") {
			names = append(names, e.Name())
		}
	}
	assert.Equal(t, []string{"efi_2.raw.img"}, names)

	f, err := os.Open(filepath.Join(out, "efi_2.raw.img"))
	require.NoError(t, err)
	defer f.Close()
	fi, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(64<<20), fi.Size())

	sector := make([]byte, mbr.SectorSize)
	_, err = f.ReadAt(sector, 0)
	require.NoError(t, err)
	r, err := mbr.Decode(sector)
	require.NoError(t, err)
	assert.Equal(t, mbr.Entry{Active: true, Type: 0x0c, FirstLBA: 2048, Sectors: 65536}, r.Entries[0])
	assert.Equal(t, mbr.Entry{Type: 0xee, FirstLBA: 1, Sectors: 33}, r.Entries[3])
}
