package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/backend"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/build"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/config"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/util"
	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

const (
	envVerbose   = "MKDISK_VERBOSE"
	envQuiet     = "MKDISK_QUIET"
	envOutputDir = "MKDISK_OUTPUT_DIR"
	envTmpDir    = "MKDISK_TMP_DIR"
	envQemuImg   = "MKDISK_QEMU_IMG"
	envMke2fs    = "MKDISK_MKE2FS"
)

// GlobalConfig is the global tool configuration
type GlobalConfig struct {
	// Verbose is the log level, 0 to 3
	Verbose   *int   `yaml:"verbose"`
	Quiet     bool   `yaml:"quiet"`
	OutputDir string `yaml:"output_dir"`
	TmpDir    string `yaml:"tmp_dir"`
	QemuImg   string `yaml:"qemu_img"`
	Mke2fs    string `yaml:"mke2fs"`
}

func readConfig(home string) (GlobalConfig, error) {
	var cfg GlobalConfig
	cfgPath := filepath.Join(home, ".mkdisk", "config.yml")
	cfgBytes, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read %q: %w", cfgPath, err)
	}
	if err := yaml.Unmarshal(cfgBytes, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %q: %w", cfgPath, err)
	}
	return cfg, nil
}

func newCmd() *cobra.Command {
	var cfg GlobalConfig
	cmd := &cobra.Command{
		Use:   "mkdisk <config>",
		Short: "build a partitioned disk image",
		Long: `Build a partitioned disk image from a YAML description.

The image is written to <name>[_<version>].<image_format>.img in the current
directory, or in MKDISK_OUTPUT_DIR if set. Logging is controlled with
MKDISK_VERBOSE (0 to 3) and MKDISK_QUIET.`,
		Args:              cobra.ExactArgs(1),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = readConfig(util.HomeDir()); err != nil {
				return err
			}
			verbose, verboseSet := util.IntValue(envVerbose, cfg.Verbose, 1)
			quiet := util.BoolValue(envQuiet, cfg.Quiet)
			return util.SetupLogging(quiet, verbose, verboseSet)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Debugf("%s version %s commit %q", filepath.Base(os.Args[0]), version.Version, version.GitCommit)
			img, err := config.Load(args[0])
			if err != nil {
				return &buildError{fmt.Errorf("invalid config: %w", err)}
			}
			be := backend.NewImage(backend.Options{
				QemuImg: util.StringValue(envQemuImg, cfg.QemuImg, "qemu-img"),
				Mke2fs:  util.StringValue(envMke2fs, cfg.Mke2fs, "mke2fs"),
				TmpDir:  util.StringValue(envTmpDir, cfg.TmpDir, os.TempDir()),
			})
			path, err := build.Build(cmd.Context(), img, be, build.Options{
				OutputDir: util.StringValue(envOutputDir, cfg.OutputDir, ""),
			})
			if err != nil {
				return &buildError{err}
			}
			log.Infof("Created %s", path)
			return nil
		},
	}
	return cmd
}
