package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/linuxkit/mkdisk/src/cmd/mkdisk/errdefs"
)

var envToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} tokens from the environment. Unset variables
// are left as they are.
func expandEnv(s string) string {
	return envToken.ReplaceAllStringFunc(s, func(tok string) string {
		name := envToken.FindStringSubmatch(tok)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return tok
	})
}

// joinTarget places name inside the image directory dir.
func joinTarget(dir, name string) string {
	return path.Join("/", dir, name)
}

type resolver struct {
	dir string
}

// sources expands a source path or glob to existing regular files.
func (r resolver) sources(pattern string) ([]string, error) {
	p := expandEnv(pattern)
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.dir, p)
	}
	var matches []string
	if strings.ContainsAny(p, `*?[`) {
		var err error
		matches, err = filepath.Glob(p)
		if err != nil {
			return nil, errdefs.WrapConfig(err, "pattern %q", pattern)
		}
		if len(matches) == 0 {
			return nil, errdefs.HostIO(os.ErrNotExist, "no files match %s", p)
		}
	} else {
		matches = []string{p}
	}
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			return nil, errdefs.HostIO(err, "source %s", pattern)
		}
		if !fi.Mode().IsRegular() {
			return nil, errdefs.HostIO(fmt.Errorf("not a regular file"), "source %s", m)
		}
	}
	return matches, nil
}
