package layout

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatError is returned by ParseSize for text that is not a size.
type FormatError struct {
	Text string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid size %q", e.Text)
	}
	return fmt.Sprintf("invalid size %q: %v", e.Text, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// longest suffixes first so that "KiB" is not read as "K" plus garbage
var sizeSuffixes = []struct {
	suffix string
	mult   uint64
}{
	{"KiB", 1 << 10}, {"KB", 1 << 10}, {"K", 1 << 10},
	{"MiB", 1 << 20}, {"MB", 1 << 20}, {"M", 1 << 20},
	{"GiB", 1 << 30}, {"GB", 1 << 30}, {"G", 1 << 30},
}

// ParseSize converts a size such as "64M", "1GiB" or "512" to bytes.
// All suffixes are binary multiples, including the KB/MB/GB spellings.
func ParseSize(text string) (uint64, error) {
	s := strings.TrimSpace(text)
	mult := uint64(1)
	for _, sfx := range sizeSuffixes {
		if strings.HasSuffix(s, sfx.suffix) {
			s = strings.TrimSuffix(s, sfx.suffix)
			mult = sfx.mult
			break
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &FormatError{Text: text, Err: err}
	}
	if n > math.MaxUint64/mult {
		return 0, &FormatError{Text: text, Err: strconv.ErrRange}
	}
	return n * mult, nil
}
