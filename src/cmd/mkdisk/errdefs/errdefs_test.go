package errdefs

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
		msg  string
	}{
		{"config", Config("missing %s", "name"), IsConfig, "config error: missing name"},
		{"layout", Layout("part %d", 2), IsLayout, "layout error: part 2"},
		{"encoding", Encoding("too many"), IsEncoding, "encoding error: too many"},
		{"backend", Backend("mount"), IsBackend, "backend error: mount"},
		{"hostio", HostIO(os.ErrNotExist, "open %s", "a"), IsHostIO, "host i/o error: open a: file does not exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.msg, tt.err.Error())
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
	assert.False(t, IsLayout(Config("x")))
}

func TestWrapBackendKeepsHostIO(t *testing.T) {
	err := WrapBackend(HostIO(os.ErrNotExist, "open x"), "upload")
	assert.True(t, IsHostIO(err))
	assert.False(t, IsBackend(err))

	err = WrapBackend(errors.New("boom"), "upload")
	assert.True(t, IsBackend(err))
	assert.Equal(t, "backend error: upload: boom", err.Error())
}
