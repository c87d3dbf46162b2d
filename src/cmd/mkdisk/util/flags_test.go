package util

import (
	"io"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogging(t *testing.T) {
	defer func() {
		_ = SetupLogging(false, 1, false)
	}()
	tests := []struct {
		name       string
		quiet      bool
		verbose    int
		verboseSet bool
		level      log.Level
		bare       bool
	}{
		{"default", false, 1, false, log.InfoLevel, true},
		{"explicit info", false, 1, true, log.InfoLevel, false},
		{"quiet", true, 1, false, log.ErrorLevel, true},
		{"zero", false, 0, true, log.ErrorLevel, true},
		{"debug", false, 2, true, log.DebugLevel, false},
		{"trace", false, 3, true, log.TraceLevel, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, SetupLogging(tt.quiet, tt.verbose, tt.verboseSet))
			assert.Equal(t, tt.level, log.GetLevel())
			_, bare := log.StandardLogger().Formatter.(*infoFormatter)
			assert.Equal(t, tt.bare, bare)
		})
	}
}

func TestSetupLoggingErrors(t *testing.T) {
	defer func() {
		_ = SetupLogging(false, 1, false)
	}()
	assert.Error(t, SetupLogging(true, 2, true))
	assert.Error(t, SetupLogging(false, 4, true))
	assert.Error(t, SetupLogging(false, -1, true))
}

func TestInfoFormatter(t *testing.T) {
	f := &infoFormatter{}
	out, err := f.Format(&log.Entry{Level: log.InfoLevel, Message: "Create image"})
	require.NoError(t, err)
	assert.Equal(t, "Create image\n", string(out))

	logger := log.New()
	logger.Out = io.Discard
	out, err = f.Format(&log.Entry{Logger: logger, Level: log.WarnLevel, Message: "skipped"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "level=warning")
	assert.Contains(t, string(out), "skipped")
}
