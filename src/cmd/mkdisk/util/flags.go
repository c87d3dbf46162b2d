package util

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

var textFormatter = &log.TextFormatter{}

// levels maps -v values to log levels.
var levels = []log.Level{log.ErrorLevel, log.InfoLevel, log.DebugLevel, log.TraceLevel}

// infoFormatter prints build progress at Info as plain lines and falls
// back to key=value text for everything else.
type infoFormatter struct{}

func (f *infoFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Level == log.InfoLevel {
		return append([]byte(entry.Message), '\n'), nil
	}
	return textFormatter.Format(entry)
}

// SetupLogging sets the log level and formatter. verbose is 0 for errors
// only, 1 for info, 2 for debug and 3 for trace; verboseSet is true when the
// level was chosen explicitly rather than defaulted. Progress lines stay
// plain unless a level was asked for.
func SetupLogging(quiet bool, verbose int, verboseSet bool) error {
	if quiet && verboseSet && verbose > 0 {
		return errors.New("quiet and verbose are mutually exclusive")
	}
	if verbose < 0 || verbose >= len(levels) {
		return errors.New("verbose must be between 0 and 3")
	}
	if quiet {
		verbose = 0
	}
	log.SetLevel(levels[verbose])
	if verboseSet && verbose > 0 {
		log.SetFormatter(textFormatter)
	} else {
		log.SetFormatter(new(infoFormatter))
	}
	return nil
}
