package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
)

// buildError marks a failure of the build itself, as opposed to a usage
// error or an interrupt.
type buildError struct {
	err error
}

func (e *buildError) Error() string { return e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var be *buildError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 1
	case errors.As(err, &be):
		return 2
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}
