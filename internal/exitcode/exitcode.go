// Package exitcode maps errors from the command line tool to process exit
// codes.
package exitcode

import (
	"context"
	"errors"
)

const (
	Success     = 0
	BuildFailed = 1
	Usage       = 2

	// What shells report for a process stopped by SIGINT
	Interrupted = 130
)

// Coder is implemented by errors that carry their own exit code
type Coder interface {
	error
	ExitCode() int
}

// Get returns the exit code for an error:
//
//	nil => Success
//	errors implementing Coder => value returned by ExitCode
//	context.Canceled => Interrupted
//	all other errors => BuildFailed
func Get(err error) int {
	if err == nil {
		return Success
	}

	if coder := Coder(nil); errors.As(err, &coder) {
		return coder.ExitCode()
	}

	if errors.Is(err, context.Canceled) {
		return Interrupted
	}

	return BuildFailed
}

// Set wraps an error in a Coder
func Set(err error, code int) error {
	if err == nil {
		return nil
	}
	return coder{err, code}
}

var _ Coder = coder{}

type coder struct {
	error
	code int
}

func (c coder) ExitCode() int {
	return c.code
}

func (c coder) Unwrap() error {
	return c.error
}
