// Package cli implements the "esmerge" command. Options come from flags,
// "ESMERGE_*" environment variables, and an optional YAML config file, in
// that order of precedence.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/esmerge/esmerge/internal/exitcode"
)

const Version = "0.1.0"

// Run executes the command line and returns the exit code
func Run(osArgs []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return RunWithIO(ctx, osArgs, os.Stdout, os.Stderr)
}

func RunWithIO(ctx context.Context, osArgs []string, stdout io.Writer, stderr io.Writer) int {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(osArgs)
	err := cmd.ExecuteContext(ctx)

	// Build failures were already reported with their diagnostics
	var failed *buildFailedError
	if err != nil && !errors.As(err, &failed) {
		fmt.Fprintf(stderr, "error: %s\n", err.Error())
	}
	return exitcode.Get(err)
}

type buildFailedError struct {
	errorCount int
}

func (e *buildFailedError) Error() string {
	return fmt.Sprintf("build failed with %d errors", e.errorCount)
}
