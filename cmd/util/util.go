package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/treemirror/pkg/errors"
)

// The following are overridden in unit tests.
var (
	exit             = os.Exit
	stderr io.Writer = os.Stderr
)

// HandleFatalError prints the error and exits. Errors that have a
// user-friendly message are printed without their internal context.
func HandleFatalError(err error) {
	var friendlyErr errors.FriendlyError
	if errors.As(err, &friendlyErr) {
		fmt.Fprintln(stderr, friendlyErr.FriendlyMessage())
		log.WithError(err).Debug("Fatal error")
	} else {
		fmt.Fprintf(stderr, "Error: %s\n", err)
	}
	exit(1)
}

// HandlePanic logs the stack trace of a panic before exiting. It should be
// deferred at the start of every goroutine.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("panic", r).Errorf("Unexpected panic:\n%s", debug.Stack())
		fmt.Fprintf(stderr, "Unexpected panic: %v\n", r)
		exit(1)
	}
}
