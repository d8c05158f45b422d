package util

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/treemirror/pkg/errors"
)

// TestHelper contains methods commonly used during integration tests.
type TestHelper struct {
	// Binary is the path to the treemirror binary under test.
	Binary string

	// LogPath is the file that every command writes its logs to.
	LogPath string
}

// NewTestHelper creates a new TestHelper.
func NewTestHelper(binary, logPath string) *TestHelper {
	return &TestHelper{Binary: binary, LogPath: logPath}
}

// Output is a thread-safe stream of lines printed by a command.
type Output struct {
	lines chan string
}

// WaitFor blocks until a line containing `expOutput` is printed, or `ctx` has
// expired.
func (out Output) WaitFor(ctx context.Context, expOutput string) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled while waiting for %q", expOutput)
		case line, ok := <-out.lines:
			if !ok {
				return fmt.Errorf("output ended before %q", expOutput)
			}
			if strings.Contains(line, expOutput) {
				return nil
			}
		}
	}
}

// Start starts the given treemirror command. It returns the stdout output,
// and a channel for obtaining any errors after starting the command, and any
// errors from starting the command. Cancelling `ctx` interrupts the command.
func (helper *TestHelper) Start(ctx context.Context, args ...string) (
	Output, chan error, error) {

	cmd := exec.Command(helper.Binary, args...)

	stdoutReader, err := cmd.StdoutPipe()
	if err != nil {
		return Output{}, nil, err
	}

	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Output{}, nil, err
	}

	out := Output{lines: make(chan string, 1024)}
	go streamLines(stdoutReader, out.lines)

	errChan := make(chan error, 1)
	go func() {
		waitErr := make(chan error)
		go func() {
			waitErr <- cmd.Wait()
			close(waitErr)
		}()

		defer close(errChan)
		select {
		case <-ctx.Done():
			if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
				errChan <- errors.WithContext(err, "interrupt")
				return
			}
			if err := <-waitErr; err != nil {
				errChan <- fmt.Errorf("exited uncleanly (%s): stderr: %s", err, stderr)
			}
		case err := <-waitErr:
			if err != nil {
				errChan <- fmt.Errorf("crashed (%s): stderr: %s", err, stderr)
			}
		}
	}()
	return out, errChan, nil
}

// streamLines sends every line read from `reader` to `lines`. Lines are
// dropped once the buffer is full, so that a test that stops reading can't
// block the command.
func streamLines(reader io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		log.WithField("line", scanner.Text()).Debug("Command output")
		select {
		case lines <- scanner.Text():
		default:
		}
	}
}

// Run runs the given treemirror command to completion, and returns its
// stdout.
func (helper *TestHelper) Run(ctx context.Context, command ...string) ([]byte, error) {
	return exec.CommandContext(ctx, helper.Binary, command...).Output()
}

// Sync runs `treemirror sync` with the given arguments, and waits until the
// initial sync has finished and the session is watching for changes.
func (helper *TestHelper) Sync(ctx context.Context, args ...string) (Output, chan error, error) {
	log.Info("Starting treemirror sync")
	cmd := append([]string{"sync", "--no-gui", "--log-file", helper.LogPath}, args...)
	out, cmdErr, startErr := helper.Start(ctx, cmd...)
	if startErr != nil {
		return Output{}, nil, errors.WithContext(startErr, "start")
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, time.Minute)
	defer cancelWait()

	monitoringErr := make(chan error, 1)
	go func() {
		monitoringErr <- out.WaitFor(waitCtx, "Monitoring for changes")
	}()

	select {
	// If `treemirror sync` crashes.
	case err := <-cmdErr:
		return Output{}, nil, errors.WithContext(err, "treemirror sync crashed")

	case err := <-monitoringErr:
		if err != nil {
			return Output{}, nil, errors.WithContext(err, "wait for monitoring")
		}
		return out, cmdErr, nil
	}
}
