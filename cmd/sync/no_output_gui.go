package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sidkik/treemirror/pkg/progress"
)

// headlessGUI prints notifications as plain lines. It's used when the output
// isn't an interactive terminal. It returns once the session has stopped
// and its feed has been drained.
type headlessGUI struct {
	out io.Writer
}

func (gui headlessGUI) Run(s sessionView) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-interrupts:
			s.Stop()
		case <-done:
		}
	}()

	return gui.print(s.Feed().Subscribe())
}

func (gui headlessGUI) print(cursor *progress.Cursor) error {
	for {
		n, err := cursor.Next(context.Background())
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(gui.out, formatNotification(n))
	}
}
