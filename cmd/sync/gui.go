package sync

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/buger/goterm"
	"github.com/dustin/go-humanize"
	"github.com/jroimartin/gocui"

	"github.com/sidkik/treemirror/cmd/util"
	"github.com/sidkik/treemirror/pkg/config"
	"github.com/sidkik/treemirror/pkg/errors"
	"github.com/sidkik/treemirror/pkg/progress"
	"github.com/sidkik/treemirror/pkg/session"
)

const (
	sessionWidgetName  = "session"
	activityWidgetName = "activity"
)

// sessionView is the part of a session that's shown to the user.
type sessionView interface {
	ID() string
	Config() config.Session
	State() session.State
	StartedAt() time.Time
	Feed() *progress.Feed
	Stop()
}

type frontEnd interface {
	// Run shows the session's progress until the user quits. Quitting stops
	// the session.
	Run(sessionView) error
}

// sessionGUI is the terminal UI used for normal usage. It shows the session
// overview at the top, and streams the session's notifications below it.
type sessionGUI struct{}

func newSessionGUI() frontEnd {
	return sessionGUI{}
}

func (sessionGUI) Run(s sessionView) error {
	gui, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return err
	}
	defer gui.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer util.HandlePanic()
		copyToView(ctx, gui, activityWidgetName, s.Feed().Subscribe())
	}()

	gui.SetManager(&sessionWidget{s}, &activityWidget{})
	ctrlCHandler := func(_ *gocui.Gui, _ *gocui.View) error {
		return gocui.ErrQuit
	}
	if err := gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone, ctrlCHandler); err != nil {
		return errors.WithContext(err, "bind GUI Ctrl-C")
	}

	if err := gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

// sessionWidget displays the session's directories and state at the top of
// the GUI. It's redrawn along with every new notification.
type sessionWidget struct {
	session sessionView
}

const sessionWidgetHeight = 4

func (w *sessionWidget) Layout(g *gocui.Gui) error {
	maxWidth, _ := g.Size()

	v, err := g.SetView(sessionWidgetName, 0, 0, maxWidth-1, sessionWidgetHeight+1)
	if err != nil && err != gocui.ErrUnknownView {
		return err
	}

	v.Title = fmt.Sprintf("Session %s", w.session.ID())
	v.Wrap = true
	v.Clear()

	out := tabwriter.NewWriter(v, 0, 10, 5, ' ', 0)
	defer out.Flush()

	cfg := w.session.Config()
	fmt.Fprintf(out, "Source\t%s\n", cfg.Source)
	fmt.Fprintf(out, "Target\t%s\n", cfg.Target)
	fmt.Fprintf(out, "State\t%s\n", stateString(w.session.State()))
	fmt.Fprintf(out, "Started\t%s\n", humanize.Time(w.session.StartedAt()))
	return nil
}

func stateString(state session.State) string {
	switch state {
	case session.Monitoring:
		return goterm.Color(state.String(), goterm.GREEN)
	case session.InitialSync:
		return goterm.Color(state.String(), goterm.YELLOW)
	case session.Stopped:
		return goterm.Color(state.String(), goterm.RED)
	default:
		return state.String()
	}
}

// activityWidget is an empty view that streams the session's notifications.
// It fills the space under the session view.
type activityWidget struct{}

func (w *activityWidget) Layout(g *gocui.Gui) error {
	maxWidth, maxHeight := g.Size()

	_, _, _, top, err := g.ViewPosition(sessionWidgetName)
	if err != nil {
		return err
	}

	bottom := maxHeight - 1
	if bottom <= top+1 {
		bottom = top + 2
	}

	v, err := g.SetView(activityWidgetName, 0, top+1, maxWidth-1, bottom)
	if err != nil && err != gocui.ErrUnknownView {
		return err
	}

	v.Title = "Activity"
	v.Wrap = true
	v.Autoscroll = true
	return nil
}

// copyToView writes the notifications read from `cursor` into the desired
// `view` in `gui`. It guarantees writes occur in the order of the feed.
func copyToView(ctx context.Context, gui *gocui.Gui, view string, cursor *progress.Cursor) {
	for {
		n, err := cursor.Next(ctx)
		if err != nil {
			return
		}

		line := []byte(formatNotification(n) + "\n")
		done := make(chan struct{})
		gui.Update(func(gui *gocui.Gui) error {
			defer close(done)
			v, err := gui.View(view)
			if err != nil {
				return err
			}

			if _, err := v.Write(line); err != nil {
				return err
			}
			return nil
		})

		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

// formatNotification returns the notification as a single line. Errors are
// colored red.
func formatNotification(n progress.Notification) string {
	msg := n.String()
	if n.Kind == progress.Error {
		msg = goterm.Color(msg, goterm.RED)
	}
	return fmt.Sprintf("%s %s", n.Time.Format(time.Kitchen), msg)
}
