// Package xdriver owns the x connection and the event loop, and routes
// selection events to the clipboard.
package xdriver

import (
	"log/slog"
	"os"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"

	"github.com/xclipd/xclipd/xdriver/clipboard"
	"github.com/xclipd/xclipd/xdriver/xutil"
)

// ConnClosed is delivered when the x connection shuts down.
type ConnClosed struct{}

// SelectionLost is delivered when another client takes the CLIPBOARD
// selection away from us.
type SelectionLost struct{}

type Window struct {
	Conn   *xgb.Conn
	Window xproto.Window
	Screen *xproto.ScreenInfo

	Clipboard *clipboard.Clipboard

	stime     *clipboard.ServerTime
	logger    *slog.Logger
	closeOnce sync.Once
	events    chan any
}

func NewWindow(logger *slog.Logger) (*Window, error) {
	if logger == nil {
		logger = slog.Default()
	}
	display := os.Getenv("DISPLAY")
	conn, err := xgb.NewConnDisplay(display)
	if err != nil {
		return nil, errors.Wrap(err, "x conn")
	}

	win := &Window{
		Conn:   conn,
		logger: logger,
		stime:  &clipboard.ServerTime{},
		events: make(chan any, 8),
	}
	if err := win.initialize(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "win init")
	}

	go win.eventLoop()

	return win, nil
}

func (win *Window) initialize() error {
	si := xproto.Setup(win.Conn)
	win.Screen = si.DefaultScreen(win.Conn)

	window, err := xproto.NewWindowId(win.Conn)
	if err != nil {
		return err
	}
	win.Window = window

	// Unmapped 1x1 window, wanted only for its event stream.
	mask := uint32(xproto.CwEventMask)
	values := []uint32{xproto.EventMaskPropertyChange}
	c1 := xproto.CreateWindowChecked(
		win.Conn,
		win.Screen.RootDepth,
		win.Window,
		win.Screen.Root,
		0, 0, 1, 1,
		0, // border width
		xproto.WindowClassInputOutput,
		win.Screen.RootVisual,
		mask, values)
	if err := c1.Check(); err != nil {
		return err
	}

	if err := xutil.LoadAtoms(win.Conn, &Atoms, false); err != nil {
		return err
	}

	cb, err := clipboard.New(clipboard.NewXConn(win.Conn), win.stime, win.logger)
	if err != nil {
		return err
	}
	win.Clipboard = cb

	return win.touchTime()
}

// touchTime appends zero bytes to a property on our own window. The
// resulting PropertyNotify seeds the server-time cell, so the first
// ownership claim can already carry a real timestamp.
func (win *Window) touchTime() error {
	c1 := xproto.ChangePropertyChecked(
		win.Conn,
		xproto.PropModeAppend,
		win.Window,
		Atoms.XclipdTime,
		xproto.AtomString,
		8, // format
		0,
		nil)
	return c1.Check()
}

func (win *Window) Close() error {
	win.closeOnce.Do(func() {
		win.Conn.Close()
	})
	return nil
}

// Events delivers errors, ConnClosed and SelectionLost to the application.
func (win *Window) Events() <-chan any {
	return win.events
}

func (win *Window) eventLoop() {
	for {
		ev, xerr := win.Conn.WaitForEvent()
		if ev == nil && xerr == nil {
			win.events <- &ConnClosed{}
			return
		}
		if xerr != nil {
			win.events <- error(xerr)
		}
		if ev != nil {
			win.handleEvent(ev)
		}
	}
}

func (win *Window) handleEvent(ev xgb.Event) {
	switch t := ev.(type) {
	case xproto.PropertyNotifyEvent:
		win.stime.Set(t.Time)
		win.Clipboard.OnPropertyNotify(&t)
	case xproto.SelectionRequestEvent:
		win.Clipboard.OnSelectionRequest(&t)
	case xproto.SelectionClearEvent:
		win.stime.Set(t.Time)
		if win.Clipboard.OnSelectionClear(&t) {
			win.events <- &SelectionLost{}
		}
	case xproto.SelectionNotifyEvent:
		// read side not implemented; nothing waits on these
	case xproto.MapNotifyEvent, xproto.ReparentNotifyEvent:
		// window lifecycle noise
	default:
		win.logger.Debug("unhandled x event", "event", spew.Sdump(ev))
	}
}

var Atoms struct {
	XclipdTime xproto.Atom `loadAtoms:"XCLIPD_TIME"`
}
