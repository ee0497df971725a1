package clipboard

import (
	"bytes"
	"encoding/binary"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"

	"github.com/xclipd/xclipd/xdriver/xutil"
)

// Conn is the slice of the x connection the clipboard owner needs. It is
// satisfied by XConn; tests substitute an in-memory fake.
type Conn interface {
	// NewWindow creates a 1x1 unmapped window used only as an ownership
	// token for the selection.
	NewWindow() (xproto.Window, error)
	DestroyWindow(win xproto.Window) error

	// InternAtoms resolves names to atoms in one pipelined batch (all
	// requests issued before the first reply is read). Results are
	// positional; a failed entry is zero with its error in errs.
	InternAtoms(names []string) (atoms []xproto.Atom, errs []error)

	// AtomName resolves an atom back to its name (debug logging).
	AtomName(atom xproto.Atom) (string, error)

	SetSelectionOwner(owner xproto.Window, selection xproto.Atom, t xproto.Timestamp) error
	SelectionOwner(selection xproto.Atom) (xproto.Window, error)

	ChangeProperty8(win xproto.Window, prop, typ xproto.Atom, data []byte) error
	ChangeProperty32(win xproto.Window, prop, typ xproto.Atom, values []uint32) error

	// WatchPropertyChanges subscribes to PropertyNotify events on win.
	WatchPropertyChanges(win xproto.Window) error

	NotifySelection(sne *xproto.SelectionNotifyEvent) error

	MaxRequestBytes() int
}

//----------

// XConn implements Conn on a live xgb connection.
type XConn struct {
	conn   *xgb.Conn
	setup  *xproto.SetupInfo
	screen *xproto.ScreenInfo
}

func NewXConn(conn *xgb.Conn) *XConn {
	si := xproto.Setup(conn)
	return &XConn{
		conn:   conn,
		setup:  si,
		screen: si.DefaultScreen(conn),
	}
}

func (c *XConn) NewWindow() (xproto.Window, error) {
	win, err := xproto.NewWindowId(c.conn)
	if err != nil {
		return 0, errors.Wrap(err, "window id")
	}
	c1 := xproto.CreateWindowChecked(
		c.conn,
		c.screen.RootDepth,
		win,
		c.screen.Root,
		0, 0, 1, 1,
		0, // border width
		xproto.WindowClassInputOutput,
		c.screen.RootVisual,
		0, nil)
	if err := c1.Check(); err != nil {
		return 0, errors.Wrap(err, "create window")
	}
	return win, nil
}

func (c *XConn) DestroyWindow(win xproto.Window) error {
	return xproto.DestroyWindowChecked(c.conn, win).Check()
}

func (c *XConn) InternAtoms(names []string) ([]xproto.Atom, []error) {
	// request all atoms before reading the first reply
	cookies := make([]xproto.InternAtomCookie, len(names))
	for i, name := range names {
		cookies[i] = xproto.InternAtom(c.conn, false, uint16(len(name)), name)
	}
	atoms := make([]xproto.Atom, len(names))
	errs := make([]error, len(names))
	for i, cookie := range cookies {
		reply, err := cookie.Reply()
		if err != nil {
			errs[i] = err
			continue
		}
		atoms[i] = reply.Atom
	}
	return atoms, errs
}

func (c *XConn) AtomName(atom xproto.Atom) (string, error) {
	return xutil.GetAtomName(c.conn, atom)
}

func (c *XConn) SetSelectionOwner(owner xproto.Window, selection xproto.Atom, t xproto.Timestamp) error {
	return xproto.SetSelectionOwnerChecked(c.conn, owner, selection, t).Check()
}

func (c *XConn) SelectionOwner(selection xproto.Atom) (xproto.Window, error) {
	reply, err := xproto.GetSelectionOwner(c.conn, selection).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Owner, nil
}

func (c *XConn) ChangeProperty8(win xproto.Window, prop, typ xproto.Atom, data []byte) error {
	c1 := xproto.ChangePropertyChecked(
		c.conn,
		xproto.PropModeReplace,
		win,
		prop,
		typ,
		8, // format
		uint32(len(data)),
		data)
	return c1.Check()
}

func (c *XConn) ChangeProperty32(win xproto.Window, prop, typ xproto.Atom, values []uint32) error {
	tbuf := new(bytes.Buffer)
	for _, v := range values {
		binary.Write(tbuf, binary.LittleEndian, v)
	}
	c1 := xproto.ChangePropertyChecked(
		c.conn,
		xproto.PropModeReplace,
		win,
		prop,
		typ,
		32, // format
		uint32(len(values)),
		tbuf.Bytes())
	return c1.Check()
}

func (c *XConn) WatchPropertyChanges(win xproto.Window) error {
	c1 := xproto.ChangeWindowAttributesChecked(
		c.conn,
		win,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskPropertyChange})
	return c1.Check()
}

func (c *XConn) NotifySelection(sne *xproto.SelectionNotifyEvent) error {
	c1 := xproto.SendEventChecked(
		c.conn,
		false,
		sne.Requestor,
		xproto.EventMaskNoEvent,
		string(sne.Bytes()))
	return c1.Check()
}

func (c *XConn) MaxRequestBytes() int {
	// length unit is 4 bytes
	return int(c.setup.MaximumRequestLength) * 4
}

//----------

const changePropertyHeaderSize = 24

// maxPropertyLen is the biggest payload written in a single ChangeProperty
// request. The connection maximum is clamped to 64k to not stress the server
// with oversized requests.
func maxPropertyLen(conn Conn) int {
	max := conn.MaxRequestBytes()
	if max > 1<<16-1 {
		max = 1<<16 - 1
	}
	return max - changePropertyHeaderSize
}
