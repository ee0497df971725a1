// Package clipboard implements the owner side of the x11 CLIPBOARD
// selection: claiming ownership, answering TARGETS and data requests from
// other clients, and streaming oversized payloads with the INCR protocol.
//
// The read side (getting contents from a foreign owner) is not implemented;
// the Get* methods are stubs.
package clipboard

import (
	"log/slog"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"
)

// Conventional text targets offered by PutString.
const (
	TargetUTF8String    = "UTF8_STRING"
	TargetTextPlainUTF8 = "text/plain;charset=utf-8"
)

// Clipboard is the application-facing handle. Event handlers and Put*
// calls may come from different goroutines (event loop vs application);
// all state changes together per event, so a single lock serializes them.
//
// Protocol failures are logged here and never surface to the application.
type Clipboard struct {
	mu     sync.Mutex
	st     *state
	logger *slog.Logger
}

// New interns the protocol atoms and returns a clipboard with no contents.
// stime is the server-timestamp cell kept current by the windowing layer.
func New(conn Conn, stime *ServerTime, logger *slog.Logger) (*Clipboard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := newState(conn, stime, logger)
	if err != nil {
		return nil, err
	}
	return &Clipboard{st: st, logger: logger}, nil
}

func (c *Clipboard) PutString(s string) {
	b := []byte(s)
	c.PutFormats([]Format{
		{Name: TargetUTF8String, Data: b},
		{Name: TargetTextPlainUTF8, Data: b},
	})
}

// PutFormats claims the CLIPBOARD selection offering the given formats.
// Buffers must not be mutated after the call.
func (c *Clipboard) PutFormats(formats []Format) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.st.putFormats(formats); err != nil {
		c.logger.Error("clipboard: put formats", "err", err)
	}
}

// OnSelectionClear reports whether the current contents were cleared (we
// lost ownership to another client).
func (c *Clipboard) OnSelectionClear(ev *xproto.SelectionClearEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	lost, err := c.st.handleClear(ev)
	if err != nil {
		c.logger.Error("clipboard: selection clear", "err", err)
	}
	return lost
}

func (c *Clipboard) OnSelectionRequest(ev *xproto.SelectionRequestEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.st.handleRequest(ev); err != nil {
		c.logger.Error("clipboard: selection request", "err", err)
	}
}

func (c *Clipboard) OnPropertyNotify(ev *xproto.PropertyNotifyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.st.handlePropertyNotify(ev); err != nil {
		c.logger.Error("clipboard: property notify", "err", err)
	}
}

//----------

// Read side: unimplemented (write-only owner). Kept as stubs so the
// surface matches the usual clipboard shape.

func (c *Clipboard) GetString() (string, bool) {
	c.logger.Warn("clipboard: GetString is not implemented")
	return "", false
}

func (c *Clipboard) GetFormat(name string) ([]byte, bool) {
	c.logger.Warn("clipboard: GetFormat is not implemented", "name", name)
	return nil, false
}

func (c *Clipboard) PreferredFormat(names []string) (string, bool) {
	c.logger.Warn("clipboard: PreferredFormat is not implemented")
	return "", false
}

func (c *Clipboard) AvailableTypeNames() []string {
	c.logger.Warn("clipboard: AvailableTypeNames is not implemented")
	return nil
}

//----------

type stateAtoms struct {
	clipboard xproto.Atom
	targets   xproto.Atom
	incr      xproto.Atom
}

// state is the single authority over what we own and which transfers are
// mid-flight. Not safe for concurrent use; Clipboard serializes access.
type state struct {
	conn   Conn
	logger *slog.Logger
	atoms  stateAtoms
	stime  *ServerTime

	contents    *selectionContents
	incremental []*incrementalTransfer
}

func newState(conn Conn, stime *ServerTime, logger *slog.Logger) (*state, error) {
	st := &state{conn: conn, stime: stime, logger: logger}
	names := []string{"CLIPBOARD", "TARGETS", "INCR"}
	atoms, errs := conn.InternAtoms(names)
	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "intern %v", names[i])
		}
	}
	st.atoms = stateAtoms{clipboard: atoms[0], targets: atoms[1], incr: atoms[2]}
	return st, nil
}

func (st *state) putFormats(formats []Format) error {
	contents, err := newSelectionContents(st.conn, st.stime.Get(), formats, st.logger)
	if err != nil {
		return err
	}
	if err := st.conn.SetSelectionOwner(contents.ownerWindow, st.atoms.clipboard, contents.timestamp); err != nil {
		_ = contents.destroy(st.conn)
		return errors.Wrap(err, "set selection owner")
	}

	// The server silently refuses claims with a stale timestamp; re-query
	// the owner to confirm the claim took.
	owner, err := st.conn.SelectionOwner(st.atoms.clipboard)
	if err != nil {
		_ = contents.destroy(st.conn)
		return errors.Wrap(err, "get selection owner")
	}
	if owner != contents.ownerWindow {
		// Refused claim, same as claiming and being cleared right away.
		// Destroying the window here is what keeps it from leaking.
		st.logger.Warn("clipboard: ownership claim not granted", "timestamp", uint32(contents.timestamp))
		return contents.destroy(st.conn)
	}

	old := st.contents
	st.contents = contents
	if old != nil {
		return old.destroy(st.conn)
	}
	return nil
}

func (st *state) handleClear(ev *xproto.SelectionClearEvent) (bool, error) {
	if st.contents == nil || st.contents.ownerWindow != ev.Owner {
		// stale or foreign clear
		return false, nil
	}
	contents := st.contents
	st.contents = nil
	return true, contents.destroy(st.conn)
}

func (st *state) handleRequest(ev *xproto.SelectionRequestEvent) error {
	if st.contents == nil || st.contents.ownerWindow != ev.Owner {
		return st.reject(ev)
	}

	switch {
	case ev.Target == st.atoms.targets:
		// TARGETS replies with a 32-bit array of the offered atoms,
		// TARGETS itself included
		atoms := append(st.contents.targets(), st.atoms.targets)
		values := make([]uint32, len(atoms))
		for i, a := range atoms {
			values[i] = uint32(a)
		}
		if err := st.conn.ChangeProperty32(ev.Requestor, ev.Property, xproto.AtomAtom, values); err != nil {
			return err
		}
	default:
		data, ok := st.contents.lookup(ev.Target)
		if !ok {
			st.debugForeignTarget(ev.Target)
			return st.reject(ev)
		}
		if len(data) > maxPropertyLen(st.conn) {
			t, err := newIncrementalTransfer(st.conn, ev, data, st.atoms.incr)
			if err != nil {
				return err
			}
			st.incremental = append(st.incremental, t)
		} else {
			if err := st.conn.ChangeProperty8(ev.Requestor, ev.Property, ev.Target, data); err != nil {
				return err
			}
		}
	}

	// Tell the requestor the data (or the INCR announcement) is there.
	return st.notify(ev, ev.Property)
}

func (st *state) handlePropertyNotify(ev *xproto.PropertyNotifyEvent) error {
	// Only deletions matter: the requestor consumed the previous chunk.
	if ev.State != xproto.PropertyDelete {
		return nil
	}
	for i, t := range st.incremental {
		if !t.matches(ev) {
			continue
		}
		done, err := t.continueIncremental(st.conn)
		if err != nil {
			return err
		}
		if done {
			st.incremental = append(st.incremental[:i], st.incremental[i+1:]...)
		}
		return nil
	}
	// no matching transfer (ex: already completed), ignore
	return nil
}

// debugForeignTarget logs the name of a target we do not offer (some
// clients probe many non-standard types before settling on one).
func (st *state) debugForeignTarget(target xproto.Atom) {
	name, err := st.conn.AtomName(target)
	if err != nil {
		st.logger.Debug("clipboard: request for foreign target", "atom", uint32(target), "err", err)
		return
	}
	st.logger.Debug("clipboard: request for foreign target", "atom", uint32(target), "name", name)
}

// reject answers a request we cannot serve; property None signals refusal.
func (st *state) reject(ev *xproto.SelectionRequestEvent) error {
	return st.notify(ev, xproto.AtomNone)
}

func (st *state) notify(ev *xproto.SelectionRequestEvent, property xproto.Atom) error {
	return st.conn.NotifySelection(&xproto.SelectionNotifyEvent{
		Requestor: ev.Requestor,
		Selection: ev.Selection,
		Target:    ev.Target,
		Property:  property,
		Time:      ev.Time,
	})
}
