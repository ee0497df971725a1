package clipboard

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/BurntSushi/xgb/xproto"
)

//----------

type propWrite struct {
	win    xproto.Window
	prop   xproto.Atom
	typ    xproto.Atom
	format byte
	data   []byte
	values []uint32
}

// fakeConn records every request the clipboard issues.
type fakeConn struct {
	nextWin   xproto.Window
	created   []xproto.Window
	destroyed []xproto.Window

	nextAtom    xproto.Atom
	atoms       map[string]xproto.Atom
	failIntern  map[string]bool
	nameLookups []xproto.Atom

	owner        xproto.Window
	refuseClaim  bool
	failSetOwner bool
	failGetOwner bool

	writes   []propWrite
	notifies []xproto.SelectionNotifyEvent
	watched  []xproto.Window

	maxReq int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		nextWin:  100,
		nextAtom: 300,
		atoms:    map[string]xproto.Atom{},
		// small request limit to keep INCR tests cheap: 64 byte chunks
		maxReq: 64 + changePropertyHeaderSize,
	}
}

func (fc *fakeConn) NewWindow() (xproto.Window, error) {
	fc.nextWin++
	fc.created = append(fc.created, fc.nextWin)
	return fc.nextWin, nil
}

func (fc *fakeConn) DestroyWindow(win xproto.Window) error {
	fc.destroyed = append(fc.destroyed, win)
	return nil
}

func (fc *fakeConn) InternAtoms(names []string) ([]xproto.Atom, []error) {
	atoms := make([]xproto.Atom, len(names))
	errs := make([]error, len(names))
	for i, name := range names {
		if fc.failIntern[name] {
			errs[i] = fmt.Errorf("intern refused: %v", name)
			continue
		}
		atoms[i] = fc.intern(name)
	}
	return atoms, errs
}

// intern is for test setup, bypassing the failure toggle.
func (fc *fakeConn) intern(name string) xproto.Atom {
	if a, ok := fc.atoms[name]; ok {
		return a
	}
	fc.nextAtom++
	fc.atoms[name] = fc.nextAtom
	return fc.nextAtom
}

func (fc *fakeConn) AtomName(atom xproto.Atom) (string, error) {
	fc.nameLookups = append(fc.nameLookups, atom)
	for name, a := range fc.atoms {
		if a == atom {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown atom: %v", atom)
}

func (fc *fakeConn) SetSelectionOwner(owner xproto.Window, selection xproto.Atom, t xproto.Timestamp) error {
	if fc.failSetOwner {
		return fmt.Errorf("set owner refused")
	}
	if !fc.refuseClaim {
		fc.owner = owner
	}
	return nil
}

func (fc *fakeConn) SelectionOwner(selection xproto.Atom) (xproto.Window, error) {
	if fc.failGetOwner {
		return 0, fmt.Errorf("get owner refused")
	}
	return fc.owner, nil
}

func (fc *fakeConn) ChangeProperty8(win xproto.Window, prop, typ xproto.Atom, data []byte) error {
	d := append([]byte{}, data...)
	fc.writes = append(fc.writes, propWrite{win: win, prop: prop, typ: typ, format: 8, data: d})
	return nil
}

func (fc *fakeConn) ChangeProperty32(win xproto.Window, prop, typ xproto.Atom, values []uint32) error {
	v := append([]uint32{}, values...)
	fc.writes = append(fc.writes, propWrite{win: win, prop: prop, typ: typ, format: 32, values: v})
	return nil
}

func (fc *fakeConn) WatchPropertyChanges(win xproto.Window) error {
	fc.watched = append(fc.watched, win)
	return nil
}

func (fc *fakeConn) NotifySelection(sne *xproto.SelectionNotifyEvent) error {
	fc.notifies = append(fc.notifies, *sne)
	return nil
}

func (fc *fakeConn) MaxRequestBytes() int {
	return fc.maxReq
}

//----------

func newTestState(t *testing.T, fc *fakeConn) *state {
	t.Helper()
	stime := &ServerTime{}
	stime.Set(1234)
	st, err := newState(fc, stime, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func selReq(owner, requestor xproto.Window, selection, target, property xproto.Atom) *xproto.SelectionRequestEvent {
	return &xproto.SelectionRequestEvent{
		Owner:     owner,
		Requestor: requestor,
		Selection: selection,
		Target:    target,
		Property:  property,
		Time:      1234,
	}
}

func propDelete(win xproto.Window, prop xproto.Atom) *xproto.PropertyNotifyEvent {
	return &xproto.PropertyNotifyEvent{
		Window: win,
		Atom:   prop,
		State:  xproto.PropertyDelete,
		Time:   1234,
	}
}

func lastNotify(t *testing.T, fc *fakeConn) xproto.SelectionNotifyEvent {
	t.Helper()
	if len(fc.notifies) == 0 {
		t.Fatal("no selection notify was sent")
	}
	return fc.notifies[len(fc.notifies)-1]
}

//----------

func TestPutFormatsKeepsOneContents(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	for i := 0; i < 3; i++ {
		if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("abc")}}); err != nil {
			t.Fatal(err)
		}
	}

	if st.contents == nil {
		t.Fatal("no contents after put")
	}
	if len(fc.created) != 3 {
		t.Fatalf("created %v windows, expected 3", len(fc.created))
	}
	last := fc.created[2]
	if st.contents.ownerWindow != last {
		t.Fatalf("contents window %v, expected most recent %v", st.contents.ownerWindow, last)
	}
	// all previous owner windows were destroyed
	if len(fc.destroyed) != 2 || fc.destroyed[0] != fc.created[0] || fc.destroyed[1] != fc.created[1] {
		t.Fatalf("destroyed %v, expected the two superseded windows %v", fc.destroyed, fc.created[:2])
	}
}

func TestPutFormatsClaimRefused(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("old")}}); err != nil {
		t.Fatal(err)
	}
	keep := st.contents

	fc.refuseClaim = true
	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("new")}}); err != nil {
		t.Fatal(err)
	}

	if st.contents != keep {
		t.Fatal("refused claim must not replace the current contents")
	}
	// the freshly created window must not leak
	refused := fc.created[1]
	if len(fc.destroyed) != 1 || fc.destroyed[0] != refused {
		t.Fatalf("destroyed %v, expected the refused window %v", fc.destroyed, refused)
	}
}

func TestPutFormatsInternFailureDropsFormat(t *testing.T) {
	fc := newFakeConn()
	fc.failIntern = map[string]bool{"bad/format": true}
	st := newTestState(t, fc)

	err := st.putFormats([]Format{
		{Name: "UTF8_STRING", Data: []byte("abc")},
		{Name: "bad/format", Data: []byte("abc")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := len(st.contents.data); n != 1 {
		t.Fatalf("%v formats kept, expected the failing one dropped", n)
	}
	if st.contents.data[0].target != fc.atoms["UTF8_STRING"] {
		t.Fatal("wrong format kept")
	}
}

func TestTargetsCompleteness(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	err := st.putFormats([]Format{
		{Name: "UTF8_STRING", Data: []byte("abc")},
		{Name: "text/plain;charset=utf-8", Data: []byte("abc")},
	})
	if err != nil {
		t.Fatal(err)
	}

	ev := selReq(st.contents.ownerWindow, 900, st.atoms.clipboard, st.atoms.targets, 901)
	if err := st.handleRequest(ev); err != nil {
		t.Fatal(err)
	}

	w := fc.writes[len(fc.writes)-1]
	if w.format != 32 || w.typ != xproto.AtomAtom {
		t.Fatalf("targets write format=%v type=%v, expected 32-bit ATOM", w.format, w.typ)
	}
	want := map[uint32]bool{
		uint32(fc.atoms["UTF8_STRING"]):              true,
		uint32(fc.atoms["text/plain;charset=utf-8"]): true,
		uint32(st.atoms.targets):                     true,
	}
	if len(w.values) != len(want) {
		t.Fatalf("targets %v, expected exactly %v entries", w.values, len(want))
	}
	for _, v := range w.values {
		if !want[v] {
			t.Fatalf("unexpected target atom %v", v)
		}
		delete(want, v)
	}
	if n := lastNotify(t, fc); n.Property != ev.Property {
		t.Fatalf("notify property %v, expected %v", n.Property, ev.Property)
	}
}

func TestRequestRejectedForForeignOwner(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("abc")}}); err != nil {
		t.Fatal(err)
	}

	ev := selReq(777, 900, st.atoms.clipboard, fc.atoms["UTF8_STRING"], 901)
	if err := st.handleRequest(ev); err != nil {
		t.Fatal(err)
	}

	if len(fc.writes) != 0 {
		t.Fatalf("%v property writes for a rejected request", len(fc.writes))
	}
	if n := lastNotify(t, fc); n.Property != xproto.AtomNone {
		t.Fatalf("notify property %v, expected None", n.Property)
	}
}

func TestRequestRejectedForUnknownTarget(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("abc")}}); err != nil {
		t.Fatal(err)
	}
	other := fc.intern("image/png")

	ev := selReq(st.contents.ownerWindow, 900, st.atoms.clipboard, other, 901)
	if err := st.handleRequest(ev); err != nil {
		t.Fatal(err)
	}

	if len(fc.writes) != 0 {
		t.Fatalf("%v property writes for a rejected request", len(fc.writes))
	}
	if n := lastNotify(t, fc); n.Property != xproto.AtomNone {
		t.Fatalf("notify property %v, expected None", n.Property)
	}
	// the foreign target's name is resolved for the debug log
	if len(fc.nameLookups) != 1 || fc.nameLookups[0] != other {
		t.Fatalf("name lookups %v, expected the foreign target %v", fc.nameLookups, other)
	}
}

func TestPutFormatsSetOwnerFailureCleansUp(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)
	fc.failSetOwner = true

	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("abc")}}); err == nil {
		t.Fatal("expected the set-owner failure to surface")
	}
	if st.contents != nil {
		t.Fatal("failed claim must not install contents")
	}
	if len(fc.destroyed) != 1 || fc.destroyed[0] != fc.created[0] {
		t.Fatalf("destroyed %v, expected the fresh window %v", fc.destroyed, fc.created)
	}
}

func TestPutFormatsGetOwnerFailureCleansUp(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)
	fc.failGetOwner = true

	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("abc")}}); err == nil {
		t.Fatal("expected the get-owner failure to surface")
	}
	if st.contents != nil {
		t.Fatal("unconfirmed claim must not install contents")
	}
	if len(fc.destroyed) != 1 || fc.destroyed[0] != fc.created[0] {
		t.Fatalf("destroyed %v, expected the fresh window %v", fc.destroyed, fc.created)
	}
}

func TestSmallPayloadRoundTrip(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	payload := []byte("hello clipboard")
	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: payload}}); err != nil {
		t.Fatal(err)
	}
	target := fc.atoms["UTF8_STRING"]

	ev := selReq(st.contents.ownerWindow, 900, st.atoms.clipboard, target, 901)
	if err := st.handleRequest(ev); err != nil {
		t.Fatal(err)
	}

	if len(fc.writes) != 1 {
		t.Fatalf("%v writes, expected a single direct write", len(fc.writes))
	}
	w := fc.writes[0]
	if w.win != ev.Requestor || w.prop != ev.Property || w.typ != target || w.format != 8 {
		t.Fatalf("write %+v does not address the request", w)
	}
	if !bytes.Equal(w.data, payload) {
		t.Fatalf("wrote %q, expected %q", w.data, payload)
	}
	if n := lastNotify(t, fc); n.Property != ev.Property || n.Target != target {
		t.Fatalf("notify %+v does not echo the request", n)
	}
	if len(st.incremental) != 0 {
		t.Fatal("small payload must not start an incremental transfer")
	}
}

func TestClearSemantics(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("abc")}}); err != nil {
		t.Fatal(err)
	}
	owner := st.contents.ownerWindow

	lost, err := st.handleClear(&xproto.SelectionClearEvent{Owner: owner, Selection: st.atoms.clipboard})
	if err != nil {
		t.Fatal(err)
	}
	if !lost {
		t.Fatal("clear for the current owner window must report lost")
	}
	if st.contents != nil {
		t.Fatal("contents survived a clear")
	}
	if len(fc.destroyed) != 1 || fc.destroyed[0] != owner {
		t.Fatalf("destroyed %v, expected the cleared owner %v", fc.destroyed, owner)
	}

	// requests against the old owner window are now rejected
	ev := selReq(owner, 900, st.atoms.clipboard, fc.atoms["UTF8_STRING"], 901)
	if err := st.handleRequest(ev); err != nil {
		t.Fatal(err)
	}
	if n := lastNotify(t, fc); n.Property != xproto.AtomNone {
		t.Fatalf("notify property %v, expected None", n.Property)
	}

	// and a new put succeeds independently
	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("def")}}); err != nil {
		t.Fatal(err)
	}
	if st.contents == nil {
		t.Fatal("put after clear left no contents")
	}
}

func TestClearForForeignWindowIsNoop(t *testing.T) {
	fc := newFakeConn()
	st := newTestState(t, fc)

	if err := st.putFormats([]Format{{Name: "UTF8_STRING", Data: []byte("abc")}}); err != nil {
		t.Fatal(err)
	}

	lost, err := st.handleClear(&xproto.SelectionClearEvent{Owner: 777, Selection: st.atoms.clipboard})
	if err != nil {
		t.Fatal(err)
	}
	if lost || st.contents == nil {
		t.Fatal("foreign clear must not drop the contents")
	}
}

func TestContentsDoubleDestroyIsNoop(t *testing.T) {
	fc := newFakeConn()
	sc, err := newSelectionContents(fc, 1234, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.destroy(fc); err != nil {
		t.Fatal(err)
	}
	if err := sc.destroy(fc); err != nil {
		t.Fatal(err)
	}
	if len(fc.destroyed) != 1 {
		t.Fatalf("%v destroy requests, expected 1", len(fc.destroyed))
	}
}

func TestFacadeSwallowsErrors(t *testing.T) {
	fc := newFakeConn()
	stime := &ServerTime{}
	c, err := New(fc, stime, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}

	c.PutString("hello")
	if c.st.contents == nil {
		t.Fatal("PutString did not claim the selection")
	}
	// offers both conventional text targets
	if n := len(c.st.contents.data); n != 2 {
		t.Fatalf("%v targets offered, expected 2", n)
	}

	if _, ok := c.GetString(); ok {
		t.Fatal("read side must stay unimplemented")
	}
	if _, ok := c.GetFormat("UTF8_STRING"); ok {
		t.Fatal("read side must stay unimplemented")
	}
	if _, ok := c.PreferredFormat([]string{"UTF8_STRING"}); ok {
		t.Fatal("read side must stay unimplemented")
	}
	if names := c.AvailableTypeNames(); len(names) != 0 {
		t.Fatal("read side must stay unimplemented")
	}
}
