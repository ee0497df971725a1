package clipboard

import (
	"math"

	"github.com/BurntSushi/xgb/xproto"
)

// incrementalTransfer streams one payload too big for a single property
// write to one requestor, paced by the requestor deleting the property
// after consuming each chunk.
// https://tronche.com/gui/x/icccm/sec-2.html#s-2.7.2
type incrementalTransfer struct {
	requestor xproto.Window
	selection xproto.Atom
	target    xproto.Atom
	property  xproto.Atom
	time      xproto.Timestamp

	data   []byte // shared with selectionContents, never mutated
	offset int
}

// newIncrementalTransfer performs the INCR handshake: subscribe to
// PropertyNotify on the requestor (needed to observe the deletions that
// pace the transfer), then announce the total length in a 32-bit property
// typed INCR.
func newIncrementalTransfer(conn Conn, ev *xproto.SelectionRequestEvent, data []byte, incr xproto.Atom) (*incrementalTransfer, error) {
	if err := conn.WatchPropertyChanges(ev.Requestor); err != nil {
		return nil, err
	}
	if err := conn.ChangeProperty32(ev.Requestor, ev.Property, incr, []uint32{saturatedLen(len(data))}); err != nil {
		return nil, err
	}
	return &incrementalTransfer{
		requestor: ev.Requestor,
		selection: ev.Selection,
		target:    ev.Target,
		property:  ev.Property,
		time:      ev.Time,
		data:      data,
	}, nil
}

// continueIncremental writes the next chunk and reports whether the
// transfer is finished. The terminating zero-length write is what signals
// completion to the requestor, so the transfer is only done once there
// were no bytes left to send.
func (t *incrementalTransfer) continueIncremental(conn Conn) (bool, error) {
	remaining := t.data[t.offset:]
	n := len(remaining)
	if max := maxPropertyLen(conn); n > max {
		n = max
	}
	if err := conn.ChangeProperty8(t.requestor, t.property, t.target, remaining[:n]); err != nil {
		return false, err
	}
	t.offset += n
	return len(remaining) == 0, nil
}

// matches reports whether a property notification belongs to this transfer.
// Transfers are addressed by (requestor, property).
func (t *incrementalTransfer) matches(ev *xproto.PropertyNotifyEvent) bool {
	return t.requestor == ev.Window && t.property == ev.Atom
}

// saturatedLen converts a payload length to the 32-bit INCR announcement,
// saturating instead of overflowing.
func saturatedLen(n int) uint32 {
	if uint64(n) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}
