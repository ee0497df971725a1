package clipboard

import (
	"sync/atomic"

	"github.com/BurntSushi/xgb/xproto"
)

// ServerTime holds the most recent timestamp seen on the x event stream.
// Ownership claims must carry a real server timestamp to resolve races
// between competing owners; the windowing layer updates the cell on each
// timestamped event and the clipboard reads it when claiming.
//
// A zero value means no event was seen yet and is sent to the server as
// CurrentTime.
type ServerTime struct {
	t atomic.Uint32
}

func (st *ServerTime) Set(t xproto.Timestamp) {
	st.t.Store(uint32(t))
}

func (st *ServerTime) Get() xproto.Timestamp {
	return xproto.Timestamp(st.t.Load())
}
