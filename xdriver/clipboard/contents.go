package clipboard

import (
	"log/slog"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"
)

// Format is one representation of the clipboard payload, named by the x
// target atom its Name interns to (ex: "UTF8_STRING", "image/png").
type Format struct {
	Name string
	Data []byte
}

type targetData struct {
	target xproto.Atom
	data   []byte // shared with in-flight transfers, never mutated
}

// selectionContents is what we currently offer as selection owner: a
// dedicated window to be named as owner, the claim timestamp, and the
// offered targets. At most one instance is live at any time.
type selectionContents struct {
	ownerWindow xproto.Window
	timestamp   xproto.Timestamp
	data        []targetData
}

func newSelectionContents(conn Conn, timestamp xproto.Timestamp, formats []Format, logger *slog.Logger) (*selectionContents, error) {
	win, err := conn.NewWindow()
	if err != nil {
		return nil, errors.Wrap(err, "owner window")
	}
	sc := &selectionContents{
		ownerWindow: win,
		timestamp:   timestamp,
	}
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = f.Name
	}
	atoms, errs := conn.InternAtoms(names)
	for i, f := range formats {
		if errs[i] != nil {
			// drop this format only, keep the others
			logger.Error("clipboard: intern format atom", "name", f.Name, "err", errs[i])
			continue
		}
		sc.data = append(sc.data, targetData{target: atoms[i], data: f.Data})
	}
	return sc, nil
}

func (sc *selectionContents) lookup(target xproto.Atom) ([]byte, bool) {
	for _, td := range sc.data {
		if td.target == target {
			return td.data, true
		}
	}
	return nil, false
}

func (sc *selectionContents) targets() []xproto.Atom {
	atoms := make([]xproto.Atom, 0, len(sc.data))
	for _, td := range sc.data {
		atoms = append(atoms, td.target)
	}
	return atoms
}

// destroy releases the owner window. The window id is replaced with the
// none sentinel so a second destroy is a no-op instead of an x error.
func (sc *selectionContents) destroy(conn Conn) error {
	if sc.ownerWindow == xproto.WindowNone {
		return nil
	}
	win := sc.ownerWindow
	sc.ownerWindow = xproto.WindowNone
	return conn.DestroyWindow(win)
}
