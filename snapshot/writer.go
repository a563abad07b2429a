package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"matchbook/domain/book"
)

type Writer struct {
	Dir string
}

// Write captures every resting order at sequence seq. The file is
// written to a temp name and renamed, so a crash mid-write leaves the
// previous snapshot intact.
func (w *Writer) Write(seq uint64, books map[string][]book.Order) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	s := Snapshot{
		Seq:     seq,
		Created: time.Now(),
		Orders:  make([]OrderEntry, 0, 1024),
	}
	for sym, orders := range books {
		for _, o := range orders {
			s.Orders = append(s.Orders, OrderEntry{
				ID:         o.ID,
				Instrument: sym,
				Owner:      o.Owner,
				Side:       uint8(o.Side),
				Price:      o.Price,
				Qty:        o.Remaining(),
			})
		}
	}

	tmp := filepath.Join(w.Dir, fileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.Dir, fileName))
}
