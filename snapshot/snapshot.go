// Package snapshot persists the set of resting orders so recovery can
// bound journal replay: load the snapshot, then replay only records
// with a sequence above Snapshot.Seq.
package snapshot

import "time"

const fileName = "snapshot.bin"

type Snapshot struct {
	Seq     uint64
	Created time.Time
	Orders  []OrderEntry
}

// OrderEntry is one resting order. Qty is the unfilled remainder at
// capture time.
type OrderEntry struct {
	ID         uint64
	Instrument string
	Owner      string
	Side       uint8
	Price      int64
	Qty        int64
}
