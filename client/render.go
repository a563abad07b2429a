package client

import (
	"fmt"
	"io"
	"strings"

	"matchbook/wire"
)

const chartWidth = 40

// RenderSnapshot prints a book snapshot as text. With chart set, each
// level gets a bar scaled against the deepest level on either side.
func RenderSnapshot(w io.Writer, snap wire.BookSnapshotResponse, chart bool) {
	fmt.Fprintf(w, "%s  bids=%d asks=%d\n", snap.Instrument, len(snap.Bids), len(snap.Asks))
	if len(snap.Bids) == 0 && len(snap.Asks) == 0 {
		fmt.Fprintln(w, "  (empty book)")
		return
	}

	var maxQty int64
	for _, l := range snap.Bids {
		maxQty = max64(maxQty, l.Qty)
	}
	for _, l := range snap.Asks {
		maxQty = max64(maxQty, l.Qty)
	}

	// Asks print top-down so the spread sits in the middle.
	for i := len(snap.Asks) - 1; i >= 0; i-- {
		renderLevel(w, "ask", snap.Asks[i], maxQty, chart)
	}
	for _, l := range snap.Bids {
		renderLevel(w, "bid", l, maxQty, chart)
	}
}

func renderLevel(w io.Writer, side string, l wire.Level, maxQty int64, chart bool) {
	if !chart {
		fmt.Fprintf(w, "  %s %10d x %-10d\n", side, l.Price, l.Qty)
		return
	}
	n := int(l.Qty * chartWidth / maxQty)
	if n == 0 && l.Qty > 0 {
		n = 1
	}
	fmt.Fprintf(w, "  %s %10d |%s %d\n", side, l.Price, strings.Repeat("#", n), l.Qty)
}

// RenderCSV emits (side, price, quantity) rows for the external
// charting consumer.
func RenderCSV(w io.Writer, snap wire.BookSnapshotResponse) {
	fmt.Fprintln(w, "side,price,quantity")
	for _, l := range snap.Bids {
		fmt.Fprintf(w, "bid,%d,%d\n", l.Price, l.Qty)
	}
	for _, l := range snap.Asks {
		fmt.Fprintf(w, "ask,%d,%d\n", l.Price, l.Qty)
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
