package book

// Trade is an immutable record of a match. Price is always the resting
// order's price (price improvement goes to the incoming order). Seq is
// stamped by the engine sequencer after the matching pass.
type Trade struct {
	Seq         uint64
	Instrument  string
	BuyOrderID  uint64
	SellOrderID uint64
	BuyOwner    string
	SellOwner   string
	Price       int64
	Qty         int64
}
