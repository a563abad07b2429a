package book

// Level is an aggregated (price, quantity) pair for snapshots. This is
// the shape downstream charting consumers receive.
type Level struct {
	Price int64
	Qty   int64
}

// OrderBook holds both sides of a single instrument. It is single-writer
// and deterministic: the caller serializes Submit/Cancel per instrument.
type OrderBook struct {
	Instrument string

	bids *RBTree
	asks *RBTree

	// id -> resting order, for O(log n) cancellation
	resting map[uint64]*Order

	// RejectSelfTrade stops an incoming order the moment it would match
	// an order with the same owner. Default allows self-trades.
	RejectSelfTrade bool
}

func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		Instrument: instrument,
		bids:       NewRBTree(),
		asks:       NewRBTree(),
		resting:    make(map[uint64]*Order),
	}
}

// Submit runs a price-time-priority matching pass for the incoming order
// and rests any remainder. Trades carry Seq 0; the engine stamps them.
// The order must already be validated and carry its admission ID.
func (b *OrderBook) Submit(o *Order) []Trade {
	var (
		trades  []Trade
		stopped bool
	)
	if o.Side == Bid {
		trades, stopped = b.match(o, b.asks, func(restingPrice int64) bool { return restingPrice <= o.Price })
	} else {
		trades, stopped = b.match(o, b.bids, func(restingPrice int64) bool { return restingPrice >= o.Price })
	}

	switch {
	case o.Remaining() == 0:
		o.Status = Filled
	case stopped:
		// self-trade stop: the remainder is neither executed nor rested
		if o.Filled == 0 {
			o.Status = Rejected
		} else {
			o.Status = PartiallyFilled
		}
	default:
		if o.Filled > 0 {
			o.Status = PartiallyFilled
		}
		b.rest(o)
	}
	return trades
}

func (b *OrderBook) match(o *Order, opposite *RBTree, crosses func(int64) bool) ([]Trade, bool) {
	var trades []Trade
	for o.Remaining() > 0 {
		var best *PriceLevel
		if o.Side == Bid {
			best = opposite.MinLevel()
		} else {
			best = opposite.MaxLevel()
		}
		if best == nil || !crosses(best.Price) {
			break
		}

		head := best.Head()
		if b.RejectSelfTrade && head.Owner == o.Owner {
			return trades, true
		}

		qty := min64(o.Remaining(), head.Remaining())
		o.Filled += qty
		head.Filled += qty
		best.reduce(qty)

		t := Trade{Instrument: b.Instrument, Price: best.Price, Qty: qty}
		if o.Side == Bid {
			t.BuyOrderID, t.SellOrderID = o.ID, head.ID
			t.BuyOwner, t.SellOwner = o.Owner, head.Owner
		} else {
			t.BuyOrderID, t.SellOrderID = head.ID, o.ID
			t.BuyOwner, t.SellOwner = head.Owner, o.Owner
		}
		trades = append(trades, t)

		if head.Remaining() == 0 {
			head.Status = Filled
			best.PopHead()
			delete(b.resting, head.ID)
			if best.Empty() {
				opposite.DeleteLevel(best.Price)
			}
		} else {
			head.Status = PartiallyFilled
		}
	}
	return trades, false
}

func (b *OrderBook) rest(o *Order) {
	if o.Side == Bid {
		b.bids.UpsertLevel(o.Price).Enqueue(o)
	} else {
		b.asks.UpsertLevel(o.Price).Enqueue(o)
	}
	b.resting[o.ID] = o
}

// Cancel removes a resting order by id. Unknown, filled and already
// cancelled orders return false; that is an ordinary outcome, not an
// error.
func (b *OrderBook) Cancel(id uint64) bool {
	o, ok := b.resting[id]
	if !ok {
		return false
	}
	lvl := o.level
	lvl.Unlink(o)
	if lvl.Empty() {
		if o.Side == Bid {
			b.bids.DeleteLevel(lvl.Price)
		} else {
			b.asks.DeleteLevel(lvl.Price)
		}
	}
	delete(b.resting, id)
	o.Status = Cancelled
	return true
}

// Owner returns the owner of a resting order, for cancel authorization.
func (b *OrderBook) Owner(id uint64) (string, bool) {
	o, ok := b.resting[id]
	if !ok {
		return "", false
	}
	return o.Owner, true
}

// BestBidAsk returns the top of book; ok flags report empty sides.
func (b *OrderBook) BestBidAsk() (bid int64, ask int64, hasBid bool, hasAsk bool) {
	if lvl := b.bids.MaxLevel(); lvl != nil {
		bid, hasBid = lvl.Price, true
	}
	if lvl := b.asks.MinLevel(); lvl != nil {
		ask, hasAsk = lvl.Price, true
	}
	return
}

// Snapshot aggregates up to depth levels per side, best first. Depth 0
// means the whole book.
func (b *OrderBook) Snapshot(depth int) (bids []Level, asks []Level) {
	take := func(out *[]Level) func(*PriceLevel) bool {
		return func(lvl *PriceLevel) bool {
			*out = append(*out, Level{Price: lvl.Price, Qty: lvl.TotalQty})
			return depth <= 0 || len(*out) < depth
		}
	}
	b.bids.ForEachDescending(take(&bids))
	b.asks.ForEachAscending(take(&asks))
	return
}

// RestingOrders returns copies of every resting order, bids best-first
// then asks best-first, FIFO within a level. Used for persistence.
func (b *OrderBook) RestingOrders() []Order {
	out := make([]Order, 0, len(b.resting))
	collect := func(lvl *PriceLevel) bool {
		for o := lvl.Head(); o != nil; o = o.Next() {
			out = append(out, *o)
		}
		return true
	}
	b.bids.ForEachDescending(collect)
	b.asks.ForEachAscending(collect)
	return out
}

// Len reports the number of resting orders.
func (b *OrderBook) Len() int {
	return len(b.resting)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
