package book

import "testing"

var nextID uint64

func place(b *OrderBook, side Side, price, qty int64, owner string) (*Order, []Trade) {
	nextID++
	o := &Order{
		ID:         nextID,
		Instrument: b.Instrument,
		Owner:      owner,
		Side:       side,
		Price:      price,
		Qty:        qty,
	}
	return o, b.Submit(o)
}

func TestExactMatchFillsBoth(t *testing.T) {
	b := NewOrderBook("AAPL")
	buy, _ := place(b, Bid, 100, 10, "a")
	sell, trades := place(b, Ask, 100, 10, "b")

	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Qty != 10 || tr.Price != 100 {
		t.Errorf("trade = %d@%d, want 10@100", tr.Qty, tr.Price)
	}
	if tr.BuyOrderID != buy.ID || tr.SellOrderID != sell.ID {
		t.Errorf("trade references wrong orders: %+v", tr)
	}
	if buy.Status != Filled || sell.Status != Filled {
		t.Errorf("statuses = %v/%v, want FILLED/FILLED", buy.Status, sell.Status)
	}
	if b.Len() != 0 {
		t.Errorf("book should be empty, has %d resting orders", b.Len())
	}
}

func TestPricePriorityThenPartialFill(t *testing.T) {
	b := NewOrderBook("AAPL")
	best, _ := place(b, Bid, 101, 5, "a")
	worse, _ := place(b, Bid, 100, 5, "a")
	sell, trades := place(b, Ask, 100, 7, "b")

	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Qty != 5 || trades[0].Price != 101 || trades[0].BuyOrderID != best.ID {
		t.Errorf("first trade = %+v, want 5@101 against best bid", trades[0])
	}
	if trades[1].Qty != 2 || trades[1].Price != 100 || trades[1].BuyOrderID != worse.ID {
		t.Errorf("second trade = %+v, want 2@100 against worse bid", trades[1])
	}
	if best.Status != Filled {
		t.Errorf("bid@101 status = %v, want FILLED", best.Status)
	}
	if worse.Status != PartiallyFilled || worse.Remaining() != 3 {
		t.Errorf("bid@100 = %v remaining %d, want PARTIALLY_FILLED remaining 3", worse.Status, worse.Remaining())
	}
	if sell.Status != Filled {
		t.Errorf("sell status = %v, want FILLED", sell.Status)
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	b := NewOrderBook("AAPL")
	first, _ := place(b, Bid, 100, 5, "a")
	second, _ := place(b, Bid, 100, 5, "b")
	_, trades := place(b, Ask, 100, 5, "c")

	if len(trades) != 1 || trades[0].BuyOrderID != first.ID {
		t.Fatalf("earlier order at same price must fill first, trades=%+v", trades)
	}
	if first.Status != Filled || second.Status != New {
		t.Errorf("statuses = %v/%v, want FILLED/NEW", first.Status, second.Status)
	}
}

func TestNeverCrossedAfterSubmit(t *testing.T) {
	b := NewOrderBook("AAPL")
	prices := []struct {
		side  Side
		price int64
		qty   int64
	}{
		{Bid, 100, 5}, {Ask, 105, 5}, {Bid, 104, 3}, {Ask, 101, 10},
		{Bid, 99, 4}, {Ask, 99, 2}, {Bid, 108, 1}, {Ask, 90, 30},
	}
	for _, p := range prices {
		place(b, p.side, p.price, p.qty, "x")
		bid, ask, hasBid, hasAsk := b.BestBidAsk()
		if hasBid && hasAsk && bid >= ask {
			t.Fatalf("crossed book after %v %d@%d: bid=%d ask=%d", p.side, p.qty, p.price, bid, ask)
		}
	}
}

func TestQuantityConservation(t *testing.T) {
	b := NewOrderBook("AAPL")
	buy, _ := place(b, Bid, 100, 12, "a")
	s1, _ := place(b, Ask, 100, 5, "b")
	s2, _ := place(b, Ask, 99, 9, "c")

	var traded int64
	for _, o := range []*Order{s1, s2} {
		traded += o.Filled
	}
	if buy.Filled != traded {
		t.Errorf("buyer filled %d, sellers filled %d", buy.Filled, traded)
	}
}

func TestCancelRestingOrder(t *testing.T) {
	b := NewOrderBook("AAPL")
	o, _ := place(b, Bid, 100, 5, "a")

	if !b.Cancel(o.ID) {
		t.Fatal("cancel of resting order should succeed")
	}
	if o.Status != Cancelled {
		t.Errorf("status = %v, want CANCELLED", o.Status)
	}
	if b.Len() != 0 {
		t.Error("book should be empty after cancel")
	}
	if _, _, hasBid, _ := b.BestBidAsk(); hasBid {
		t.Error("empty price level must be removed with its last order")
	}
}

func TestCancelUnknownOrFilledReturnsFalse(t *testing.T) {
	b := NewOrderBook("AAPL")
	if b.Cancel(12345) {
		t.Error("cancel of unknown order must return false")
	}

	o, _ := place(b, Bid, 100, 5, "a")
	place(b, Ask, 100, 5, "b")
	if o.Status != Filled {
		t.Fatalf("setup: order should be filled, got %v", o.Status)
	}
	if b.Cancel(o.ID) {
		t.Error("cancel of filled order must return false")
	}

	o2, _ := place(b, Bid, 100, 5, "a")
	b.Cancel(o2.ID)
	if b.Cancel(o2.ID) {
		t.Error("second cancel must return false")
	}
}

func TestSelfTradeAllowedByDefault(t *testing.T) {
	b := NewOrderBook("AAPL")
	place(b, Bid, 100, 5, "a")
	_, trades := place(b, Ask, 100, 5, "a")
	if len(trades) != 1 {
		t.Errorf("self-trade should match by default, trades=%d", len(trades))
	}
}

func TestSelfTradeRejected(t *testing.T) {
	b := NewOrderBook("AAPL")
	b.RejectSelfTrade = true
	resting, _ := place(b, Bid, 100, 5, "a")
	incoming, trades := place(b, Ask, 100, 5, "a")

	if len(trades) != 0 {
		t.Errorf("expected no trades, got %d", len(trades))
	}
	if incoming.Status != Rejected {
		t.Errorf("incoming status = %v, want REJECTED", incoming.Status)
	}
	if resting.Status != New || b.Len() != 1 {
		t.Error("resting order must be untouched by a self-trade stop")
	}
}

func TestPriceImprovementUsesRestingPrice(t *testing.T) {
	b := NewOrderBook("AAPL")
	place(b, Ask, 100, 5, "a")
	_, trades := place(b, Bid, 103, 5, "b")

	if len(trades) != 1 || trades[0].Price != 100 {
		t.Fatalf("trade must execute at resting price 100, got %+v", trades)
	}
}

func TestSnapshotAggregatesLevels(t *testing.T) {
	b := NewOrderBook("AAPL")
	place(b, Bid, 100, 5, "a")
	place(b, Bid, 100, 3, "b")
	place(b, Bid, 99, 2, "c")
	place(b, Ask, 101, 4, "d")

	bids, asks := b.Snapshot(1)
	if len(bids) != 1 || bids[0].Price != 100 || bids[0].Qty != 8 {
		t.Errorf("bids = %+v, want [{100 8}]", bids)
	}
	if len(asks) != 1 || asks[0].Price != 101 || asks[0].Qty != 4 {
		t.Errorf("asks = %+v, want [{101 4}]", asks)
	}

	bids, _ = b.Snapshot(0)
	if len(bids) != 2 {
		t.Errorf("depth 0 should return all levels, got %d", len(bids))
	}
}

func TestLevelQtyTracksPartialFills(t *testing.T) {
	b := NewOrderBook("AAPL")
	place(b, Bid, 100, 10, "a")
	place(b, Ask, 100, 4, "b")

	bids, _ := b.Snapshot(0)
	if len(bids) != 1 || bids[0].Qty != 6 {
		t.Errorf("level qty after partial fill = %+v, want 6@100", bids)
	}
}
