package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"matchbook/domain/book"
	"matchbook/engine"
	"matchbook/infra/store"
	"matchbook/infra/wal"
)

type harness struct {
	eng    *engine.Engine
	svc    *Service
	st     *store.Store
	closed bool
}

// boot builds a running engine journaling into dir. The same dir can be
// reused across boots to exercise recovery.
func boot(t *testing.T, dir string, withStore bool) *harness {
	t.Helper()
	log := zap.NewNop()

	w, err := wal.Open(wal.Config{Dir: filepath.Join(dir, "wal")})
	require.NoError(t, err)

	var st *store.Store
	if withStore {
		st, err = store.Open(filepath.Join(dir, "store"))
		require.NoError(t, err)
	}

	eng := engine.New(engine.Config{Instruments: []string{"AAPL", "MSFT"}}, log)
	svc := New(eng, w, st, nil, Config{
		SnapshotDir:   filepath.Join(dir, "snap"),
		OutboxEnabled: withStore,
	}, log)
	eng.Start()
	require.NoError(t, svc.Recover())

	h := &harness{eng: eng, svc: svc, st: st}
	t.Cleanup(func() {
		if h.closed {
			return
		}
		svc.Close()
		eng.Stop()
		if st != nil {
			st.Close()
		}
	})
	return h
}

func (h *harness) shutdown(t *testing.T, checkpoint bool) {
	t.Helper()
	h.closed = true
	if checkpoint {
		require.NoError(t, h.svc.Checkpoint(context.Background()))
	}
	require.NoError(t, h.svc.Close())
	h.eng.Stop()
	if h.st != nil {
		require.NoError(t, h.st.Close())
	}
}

func placeOK(t *testing.T, e *engine.Engine, cmd engine.PlaceCmd) engine.Result {
	t.Helper()
	res, err := e.Place(context.Background(), cmd)
	require.NoError(t, err)
	require.Nil(t, res.Reject)
	require.NotNil(t, res.Ack)
	return res
}

func TestRecoverFromJournal(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := boot(t, dir, false)
	r1 := placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "alice", Side: book.Bid, Price: 100, Qty: 10})
	r2 := placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "bob", Side: book.Bid, Price: 99, Qty: 5})
	r3 := placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "carol", Side: book.Ask, Price: 100, Qty: 4})
	require.Len(t, r3.Trades, 1)
	require.Equal(t, int64(4), r3.Trades[0].Qty)

	res, err := h.eng.Cancel(ctx, engine.CancelCmd{Instrument: "AAPL", Owner: "bob", OrderID: r2.Ack.OrderID})
	require.NoError(t, err)
	require.NotNil(t, res.Ack)
	h.shutdown(t, false)

	h2 := boot(t, dir, false)
	bids, asks, rej, err := h2.eng.Snapshot(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Nil(t, rej)
	require.Empty(t, asks)
	require.Equal(t, []book.Level{{Price: 100, Qty: 6}}, bids)

	// Replay restores the original order ID, so the original owner can
	// still cancel it.
	res, err = h2.eng.Cancel(ctx, engine.CancelCmd{Instrument: "AAPL", Owner: "alice", OrderID: r1.Ack.OrderID})
	require.NoError(t, err)
	require.NotNil(t, res.Ack)
}

func TestRecoverFromSnapshotPlusTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := boot(t, dir, false)
	placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "alice", Side: book.Bid, Price: 100, Qty: 10})
	require.NoError(t, h.svc.Checkpoint(ctx))
	placeOK(t, h.eng, engine.PlaceCmd{Instrument: "MSFT", Owner: "bob", Side: book.Ask, Price: 250, Qty: 3})
	h.shutdown(t, false)

	h2 := boot(t, dir, false)
	bids, _, rej, err := h2.eng.Snapshot(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Nil(t, rej)
	require.Equal(t, []book.Level{{Price: 100, Qty: 10}}, bids)

	_, asks, rej, err := h2.eng.Snapshot(ctx, "MSFT", 10)
	require.NoError(t, err)
	require.Nil(t, rej)
	require.Equal(t, []book.Level{{Price: 250, Qty: 3}}, asks)
}

func TestCheckpointBoundsReplay(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := boot(t, dir, false)
	placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "alice", Side: book.Bid, Price: 100, Qty: 10})
	placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "bob", Side: book.Ask, Price: 100, Qty: 10})
	h.shutdown(t, true)

	// Both orders filled before the checkpoint: recovery must not
	// resurrect them from the journal.
	h2 := boot(t, dir, false)
	bids, asks, rej, err := h2.eng.Snapshot(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Nil(t, rej)
	require.Empty(t, bids)
	require.Empty(t, asks)
}

func TestPartialFillSurvivesCheckpoint(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	h := boot(t, dir, false)
	placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "alice", Side: book.Bid, Price: 100, Qty: 10})
	placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "bob", Side: book.Ask, Price: 100, Qty: 4})
	h.shutdown(t, true)

	h2 := boot(t, dir, false)
	bids, _, rej, err := h2.eng.Snapshot(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Nil(t, rej)
	require.Equal(t, []book.Level{{Price: 100, Qty: 6}}, bids)
}

func TestOutboxSkippedWithoutBroadcaster(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop()

	w, err := wal.Open(wal.Config{Dir: filepath.Join(dir, "wal")})
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(dir, "store"))
	require.NoError(t, err)

	eng := engine.New(engine.Config{Instruments: []string{"AAPL"}}, log)
	svc := New(eng, w, st, nil, Config{SnapshotDir: filepath.Join(dir, "snap")}, log)
	eng.Start()
	t.Cleanup(func() {
		svc.Close()
		eng.Stop()
		st.Close()
	})

	placeOK(t, eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "alice", Side: book.Bid, Price: 100, Qty: 5})
	res := placeOK(t, eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "bob", Side: book.Ask, Price: 100, Qty: 5})
	require.Len(t, res.Trades, 1)
	seq := res.Trades[0].Seq

	// The archive still gets the trade; the outbox stays empty because
	// nothing would ever drain it.
	_, ok, err := st.GetTrade(seq)
	require.NoError(t, err)
	require.True(t, ok)

	for _, state := range []store.OutboxState{store.StateNew, store.StateSent, store.StateAcked} {
		require.NoError(t, st.ScanOutbox(state, func(rec store.OutboxRecord) error {
			t.Fatalf("unexpected outbox record %d in state %s", rec.Seq, rec.State)
			return nil
		}))
	}
}

func TestTradesReachArchiveAndOutbox(t *testing.T) {
	dir := t.TempDir()

	h := boot(t, dir, true)
	placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "alice", Side: book.Bid, Price: 100, Qty: 5})
	res := placeOK(t, h.eng, engine.PlaceCmd{Instrument: "AAPL", Owner: "bob", Side: book.Ask, Price: 100, Qty: 5})
	require.Len(t, res.Trades, 1)
	seq := res.Trades[0].Seq

	payload, ok, err := h.st.GetTrade(seq)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, payload)

	pending := 0
	require.NoError(t, h.st.ScanOutbox(store.StateNew, func(rec store.OutboxRecord) error {
		pending++
		require.Equal(t, seq, rec.Seq)
		return nil
	}))
	require.Equal(t, 1, pending)
}
