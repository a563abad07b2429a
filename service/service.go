// Package service wires the engine to its persistence and publishing
// sides: the command journal, the trade archive and outbox, the market
// data feed, and recovery from snapshot plus journal replay. It is the
// only place these concerns meet; the engine itself knows nothing about
// files or brokers.
package service

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"matchbook/domain/book"
	"matchbook/engine"
	"matchbook/infra/feed"
	"matchbook/infra/store"
	"matchbook/infra/wal"
	"matchbook/snapshot"
	"matchbook/wire"
)

type Config struct {
	SnapshotDir string

	// OutboxEnabled inserts outbox records for the broadcaster to
	// drain. Leave off when no broadcaster runs, otherwise the records
	// accumulate with nothing deleting them.
	OutboxEnabled bool
}

type Service struct {
	eng    *engine.Engine
	wal    *wal.WAL
	st     *store.Store   // nil disables the archive and outbox
	feed   *feed.Producer // nil disables market data
	snap   *snapshot.Writer
	outbox bool
	log    *zap.Logger

	// recSeq numbers journal records. Independent of the engine
	// sequencer so cancels get their own record position.
	recSeq atomic.Uint64

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New wires the service into eng as its journal and trade sink. Call
// before eng.Start.
func New(eng *engine.Engine, w *wal.WAL, st *store.Store, fd *feed.Producer, cfg Config, log *zap.Logger) *Service {
	s := &Service{
		eng:    eng,
		wal:    w,
		st:     st,
		feed:   fd,
		snap:   &snapshot.Writer{Dir: cfg.SnapshotDir},
		outbox: cfg.OutboxEnabled,
		log:    log.Named("service"),
		quit:   make(chan struct{}),
	}
	s.recSeq.Store(w.LastSeq())
	eng.Journal = s
	eng.OnTrade = s.onTrade
	return s
}

// onTrade runs on the pipeline goroutine that produced the trade, so it
// only does local writes. The broadcaster job drains the outbox to the
// broker on its own schedule.
func (s *Service) onTrade(tr book.Trade) {
	if s.st == nil {
		return
	}
	payload, err := wire.Encode(wire.TradeEvent{
		Seq:         tr.Seq,
		Instrument:  tr.Instrument,
		BuyOrderID:  tr.BuyOrderID,
		SellOrderID: tr.SellOrderID,
		Price:       tr.Price,
		Qty:         tr.Qty,
	})
	if err != nil {
		s.log.Error("trade encode failed", zap.Uint64("trade_seq", tr.Seq), zap.Error(err))
		return
	}
	if err := s.st.PutTrade(tr.Seq, payload); err != nil {
		s.log.Error("trade archive write failed", zap.Uint64("trade_seq", tr.Seq), zap.Error(err))
	}
	if s.outbox {
		if err := s.st.PutOutbox(tr.Seq, payload); err != nil {
			s.log.Error("outbox write failed", zap.Uint64("trade_seq", tr.Seq), zap.Error(err))
		}
	}
}

// Checkpoint dumps the resting orders and writes a snapshot covering
// every journaled record so far. The engine must still be running but
// quiescent: call after the transport has stopped accepting commands,
// otherwise a command landing mid-dump could be covered twice or not
// at all.
func (s *Service) Checkpoint(ctx context.Context) error {
	if err := s.wal.Sync(); err != nil {
		return err
	}
	books, err := s.eng.Dump(ctx)
	if err != nil {
		return err
	}
	seq := s.recSeq.Load()
	if err := s.snap.Write(seq, books); err != nil {
		return err
	}
	s.log.Info("snapshot written", zap.Uint64("record_seq", seq))
	return nil
}

// Close stops background jobs and closes the journal. Call after the
// transport has stopped and a final Checkpoint has been taken, but
// before engine.Stop.
func (s *Service) Close() error {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
	return s.wal.Close()
}
