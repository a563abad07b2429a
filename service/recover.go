package service

import (
	"fmt"

	"go.uber.org/zap"

	"matchbook/domain/book"
	"matchbook/engine"
	"matchbook/infra/wal"
	"matchbook/snapshot"
)

// Recover rebuilds the books from the latest snapshot plus the journal
// records appended after it. Call after engine.Start and before the
// transport opens: replayed commands run through the same pipelines as
// live ones, with journaling and event emission suppressed.
func (s *Service) Recover() error {
	snap, err := snapshot.Load(s.snap.Dir)
	if err != nil {
		return fmt.Errorf("service: load snapshot: %w", err)
	}

	var afterSeq uint64
	restored := 0
	if snap != nil {
		afterSeq = snap.Seq
		for _, e := range snap.Orders {
			cmd := engine.PlaceCmd{
				Instrument: e.Instrument,
				Owner:      e.Owner,
				Side:       book.Side(e.Side),
				Price:      e.Price,
				Qty:        e.Qty,
			}
			if err := s.eng.ReplayPlace(cmd, e.ID); err != nil {
				return fmt.Errorf("service: restore order %d: %w", e.ID, err)
			}
			restored++
		}
	}

	replayed := 0
	lastSeq, err := wal.Replay(s.wal.Dir(), afterSeq, func(rec *wal.Record) error {
		switch rec.Type {
		case wal.RecordPlace:
			var pr placeRecord
			if err := decodePayload(rec.Data, &pr); err != nil {
				return err
			}
			cmd := engine.PlaceCmd{
				Instrument: pr.Instrument,
				Owner:      pr.Owner,
				Side:       book.Side(pr.Side),
				Price:      pr.Price,
				Qty:        pr.Qty,
			}
			if err := s.eng.ReplayPlace(cmd, pr.ID); err != nil {
				return err
			}
		case wal.RecordCancel:
			var cr cancelRecord
			if err := decodePayload(rec.Data, &cr); err != nil {
				return err
			}
			// A cancel for an order already gone is a no-op reject.
			if err := s.eng.ReplayCancel(engine.CancelCmd{
				Instrument: cr.Instrument,
				Owner:      cr.Owner,
				OrderID:    cr.OrderID,
			}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown record type %d at seq %d", rec.Type, rec.Seq)
		}
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("service: journal replay: %w", err)
	}

	if lastSeq > s.recSeq.Load() {
		s.recSeq.Store(lastSeq)
	}
	s.log.Info("recovery complete",
		zap.Int("snapshot_orders", restored),
		zap.Int("replayed_records", replayed),
		zap.Uint64("record_seq", s.recSeq.Load()),
		zap.Uint64("engine_seq", s.eng.Sequence()))
	return nil
}
