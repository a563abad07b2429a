package store

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
)

// OutboxState tracks delivery of one trade event to the feed.
type OutboxState uint8

const (
	StateNew OutboxState = iota
	StateSent
	StateAcked
)

func (s OutboxState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// OutboxRecord is the delivery envelope. Payload is the wire-encoded
// trade event, duplicated from the archive so the broadcaster never
// needs a second lookup.
type OutboxRecord struct {
	Seq         uint64
	State       OutboxState
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// record layout: [state u8][retries u32][lastAttempt i64][payload...]
const outboxHeaderSize = 1 + 4 + 8

func encodeOutbox(r OutboxRecord) []byte {
	buf := make([]byte, outboxHeaderSize+len(r.Payload))
	buf[0] = byte(r.State)
	binary.LittleEndian.PutUint32(buf[1:5], r.Retries)
	binary.LittleEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[outboxHeaderSize:], r.Payload)
	return buf
}

func decodeOutbox(seq uint64, b []byte) (OutboxRecord, error) {
	if len(b) < outboxHeaderSize {
		return OutboxRecord{}, errors.New("store: outbox record too short")
	}
	return OutboxRecord{
		Seq:         seq,
		State:       OutboxState(b[0]),
		Retries:     binary.LittleEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.LittleEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[outboxHeaderSize:]...),
	}, nil
}

// PutOutbox enqueues a NEW delivery for an archived trade.
func (s *Store) PutOutbox(seq uint64, payload []byte) error {
	rec := OutboxRecord{Seq: seq, State: StateNew, Payload: payload}
	return s.db.Set(outboxKey(seq), encodeOutbox(rec), pebble.Sync)
}

// UpdateOutbox moves a delivery to state, bumping the attempt counter.
func (s *Store) UpdateOutbox(rec OutboxRecord, state OutboxState) error {
	rec.State = state
	rec.Retries++
	rec.LastAttempt = time.Now().UnixNano()
	return s.db.Set(outboxKey(rec.Seq), encodeOutbox(rec), pebble.Sync)
}

// DeleteOutbox removes a finished delivery (ACKED cleanup).
func (s *Store) DeleteOutbox(seq uint64) error {
	return s.db.Delete(outboxKey(seq), pebble.Sync)
}

// GetOutbox returns the delivery record for seq, or ok=false.
func (s *Store) GetOutbox(seq uint64) (OutboxRecord, bool, error) {
	val, closer, err := s.db.Get(outboxKey(seq))
	if err != nil {
		if err == pebble.ErrNotFound {
			return OutboxRecord{}, false, nil
		}
		return OutboxRecord{}, false, err
	}
	defer closer.Close()
	rec, err := decodeOutbox(seq, val)
	if err != nil {
		return OutboxRecord{}, false, err
	}
	return rec, true, nil
}

// ScanOutbox visits deliveries in the given state, in sequence order.
func (s *Store) ScanOutbox(state OutboxState, fn func(OutboxRecord) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("outbox/"),
		UpperBound: []byte("outbox/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseSeq(iter.Key(), "outbox/")
		if err != nil {
			return err
		}
		rec, err := decodeOutbox(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != state {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}
