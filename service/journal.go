package service

import (
	"bytes"
	"encoding/gob"
	"time"

	"matchbook/domain/book"
	"matchbook/infra/wal"
)

// placeRecord is the journaled form of an admitted order. ID is the
// admission sequence so replay reassigns the same order IDs.
type placeRecord struct {
	ID         uint64
	Instrument string
	Owner      string
	Side       uint8
	Price      int64
	Qty        int64
}

type cancelRecord struct {
	Instrument string
	Owner      string
	OrderID    uint64
}

func encodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// Place journals an admitted order. Runs on the instrument pipeline,
// before the order touches the book.
func (s *Service) Place(o *book.Order) error {
	data, err := encodePayload(placeRecord{
		ID:         o.ID,
		Instrument: o.Instrument,
		Owner:      o.Owner,
		Side:       uint8(o.Side),
		Price:      o.Price,
		Qty:        o.Qty,
	})
	if err != nil {
		return err
	}
	return s.wal.Append(&wal.Record{
		Type: wal.RecordPlace,
		Seq:  s.recSeq.Add(1),
		Time: time.Now().UnixNano(),
		Data: data,
	})
}

// Cancel journals an owner-verified cancel.
func (s *Service) Cancel(instrument string, orderID uint64, owner string) error {
	data, err := encodePayload(cancelRecord{
		Instrument: instrument,
		Owner:      owner,
		OrderID:    orderID,
	})
	if err != nil {
		return err
	}
	return s.wal.Append(&wal.Record{
		Type: wal.RecordCancel,
		Seq:  s.recSeq.Add(1),
		Time: time.Now().UnixNano(),
		Data: data,
	})
}
