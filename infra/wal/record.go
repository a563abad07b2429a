package wal

import (
	"encoding/binary"
	"errors"
	"time"
)

// RecordType is the journaled intent.
type RecordType uint8

const (
	RecordPlace  RecordType = 1
	RecordCancel RecordType = 2
)

// Record is an immutable journal entry. Seq is the admission sequence of
// the command; Data is the wire-encoded command payload.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

// payload layout: [type u8][seq u64][time i64][data...], little-endian
const recordHeaderSize = 1 + 8 + 8

func encodeRecord(r *Record) []byte {
	buf := make([]byte, recordHeaderSize+len(r.Data))
	buf[0] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[1:9], r.Seq)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(r.Time))
	copy(buf[recordHeaderSize:], r.Data)
	return buf
}

func decodeRecord(b []byte) (*Record, error) {
	if len(b) < recordHeaderSize {
		return nil, errors.New("wal: record too short")
	}
	return &Record{
		Type: RecordType(b[0]),
		Seq:  binary.LittleEndian.Uint64(b[1:9]),
		Time: int64(binary.LittleEndian.Uint64(b[9:17])),
		Data: b[recordHeaderSize:],
	}, nil
}
