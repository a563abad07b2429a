package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// Version is bumped on any incompatible layout change. Peers on a
	// different version are disconnected at the frame level.
	Version uint8 = 1

	// frame header: [len u32][version u8][type u8][corr u32][crc u32]
	frameHeaderSize = 14

	// MaxFrameSize bounds a single payload. Snapshot responses dominate;
	// a full book at this bound is ~65k levels.
	MaxFrameSize = 1 << 20
)

// DecodeError reports malformed wire data. It is connection-fatal at the
// transport layer.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "wire: " + e.Reason }

func decodeErrf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// Encode serializes a message as [type u8][fields...]. Purely functional,
// no side effects.
func Encode(msg Message) ([]byte, error) {
	w := writer{buf: make([]byte, 0, 64)}
	w.u8(uint8(msg.Type()))

	switch m := msg.(type) {
	case PlaceOrder:
		w.str(m.Instrument)
		w.u8(m.Side)
		w.i64(m.Price)
		w.i64(m.Qty)
	case CancelOrder:
		w.str(m.Instrument)
		w.u64(m.OrderID)
	case Ack:
		w.u64(m.OrderID)
		w.str(m.Status)
		w.i64(m.Filled)
	case Reject:
		w.u8(m.Code)
		w.str(m.Reason)
	case TradeEvent:
		w.u64(m.Seq)
		w.str(m.Instrument)
		w.u64(m.BuyOrderID)
		w.u64(m.SellOrderID)
		w.i64(m.Price)
		w.i64(m.Qty)
	case BookSnapshotRequest:
		w.str(m.Instrument)
		w.u32(m.Depth)
	case BookSnapshotResponse:
		w.str(m.Instrument)
		w.levels(m.Bids)
		w.levels(m.Asks)
	default:
		return nil, fmt.Errorf("wire: cannot encode message type %T", msg)
	}
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Decode parses a tagged message. It fails with *DecodeError on
// truncation, unknown tags and out-of-domain numerics; it never
// silently coerces.
func Decode(b []byte) (Message, error) {
	r := reader{b: b}
	tag := MsgType(r.u8())

	var msg Message
	switch tag {
	case MsgPlaceOrder:
		m := PlaceOrder{Instrument: r.str(), Side: r.u8(), Price: r.i64(), Qty: r.i64()}
		if r.err == nil {
			if m.Side != SideBuy && m.Side != SideSell {
				return nil, decodeErrf("place_order: side %d out of domain", m.Side)
			}
			if m.Qty <= 0 {
				return nil, decodeErrf("place_order: quantity %d out of domain", m.Qty)
			}
			if m.Price < 0 {
				return nil, decodeErrf("place_order: negative price %d", m.Price)
			}
		}
		msg = m
	case MsgCancelOrder:
		msg = CancelOrder{Instrument: r.str(), OrderID: r.u64()}
	case MsgAck:
		msg = Ack{OrderID: r.u64(), Status: r.str(), Filled: r.i64()}
	case MsgReject:
		msg = Reject{Code: r.u8(), Reason: r.str()}
	case MsgTradeEvent:
		m := TradeEvent{
			Seq: r.u64(), Instrument: r.str(),
			BuyOrderID: r.u64(), SellOrderID: r.u64(),
			Price: r.i64(), Qty: r.i64(),
		}
		if r.err == nil && m.Qty <= 0 {
			return nil, decodeErrf("trade_event: quantity %d out of domain", m.Qty)
		}
		msg = m
	case MsgBookSnapshotRequest:
		msg = BookSnapshotRequest{Instrument: r.str(), Depth: r.u32()}
	case MsgBookSnapshotResponse:
		msg = BookSnapshotResponse{Instrument: r.str(), Bids: r.levels(), Asks: r.levels()}
	default:
		return nil, decodeErrf("unknown message tag %d", tag)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(b) {
		return nil, decodeErrf("%s: %d trailing bytes", tag, len(b)-r.off)
	}
	return msg, nil
}

// WriteFrame writes one framed message. corr correlates a response with
// the request it answers; events use corr 0.
func WriteFrame(w io.Writer, corr uint32, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	hdr[4] = Version
	hdr[5] = uint8(msg.Type())
	binary.LittleEndian.PutUint32(hdr[6:10], corr)
	binary.LittleEndian.PutUint32(hdr[10:14], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one framed message. I/O failures come back as-is;
// anything wrong with the frame itself is a *DecodeError.
func ReadFrame(r io.Reader) (corr uint32, msg Message, err error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := binary.LittleEndian.Uint32(hdr[0:4])
	if size > MaxFrameSize {
		return 0, nil, decodeErrf("frame of %d bytes exceeds limit", size)
	}
	if hdr[4] != Version {
		return 0, nil, decodeErrf("protocol version %d, want %d", hdr[4], Version)
	}
	corr = binary.LittleEndian.Uint32(hdr[6:10])
	sum := binary.LittleEndian.Uint32(hdr[10:14])

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, nil, decodeErrf("truncated frame: want %d payload bytes", size)
		}
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return 0, nil, decodeErrf("crc mismatch")
	}
	if len(payload) > 0 && payload[0] != hdr[5] {
		return 0, nil, decodeErrf("header tag %d disagrees with payload tag %d", hdr[5], payload[0])
	}

	m, err := Decode(payload)
	if err != nil {
		return 0, nil, err
	}
	return corr, m, nil
}

// ---- field-level encoding ----
//
// Little-endian fixed-width integers; strings and slices carry a u16/u32
// count prefix.

// maxStringLen is what a u16 count prefix can carry.
const maxStringLen = 1<<16 - 1

type writer struct {
	buf []byte
	err error
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }
func (w *writer) u32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}
func (w *writer) u64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}
func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) str(s string) {
	if len(s) > maxStringLen {
		// The count prefix would wrap and corrupt the frame; fail the
		// encode instead.
		if w.err == nil {
			w.err = fmt.Errorf("wire: string field of %d bytes exceeds %d", len(s), maxStringLen)
		}
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) levels(ls []Level) {
	w.u32(uint32(len(ls)))
	for _, l := range ls {
		w.i64(l.Price)
		w.i64(l.Qty)
	}
}

type reader struct {
	b   []byte
	off int
	err *DecodeError
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.b) {
		r.err = decodeErrf("truncated message: want %d bytes at offset %d, have %d", n, r.off, len(r.b)-r.off)
		return nil
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) i64() int64 { return int64(r.u64()) }

func (r *reader) str() string {
	n := int(r.u16())
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *reader) levels() []Level {
	n := int(r.u32())
	if r.err != nil || n == 0 {
		return nil
	}
	if n > MaxFrameSize/16 {
		r.err = decodeErrf("level count %d out of domain", n)
		return nil
	}
	out := make([]Level, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Level{Price: r.i64(), Qty: r.i64()})
		if r.err != nil {
			return nil
		}
	}
	return out
}
