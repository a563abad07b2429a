// Package wire defines the binary protocol spoken between the client
// driver and the exchange: length-prefixed, tagged-variant frames with a
// version byte and a crc32 over the payload.
package wire

// MsgType tags the variant carried by a frame.
type MsgType uint8

const (
	MsgPlaceOrder MsgType = iota + 1
	MsgCancelOrder
	MsgAck
	MsgReject
	MsgTradeEvent
	MsgBookSnapshotRequest
	MsgBookSnapshotResponse
)

func (t MsgType) String() string {
	switch t {
	case MsgPlaceOrder:
		return "place_order"
	case MsgCancelOrder:
		return "cancel_order"
	case MsgAck:
		return "ack"
	case MsgReject:
		return "reject"
	case MsgTradeEvent:
		return "trade_event"
	case MsgBookSnapshotRequest:
		return "book_snapshot_request"
	case MsgBookSnapshotResponse:
		return "book_snapshot_response"
	default:
		return "unknown"
	}
}

// Side on the wire. Mirrors the domain but kept separate so the codec
// never imports domain types.
const (
	SideBuy  uint8 = 0
	SideSell uint8 = 1
)

// Reject codes, one per error class in the taxonomy.
const (
	CodeProtocol   uint8 = 1 // malformed frame, connection-fatal
	CodeValidation uint8 = 2 // bad order fields
	CodeNotFound   uint8 = 3 // cancel of unknown order
	CodeForbidden  uint8 = 4 // cancel by a non-owner
	CodeInternal   uint8 = 5
)

// Message is the tagged variant over all protocol messages.
type Message interface {
	Type() MsgType
}

type PlaceOrder struct {
	Instrument string
	Side       uint8
	Price      int64
	Qty        int64
}

func (PlaceOrder) Type() MsgType { return MsgPlaceOrder }

type CancelOrder struct {
	Instrument string
	OrderID    uint64
}

func (CancelOrder) Type() MsgType { return MsgCancelOrder }

type Ack struct {
	OrderID uint64
	Status  string
	Filled  int64
}

func (Ack) Type() MsgType { return MsgAck }

type Reject struct {
	Code   uint8
	Reason string
}

func (Reject) Type() MsgType { return MsgReject }

type TradeEvent struct {
	Seq         uint64
	Instrument  string
	BuyOrderID  uint64
	SellOrderID uint64
	Price       int64
	Qty         int64
}

func (TradeEvent) Type() MsgType { return MsgTradeEvent }

type BookSnapshotRequest struct {
	Instrument string
	Depth      uint32
}

func (BookSnapshotRequest) Type() MsgType { return MsgBookSnapshotRequest }

// Level is one aggregated (price, quantity) pair; the charting consumer
// receives these untouched.
type Level struct {
	Price int64
	Qty   int64
}

type BookSnapshotResponse struct {
	Instrument string
	Bids       []Level
	Asks       []Level
}

func (BookSnapshotResponse) Type() MsgType { return MsgBookSnapshotResponse }
