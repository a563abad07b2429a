package book

// Side of the book an order rests on.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Status follows the order lifecycle. All states except PartiallyFilled
// (while resting) are terminal.
type Status int

const (
	New Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s Status) String() string {
	switch s {
	case New:
		return "NEW"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Order is a pure domain entity. ID doubles as the admission sequence
// number: it is assigned once by the engine sequencer and defines time
// priority inside a price level. Only the book mutates Filled and Status.
type Order struct {
	ID         uint64
	Instrument string
	Owner      string
	Side       Side
	Price      int64 // fixed-point, never floating
	Qty        int64
	Filled     int64
	Status     Status

	next  *Order
	prev  *Order
	level *PriceLevel
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Next walks the FIFO queue inside a price level. Read-only.
func (o *Order) Next() *Order {
	return o.next
}
