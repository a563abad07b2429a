// Package client is the driver side of the protocol: it dials the
// exchange, correlates framed requests with responses and surfaces
// server rejections and transport failures as distinct error types.
package client

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"matchbook/wire"
)

// TransportError wraps an I/O failure. Retrying is the caller's call,
// never done silently here.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// RejectError is a business rejection from the server. The connection
// stays usable unless Code is CodeProtocol.
type RejectError struct {
	Code   uint8
	Reason string
}

func (e *RejectError) Error() string { return fmt.Sprintf("rejected (code %d): %s", e.Code, e.Reason) }

type Client struct {
	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
	corr uint32

	timeout time.Duration
	events  chan wire.TradeEvent
}

// Dial connects to the exchange. timeout bounds the dial and every
// subsequent request round trip.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, &TransportError{Op: "dial " + addr, Err: err}
	}
	return &Client{
		conn:    conn,
		r:       bufio.NewReader(conn),
		timeout: timeout,
		events:  make(chan wire.TradeEvent, 64),
	}, nil
}

// Events delivers trade pushes observed while waiting for responses.
// The buffer is bounded; events beyond it are dropped.
func (c *Client) Events() <-chan wire.TradeEvent {
	return c.events
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Place submits an order and returns the server's ack.
func (c *Client) Place(instrument string, side uint8, price, qty int64) (wire.Ack, error) {
	resp, err := c.roundTrip(wire.PlaceOrder{Instrument: instrument, Side: side, Price: price, Qty: qty})
	if err != nil {
		return wire.Ack{}, err
	}
	return expectAck(resp)
}

// Cancel asks the server to remove a resting order this connection
// placed.
func (c *Client) Cancel(instrument string, orderID uint64) (wire.Ack, error) {
	resp, err := c.roundTrip(wire.CancelOrder{Instrument: instrument, OrderID: orderID})
	if err != nil {
		return wire.Ack{}, err
	}
	return expectAck(resp)
}

// Snapshot fetches up to depth aggregated levels per side.
func (c *Client) Snapshot(instrument string, depth uint32) (wire.BookSnapshotResponse, error) {
	resp, err := c.roundTrip(wire.BookSnapshotRequest{Instrument: instrument, Depth: depth})
	if err != nil {
		return wire.BookSnapshotResponse{}, err
	}
	snap, ok := resp.(wire.BookSnapshotResponse)
	if !ok {
		return wire.BookSnapshotResponse{}, &TransportError{Op: "read", Err: fmt.Errorf("unexpected %s response", resp.Type())}
	}
	return snap, nil
}

// roundTrip sends one request and reads frames until the matching
// correlation id arrives. Unsolicited trade events seen along the way
// go to the events channel.
func (c *Client) roundTrip(req wire.Message) (wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.corr++
	corr := c.corr

	deadline := time.Now().Add(c.timeout)
	c.conn.SetDeadline(deadline)
	if err := wire.WriteFrame(c.conn, corr, req); err != nil {
		return nil, &TransportError{Op: "write", Err: err}
	}

	for {
		gotCorr, msg, err := wire.ReadFrame(c.r)
		if err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}
		if gotCorr != corr {
			if ev, ok := msg.(wire.TradeEvent); ok {
				select {
				case c.events <- ev:
				default:
				}
			}
			continue
		}
		if rej, ok := msg.(wire.Reject); ok {
			return nil, &RejectError{Code: rej.Code, Reason: rej.Reason}
		}
		return msg, nil
	}
}

func expectAck(msg wire.Message) (wire.Ack, error) {
	ack, ok := msg.(wire.Ack)
	if !ok {
		return wire.Ack{}, &TransportError{Op: "read", Err: fmt.Errorf("unexpected %s response", msg.Type())}
	}
	return ack, nil
}
