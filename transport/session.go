package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchbook/domain/book"
	"matchbook/engine"
	"matchbook/wire"
)

// outFrame is one queued response or event; corr is 0 for unsolicited
// pushes.
type outFrame struct {
	corr uint32
	msg  wire.Message
}

// session is one connected client. Its id doubles as the order owner,
// so orders placed here are cancellable only on this connection.
type session struct {
	id   string
	srv  *Server
	conn net.Conn
	log  *zap.Logger

	out chan outFrame
	sub *engine.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newSession(srv *Server, conn net.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &session{
		id:     id,
		srv:    srv,
		conn:   conn,
		log:    srv.log.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String())),
		out:    make(chan outFrame, srv.cfg.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *session) close() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

// serve runs the session to completion: a writer goroutine, an event
// forwarder and the read loop on the calling goroutine. Any of the
// three failing tears down the other two through close.
func (s *session) serve() {
	defer s.close()
	s.log.Info("session opened")

	s.sub = s.srv.eng.Subscribe(s.id)
	defer s.srv.eng.Unsubscribe(s.sub)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer wg.Done()
		s.eventLoop()
	}()

	s.readLoop()
	// Let the writer flush queued responses before the socket closes.
	s.cancel()
	wg.Wait()
	s.close()
	s.log.Info("session closed")
}

func (s *session) readLoop() {
	r := bufio.NewReader(s.conn)
	for {
		corr, msg, err := wire.ReadFrame(r)
		if err != nil {
			var derr *wire.DecodeError
			if errors.As(err, &derr) {
				// Tell the client what went wrong before hanging up.
				s.log.Warn("malformed frame", zap.Error(derr))
				s.send(corr, wire.Reject{Code: wire.CodeProtocol, Reason: derr.Reason})
				return
			}
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Warn("read failed", zap.Error(err))
			}
			return
		}
		if !s.dispatch(corr, msg) {
			return
		}
	}
}

// dispatch handles one request and queues the response. Returns false
// when the session must end.
func (s *session) dispatch(corr uint32, msg wire.Message) bool {
	switch m := msg.(type) {
	case wire.PlaceOrder:
		res, err := s.srv.eng.Place(s.ctx, engine.PlaceCmd{
			Instrument: m.Instrument,
			Owner:      s.id,
			Side:       book.Side(m.Side),
			Price:      m.Price,
			Qty:        m.Qty,
		})
		return s.respond(corr, res, err)
	case wire.CancelOrder:
		res, err := s.srv.eng.Cancel(s.ctx, engine.CancelCmd{
			Instrument: m.Instrument,
			Owner:      s.id,
			OrderID:    m.OrderID,
		})
		return s.respond(corr, res, err)
	case wire.BookSnapshotRequest:
		bids, asks, rej, err := s.srv.eng.Snapshot(s.ctx, m.Instrument, int(m.Depth))
		if err != nil {
			return s.fail(corr, err)
		}
		if rej != nil {
			return s.send(corr, wire.Reject{Code: rejectCode(rej.Code), Reason: rej.Reason})
		}
		return s.send(corr, wire.BookSnapshotResponse{
			Instrument: m.Instrument,
			Bids:       wireLevels(bids),
			Asks:       wireLevels(asks),
		})
	default:
		// Server-to-client message types arriving here mean the peer
		// lost framing.
		s.send(corr, wire.Reject{Code: wire.CodeProtocol, Reason: "unexpected message type " + msg.Type().String()})
		return false
	}
}

func (s *session) respond(corr uint32, res engine.Result, err error) bool {
	if err != nil {
		return s.fail(corr, err)
	}
	if res.Reject != nil {
		return s.send(corr, wire.Reject{Code: rejectCode(res.Reject.Code), Reason: res.Reject.Reason})
	}
	return s.send(corr, wire.Ack{
		OrderID: res.Ack.OrderID,
		Status:  res.Ack.Status.String(),
		Filled:  res.Ack.Filled,
	})
}

func (s *session) fail(corr uint32, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, engine.ErrStopped) {
		return false
	}
	s.log.Error("engine call failed", zap.Error(err))
	s.send(corr, wire.Reject{Code: wire.CodeInternal, Reason: "internal error"})
	return false
}

// send queues a frame for the writer. Returns false when the session is
// shutting down.
func (s *session) send(corr uint32, msg wire.Message) bool {
	select {
	case s.out <- outFrame{corr: corr, msg: msg}:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case f := <-s.out:
			if !s.writeFrame(f) {
				s.close()
				return
			}
		case <-s.ctx.Done():
			// Flush what is already queued, then let serve close the
			// socket. A forced close makes these writes fail, which is
			// fine.
			for {
				select {
				case f := <-s.out:
					if !s.writeFrame(f) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *session) writeFrame(f outFrame) bool {
	s.conn.SetWriteDeadline(time.Now().Add(s.srv.cfg.WriteTimeout))
	if err := wire.WriteFrame(s.conn, f.corr, f.msg); err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.log.Warn("write failed", zap.Error(err))
		}
		return false
	}
	return true
}

// eventLoop forwards trades involving this session's orders.
func (s *session) eventLoop() {
	for {
		select {
		case tr, ok := <-s.sub.Events():
			if !ok {
				return
			}
			s.send(0, wire.TradeEvent{
				Seq:         tr.Seq,
				Instrument:  tr.Instrument,
				BuyOrderID:  tr.BuyOrderID,
				SellOrderID: tr.SellOrderID,
				Price:       tr.Price,
				Qty:         tr.Qty,
			})
		case <-s.ctx.Done():
			return
		}
	}
}

func rejectCode(c engine.RejectCode) uint8 {
	switch c {
	case engine.RejectNotFound:
		return wire.CodeNotFound
	case engine.RejectForbidden:
		return wire.CodeForbidden
	case engine.RejectValidation:
		return wire.CodeValidation
	default:
		return wire.CodeInternal
	}
}

func wireLevels(in []book.Level) []wire.Level {
	if len(in) == 0 {
		return nil
	}
	out := make([]wire.Level, len(in))
	for i, l := range in {
		out[i] = wire.Level{Price: l.Price, Qty: l.Qty}
	}
	return out
}
