// Package engine sequences incoming commands, applies them to per
// instrument order books and emits trade events. One goroutine owns each
// book, so matching passes never interleave within an instrument while
// distinct instruments run fully in parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"matchbook/domain/book"
	"matchbook/infra/sequence"
)

var ErrStopped = errors.New("engine: stopped")

// RejectCode classifies business rejections. They are ordinary return
// values, never exceptional control flow.
type RejectCode uint8

const (
	RejectValidation RejectCode = iota + 1
	RejectNotFound
	RejectForbidden
)

type PlaceCmd struct {
	Instrument string
	Owner      string
	Side       book.Side
	Price      int64
	Qty        int64
}

type CancelCmd struct {
	Instrument string
	Owner      string
	OrderID    uint64
}

type Ack struct {
	OrderID uint64
	Status  book.Status
	Filled  int64
}

type Reject struct {
	Code   RejectCode
	Reason string
}

// Result is the outcome of a command: exactly one of Ack or Reject is
// set. Trades carry the fills produced by a place.
type Result struct {
	Ack    *Ack
	Reject *Reject
	Trades []book.Trade
}

// Journal persists admitted commands before they touch a book. The
// engine calls it from the instrument pipeline, so per-instrument append
// order always matches apply order.
type Journal interface {
	Place(o *book.Order) error
	Cancel(instrument string, orderID uint64, owner string) error
}

type Config struct {
	Instruments     []string
	RejectSelfTrade bool
	QueueDepth      int // per-instrument command queue, default 256
	EventBuffer     int // per-subscription event buffer, default 64
}

type Engine struct {
	// Journal and OnTrade are wired before Start and not touched after.
	Journal Journal
	OnTrade func(book.Trade)

	cfg       Config
	seq       *sequence.Sequencer
	hub       *Hub
	pipelines map[string]*pipeline
	log       *zap.Logger

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type cmdKind int

const (
	cmdPlace cmdKind = iota
	cmdCancel
	cmdSnapshot
	cmdDump
)

type command struct {
	kind   cmdKind
	place  PlaceCmd
	cancel CancelCmd
	depth  int

	// replayID is the original admission ID when re-applying a
	// journaled command; journaling and event emission are suppressed.
	replayID uint64
	replay   bool

	reply chan response
}

type response struct {
	result Result
	bids   []book.Level
	asks   []book.Level
	orders []book.Order
}

type pipeline struct {
	book *book.OrderBook
	cmds chan command
}

func New(cfg Config, log *zap.Logger) *Engine {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	e := &Engine{
		cfg:       cfg,
		seq:       sequence.New(0),
		hub:       NewHub(),
		pipelines: make(map[string]*pipeline, len(cfg.Instruments)),
		log:       log.Named("engine"),
		quit:      make(chan struct{}),
	}
	for _, sym := range cfg.Instruments {
		b := book.NewOrderBook(sym)
		b.RejectSelfTrade = cfg.RejectSelfTrade
		e.pipelines[sym] = &pipeline{
			book: b,
			cmds: make(chan command, cfg.QueueDepth),
		}
	}
	return e
}

// Start launches one worker per instrument.
func (e *Engine) Start() {
	for sym, p := range e.pipelines {
		e.wg.Add(1)
		go e.run(sym, p)
	}
	e.log.Info("started", zap.Int("instruments", len(e.pipelines)))
}

// Stop drains nothing: queued commands that have not reached a worker
// get ErrStopped. Callers stop the transport first.
func (e *Engine) Stop() {
	e.once.Do(func() { close(e.quit) })
	e.wg.Wait()
	e.hub.Close()
	e.log.Info("stopped", zap.Uint64("last_seq", e.seq.Current()))
}

// Sequence returns the last issued sequence number.
func (e *Engine) Sequence() uint64 {
	return e.seq.Current()
}

// Subscribe registers a trade event subscription for owner; owner ""
// receives every trade.
func (e *Engine) Subscribe(owner string) *Subscription {
	return e.hub.Subscribe(owner, e.cfg.EventBuffer)
}

func (e *Engine) Unsubscribe(sub *Subscription) {
	e.hub.Unsubscribe(sub)
}

// Place validates and admits an order. Validation failures return a
// Reject without consuming a sequence number.
func (e *Engine) Place(ctx context.Context, cmd PlaceCmd) (Result, error) {
	if rej := validatePlace(cmd); rej != nil {
		return Result{Reject: rej}, nil
	}
	p, ok := e.pipelines[cmd.Instrument]
	if !ok {
		return Result{Reject: unknownInstrument(cmd.Instrument)}, nil
	}
	return e.send(ctx, p, command{kind: cmdPlace, place: cmd})
}

// Cancel removes a resting order owned by cmd.Owner.
func (e *Engine) Cancel(ctx context.Context, cmd CancelCmd) (Result, error) {
	p, ok := e.pipelines[cmd.Instrument]
	if !ok {
		return Result{Reject: unknownInstrument(cmd.Instrument)}, nil
	}
	return e.send(ctx, p, command{kind: cmdCancel, cancel: cmd})
}

// Snapshot returns up to depth aggregated levels per side.
func (e *Engine) Snapshot(ctx context.Context, instrument string, depth int) ([]book.Level, []book.Level, *Reject, error) {
	p, ok := e.pipelines[instrument]
	if !ok {
		return nil, nil, unknownInstrument(instrument), nil
	}
	c := command{kind: cmdSnapshot, depth: depth, reply: make(chan response, 1)}
	resp, err := e.roundTrip(ctx, p, c)
	if err != nil {
		return nil, nil, nil, err
	}
	return resp.bids, resp.asks, nil, nil
}

// Instruments lists the configured instrument symbols.
func (e *Engine) Instruments() []string {
	out := make([]string, 0, len(e.pipelines))
	for sym := range e.pipelines {
		out = append(out, sym)
	}
	return out
}

// Dump returns copies of every resting order keyed by instrument. Each
// instrument is dumped through its pipeline, so the per-book view is
// consistent even while the engine is live.
func (e *Engine) Dump(ctx context.Context) (map[string][]book.Order, error) {
	out := make(map[string][]book.Order, len(e.pipelines))
	for sym, p := range e.pipelines {
		c := command{kind: cmdDump, reply: make(chan response, 1)}
		resp, err := e.roundTrip(ctx, p, c)
		if err != nil {
			return nil, err
		}
		out[sym] = resp.orders
	}
	return out, nil
}

// ReplayPlace re-applies a journaled place with its original admission
// ID. Only used during recovery, before the transport opens.
func (e *Engine) ReplayPlace(cmd PlaceCmd, id uint64) error {
	p, ok := e.pipelines[cmd.Instrument]
	if !ok {
		return fmt.Errorf("engine: replay place for unknown instrument %q", cmd.Instrument)
	}
	_, err := e.send(context.Background(), p, command{kind: cmdPlace, place: cmd, replayID: id, replay: true})
	return err
}

// ReplayCancel re-applies a journaled cancel.
func (e *Engine) ReplayCancel(cmd CancelCmd) error {
	p, ok := e.pipelines[cmd.Instrument]
	if !ok {
		return fmt.Errorf("engine: replay cancel for unknown instrument %q", cmd.Instrument)
	}
	_, err := e.send(context.Background(), p, command{kind: cmdCancel, cancel: cmd, replay: true})
	return err
}

func (e *Engine) send(ctx context.Context, p *pipeline, c command) (Result, error) {
	c.reply = make(chan response, 1)
	resp, err := e.roundTrip(ctx, p, c)
	if err != nil {
		return Result{}, err
	}
	return resp.result, nil
}

func (e *Engine) roundTrip(ctx context.Context, p *pipeline, c command) (response, error) {
	select {
	case p.cmds <- c:
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-e.quit:
		return response{}, ErrStopped
	}
	select {
	case resp := <-c.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-e.quit:
		return response{}, ErrStopped
	}
}

func (e *Engine) run(sym string, p *pipeline) {
	defer e.wg.Done()
	log := e.log.With(zap.String("instrument", sym))
	for {
		select {
		case c := <-p.cmds:
			c.reply <- e.apply(log, p, c)
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) apply(log *zap.Logger, p *pipeline, c command) response {
	switch c.kind {
	case cmdPlace:
		return response{result: e.applyPlace(log, p, c)}
	case cmdCancel:
		return response{result: e.applyCancel(log, p, c)}
	case cmdDump:
		return response{orders: p.book.RestingOrders()}
	default:
		bids, asks := p.book.Snapshot(c.depth)
		return response{bids: bids, asks: asks}
	}
}

func (e *Engine) applyPlace(log *zap.Logger, p *pipeline, c command) Result {
	id := c.replayID
	if id == 0 {
		id = e.seq.Next()
	} else {
		e.seq.Advance(id)
	}

	o := &book.Order{
		ID:         id,
		Instrument: c.place.Instrument,
		Owner:      c.place.Owner,
		Side:       c.place.Side,
		Price:      c.place.Price,
		Qty:        c.place.Qty,
	}

	if e.Journal != nil && !c.replay {
		if err := e.Journal.Place(o); err != nil {
			log.Error("journal append failed", zap.Uint64("order_id", id), zap.Error(err))
			return Result{Reject: &Reject{Code: RejectValidation, Reason: "order not accepted"}}
		}
	}

	trades := p.book.Submit(o)
	for i := range trades {
		trades[i].Seq = e.seq.Next()
		if !c.replay {
			e.hub.Publish(trades[i])
			if e.OnTrade != nil {
				e.OnTrade(trades[i])
			}
		}
	}

	if o.Status == book.Rejected {
		return Result{Reject: &Reject{Code: RejectValidation, Reason: "self-trade"}, Trades: trades}
	}
	log.Debug("order placed",
		zap.Uint64("order_id", id),
		zap.String("side", o.Side.String()),
		zap.Int64("price", o.Price),
		zap.Int64("qty", o.Qty),
		zap.Int("trades", len(trades)))
	return Result{
		Ack:    &Ack{OrderID: id, Status: o.Status, Filled: o.Filled},
		Trades: trades,
	}
}

func (e *Engine) applyCancel(log *zap.Logger, p *pipeline, c command) Result {
	owner, ok := p.book.Owner(c.cancel.OrderID)
	if !ok {
		return Result{Reject: &Reject{Code: RejectNotFound, Reason: fmt.Sprintf("order %d not found", c.cancel.OrderID)}}
	}
	if !c.replay && owner != c.cancel.Owner {
		return Result{Reject: &Reject{Code: RejectForbidden, Reason: "cancel by non-owner"}}
	}

	if e.Journal != nil && !c.replay {
		if err := e.Journal.Cancel(c.cancel.Instrument, c.cancel.OrderID, c.cancel.Owner); err != nil {
			log.Error("journal append failed", zap.Uint64("order_id", c.cancel.OrderID), zap.Error(err))
			return Result{Reject: &Reject{Code: RejectValidation, Reason: "cancel not accepted"}}
		}
	}

	p.book.Cancel(c.cancel.OrderID)
	log.Debug("order cancelled", zap.Uint64("order_id", c.cancel.OrderID))
	return Result{Ack: &Ack{OrderID: c.cancel.OrderID, Status: book.Cancelled}}
}

func validatePlace(cmd PlaceCmd) *Reject {
	if cmd.Price <= 0 {
		return &Reject{Code: RejectValidation, Reason: fmt.Sprintf("price must be positive, got %d", cmd.Price)}
	}
	if cmd.Qty <= 0 {
		return &Reject{Code: RejectValidation, Reason: fmt.Sprintf("quantity must be positive, got %d", cmd.Qty)}
	}
	return nil
}

func unknownInstrument(sym string) *Reject {
	return &Reject{Code: RejectValidation, Reason: fmt.Sprintf("unknown instrument %q", sym)}
}
