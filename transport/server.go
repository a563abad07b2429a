// Package transport owns the TCP surface: it accepts connections, turns
// the byte stream into protocol frames, dispatches them to the engine
// and pushes trade events back to the sessions involved. A session dies
// alone; resting orders it placed stay in the book.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"matchbook/engine"
)

type Config struct {
	Addr         string
	WriteTimeout time.Duration // per outgoing frame, default 10s
	SendBuffer   int           // queued outgoing frames per session, default 64
}

type Server struct {
	cfg Config
	eng *engine.Engine
	log *zap.Logger

	ln       net.Listener
	mu       sync.Mutex
	sessions map[string]*session

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func NewServer(cfg Config, eng *engine.Engine, log *zap.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Server{
		cfg:      cfg,
		eng:      eng,
		log:      log.Named("transport"),
		sessions: make(map[string]*session),
		quit:     make(chan struct{}),
	}
}

// Start binds the listener and launches the accept loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address. Useful when Addr was ":0".
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Stop closes the listener and every live session, then waits for their
// goroutines to drain.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.quit)
		if s.ln != nil {
			s.ln.Close()
		}
		s.mu.Lock()
		for _, sess := range s.sessions {
			sess.close()
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
	s.log.Info("stopped")
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		sess := newSession(s, conn)
		s.track(sess)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.serve()
			s.untrack(sess)
		}()
	}
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}
