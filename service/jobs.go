package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"matchbook/infra/feed"
)

const (
	defaultSyncInterval = 200 * time.Millisecond
	defaultTickInterval = time.Second
)

// StartJobs launches the background loops: periodic journal fsync and,
// when a feed producer is wired, top-of-book tick publishing.
func (s *Service) StartJobs(syncInterval, tickInterval time.Duration) {
	if syncInterval <= 0 {
		syncInterval = defaultSyncInterval
	}
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}

	s.wg.Add(1)
	go s.syncLoop(syncInterval)

	if s.feed != nil {
		s.wg.Add(1)
		go s.tickLoop(tickInterval)
	}
}

func (s *Service) syncLoop(interval time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := s.wal.Sync(); err != nil {
				s.log.Error("journal sync failed", zap.Error(err))
			}
		case <-s.quit:
			return
		}
	}
}

func (s *Service) tickLoop(interval time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.publishTicks()
		case <-s.quit:
			return
		}
	}
}

func (s *Service) publishTicks() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	now := time.Now().UnixNano()
	for _, sym := range s.eng.Instruments() {
		bids, asks, rej, err := s.eng.Snapshot(ctx, sym, 1)
		if err != nil || rej != nil {
			continue
		}
		tick := feed.Tick{Instrument: sym, Time: now}
		if len(bids) > 0 {
			tick.Bid = bids[0].Price
			tick.HasBid = true
		}
		if len(asks) > 0 {
			tick.Ask = asks[0].Price
			tick.HasAsk = true
		}
		if err := s.feed.PublishTick(ctx, tick); err != nil {
			s.log.Warn("tick publish failed", zap.String("instrument", sym), zap.Error(err))
		}
	}
}
