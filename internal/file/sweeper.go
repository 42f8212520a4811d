package file

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically soft-deletes records whose expiry has passed.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a Sweeper running CleanupExpired at the given interval.
func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, done: make(chan struct{})}
}

// Start launches the sweep loop. It stops when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.svc.CleanupExpired(ctx); err != nil {
					log.Error().Err(err).Msg("expiry sweep failed")
				}
			}
		}
	}()
	log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
}

// Stop blocks until the sweep loop has exited.
func (s *Sweeper) Stop() {
	<-s.done
}
