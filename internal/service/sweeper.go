package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"admin-auth/internal/repository"
	"admin-auth/internal/util"
)

// SweepResult counts the rows removed by one sweep.
type SweepResult struct {
	Sessions       int
	TwoFactorCodes int
	ResetTokens    int
}

// Sweeper periodically deletes expired sessions, codes and reset tokens.
// Expiry is always enforced on read; sweeping only reclaims space.
type Sweeper struct {
	store    repository.CredentialStore
	clock    util.Clock
	interval time.Duration

	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

func NewSweeper(store repository.CredentialStore, clock util.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		clock:    clock,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// RunOnce sweeps the three collections concurrently.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.store.DeleteExpiredSessions(gctx, now)
		res.Sessions = n
		return err
	})
	g.Go(func() error {
		n, err := s.store.DeleteExpiredTwoFactorCodes(gctx, now)
		res.TwoFactorCodes = n
		return err
	})
	g.Go(func() error {
		n, err := s.store.DeleteExpiredResetTokens(gctx, now)
		res.ResetTokens = n
		return err
	})
	if err := g.Wait(); err != nil {
		return res, storeErr("sweep", err)
	}
	return res, nil
}

// Start runs RunOnce every interval until Stop. A non-positive interval
// disables sweeping.
func (s *Sweeper) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if s.interval <= 0 {
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				res, err := s.RunOnce(ctx)
				cancel()
				if err != nil {
					util.Error("Expired credential sweep failed", util.ErrorField(err))
					continue
				}
				util.Debug("Expired credentials swept",
					util.Int("sessions", res.Sessions),
					util.Int("two_factor_codes", res.TwoFactorCodes),
					util.Int("reset_tokens", res.ResetTokens))
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}
