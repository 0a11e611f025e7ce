package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
)

const defaultMaintenanceInterval = 1 * time.Hour

// Scheduler is the background worker: it runs maintenance passes on
// an interval and fires reflection once enough interactions piled up.
type Scheduler struct {
	maintainer   *graph.Maintainer
	reflection   *ReflectionService
	interactions domain.InteractionStore
	logger       *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewScheduler(maintainer *graph.Maintainer, reflection *ReflectionService, interactions domain.InteractionStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		maintainer:   maintainer,
		reflection:   reflection,
		interactions: interactions,
		logger:       logger,
		interval:     defaultMaintenanceInterval,
		stopCh:       make(chan struct{}),
	}
}

func (s *Scheduler) SetInterval(d time.Duration) {
	s.interval = d
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("maintenance scheduler started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				s.Tick(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("maintenance scheduler stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Tick runs one scheduler cycle: reflection when the interaction
// threshold is reached, otherwise a plain maintenance pass. A busy
// reflection pipeline is left alone.
func (s *Scheduler) Tick(ctx context.Context) {
	pending, err := s.interactions.UnprocessedCount(ctx)
	if err != nil {
		s.logger.Error("scheduler could not count interactions", zap.Error(err))
		return
	}

	if pending >= ReflectionThreshold && s.reflection != nil {
		if _, err := s.reflection.Run(ctx, false); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				s.logger.Debug("reflection already running, skipping tick")
				return
			}
			s.logger.Error("scheduled reflection failed", zap.Error(err))
		}
		return
	}

	if _, err := s.maintainer.Run(ctx, time.Now().UTC()); err != nil {
		s.logger.Error("scheduled maintenance failed", zap.Error(err))
	}
}
