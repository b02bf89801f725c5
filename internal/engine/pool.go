// internal/engine/pool.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/arkpilot/internal/config"
)

// Session is one device's complete run.
type Session interface {
	Name() string
	Run(ctx context.Context) error
}

// DevicePool runs device sessions in parallel, bounded by the configured
// worker concurrency. Sessions share no mutable state.
type DevicePool struct {
	concurrency int
	logger      *zap.Logger
}

func NewDevicePool(cfg config.EngineConfig, logger *zap.Logger) (*DevicePool, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DevicePool{
		concurrency: concurrency,
		logger:      logger.With(zap.String("component", "device_pool")),
	}, nil
}

// RunAll runs every session to completion. One failing device never
// cancels the others; all failures are joined into the returned error.
func (p *DevicePool) RunAll(ctx context.Context, sessions []Session) error {
	p.logger.Info("Starting device sessions", zap.Int("sessions", len(sessions)), zap.Int("concurrency", p.concurrency))

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(p.concurrency)

	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if err := p.runOne(ctx, s); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("device %s: %w", s.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		p.logger.Warn("Device sessions finished with errors", zap.Int("failed", len(errs)))
		return errors.Join(errs...)
	}
	p.logger.Info("All device sessions finished")
	return nil
}

func (p *DevicePool) runOne(ctx context.Context, s Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Device session panicked", zap.String("device", s.Name()), zap.Any("panic", r))
			err = fmt.Errorf("session panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Run(ctx)
}
