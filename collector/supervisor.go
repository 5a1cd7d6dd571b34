package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"depthflow/config"
	"depthflow/internal/clock"
	"depthflow/logger"
)

// ErrWorkerPanic wraps a panic recovered from a worker.
var ErrWorkerPanic = errors.New("worker panicked")

var errWorkerExited = errors.New("worker exited without error")

// Runner is one worker run.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds the worker for run number run, starting at 0.
type Factory func(run int) (Runner, error)

// Supervisor keeps a worker running. After a fatal error it waits the
// cooldown, then the restart limiter, then starts a new worker.
type Supervisor struct {
	factory  Factory
	cooldown time.Duration
	limiter  *rate.Limiter
	clock    clock.Clock
	restarts int
	log      *logger.Log
}

// NewSupervisor returns a supervisor allowing cfg.RestartBurst restarts per
// cfg.RestartWindow.
func NewSupervisor(factory Factory, cfg config.SupervisorConfig, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.New()
	}
	burst := cfg.RestartBurst
	if burst < 1 {
		burst = 1
	}
	every := rate.Inf
	if cfg.RestartWindow > 0 {
		every = rate.Every(cfg.RestartWindow / time.Duration(burst))
	}
	return &Supervisor{
		factory:  factory,
		cooldown: cfg.Cooldown,
		limiter:  rate.NewLimiter(every, burst),
		clock:    clk,
		log:      logger.GetLogger(),
	}
}

// Restarts returns how many times a worker has been restarted.
func (s *Supervisor) Restarts() int { return s.restarts }

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	log := s.log.WithComponent("supervisor")

	for run := 0; ; run++ {
		err := s.runOnce(ctx, run)
		if ctx.Err() != nil {
			log.WithFields(logger.Fields{"restarts": s.restarts}).Info("supervisor stopped")
			return nil
		}
		if err == nil {
			err = errWorkerExited
		}

		s.restarts++
		logger.IncrementWorkerRestart()
		log.LogMetric("supervisor", "worker_restarts", int64(1), "counter", nil)
		log.WithError(err).WithFields(logger.Fields{
			"run":      run,
			"restarts": s.restarts,
			"cooldown": s.cooldown.String(),
		}).Error("worker failed, restarting after cooldown")

		if err := s.clock.Sleep(ctx, s.cooldown); err != nil {
			return nil
		}
		if err := s.waitLimiter(ctx); err != nil {
			return nil
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, run int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()

	worker, err := s.factory(run)
	if err != nil {
		return fmt.Errorf("build worker: %w", err)
	}
	return worker.Run(ctx)
}

func (s *Supervisor) waitLimiter(ctx context.Context) error {
	now := s.clock.Now()
	r := s.limiter.ReserveN(now, 1)
	if !r.OK() {
		return nil
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	s.log.WithComponent("supervisor").WithFields(logger.Fields{
		"delay":    delay.String(),
		"restarts": s.restarts,
	}).Warn("restart budget spent, delaying restart")
	return s.clock.Sleep(ctx, delay)
}
