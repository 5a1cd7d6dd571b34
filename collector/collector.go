// Package collector runs the poll loop: fetch a depth snapshot, label it,
// persist it, sleep. A Supervisor restarts the loop after fatal errors.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"depthflow/internal/clock"
	"depthflow/internal/timestamp"
	"depthflow/logger"
	"depthflow/models"
	"depthflow/reader"
	"depthflow/writer"
)

// Fetcher returns one snapshot per call, retrying connectivity errors.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, limit int) (*models.Snapshot, error)
}

// Persister stores a labelled snapshot.
type Persister interface {
	Persist(ctx context.Context, snap *models.Snapshot, label timestamp.Label) (writer.Result, error)
}

// Shipper uploads closed day files.
type Shipper interface {
	Ship(ctx context.Context, date string) error
	ShipPending(ctx context.Context, current string) int
}

// Settings are the poll parameters of a worker.
type Settings struct {
	Symbol     string
	DepthLimit int
	SleepTime  time.Duration
	Location   *time.Location
}

// State is everything a single worker run keeps between cycles. It is built
// fresh for every run.
type State struct {
	RunID      string
	StartedAt  time.Time
	Counter    int // snapshots written this run
	Skipped    int // cycles skipped after retry exhaustion
	Duplicates int // cycles skipped on a duplicate label
	ActiveDate string
	Assigner   *timestamp.Assigner
}

// NewState returns the initial state of a run starting at now.
func NewState(loc *time.Location, now time.Time) *State {
	return &State{
		RunID:     uuid.NewString(),
		StartedAt: now,
		Assigner:  timestamp.NewAssigner(loc),
	}
}

// Worker executes poll cycles until a fatal error or cancellation.
type Worker struct {
	settings  Settings
	fetcher   Fetcher
	persister Persister
	shipper   Shipper
	clock     clock.Clock
	state     *State
	log       *logger.Log
}

// NewWorker returns a worker with fresh state. shipper may be nil.
func NewWorker(settings Settings, fetcher Fetcher, persister Persister, shipper Shipper, clk clock.Clock) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Worker{
		settings:  settings,
		fetcher:   fetcher,
		persister: persister,
		shipper:   shipper,
		clock:     clk,
		state:     NewState(settings.Location, clk.Now()),
		log:       logger.GetLogger(),
	}
}

// State exposes the run state.
func (w *Worker) State() *State { return w.state }

// Run polls until ctx is cancelled or a cycle fails fatally. Skipped cycles
// still sleep the normal interval.
func (w *Worker) Run(ctx context.Context) error {
	log := w.log.WithComponent("collector").WithFields(logger.Fields{
		"run_id":      w.state.RunID,
		"symbol":      w.settings.Symbol,
		"depth_limit": w.settings.DepthLimit,
		"sleep_time":  w.settings.SleepTime.String(),
	})
	log.Info("collector run started")

	if w.shipper != nil {
		today := w.clock.Now().In(w.settings.Location).Format(timestamp.DateLayout)
		if n := w.shipper.ShipPending(ctx, today); n > 0 {
			log.WithFields(logger.Fields{"shipped": n}).Info("shipped pending day files")
		}
	}

	for {
		if err := w.cycle(ctx); err != nil {
			return err
		}
		if err := w.clock.Sleep(ctx, w.settings.SleepTime); err != nil {
			return err
		}
	}
}

func (w *Worker) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()

	log := w.log.WithComponent("collector").WithFields(logger.Fields{
		"run_id": w.state.RunID,
		"symbol": w.settings.Symbol,
	})

	snap, err := w.fetcher.Fetch(ctx, w.settings.Symbol, w.settings.DepthLimit)
	if errors.Is(err, reader.ErrRetryExhausted) {
		w.state.Skipped++
		logger.IncrementCycleSkipped()
		log.WithError(err).WithFields(logger.Fields{"skipped": w.state.Skipped}).Warn("failed to retrieve data, skipping iteration")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch depth: %w", err)
	}

	label := w.state.Assigner.Assign(w.clock.Now())

	res, err := w.persister.Persist(ctx, snap, label)
	if errors.Is(err, writer.ErrDuplicateTimestamp) {
		w.state.Duplicates++
		log.WithError(err).WithFields(logger.Fields{"label": label.Text}).Warn("duplicate timestamp, skipping iteration")
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist snapshot %s: %w", label.Text, err)
	}

	log.WithFields(logger.Fields{
		"counter":  w.state.Counter,
		"label":    label.Text,
		"rows":     res.Rows,
		"mode":     string(res.Mode),
		"progress": strings.Repeat("-", w.state.Counter%10),
	}).Info("snapshot stored")
	logger.IncrementSnapshotWritten(res.Rows)
	log.LogMetric("collector", "snapshots_written", int64(1), "counter", logger.Fields{"symbol": w.settings.Symbol})

	w.state.Counter++
	w.state.ActiveDate = res.Date

	if res.Rollover {
		log.WithFields(logger.Fields{"previous": res.Previous, "date": res.Date}).Info("day rollover")
		if w.shipper != nil {
			if err := w.shipper.Ship(ctx, res.Previous); err != nil {
				log.WithError(err).WithFields(logger.Fields{"date": res.Previous}).Warn("failed to ship closed day")
			}
		}
	}
	return nil
}
