// Package reader fetches order book depth snapshots and applies the
// connectivity retry policy.
package reader

import (
	"context"
	"fmt"
	"time"

	"depthflow/internal/clock"
	"depthflow/logger"
	"depthflow/models"
)

// Source performs exactly one depth request per call.
type Source interface {
	FetchDepth(ctx context.Context, symbol string, limit int) (*models.Snapshot, error)
}

// Fetcher wraps a Source with a fixed-delay retry on connectivity errors.
type Fetcher struct {
	source     Source
	clock      clock.Clock
	maxRetries int
	retryDelay time.Duration
	log        *logger.Log
}

// NewFetcher returns a fetcher making at most maxRetries attempts per call
// and sleeping retryDelay between them.
func NewFetcher(source Source, maxRetries int, retryDelay time.Duration, clk clock.Clock) *Fetcher {
	if clk == nil {
		clk = clock.New()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Fetcher{
		source:     source,
		clock:      clk,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        logger.GetLogger(),
	}
}

// Fetch returns one snapshot of symbol. Attempts are numbered from 0. A
// connectivity failure is logged and followed by retryDelay before the next
// attempt; there is no sleep after the last one. When every attempt failed
// the error wraps ErrRetryExhausted and the last failure. Any other error is
// returned as is.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, limit int) (*models.Snapshot, error) {
	log := f.log.WithComponent("depth_fetcher").WithFields(logger.Fields{
		"symbol": symbol,
		"limit":  limit,
	})

	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		start := f.clock.Now()
		snap, err := f.source.FetchDepth(ctx, symbol, limit)
		if err == nil {
			logger.LogPerformanceEntry(log, "depth_fetcher", "fetch", f.clock.Now().Sub(start), logger.Fields{
				"attempt": attempt,
				"levels":  snap.LevelCount(),
			})
			return snap, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !IsConnectivity(err) {
			return nil, err
		}

		lastErr = err
		log.WithError(err).WithFields(logger.Fields{
			"attempt":     attempt,
			"max_retries": f.maxRetries,
			"retry_delay": f.retryDelay.String(),
		}).Warn("connection error fetching depth")

		if attempt < f.maxRetries-1 {
			if err := f.clock.Sleep(ctx, f.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, f.maxRetries, lastErr)
}
