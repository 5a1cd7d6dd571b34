package collector

import (
	"fmt"

	"depthflow/config"
	"depthflow/internal/clock"
	"depthflow/reader"
	"depthflow/reader/binance"
	"depthflow/writer"
)

// NewSource builds the depth source selected by cfg.Kind.
func NewSource(cfg config.SourceConfig) (reader.Source, error) {
	switch cfg.Kind {
	case config.SourceKindREST, "":
		return reader.NewRESTSource(cfg)
	case config.SourceKindBinance:
		return binance.NewDepthSource(cfg)
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// NewFactory returns a Factory building a complete worker from cfg for every
// run. Each run gets a new source, fetcher, archive writer and state. shipper
// may be nil.
func NewFactory(cfg *config.Config, clk clock.Clock, shipper Shipper) (Factory, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	settings := Settings{
		Symbol:     cfg.Source.Symbol,
		DepthLimit: cfg.Source.DepthLimit,
		SleepTime:  cfg.Collector.SleepTime,
		Location:   loc,
	}

	return func(run int) (Runner, error) {
		source, err := NewSource(cfg.Source)
		if err != nil {
			return nil, err
		}
		fetcher := reader.NewFetcher(source, cfg.Collector.MaxRetries, cfg.Collector.RetryDelay, clk)
		return NewWorker(settings, fetcher, writer.NewArchiveWriter(cfg.Archive.Dir), shipper, clk), nil
	}, nil
}
