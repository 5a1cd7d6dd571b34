// Package binance is a depth source backed by the go-binance spot client.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"

	"depthflow/config"
	ratemetrics "depthflow/internal/metrics/rate"
	"depthflow/logger"
	"depthflow/models"
	"depthflow/reader"
)

// DepthSource fetches spot depth through the exchange SDK.
type DepthSource struct {
	client  *gobinance.Client
	localIP string
	log     *logger.Log
}

// NewDepthSource returns a source talking to the scheme and host of cfg.URL.
func NewDepthSource(cfg config.SourceConfig) (*DepthSource, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid source url %q", cfg.URL)
	}

	client := gobinance.NewClient("", "")
	client.HTTPClient = reader.NewHTTPClient(cfg)
	client.BaseURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)

	log := logger.GetLogger()
	log.WithComponent("depth_fetcher").WithFields(logger.Fields{
		"base_url":           client.BaseURL,
		"max_idle_conns":     cfg.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": cfg.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Timeout.String(),
	}).Info("binance depth source initialized")

	return &DepthSource{client: client, localIP: cfg.LocalIP, log: log}, nil
}

// FetchDepth performs one depth request.
func (s *DepthSource) FetchDepth(ctx context.Context, symbol string, limit int) (*models.Snapshot, error) {
	res, err := s.client.NewDepthService().
		Symbol(symbol).
		Limit(limit).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			ratemetrics.ReportLimitFromResponse(s.log, symbol, s.localIP, 0, apiErr.Message)
			return nil, fmt.Errorf("depth request for %s rejected: %w", symbol, apiErr)
		}
		return nil, err
	}

	snap := models.NewSnapshot(symbol)
	bids, err := convertLevels(models.SideBids, res.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := convertLevels(models.SideAsks, res.Asks)
	if err != nil {
		return nil, err
	}
	snap.Sides[models.SideBids] = bids
	snap.Sides[models.SideAsks] = asks
	return snap, nil
}

func convertLevels(side string, in []common.PriceLevel) ([]models.Level, error) {
	out := make([]models.Level, 0, len(in))
	for i, pl := range in {
		price, err := strconv.ParseFloat(pl.Price, 64)
		if err != nil {
			return nil, &reader.MalformedResponseError{Field: side, Reason: fmt.Sprintf("level %d price", i), Err: err}
		}
		qty, err := strconv.ParseFloat(pl.Quantity, 64)
		if err != nil {
			return nil, &reader.MalformedResponseError{Field: side, Reason: fmt.Sprintf("level %d quantity", i), Err: err}
		}
		out = append(out, models.Level{Price: price, Quantity: qty})
	}
	return out, nil
}
