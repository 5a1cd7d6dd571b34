package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"depthflow/config"
	ratemetrics "depthflow/internal/metrics/rate"
	"depthflow/logger"
	"depthflow/models"
)

const maxErrorBody = 512

// RESTSource requests depth snapshots with a plain GET and decodes any
// endpoint whose body is a sequencing field plus one array of
// [price, quantity] pairs per side.
type RESTSource struct {
	endpoint      *url.URL
	client        *http.Client
	sequenceField string
	localIP       string
	log           *logger.Log
}

// NewRESTSource returns a source for cfg.URL using a pooled client.
func NewRESTSource(cfg config.SourceConfig) (*RESTSource, error) {
	return NewRESTSourceWithClient(cfg, NewHTTPClient(cfg))
}

// NewRESTSourceWithClient is NewRESTSource with a caller supplied client.
func NewRESTSourceWithClient(cfg config.SourceConfig, client *http.Client) (*RESTSource, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %q: %w", cfg.URL, err)
	}
	if endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("invalid source url %q: scheme and host are required", cfg.URL)
	}

	log := logger.GetLogger()
	log.WithComponent("depth_fetcher").WithFields(logger.Fields{
		"url":                endpoint.String(),
		"max_idle_conns":     cfg.ConnectionPool.MaxIdleConns,
		"max_conns_per_host": cfg.ConnectionPool.MaxConnsPerHost,
		"timeout":            cfg.Timeout.String(),
	}).Info("rest depth source initialized")

	return &RESTSource{
		endpoint:      endpoint,
		client:        client,
		sequenceField: cfg.SequenceField,
		localIP:       cfg.LocalIP,
		log:           log,
	}, nil
}

func (s *RESTSource) requestURL(symbol string, limit int) string {
	u := *s.endpoint
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchDepth performs one GET and parses the body.
func (s *RESTSource) FetchDepth(ctx context.Context, symbol string, limit int) (*models.Snapshot, error) {
	target := s.requestURL(symbol, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build depth request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	ratemetrics.ReportSnapshotWeight(s.log, resp.Header, symbol, s.localIP)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(body))
		ratemetrics.ReportLimitFromResponse(s.log, symbol, s.localIP, resp.StatusCode, msg)
		return nil, &StatusError{URL: target, StatusCode: resp.StatusCode, Body: msg}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read depth response: %w", err)
	}
	logger.IncrementFetchBytes(len(body))

	return ParseDepth(body, symbol, s.sequenceField)
}

// ParseDepth decodes a depth body. sequenceField must be present and is
// dropped; every other key is a side whose value is an array of
// [price, quantity] pairs given as JSON strings or numbers.
func ParseDepth(body []byte, symbol, sequenceField string) (*models.Snapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, malformed("", "body is not a JSON object", err)
	}
	if fields == nil {
		return nil, malformed("", "body is null", nil)
	}
	if _, ok := fields[sequenceField]; !ok {
		return nil, malformed(sequenceField, "sequencing field is missing", nil)
	}
	delete(fields, sequenceField)

	snap := models.NewSnapshot(symbol)
	for side, raw := range fields {
		levels, err := parseSide(side, raw)
		if err != nil {
			return nil, err
		}
		snap.Sides[side] = levels
	}
	if err := snap.Validate(); err != nil {
		return nil, malformed("", "no usable sides", err)
	}
	return snap, nil
}

func parseSide(side string, raw json.RawMessage) ([]models.Level, error) {
	if isNull(raw) {
		return nil, malformed(side, "side is null", nil)
	}
	var pairs []json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, malformed(side, "side is not an array", err)
	}

	levels := make([]models.Level, 0, len(pairs))
	for i, rawPair := range pairs {
		var pair []json.RawMessage
		if err := json.Unmarshal(rawPair, &pair); err != nil || isNull(rawPair) {
			return nil, malformed(side, fmt.Sprintf("level %d is not an array", i), err)
		}
		if len(pair) != 2 {
			return nil, malformed(side, fmt.Sprintf("level %d has %d elements, want 2", i, len(pair)), nil)
		}
		price, err := parseNumber(pair[0])
		if err != nil {
			return nil, malformed(side, fmt.Sprintf("level %d price", i), err)
		}
		qty, err := parseNumber(pair[1])
		if err != nil {
			return nil, malformed(side, fmt.Sprintf("level %d quantity", i), err)
		}
		levels = append(levels, models.Level{Price: price, Quantity: qty})
	}
	return levels, nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var v float64
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not numeric", s)
		}
		v = parsed
	} else if err := json.Unmarshal(raw, &v); err != nil || isNull(raw) {
		return 0, fmt.Errorf("%s is not a number or numeric string", string(raw))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s is not finite", string(raw))
	}
	return v, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
