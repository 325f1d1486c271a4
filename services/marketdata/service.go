package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"tradingroad_backend/services/tracing"
)

const (
	DefaultLimit     = 100
	MaxLimit         = 1000
	DefaultTimeframe = "1h"
)

// quote assets offered in pair listings
var pairQuotes = map[string]bool{"USDT": true, "BUSD": true, "USDC": true}

// DefaultPairs is served when an exchange cannot list its markets
var DefaultPairs = []string{
	"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT", "ADA/USDT", "XRP/USDT",
	"DOT/USDT", "AVAX/USDT", "DOGE/USDT", "SHIB/USDT", "MATIC/USDT", "LTC/USDT",
}

// CandleArchive persists live candles
type CandleArchive interface {
	SaveCandles(ctx context.Context, exchange, symbol, timeframe string, candles []Candle) error
}

// SyntheticSource generates fallback candles
type SyntheticSource func(symbol, timeframe string, limit int) []Candle

// Service answers candle and exchange metadata queries. Every query is total:
// upstream failures are absorbed and replaced by synthetic data or defaults.
type Service struct {
	registry  *Registry
	archive   CandleArchive
	pairs     PairCache
	synthetic SyntheticSource
	logger    logrus.FieldLogger
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithArchive archives every successful live fetch
func WithArchive(archive CandleArchive) ServiceOption {
	return func(s *Service) { s.archive = archive }
}

// WithPairCache sets the pair listing cache
func WithPairCache(cache PairCache) ServiceOption {
	return func(s *Service) { s.pairs = cache }
}

// WithSyntheticSource replaces the synthetic generator
func WithSyntheticSource(src SyntheticSource) ServiceOption {
	return func(s *Service) { s.synthetic = src }
}

// NewService creates the market data query service
func NewService(registry *Registry, logger logrus.FieldLogger, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		logger:   logger,
		synthetic: func(symbol, timeframe string, limit int) []Candle {
			return GenerateSynthetic(symbol, timeframe, limit)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pairs == nil {
		s.pairs = NewMemoryPairCache(DefaultPairCacheTTL)
	}
	return s
}

// Registry returns the client registry backing the service
func (s *Service) Registry() *Registry {
	return s.registry
}

// decideFallback picks the reason, if any, to serve synthetic data instead of live rows
func decideFallback(supported bool, err error, rows int) FallbackReason {
	switch {
	case !supported:
		return ReasonUnsupported
	case err != nil:
		return ReasonUpstreamError
	case rows == 0:
		return ReasonEmptyResult
	default:
		return ReasonNone
	}
}

// FetchCandles returns candles for the request, live when possible and synthetic otherwise.
// The returned Candles slice is never empty.
func (s *Service) FetchCandles(ctx context.Context, req FetchRequest) FetchResult {
	timeframe := TimeframeToCanonical(req.Timeframe)
	if timeframe == "" {
		timeframe = DefaultTimeframe
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	client := s.registry.Resolve(req.Exchange)

	ctx, span := tracing.StartSpan(ctx, "exchange.fetch_ohlcv")
	defer span.End()
	span.SetAttributes(
		attribute.String("exchange", client.ID()),
		attribute.String("symbol", req.Symbol),
		attribute.String("timeframe", timeframe),
		attribute.Int("limit", limit),
	)

	supported := client.Has(FeatureFetchOHLCV)
	var candles []Candle
	var err error
	if supported {
		candles, err = s.fetchLive(ctx, client, req.Symbol, timeframe, limit, req.Since)
	}

	result := FetchResult{
		Exchange:  client.ID(),
		Symbol:    req.Symbol,
		Timeframe: timeframe,
		Err:       err,
	}

	reason := decideFallback(supported, err, len(candles))
	span.SetAttributes(attribute.String("fallback_reason", string(reason)))
	if reason != ReasonNone {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.logger.WithFields(tracing.LogFields(ctx)).WithFields(logrus.Fields{
			"exchange":  client.ID(),
			"symbol":    req.Symbol,
			"timeframe": timeframe,
			"reason":    reason,
			"error":     err,
		}).Warn("serving synthetic candles")

		result.Candles = s.syntheticCandles(req.Symbol, timeframe, limit)
		result.Source = SourceSynthetic
		result.Reason = reason
		return result
	}

	result.Candles = candles
	result.Source = SourceLive
	result.Reason = ReasonNone

	if s.archive != nil {
		if err := s.archive.SaveCandles(ctx, client.ID(), req.Symbol, timeframe, candles); err != nil {
			s.logger.WithError(err).WithField("exchange", client.ID()).Warn("failed to archive candles")
		}
	}
	return result
}

// fetchLive calls the client and normalizes the rows. Driver panics become errors.
func (s *Service) fetchLive(ctx context.Context, client *ExchangeClient, symbol, timeframe string, limit int, since *int64) (candles []Candle, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			candles, err = nil, fmt.Errorf("%s fetchOHLCV panic: %v", client.ID(), rec)
		}
	}()

	rows, err := client.FetchOHLCV(ctx, symbol, timeframe, limit, since)
	if err != nil {
		return nil, err
	}
	return normalizeRows(rows, limit), nil
}

func (s *Service) syntheticCandles(symbol, timeframe string, limit int) []Candle {
	candles := s.synthetic(symbol, timeframe, limit)
	if len(candles) == 0 {
		candles = GenerateSynthetic(symbol, timeframe, limit)
	}
	return candles
}

// normalizeRows drops invalid rows, sorts ascending, removes duplicate
// timestamps and keeps the newest limit candles
func normalizeRows(rows []OHLCV, limit int) []Candle {
	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		c := row.Candle()
		if c.Valid() {
			candles = append(candles, c)
		}
	}

	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})

	deduped := candles[:0]
	for i, c := range candles {
		if i > 0 && c.Timestamp == deduped[len(deduped)-1].Timestamp {
			// keep the later row for a repeated bar
			deduped[len(deduped)-1] = c
			continue
		}
		deduped = append(deduped, c)
	}

	if limit > 0 && len(deduped) > limit {
		deduped = deduped[len(deduped)-limit:]
	}
	return deduped
}

// LatestCandle returns the most recent candle for a symbol
func (s *Service) LatestCandle(ctx context.Context, exchangeID, symbol, timeframe string) (Candle, error) {
	res := s.FetchCandles(ctx, FetchRequest{
		Exchange:  exchangeID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Limit:     1,
	})
	if len(res.Candles) == 0 {
		return Candle{}, fmt.Errorf("%s %s: %w", exchangeID, symbol, ErrNoData)
	}
	return res.Candles[len(res.Candles)-1], nil
}

// AvailableExchanges lists every recognized exchange id, popular ones first
func (s *Service) AvailableExchanges() []string {
	return KnownExchanges()
}

// AvailablePairs lists active pairs quoted in USDT, BUSD or USDC, sorted.
// Any failure yields the default pair list.
func (s *Service) AvailablePairs(ctx context.Context, exchangeID string) []string {
	client := s.registry.Resolve(exchangeID)
	if cached, ok := s.pairs.Get(ctx, client.ID()); ok && len(cached) > 0 {
		return cached
	}

	if !client.Has(FeatureFetchMarkets) {
		return defaultPairs()
	}

	markets, err := s.fetchMarkets(ctx, client)
	if err != nil {
		s.logger.WithError(err).WithField("exchange", client.ID()).Warn("failed to load markets, using default pairs")
		return defaultPairs()
	}

	seen := make(map[string]bool)
	pairs := make([]string, 0, len(markets))
	for _, m := range markets {
		if !m.Active || !pairQuotes[m.Quote] || seen[m.Symbol] {
			continue
		}
		seen[m.Symbol] = true
		pairs = append(pairs, m.Symbol)
	}
	if len(pairs) == 0 {
		return defaultPairs()
	}
	sort.Strings(pairs)

	s.pairs.Set(ctx, client.ID(), pairs)
	return pairs
}

func (s *Service) fetchMarkets(ctx context.Context, client *ExchangeClient) (markets []Market, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			markets, err = nil, fmt.Errorf("%s fetchMarkets panic: %v", client.ID(), rec)
		}
	}()
	return client.FetchMarkets(ctx)
}

func defaultPairs() []string {
	return append([]string(nil), DefaultPairs...)
}

// ExchangeInfo describes a resolved exchange client
type ExchangeInfo struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	HasCredentials    bool            `json:"has_credentials"`
	SupportedFeatures map[string]bool `json:"supported_features"`
}

// ExchangeInfo returns the identity and capability flags of an exchange
func (s *Service) ExchangeInfo(exchangeID string) ExchangeInfo {
	client := s.registry.Resolve(exchangeID)
	return ExchangeInfo{
		ID:             client.ID(),
		Name:           client.Name(),
		HasCredentials: client.HasCredentials(),
		SupportedFeatures: map[string]bool{
			FeatureFetchOHLCV:     client.Has(FeatureFetchOHLCV),
			FeatureFetchTicker:    client.Has(FeatureFetchTicker),
			FeatureFetchOrderBook: client.Has(FeatureFetchOrderBook),
		},
	}
}

// WarmPairs preloads pair listings into the cache
func (s *Service) WarmPairs(ctx context.Context, exchangeIDs ...string) int {
	warmed := 0
	for _, id := range exchangeIDs {
		start := time.Now()
		pairs := s.AvailablePairs(ctx, id)
		s.logger.WithFields(logrus.Fields{
			"exchange": id,
			"pairs":    len(pairs),
			"duration": time.Since(start).String(),
		}).Debug("pair cache warmed")
		warmed++
	}
	return warmed
}
