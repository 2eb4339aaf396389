package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/tidwall/gjson"

	"candlevault/internal/logger"
	"candlevault/internal/market"
)

const maxKlinesPerRequest = 1500

// Source implements market.Source on top of the go-binance SDK: REST klines
// for historical/authoritative candles and a combined aggTrade websocket for
// the live tick feed.
type Source struct {
	cfg    Config
	client *futures.Client

	mu         sync.Mutex
	tickCancel context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if raw := final.restProxy(); raw != "" {
		proxyURL, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if raw := final.wsProxy(); raw != "" {
		futures.SetWsProxyUrl(raw)
	}
	return &Source{
		cfg:    final,
		client: client,
	}, nil
}

func (s *Source) GetCandles(ctx context.Context, pair string, g market.Granularity, start, end time.Time) ([]market.Candle, error) {
	symbol := cleanPair(pair)
	if symbol == "" {
		return nil, fmt.Errorf("pair is required")
	}
	if !g.Valid() {
		return nil, fmt.Errorf("unsupported granularity %q", g)
	}
	if !end.After(start) {
		return nil, market.ErrInvalidRange
	}
	svc := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(g.Interval()).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Limit(maxKlinesPerRequest)
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, classifyErr(err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		c := market.Candle{
			Time:   g.Align(kl.OpenTime / 1000),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		}
		if err := c.Validate(); err != nil {
			logger.Warnf("[binance] dropping invalid kline %s %s @%d: %v", symbol, g, c.Time, err)
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Source) SubscribeTicks(ctx context.Context, pairs []string, opts market.SubscribeOptions) (<-chan market.Tick, error) {
	pairMap := make(map[string]string)
	cleanPairs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		clean := cleanPair(p)
		if clean == "" {
			continue
		}
		pairMap[clean] = strings.ToUpper(strings.TrimSpace(p))
		cleanPairs = append(cleanPairs, clean)
	}
	if len(cleanPairs) == 0 {
		return nil, fmt.Errorf("no valid pairs for tick subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	out := make(chan market.Tick, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.tickCancel != nil {
		s.tickCancel()
	}
	s.tickCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runTickLoop(subCtx, cleanPairs, pairMap, out, opts)
	}()
	return out, nil
}

func (s *Source) runTickLoop(ctx context.Context, symbols []string, pairMap map[string]string, out chan<- market.Tick, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *futures.WsAggTradeEvent) {
			tick, ok := convertAggTradeEvent(event)
			if !ok {
				return
			}
			if original, ok := pairMap[tick.Pair]; ok {
				tick.Pair = original
			}
			select {
			case <-ctx.Done():
				return
			case out <- tick:
			default:
				logger.Warnf("[binance] tick channel full, drop %s", tick.Pair)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := futures.WsCombinedAggTradeServe(symbols, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickCancel != nil {
		s.tickCancel()
		s.tickCancel = nil
	}
	return nil
}

// classifyErr maps SDK failures onto the retryable error taxonomy: rate
// limiting and bans become ErrUpstreamRateLimited, timeouts and transport
// failures become ErrUpstreamUnavailable. Everything else passes through.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if isRateLimitCode(apiErr.Code) {
			return fmt.Errorf("%w: %v", market.ErrUpstreamRateLimited, err)
		}
		return err
	}
	// Some transport paths surface the raw response body as an opaque error
	// string; pull the code out of the payload when it is JSON.
	if code := gjson.Get(err.Error(), "code"); code.Exists() && isRateLimitCode(code.Int()) {
		return fmt.Errorf("%w: %v", market.ErrUpstreamRateLimited, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", market.ErrUpstreamUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", market.ErrUpstreamUnavailable, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", market.ErrUpstreamUnavailable, err)
	}
	return err
}

func isRateLimitCode(code int64) bool {
	// -1003 TOO_MANY_REQUESTS, -1015 TOO_MANY_ORDERS; 429/418 when the HTTP
	// status leaks through as the code.
	switch code {
	case -1003, -1015, 429, 418:
		return true
	}
	return false
}

func cleanPair(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	pair = strings.ReplaceAll(pair, "/", "")
	pair = strings.ReplaceAll(pair, "-", "")
	return pair
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func convertAggTradeEvent(ev *futures.WsAggTradeEvent) (market.Tick, bool) {
	if ev == nil {
		return market.Tick{}, false
	}
	price := parseFloat(ev.Price)
	if price <= 0 {
		return market.Tick{}, false
	}
	symbol := strings.ToUpper(strings.TrimSpace(ev.Symbol))
	if symbol == "" {
		return market.Tick{}, false
	}
	ts := ev.TradeTime
	if ts <= 0 {
		ts = ev.Time
	}
	return market.Tick{
		Pair:      symbol,
		Price:     price,
		Quantity:  parseFloat(ev.Quantity),
		Timestamp: ts / 1000,
	}, true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return time.Second
	}
	next := current * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}

func (s *Source) recordSubscribeError(err error) {
	if err == nil {
		return
	}
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	s.stats.LastError = err.Error()
	s.statsMu.Unlock()
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil && err.Error() != "" {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}
