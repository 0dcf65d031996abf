package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"perpbot/internal/logger"
	"perpbot/internal/market"
	symbolpkg "perpbot/internal/pkg/symbol"
	"perpbot/internal/scheduler"

	"github.com/antihax/optional"
	gateapi "github.com/gateio/gateapi-go/v7"
	gatews "github.com/gateio/gatews/go"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const (
	gateMaxHistoryLimit  = 2000
	defaultCandleBufSize = 512
)

var _ market.Source = (*Source)(nil)

// Source implements market.Source over Gate.io USDT-settled futures. Symbols
// cross the boundary in BTCUSDT form and are mapped to BTC_USDT contracts.
type Source struct {
	cfg   Config
	rest  *gateapi.APIClient
	nowFn func() time.Time

	candleMu    sync.Mutex
	candleClose context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats

	prevWSProxy func(*http.Request) (*url.URL, error)
	wsProxySet  bool
}

func New(cfg Config) (*Source, error) {
	final, err := cfg.normalize()
	if err != nil {
		return nil, err
	}

	restClient, err := newRESTClient(final)
	if err != nil {
		return nil, err
	}

	return &Source{
		cfg:   final,
		rest:  restClient,
		nowFn: time.Now,
	}, nil
}

func newRESTClient(cfg Config) (*gateapi.APIClient, error) {
	conf := gateapi.NewConfiguration()
	conf.BasePath = cfg.RESTBaseURL

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyEnabled && cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(cfg.RESTProxyURL)
		if err != nil {
			return nil, err
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	conf.HTTPClient = httpClient
	return gateapi.NewAPIClient(conf), nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > gateMaxHistoryLimit {
		limit = gateMaxHistoryLimit
	}
	normalized := symbolpkg.Normalize(symbol)
	if normalized == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	exchangeSymbol := symbolpkg.Parse(normalized).Gate()
	if exchangeSymbol == "" {
		return nil, fmt.Errorf("invalid symbol: %s", symbol)
	}

	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}

	opts := &gateapi.ListFuturesCandlesticksOpts{
		Limit:    optional.NewInt32(int32(limit)),
		Interval: optional.NewString(interval),
	}

	kls, _, err := s.rest.FuturesApi.ListFuturesCandlesticks(ctx, s.cfg.Settle, exchangeSymbol, opts)
	if err != nil {
		logger.Errorf("[gate] fetch kline failed %s %s limit=%d: %v", symbol, interval, limit, err)
		return nil, err
	}

	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		openTime := int64(kl.T * 1000)
		closeTime := openTime
		if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
			closeTime = openTime + dur.Milliseconds()
		}
		out = append(out, market.Candle{
			OpenTime:  openTime,
			CloseTime: closeTime,
			Open:      parseFloat(kl.O),
			High:      parseFloat(kl.H),
			Low:       parseFloat(kl.L),
			Close:     parseFloat(kl.C),
			Volume:    parseFloat(kl.Sum),
		})
	}
	// Gate returns candles oldest first with the live one last, as Binance does.
	return out, nil
}

func (s *Source) Subscribe(ctx context.Context, symbols, intervals []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	combos, symbolMap := buildGateSubscriptions(symbols, intervals)
	if len(combos) == 0 {
		return nil, fmt.Errorf("no valid symbols or intervals for subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultCandleBufSize
	}

	subCtx, cancel := context.WithCancel(ctx)

	s.candleMu.Lock()
	if s.candleClose != nil {
		s.candleClose()
	}
	s.candleClose = cancel
	s.candleMu.Unlock()

	out := make(chan market.CandleEvent, buffer)
	go func() {
		defer close(out)
		s.runCandleLoop(subCtx, combos, symbolMap, out, opts)
	}()
	return out, nil
}

func (s *Source) runCandleLoop(ctx context.Context, combos []gateSubscription, symbolMap map[string]string, out chan<- market.CandleEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		subCtx, cancel := context.WithCancel(ctx)
		ws, err := s.newWsService(subCtx)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			cancel()
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		ws.SetCallBack(gatews.ChannelFutureCandleStick, gatews.NewCallBack(func(msg *gatews.UpdateMsg) {
			evt, ok := convertCandleUpdate(msg, symbolMap)
			if !ok {
				return
			}
			select {
			case <-subCtx.Done():
				return
			case out <- evt:
			default:
				logger.Warnf("[gate] kline channel full, drop %s %s", evt.Symbol, evt.Interval)
			}
		}))

		var firstErr error
		for _, combo := range combos {
			if err := ws.Subscribe(gatews.ChannelFutureCandleStick, []string{combo.interval, combo.contract}); err != nil {
				firstErr = err
				s.recordSubscribeError(err)
			}
		}

		if firstErr != nil {
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(firstErr)
			}
			cancel()
			if conn := ws.GetConnection(); conn != nil {
				_ = conn.Close()
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}

		delay = time.Second
		s.clearLastError()
		if opts.OnConnect != nil {
			opts.OnConnect()
		}

		if err := s.monitorGateWS(subCtx, ws, opts); err != nil {
			s.recordReconnect(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
		}
		cancel()
		if conn := ws.GetConnection(); conn != nil {
			_ = conn.Close()
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) monitorGateWS(ctx context.Context, ws *gatews.WsService, opts market.SubscribeOptions) error {
	const (
		checkInterval = 5 * time.Second
		maxReconnect  = 30 * time.Second
	)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	lastStatus := ""
	reconnectSince := time.Time{}
	if ws != nil {
		lastStatus = ws.Status()
		if lastStatus != "connected" {
			reconnectSince = time.Now()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ws == nil {
				return fmt.Errorf("gate ws unavailable")
			}
			status := ws.Status()
			if status != lastStatus {
				if status == "connected" {
					reconnectSince = time.Time{}
					if opts.OnConnect != nil {
						opts.OnConnect()
					}
				} else {
					if lastStatus == "connected" {
						s.recordReconnect(nil)
					}
					if reconnectSince.IsZero() {
						reconnectSince = time.Now()
					}
					if opts.OnDisconnect != nil {
						opts.OnDisconnect(fmt.Errorf("gate ws status=%s", status))
					}
				}
				lastStatus = status
			}
			if status != "connected" {
				if reconnectSince.IsZero() {
					reconnectSince = time.Now()
				}
				if time.Since(reconnectSince) > maxReconnect {
					return fmt.Errorf("gate ws reconnect timeout (%s)", status)
				}
			} else {
				reconnectSince = time.Time{}
			}
		}
	}
}

func (s *Source) newWsService(ctx context.Context) (*gatews.WsService, error) {
	if err := s.ensureWSProxy(); err != nil {
		return nil, err
	}
	conf := gatews.NewConnConfFromOption(&gatews.ConfOptions{
		App: "futures",
		URL: gatews.FuturesUsdtUrl,
	})
	return gatews.NewWsService(ctx, nil, conf)
}

func (s *Source) ensureWSProxy() error {
	if s.wsProxySet || !s.cfg.ProxyEnabled {
		return nil
	}
	wsProxy := s.cfg.wsProxy()
	if wsProxy == "" {
		return nil
	}
	proxyURL, err := url.Parse(wsProxy)
	if err != nil {
		return fmt.Errorf("invalid gate WS proxy url: %w", err)
	}
	s.prevWSProxy = websocket.DefaultDialer.Proxy
	websocket.DefaultDialer.Proxy = http.ProxyURL(proxyURL)
	s.wsProxySet = true
	return nil
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) clearLastError() {
	s.statsMu.Lock()
	s.stats.LastError = ""
	s.statsMu.Unlock()
}

func (s *Source) Close() error {
	s.candleMu.Lock()
	if s.candleClose != nil {
		s.candleClose()
		s.candleClose = nil
	}
	s.candleMu.Unlock()

	if s.wsProxySet {
		websocket.DefaultDialer.Proxy = s.prevWSProxy
		s.wsProxySet = false
	}
	return nil
}

type gateSubscription struct {
	contract string
	interval string
}

func buildGateSubscriptions(symbols, intervals []string) ([]gateSubscription, map[string]string) {
	contracts, symbolMap := normalizeGateSymbols(symbols)
	cleanIntervals := normalizeGateIntervals(intervals)

	var combos []gateSubscription
	for _, c := range contracts {
		for _, iv := range cleanIntervals {
			combos = append(combos, gateSubscription{contract: c, interval: iv})
		}
	}
	return combos, symbolMap
}

func normalizeGateIntervals(intervals []string) []string {
	if len(intervals) == 0 {
		return nil
	}
	out := make([]string, 0, len(intervals))
	seen := make(map[string]struct{}, len(intervals))
	for _, iv := range intervals {
		norm := strings.ToLower(strings.TrimSpace(iv))
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

func normalizeGateSymbols(symbols []string) ([]string, map[string]string) {
	symbolMap := make(map[string]string)
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		norm := symbolpkg.Normalize(sym)
		if norm == "" {
			continue
		}
		contract := symbolpkg.Parse(norm).Gate()
		if contract == "" {
			continue
		}
		contract = strings.ToUpper(contract)
		if _, ok := seen[contract]; ok {
			continue
		}
		seen[contract] = struct{}{}
		symbolMap[contract] = norm
		out = append(out, contract)
	}
	return out, symbolMap
}

func convertCandleUpdate(msg *gatews.UpdateMsg, symbolMap map[string]string) (market.CandleEvent, bool) {
	if msg == nil || len(msg.Result) == 0 {
		return market.CandleEvent{}, false
	}
	body := gjson.ParseBytes(msg.Result)
	if body.IsArray() {
		items := body.Array()
		if len(items) == 0 {
			return market.CandleEvent{}, false
		}
		body = items[len(items)-1]
	}
	if !body.IsObject() {
		return market.CandleEvent{}, false
	}

	// n is "<interval>_<contract>", e.g. 1m_BTC_USDT
	interval, contract, ok := strings.Cut(body.Get("n").String(), "_")
	interval = strings.ToLower(strings.TrimSpace(interval))
	contract = strings.ToUpper(strings.TrimSpace(contract))
	if !ok || interval == "" || contract == "" {
		return market.CandleEvent{}, false
	}
	symbol := symbolpkg.Normalize(contract)
	if original, ok := symbolMap[contract]; ok && original != "" {
		symbol = original
	}

	openTime := body.Get("t").Int() * 1000
	closeTime := openTime
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		closeTime = openTime + dur.Milliseconds()
	}
	volume := parseFloat(body.Get("a").String())
	if volume == 0 {
		volume = body.Get("v").Float()
	}

	return market.CandleEvent{
		Symbol:   symbol,
		Interval: interval,
		Candle: market.Candle{
			OpenTime:  openTime,
			CloseTime: closeTime,
			Open:      parseFloat(body.Get("o").String()),
			High:      parseFloat(body.Get("h").String()),
			Low:       parseFloat(body.Get("l").String()),
			Close:     parseFloat(body.Get("c").String()),
			Volume:    volume,
		},
	}, true
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
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

func sleepWithContext(ctx context.Context, d time.Duration) bool {
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

// BookTicker reads the best bid/ask from the contract ticker.
func (s *Source) BookTicker(ctx context.Context, symbol string) (market.BookTicker, error) {
	t, err := s.ticker(ctx, symbol)
	if err != nil {
		return market.BookTicker{}, err
	}
	if t.HighestBid == "" || t.LowestAsk == "" {
		return market.BookTicker{}, fmt.Errorf("book ticker not available for %s", symbol)
	}
	return market.BookTicker{
		Symbol:    symbolpkg.Normalize(symbol),
		BidPrice:  t.HighestBid,
		BidQty:    t.HighestSize,
		AskPrice:  t.LowestAsk,
		AskQty:    t.LowestSize,
		UpdatedAt: s.nowFn(),
	}, nil
}

func (s *Source) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := s.ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if p := parseFloat(t.MarkPrice); p > 0 {
		return p, nil
	}
	return 0, fmt.Errorf("mark price not available for %s", symbol)
}

func (s *Source) ticker(ctx context.Context, symbol string) (gateapi.FuturesTicker, error) {
	contract := symbolpkg.Parse(symbol).Gate()
	if contract == "" {
		return gateapi.FuturesTicker{}, fmt.Errorf("invalid symbol: %s", symbol)
	}
	res, _, err := s.rest.FuturesApi.ListFuturesTickers(ctx, s.cfg.Settle, &gateapi.ListFuturesTickersOpts{
		Contract: optional.NewString(contract),
	})
	if err != nil {
		return gateapi.FuturesTicker{}, err
	}
	for _, t := range res {
		if strings.EqualFold(t.Contract, contract) {
			return t, nil
		}
	}
	return gateapi.FuturesTicker{}, fmt.Errorf("ticker not available for %s", contract)
}
