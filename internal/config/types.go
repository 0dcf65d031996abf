package config

import (
	"strings"
	"time"
)

// Config is the process configuration. It is read once at startup and
// passed by value or pointer into constructors.
type Config struct {
	App            AppConfig       `toml:"app"`
	Exchange       ExchangeConfig  `toml:"exchange"`
	Cache          CacheConfig     `toml:"cache"`
	Store          StoreConfig     `toml:"store"`
	Market         MarketConfig    `toml:"market"`
	Indicator      IndicatorConfig `toml:"indicator"`
	Execution      ExecutionConfig `toml:"execution"`
	Notify         NotifyConfig    `toml:"notify"`
	StrategiesPath string          `toml:"strategies_path"`
}

type AppConfig struct {
	Env        string `toml:"env"`
	LogLevel   string `toml:"log_level"`
	HTTPAddr   string `toml:"http_addr"`
	LogPath    string `toml:"log_path"`
	AdminToken string `toml:"admin_token"`
}

// ExchangeConfig holds the signed order gateway settings.
type ExchangeConfig struct {
	Name               string      `toml:"name"`
	Account            string      `toml:"account"`
	APIKey             string      `toml:"api_key"`
	SecretKey          string      `toml:"secret_key"`
	RESTBaseURL        string      `toml:"rest_base_url"`
	Testnet            bool        `toml:"testnet"`
	HedgeMode          bool        `toml:"hedge_mode"`
	HTTPTimeoutSeconds int         `toml:"http_timeout_seconds"`
	Proxy              ProxyConfig `toml:"proxy"`
}

func (e ExchangeConfig) HTTPTimeout() time.Duration {
	return seconds(e.HTTPTimeoutSeconds)
}

type CacheConfig struct {
	Driver   string `toml:"driver"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

type StoreConfig struct {
	OrderDBPath string `toml:"order_db_path"`
}

// MarketConfig selects the market-data source. Orders always go through the
// exchange section.
type MarketConfig struct {
	ActiveSource         string         `toml:"active_source"`
	Sources              []MarketSource `toml:"sources"`
	KlineMaxCached       int            `toml:"kline_max_cached"`
	QuoteIntervalSeconds int            `toml:"quote_interval_seconds"`
	SnapshotTTLSeconds   int            `toml:"snapshot_ttl_seconds"`
}

type MarketSource struct {
	Name        string      `toml:"name"`
	Enabled     bool        `toml:"enabled"`
	RESTBaseURL string      `toml:"rest_base_url"`
	Proxy       ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// IndicatorConfig feeds pipeline.Settings. MAType follows go-talib numbering
// (0=SMA, 1=EMA, 2=WMA).
type IndicatorConfig struct {
	Window             int `toml:"window"`
	Period             int `toml:"period"`
	MAType             int `toml:"ma_type"`
	SlopeLag           int `toml:"slope_lag"`
	MACDFast           int `toml:"macd_fast"`
	MACDSlow           int `toml:"macd_slow"`
	MACDSignal         int `toml:"macd_signal"`
	Concurrency        int `toml:"concurrency"`
	IntervalSeconds    int `toml:"interval_seconds"`
	ZeroATRAlertCycles int `toml:"zero_atr_alert_cycles"`
}

type ExecutionConfig struct {
	BaseGapTicks           int64   `toml:"base_gap_ticks"`
	SlotTTLSeconds         int     `toml:"slot_ttl_seconds"`
	SlotStaleSeconds       int     `toml:"slot_stale_seconds"`
	TimeSecCancel          int     `toml:"time_sec_cancel"`
	TimeoutSweepSeconds    int     `toml:"timeout_sweep_seconds"`
	OrphanAfterHours       int     `toml:"orphan_after_hours"`
	OrphanSweepSeconds     int     `toml:"orphan_sweep_seconds"`
	CloseAllWaitSeconds    int     `toml:"close_all_wait_seconds"`
	TakerFee               float64 `toml:"taker_fee"`
	GatewayTimeoutSeconds  int     `toml:"gateway_timeout_seconds"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerCooldownSeconds int     `toml:"breaker_cooldown_seconds"`
	SnapshotMaxAgeSeconds  int     `toml:"snapshot_max_age_seconds"`
	PriceMaxAgeSeconds     int     `toml:"price_max_age_seconds"`
}

func (e ExecutionConfig) SlotTTL() time.Duration {
	return seconds(e.SlotTTLSeconds)
}

func (e ExecutionConfig) SlotStale() time.Duration {
	return seconds(e.SlotStaleSeconds)
}

func (e ExecutionConfig) CancelAfter() time.Duration {
	return seconds(e.TimeSecCancel)
}

func (e ExecutionConfig) TimeoutSweep() time.Duration {
	return seconds(e.TimeoutSweepSeconds)
}

func (e ExecutionConfig) OrphanAfter() time.Duration {
	return time.Duration(e.OrphanAfterHours) * time.Hour
}

func (e ExecutionConfig) OrphanSweep() time.Duration {
	return seconds(e.OrphanSweepSeconds)
}

func (e ExecutionConfig) CloseAllWait() time.Duration {
	return seconds(e.CloseAllWaitSeconds)
}

func (e ExecutionConfig) GatewayTimeout() time.Duration {
	return seconds(e.GatewayTimeoutSeconds)
}

func (e ExecutionConfig) BreakerCooldown() time.Duration {
	return seconds(e.BreakerCooldownSeconds)
}

func (e ExecutionConfig) SnapshotMaxAge() time.Duration {
	return seconds(e.SnapshotMaxAgeSeconds)
}

func (e ExecutionConfig) PriceMaxAge() time.Duration {
	return seconds(e.PriceMaxAgeSeconds)
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// keySet tracks the paths explicitly set in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
