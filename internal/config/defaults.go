package config

import (
	"fmt"
	"strings"
)

const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultAppLogPath      = "/data/logs/perpbot.log"
	defaultExchangeName    = "binance"
	defaultExchangeAccount = "main"
	defaultHTTPTimeout     = 15
	defaultCacheDriver     = "memory"
	defaultCachePrefix     = "perpbot:"
	defaultOrderDBPath     = "/data/db/orders.db"
	defaultMarketName      = "binance"
	defaultMarketREST      = "https://fapi.binance.com"
	defaultGateREST        = "https://api.gateio.ws/api/v4"
	defaultKlineMaxCached  = 300
	defaultQuoteInterval   = 5
	defaultSnapshotTTL     = 600
	defaultIndicatorWindow = 60
	defaultIndicatorPeriod = 20
	defaultSlopeLag        = 3
	defaultIndicatorEvery  = 10
	defaultZeroATRCycles   = 30
	defaultBaseGapTicks    = 5
	defaultSlotTTL         = 30
	defaultSlotStale       = 20
	defaultTimeSecCancel   = 120
	defaultTimeoutSweep    = 15
	defaultOrphanAfter     = 4
	defaultOrphanSweep     = 300
	defaultCloseAllWait    = 60
	defaultTakerFee        = 0.0005
	defaultGatewayTimeout  = 10
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 60
	defaultSnapshotMaxAge  = 60
	defaultPriceMaxAge     = 15
	defaultStrategiesPath  = "configs/strategies.yaml"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Indicator.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	applyFieldDefaults(keys, stringFieldDefault("strategies_path", &c.StrategiesPath, defaultStrategiesPath))
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	e.APIKey = strings.TrimSpace(e.APIKey)
	e.SecretKey = strings.TrimSpace(e.SecretKey)
	e.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.name", &e.Name, defaultExchangeName),
		stringFieldDefault("exchange.account", &e.Account, defaultExchangeAccount),
		intFieldDefault("exchange.http_timeout_seconds", &e.HTTPTimeoutSeconds, defaultHTTPTimeout),
	)
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("cache.driver", &c.Driver, defaultCacheDriver),
		stringFieldDefault("cache.prefix", &c.Prefix, defaultCachePrefix),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys, stringFieldDefault("store.order_db_path", &s.OrderDBPath, defaultOrderDBPath))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("market.kline_max_cached", &m.KlineMaxCached, defaultKlineMaxCached),
		intFieldDefault("market.quote_interval_seconds", &m.QuoteIntervalSeconds, defaultQuoteInterval),
		intFieldDefault("market.snapshot_ttl_seconds", &m.SnapshotTTLSeconds, defaultSnapshotTTL),
	)
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Name = strings.ToLower(strings.TrimSpace(src.Name))
		src.RESTBaseURL = strings.TrimSpace(src.RESTBaseURL)
		src.Proxy.normalize()
		if src.Name == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultRESTFor(src.Name)
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

func (ic *IndicatorConfig) applyDefaults(keys keySet) {
	if ic == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("indicator.window", &ic.Window, defaultIndicatorWindow),
		intFieldDefault("indicator.period", &ic.Period, defaultIndicatorPeriod),
		intFieldDefault("indicator.slope_lag", &ic.SlopeLag, defaultSlopeLag),
		intFieldDefault("indicator.interval_seconds", &ic.IntervalSeconds, defaultIndicatorEvery),
		intFieldDefault("indicator.zero_atr_alert_cycles", &ic.ZeroATRAlertCycles, defaultZeroATRCycles),
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "execution.base_gap_ticks",
			need:  func() bool { return e.BaseGapTicks <= 0 },
			apply: func() { e.BaseGapTicks = defaultBaseGapTicks },
		},
		intFieldDefault("execution.slot_ttl_seconds", &e.SlotTTLSeconds, defaultSlotTTL),
		intFieldDefault("execution.slot_stale_seconds", &e.SlotStaleSeconds, defaultSlotStale),
		intFieldDefault("execution.time_sec_cancel", &e.TimeSecCancel, defaultTimeSecCancel),
		intFieldDefault("execution.timeout_sweep_seconds", &e.TimeoutSweepSeconds, defaultTimeoutSweep),
		intFieldDefault("execution.orphan_after_hours", &e.OrphanAfterHours, defaultOrphanAfter),
		intFieldDefault("execution.orphan_sweep_seconds", &e.OrphanSweepSeconds, defaultOrphanSweep),
		intFieldDefault("execution.close_all_wait_seconds", &e.CloseAllWaitSeconds, defaultCloseAllWait),
		intFieldDefault("execution.gateway_timeout_seconds", &e.GatewayTimeoutSeconds, defaultGatewayTimeout),
		intFieldDefault("execution.breaker_threshold", &e.BreakerThreshold, defaultBreakerFailures),
		intFieldDefault("execution.breaker_cooldown_seconds", &e.BreakerCooldownSeconds, defaultBreakerCooldown),
		intFieldDefault("execution.snapshot_max_age_seconds", &e.SnapshotMaxAgeSeconds, defaultSnapshotMaxAge),
		intFieldDefault("execution.price_max_age_seconds", &e.PriceMaxAgeSeconds, defaultPriceMaxAge),
		fieldDefault{
			key:   "execution.taker_fee",
			need:  func() bool { return e.TakerFee <= 0 },
			apply: func() { e.TakerFee = defaultTakerFee },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func defaultRESTFor(name string) string {
	if name == "gate" {
		return defaultGateREST
	}
	return defaultMarketREST
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}
