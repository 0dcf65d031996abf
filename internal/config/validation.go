package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Indicator.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.StrategiesPath) == "" {
		return fmt.Errorf("strategies_path cannot be empty")
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if strings.ToLower(e.Name) != "binance" {
		return fmt.Errorf("exchange.name only supports binance, got %s", e.Name)
	}
	if e.APIKey == "" || e.SecretKey == "" {
		return fmt.Errorf("exchange.api_key and exchange.secret_key are required")
	}
	if e.Proxy.Enabled && e.Proxy.RESTURL == "" && e.Proxy.WSURL == "" {
		return fmt.Errorf("exchange proxy enabled but no rest_url or ws_url")
	}
	return nil
}

func (c *CacheConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "memory":
		return nil
	case "redis":
		if strings.TrimSpace(c.Addr) == "" {
			return fmt.Errorf("cache.addr is required for the redis driver")
		}
		return nil
	default:
		return fmt.Errorf("cache.driver must be memory or redis, got %s", c.Driver)
	}
}

func (m *MarketConfig) validate() error {
	if m.KlineMaxCached < 50 || m.KlineMaxCached > 1500 {
		return fmt.Errorf("market.kline_max_cached must be in [50,1500]")
	}
	if len(m.Sources) == 0 {
		return nil
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		switch src.Name {
		case "binance", "gate":
		default:
			return fmt.Errorf("market source %s is not supported (binance|gate)", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" && src.Proxy.WSURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url or ws_url", src.Name)
		}
		if activeName == "" || src.Name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (ic *IndicatorConfig) validate() error {
	if ic.MAType < 0 || ic.MAType > 8 {
		return fmt.Errorf("indicator.ma_type must be a talib MaType in [0,8]")
	}
	if ic.Window < ic.Period {
		return fmt.Errorf("indicator.window (%d) must be >= indicator.period (%d)", ic.Window, ic.Period)
	}
	macd := []int{ic.MACDFast, ic.MACDSlow, ic.MACDSignal}
	set := 0
	for _, v := range macd {
		if v < 0 {
			return fmt.Errorf("indicator.macd_* must be >= 0")
		}
		if v > 0 {
			set++
		}
	}
	if set != 0 && set != len(macd) {
		return fmt.Errorf("indicator.macd_fast, macd_slow and macd_signal must be set together")
	}
	if set > 0 && ic.MACDFast >= ic.MACDSlow {
		return fmt.Errorf("indicator.macd_fast must be < macd_slow")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.SlotStaleSeconds >= e.SlotTTLSeconds {
		return fmt.Errorf("execution.slot_stale_seconds must be < slot_ttl_seconds")
	}
	if e.GatewayTimeoutSeconds >= e.SlotTTLSeconds {
		return fmt.Errorf("execution.gateway_timeout_seconds must be < slot_ttl_seconds")
	}
	if e.TakerFee < 0 || e.TakerFee > 0.01 {
		return fmt.Errorf("execution.taker_fee must be in [0, 0.01]")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// IsValidInterval is a loose check: digits followed by m/h/d/w.
func IsValidInterval(s string) bool {
	if len(s) < 2 {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
