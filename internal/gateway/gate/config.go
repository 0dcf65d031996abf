package gate

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultGateREST    = "https://api.gateio.ws/api/v4"
	defaultSettle      = "usdt"
	defaultGateTimeout = 15 * time.Second
)

// Config selects the Gate.io futures market. Settle is the settlement
// currency of the contracts read (usdt unless set).
type Config struct {
	RESTBaseURL string
	Settle      string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string
	WSProxyURL   string
}

// normalize fills defaults and rejects proxy URLs that cannot be parsed.
func (c Config) normalize() (Config, error) {
	c.RESTBaseURL = strings.TrimRight(strings.TrimSpace(c.RESTBaseURL), "/")
	if c.RESTBaseURL == "" {
		c.RESTBaseURL = defaultGateREST
	}
	c.Settle = strings.ToLower(strings.TrimSpace(c.Settle))
	if c.Settle == "" {
		c.Settle = defaultSettle
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultGateTimeout
	}
	c.RESTProxyURL = strings.TrimSpace(c.RESTProxyURL)
	c.WSProxyURL = strings.TrimSpace(c.WSProxyURL)
	if !c.ProxyEnabled {
		return c, nil
	}
	for name, raw := range map[string]string{"rest": c.RESTProxyURL, "ws": c.WSProxyURL} {
		if raw == "" {
			continue
		}
		if _, err := url.Parse(raw); err != nil {
			return Config{}, fmt.Errorf("invalid gate %s proxy url: %w", name, err)
		}
	}
	return c, nil
}

// wsProxy is the proxy for the candle stream; it falls back to the REST proxy.
func (c Config) wsProxy() string {
	if !c.ProxyEnabled {
		return ""
	}
	if c.WSProxyURL != "" {
		return c.WSProxyURL
	}
	return c.RESTProxyURL
}
