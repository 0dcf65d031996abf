package binance

import (
	"strings"
	"time"
)

const (
	defaultRESTBaseURL = "https://fapi.binance.com"
	testnetRESTBaseURL = "https://testnet.binancefuture.com"
)

type Config struct {
	APIKey      string
	SecretKey   string
	RESTBaseURL string
	Testnet     bool
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string
	WSProxyURL   string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.SecretKey = strings.TrimSpace(out.SecretKey)
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultRESTBaseURL
		if out.Testnet {
			out.RESTBaseURL = testnetRESTBaseURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.WSProxyURL = strings.TrimSpace(out.WSProxyURL)
	return out
}
