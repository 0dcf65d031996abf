package gateway

import (
	"fmt"
	"strings"

	"perpbot/internal/config"
	"perpbot/internal/gateway/binance"
	"perpbot/internal/gateway/gate"
	"perpbot/internal/market"
)

// NewSourceFromConfig builds the market-data source named by
// market.active_source.
func NewSourceFromConfig(cfg *config.Config) (market.Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	active := cfg.Market.ResolveActiveSource()
	switch strings.ToLower(active.Name) {
	case "", "binance", "binance-futures":
		return binance.New(binance.Config{
			RESTBaseURL:  active.RESTBaseURL,
			Testnet:      cfg.Exchange.Testnet,
			HTTPTimeout:  cfg.Exchange.HTTPTimeout(),
			ProxyEnabled: active.Proxy.Enabled,
			RESTProxyURL: active.Proxy.RESTURL,
			WSProxyURL:   active.Proxy.WSURL,
		})
	case "gate":
		return gate.New(gate.Config{
			RESTBaseURL:  active.RESTBaseURL,
			HTTPTimeout:  cfg.Exchange.HTTPTimeout(),
			ProxyEnabled: active.Proxy.Enabled,
			RESTProxyURL: active.Proxy.RESTURL,
			WSProxyURL:   active.Proxy.WSURL,
		})
	default:
		return nil, fmt.Errorf("unsupported market source: %s", active.Name)
	}
}

// NewGatewayFromConfig builds the signed order gateway.
func NewGatewayFromConfig(cfg *config.Config) (*binance.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	ex := cfg.Exchange
	return binance.NewClient(binance.Config{
		APIKey:       ex.APIKey,
		SecretKey:    ex.SecretKey,
		RESTBaseURL:  ex.RESTBaseURL,
		Testnet:      ex.Testnet,
		HTTPTimeout:  ex.HTTPTimeout(),
		ProxyEnabled: ex.Proxy.Enabled,
		RESTProxyURL: ex.Proxy.RESTURL,
		WSProxyURL:   ex.Proxy.WSURL,
	})
}
