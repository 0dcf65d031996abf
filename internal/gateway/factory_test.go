package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/config"
	"perpbot/internal/gateway/binance"
	"perpbot/internal/gateway/gate"
)

func TestNewSourceFromConfigSelectsActive(t *testing.T) {
	cfg := &config.Config{Market: config.MarketConfig{
		ActiveSource: "gate",
		Sources: []config.MarketSource{
			{Name: "binance", Enabled: true, RESTBaseURL: "https://fapi.binance.com"},
			{Name: "gate", Enabled: true, RESTBaseURL: "https://api.gateio.ws/api/v4"},
		},
	}}
	src, err := NewSourceFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &gate.Source{}, src)

	cfg.Market.ActiveSource = "binance"
	src, err = NewSourceFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &binance.Source{}, src)
}

func TestNewGatewayRequiresKeys(t *testing.T) {
	_, err := NewGatewayFromConfig(&config.Config{})
	assert.Error(t, err)

	gw, err := NewGatewayFromConfig(&config.Config{Exchange: config.ExchangeConfig{APIKey: "k", SecretKey: "s"}})
	require.NoError(t, err)
	assert.Equal(t, "binance", gw.Name())
}
