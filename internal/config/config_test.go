package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalConfig = `
exchange:
  api_key: key
  secret_key: secret
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, "main", cfg.Exchange.Account)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "binance", cfg.Market.ResolveActiveSource().Name)
	assert.Equal(t, int64(defaultBaseGapTicks), cfg.Execution.BaseGapTicks)
	assert.Equal(t, 4*time.Hour, cfg.Execution.OrphanAfter())
	assert.Equal(t, 120*time.Second, cfg.Execution.CancelAfter())
	assert.Equal(t, defaultTakerFee, cfg.Execution.TakerFee)
	assert.Equal(t, defaultStrategiesPath, cfg.StrategiesPath)
}

func TestLoadMergesIncludesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", minimalConfig+`
execution:
  time_sec_cancel: 90
  base_gap_ticks: 8
`)
	path := writeFile(t, dir, "config.yaml", `
include:
  - base.yaml
execution:
  time_sec_cancel: 45
market:
  active_source: gate
  sources:
    - name: gate
      enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Execution.TimeSecCancel)
	assert.Equal(t, int64(8), cfg.Execution.BaseGapTicks)

	src := cfg.Market.ResolveActiveSource()
	assert.Equal(t, "gate", src.Name)
	assert.Equal(t, defaultGateREST, src.RESTBaseURL)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	path := writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadSecretsFromEnv(t *testing.T) {
	t.Setenv("PERPBOT_EXCHANGE_API_KEY", "env-key")
	t.Setenv("PERPBOT_EXCHANGE_SECRET_KEY", "env-secret")
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "env-secret", cfg.Exchange.SecretKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing keys":  "app:\n  env: test\n",
		"redis no addr": minimalConfig + "cache:\n  driver: redis\n",
		"stale >= ttl":  minimalConfig + "execution:\n  slot_ttl_seconds: 10\n  slot_stale_seconds: 10\n",
		"partial macd":  minimalConfig + "indicator:\n  macd_fast: 12\n",
		"bad source":    minimalConfig + "market:\n  sources:\n    - name: kraken\n      enabled: true\n",
		"telegram":      minimalConfig + "notify:\n  telegram:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(PathEnv, "")
	assert.Equal(t, DefaultPath, Path())
	t.Setenv(PathEnv, "/etc/perpbot.yaml")
	assert.Equal(t, "/etc/perpbot.yaml", Path())
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("15m"))
	assert.True(t, IsValidInterval("4h"))
	assert.False(t, IsValidInterval("m"))
	assert.False(t, IsValidInterval("1x"))
}
