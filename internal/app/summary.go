package app

import (
	"fmt"
	"strings"

	"perpbot/internal/config"
	"perpbot/internal/logger"
	"perpbot/internal/strategy"
)

type StartupSummary struct {
	Market    MarketSummary
	Execution ExecutionSummary
	Variants  []VariantDetail
}

type MarketSummary struct {
	Source     string
	Symbols    []string
	Timeframes []string
	MaxCached  int
	Window     int
}

type ExecutionSummary struct {
	Exchange  string
	Account   string
	Testnet   bool
	HedgeMode bool
	Cache     string
	BaseGap   int64
}

type VariantDetail struct {
	BotID     string
	RuleSet   string
	Direction string
	Symbols   []string
	Timeframe string
	Trend     string
	Interval  int
}

func newStartupSummary(cfg *config.Config, scope Scope, variants []strategy.Variant) *StartupSummary {
	s := &StartupSummary{
		Market: MarketSummary{
			Source:     cfg.Market.ResolveActiveSource().Name,
			Symbols:    scope.Symbols,
			Timeframes: scope.Timeframes,
			MaxCached:  cfg.Market.KlineMaxCached,
			Window:     cfg.Indicator.Window,
		},
		Execution: ExecutionSummary{
			Exchange:  cfg.Exchange.Name,
			Account:   cfg.Exchange.Account,
			Testnet:   cfg.Exchange.Testnet,
			HedgeMode: cfg.Exchange.HedgeMode,
			Cache:     cfg.Cache.Driver,
			BaseGap:   cfg.Execution.BaseGapTicks,
		},
	}
	for _, v := range variants {
		s.Variants = append(s.Variants, VariantDetail{
			BotID:     v.BotID,
			RuleSet:   string(v.RuleSet),
			Direction: string(v.Direction),
			Symbols:   v.Symbols,
			Timeframe: v.Timeframe,
			Trend:     v.TrendTimeframe,
			Interval:  v.IntervalSeconds,
		})
	}
	return s
}

// Print writes the summary through the logger so it also lands in the log file.
func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "STARTUP SUMMARY")
	fmt.Fprintln(&b, rule)

	fmt.Fprintln(&b, "[MARKET DATA]")
	fmt.Fprintf(&b, "  source:     %s\n", s.Market.Source)
	fmt.Fprintf(&b, "  symbols:    %s\n", formatList(s.Market.Symbols))
	fmt.Fprintf(&b, "  timeframes: %s\n", formatList(s.Market.Timeframes))
	fmt.Fprintf(&b, "  cached:     %d  window: %d\n", s.Market.MaxCached, s.Market.Window)

	fmt.Fprintln(&b, "[EXECUTION]")
	fmt.Fprintf(&b, "  exchange:   %s/%s testnet=%v hedge=%v\n", s.Execution.Exchange, s.Execution.Account, s.Execution.Testnet, s.Execution.HedgeMode)
	fmt.Fprintf(&b, "  cache:      %s  base gap: %d ticks\n", s.Execution.Cache, s.Execution.BaseGap)

	fmt.Fprintln(&b, "[VARIANTS]")
	if len(s.Variants) == 0 {
		fmt.Fprintln(&b, "  (none)")
	}
	for _, v := range s.Variants {
		trend := v.Trend
		if trend == "" {
			trend = "-"
		}
		fmt.Fprintf(&b, "  > %s rule=%s dir=%s tf=%s trend=%s every %ds\n", v.BotID, v.RuleSet, v.Direction, v.Timeframe, trend, v.Interval)
		fmt.Fprintf(&b, "    symbols: %s\n", formatList(v.Symbols))
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
