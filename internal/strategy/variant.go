package strategy

import (
	"fmt"
	"strings"

	"perpbot/internal/pkg/symbol"
)

type RuleSet string

const (
	RuleTrendBand      RuleSet = "trend_band"
	RuleOscillatorBand RuleSet = "oscillator_band"
	RuleLadder         RuleSet = "ladder"
)

type Direction string

const (
	DirectionBoth  Direction = "both"
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Params are the tunable thresholds of a variant. ATR-denominated values are
// multiples of the snapshot's ATR.
type Params struct {
	EntryBandATR     float64 `yaml:"entry_band_atr" json:"entry_band_atr"`
	ReversalSlope    float64 `yaml:"reversal_slope" json:"reversal_slope"`
	OrderGapATR      float64 `yaml:"order_gap_atr" json:"order_gap_atr"`
	MaxPositions     int     `yaml:"max_positions" json:"max_positions"`
	StopLossATR      float64 `yaml:"stop_loss_atr" json:"stop_loss_atr"`
	TakeProfitATR    float64 `yaml:"take_profit_atr" json:"take_profit_atr"`
	TakeProfitMaxATR float64 `yaml:"take_profit_max_atr" json:"take_profit_max_atr"`
	CancelATR        float64 `yaml:"cancel_atr" json:"cancel_atr"`
	MaxLossATR       float64 `yaml:"max_loss_atr" json:"max_loss_atr"`
	OrderSizeUSD     float64 `yaml:"order_size_usd" json:"order_size_usd"`
	Leverage         float64 `yaml:"leverage" json:"leverage"`
	LadderStepATR    float64 `yaml:"ladder_step_atr" json:"ladder_step_atr"`
}

// Variant is one configured strategy instance: a rule set plus thresholds.
type Variant struct {
	BotID           string    `yaml:"bot_id" json:"bot_id"`
	RuleSet         RuleSet   `yaml:"rule_set" json:"rule_set"`
	Symbols         []string  `yaml:"symbols" json:"symbols"`
	Timeframe       string    `yaml:"timeframe" json:"timeframe"`
	TrendTimeframe  string    `yaml:"trend_timeframe" json:"trend_timeframe"`
	Direction       Direction `yaml:"direction" json:"direction"`
	IntervalSeconds int       `yaml:"interval_seconds" json:"interval_seconds"`
	Params          Params    `yaml:"params" json:"params"`
}

// Timeframes lists every timeframe the variant reads.
func (v Variant) Timeframes() []string {
	if v.TrendTimeframe == "" || v.TrendTimeframe == v.Timeframe {
		return []string{v.Timeframe}
	}
	return []string{v.Timeframe, v.TrendTimeframe}
}

func (v Variant) allows(dir int) bool {
	switch v.Direction {
	case DirectionLong:
		return dir > 0
	case DirectionShort:
		return dir < 0
	default:
		return true
	}
}

func (v *Variant) normalize() {
	v.BotID = strings.TrimSpace(v.BotID)
	v.Timeframe = strings.ToLower(strings.TrimSpace(v.Timeframe))
	v.TrendTimeframe = strings.ToLower(strings.TrimSpace(v.TrendTimeframe))
	v.Symbols = symbol.NormalizeList(v.Symbols)
	if v.Direction == "" {
		v.Direction = DirectionBoth
	}
	if v.IntervalSeconds <= 0 {
		v.IntervalSeconds = 15
	}
	if v.Params.MaxPositions <= 0 {
		v.Params.MaxPositions = 1
	}
	if v.Params.Leverage <= 0 {
		v.Params.Leverage = 1
	}
}

func (v Variant) Validate() error {
	if v.BotID == "" {
		return fmt.Errorf("bot_id is required")
	}
	switch v.RuleSet {
	case RuleTrendBand, RuleOscillatorBand, RuleLadder:
	default:
		return fmt.Errorf("%s: unknown rule_set %q", v.BotID, v.RuleSet)
	}
	if len(v.Symbols) == 0 {
		return fmt.Errorf("%s: symbols are required", v.BotID)
	}
	for _, sym := range v.Symbols {
		if !symbol.IsValid(sym) {
			return fmt.Errorf("%s: unrecognized symbol %q", v.BotID, sym)
		}
	}
	if v.Timeframe == "" {
		return fmt.Errorf("%s: timeframe is required", v.BotID)
	}
	p := v.Params
	if p.StopLossATR <= 0 || p.TakeProfitATR <= 0 {
		return fmt.Errorf("%s: stop_loss_atr and take_profit_atr must be positive", v.BotID)
	}
	if p.TakeProfitMaxATR > 0 && p.TakeProfitMaxATR < p.TakeProfitATR {
		return fmt.Errorf("%s: take_profit_max_atr %.4f below take_profit_atr %.4f", v.BotID, p.TakeProfitMaxATR, p.TakeProfitATR)
	}
	if p.MaxLossATR > 0 && p.MaxLossATR < p.StopLossATR {
		return fmt.Errorf("%s: max_loss_atr %.4f below stop_loss_atr %.4f", v.BotID, p.MaxLossATR, p.StopLossATR)
	}
	if p.OrderSizeUSD <= 0 {
		return fmt.Errorf("%s: order_size_usd must be positive", v.BotID)
	}
	if p.EntryBandATR < 0 || p.OrderGapATR < 0 || p.ReversalSlope < 0 || p.CancelATR < 0 {
		return fmt.Errorf("%s: ATR multiples must not be negative", v.BotID)
	}
	if v.RuleSet == RuleLadder && p.LadderStepATR <= 0 {
		return fmt.Errorf("%s: ladder requires ladder_step_atr", v.BotID)
	}
	return nil
}
