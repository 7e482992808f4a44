package portfolio

import "github.com/shopspring/decimal"

// Config controls backtest economics (spec §6 init_cash/fees/slippage/
// position_size_pct/annualization).
type Config struct {
	InitCash        decimal.Decimal
	Fees            decimal.Decimal
	Slippage        decimal.Decimal
	PositionSizePct decimal.Decimal
	Annualization   float64
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		InitCash:        decimal.NewFromInt(100000),
		Fees:            decimal.NewFromFloat(0.001),
		Slippage:        decimal.NewFromFloat(0.0001),
		PositionSizePct: decimal.NewFromFloat(0.1),
		Annualization:   252,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InitCash.IsZero() {
		c.InitCash = d.InitCash
	}
	if c.PositionSizePct.IsZero() {
		c.PositionSizePct = d.PositionSizePct
	}
	if c.Annualization == 0 {
		c.Annualization = d.Annualization
	}
	return c
}
