package portfolio

// OrderDirection is the action a strategy requests on a bar.
type OrderDirection string

const (
	// DirectionBuy opens a long position (treated identically to "long" in
	// the adapter this engine is grounded on).
	DirectionBuy OrderDirection = "buy"
	// DirectionSell closes a position (treated identically to "short" and
	// "close").
	DirectionSell OrderDirection = "sell"
)

// Order is a strategy's requested action for the bar just processed. A nil
// *Order from OnBar means "no signal this bar."
type Order struct {
	Direction OrderDirection
}

// Strategy is implemented once per instrument; the engine instantiates an
// independent replica per instrument for the signal pre-pass so state never
// bleeds across symbols (spec §4.D, Open Question: "independent replicas
// per instrument for the pre-pass").
type Strategy interface {
	// OnInit runs once before the first bar.
	OnInit()
	// OnBar runs once per bar in timestamp order. A returned *Order signals
	// an entry (DirectionBuy) or exit (DirectionSell) at this bar's close.
	OnBar(bar Bar) (*Order, error)
	// OnStop runs once after the last bar the replica saw. It returns no
	// order: the engine's end-of-run sweep is what forces open positions
	// closed.
	OnStop(lastBar Bar)
}

// StrategyFactory produces one fresh Strategy replica per instrument.
type StrategyFactory func() Strategy
