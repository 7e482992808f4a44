// Package ingest implements the WebSocket ingestion supervisor of spec
// §4.E: one connection per venue, a restorable subscription set, and a
// reader loop that normalizes raw venue frames into events the dispatcher
// can consume.
package ingest

import (
	"strings"
	"time"
)

// ConnState is a position in the per-connection state machine:
// DISCONNECTED -> CONNECTING -> CONNECTED -> {SUBSCRIBING -> READING} ->
// (on error) -> RECONNECTING -> CONNECTING ..., terminal CLOSED.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateSubscribing
	StateReading
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateSubscribing:
		return "SUBSCRIBING"
	case StateReading:
		return "READING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Subscription is one parsed channel: "<symbol>@<streamType>[_<interval>]".
type Subscription struct {
	Symbol     string // canonical uppercase
	StreamType string // kline, depth, trade, ticker, miniTicker, bookTicker
	Interval   string // only meaningful for kline
}

// Channel reconstructs the wire channel string for this subscription.
func (s Subscription) Channel() string {
	lower := strings.ToLower(s.Symbol) + "@" + s.StreamType
	if s.Interval != "" {
		lower += "_" + s.Interval
	}
	return lower
}

// NormalizedEvent is the common envelope every venue normalizer produces,
// stamped with exchange/data_type/processed_timestamp per spec §4.E step 2.
type NormalizedEvent struct {
	Exchange           string
	DataType           string
	Symbol             string
	ProcessedTimestamp time.Time
	Payload            any
}

// KlineEvent is the normalized schema for a kline/candlestick update.
type KlineEvent struct {
	Symbol      string
	Interval    string
	OpenTime    int64
	CloseTime   int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	QuoteVolume float64
	Trades      int64
	IsClosed    bool
}

// DepthLevel is one [price, quantity] book level.
type DepthLevel struct {
	Price    float64
	Quantity float64
}

// DepthEvent is the normalized schema for an order-book depth update.
type DepthEvent struct {
	Symbol       string
	LastUpdateID int64
	Bids         []DepthLevel
	Asks         []DepthLevel
	EventTime    int64
}

// TradeEvent is the normalized schema for a single executed trade.
type TradeEvent struct {
	Symbol       string
	TradeID      int64
	Price        float64
	Quantity     float64
	TradeTime    int64
	IsBuyerMaker bool
}

// TickerEvent is the normalized 24-hour rollup schema.
type TickerEvent struct {
	Symbol             string
	PriceChange        float64
	PriceChangePercent float64
	WeightedAvgPrice   float64
	LastPrice          float64
	BidPrice           float64
	AskPrice           float64
	OpenPrice          float64
	HighPrice          float64
	LowPrice           float64
	Volume             float64
	QuoteVolume        float64
	OpenTime           int64
	CloseTime          int64
}

// MiniTickerEvent is the condensed ticker variant.
type MiniTickerEvent struct {
	Symbol    string
	Close     float64
	Open      float64
	High      float64
	Low       float64
	Volume    float64
	CloseTime int64
}

// BookTickerEvent is the condensed best-bid/ask variant.
type BookTickerEvent struct {
	Symbol   string
	BidPrice float64
	BidQty   float64
	AskPrice float64
	AskQty   float64
}
