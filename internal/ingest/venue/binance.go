// Package venue holds per-venue Normalizer implementations (spec §4.E,
// §5 SUPPLEMENTED FEATURES item 1). binance.go is grounded on
// original_source/backend/exchange/binance/websocket_manager.py's
// _standardize_message, and on predator_engine.go's combined-stream
// envelope parsing for the Go mechanics (the teacher has no WebSocket
// client side to ground this against).
package venue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ndrandal/quantcell/internal/ingest"
)

const binanceStreamBase = "wss://stream.binance.com:9443/stream?streams="

// Binance implements ingest.Normalizer for Binance's combined WebSocket
// streams.
type Binance struct{}

// NewBinance returns a Binance normalizer.
func NewBinance() *Binance { return &Binance{} }

func (Binance) Name() string { return "binance" }

// StreamURL builds a combined-stream URL from every active subscription's
// lowercase channel string, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@kline_1m/ethusdt@depth
func (Binance) StreamURL(subs []ingest.Subscription) string {
	channels := make([]string, len(subs))
	for i, s := range subs {
		channels[i] = s.Channel()
	}
	return binanceStreamBase + strings.Join(channels, "/")
}

// combinedEnvelope is the wrapper Binance puts every combined-stream
// message in: {"stream": "btcusdt@kline_1m", "data": {...}}.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Normalize dispatches on the envelope's stream type and delegates to the
// matching per-type decoder.
func (b Binance) Normalize(raw []byte) (ingest.NormalizedEvent, error) {
	var env combinedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: malformed envelope: %w", err)
	}

	sub, err := ingest.ParseChannel(env.Stream)
	if err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: %w", err)
	}

	switch sub.StreamType {
	case "kline":
		return decodeKline(env.Data)
	case "depth":
		return decodeDepth(env.Data)
	case "trade":
		return decodeTrade(env.Data)
	case "ticker":
		return decodeTicker(env.Data)
	case "miniTicker":
		return decodeMiniTicker(env.Data)
	case "bookTicker":
		return decodeBookTicker(env.Data)
	default:
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: unknown stream type %q", sub.StreamType)
	}
}

type rawKline struct {
	Symbol string `json:"s"`
	K      struct {
		Interval    string `json:"i"`
		OpenTime    int64  `json:"t"`
		CloseTime   int64  `json:"T"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Close       string `json:"c"`
		Volume      string `json:"v"`
		QuoteVolume string `json:"q"`
		Trades      int64  `json:"n"`
		IsClosed    bool   `json:"x"`
	} `json:"k"`
}

func decodeKline(data json.RawMessage) (ingest.NormalizedEvent, error) {
	var r rawKline
	if err := json.Unmarshal(data, &r); err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: kline: %w", err)
	}
	return ingest.NormalizedEvent{
		DataType: "kline",
		Symbol:   r.Symbol,
		Payload: ingest.KlineEvent{
			Symbol:      r.Symbol,
			Interval:    r.K.Interval,
			OpenTime:    r.K.OpenTime,
			CloseTime:   r.K.CloseTime,
			Open:        parseFloat(r.K.Open),
			High:        parseFloat(r.K.High),
			Low:         parseFloat(r.K.Low),
			Close:       parseFloat(r.K.Close),
			Volume:      parseFloat(r.K.Volume),
			QuoteVolume: parseFloat(r.K.QuoteVolume),
			Trades:      r.K.Trades,
			IsClosed:    r.K.IsClosed,
		},
	}, nil
}

type rawDepth struct {
	Symbol       string     `json:"s"`
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
	EventTime    int64      `json:"E"`
}

func decodeDepth(data json.RawMessage) (ingest.NormalizedEvent, error) {
	var r rawDepth
	if err := json.Unmarshal(data, &r); err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: depth: %w", err)
	}
	return ingest.NormalizedEvent{
		DataType: "depth",
		Symbol:   r.Symbol,
		Payload: ingest.DepthEvent{
			Symbol:       r.Symbol,
			LastUpdateID: r.LastUpdateID,
			Bids:         parseLevels(r.Bids),
			Asks:         parseLevels(r.Asks),
			EventTime:    r.EventTime,
		},
	}, nil
}

type rawTrade struct {
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func decodeTrade(data json.RawMessage) (ingest.NormalizedEvent, error) {
	var r rawTrade
	if err := json.Unmarshal(data, &r); err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: trade: %w", err)
	}
	return ingest.NormalizedEvent{
		DataType: "trade",
		Symbol:   r.Symbol,
		Payload: ingest.TradeEvent{
			Symbol:       r.Symbol,
			TradeID:      r.TradeID,
			Price:        parseFloat(r.Price),
			Quantity:     parseFloat(r.Quantity),
			TradeTime:    r.TradeTime,
			IsBuyerMaker: r.IsBuyerMaker,
		},
	}, nil
}

type rawTicker struct {
	Symbol             string `json:"s"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	WeightedAvgPrice   string `json:"w"`
	LastPrice          string `json:"c"`
	BidPrice           string `json:"b"`
	AskPrice           string `json:"a"`
	OpenPrice          string `json:"o"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	Volume             string `json:"v"`
	QuoteVolume        string `json:"q"`
	OpenTime           int64  `json:"O"`
	CloseTime          int64  `json:"C"`
}

func decodeTicker(data json.RawMessage) (ingest.NormalizedEvent, error) {
	var r rawTicker
	if err := json.Unmarshal(data, &r); err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: ticker: %w", err)
	}
	return ingest.NormalizedEvent{
		DataType: "ticker",
		Symbol:   r.Symbol,
		Payload: ingest.TickerEvent{
			Symbol:             r.Symbol,
			PriceChange:        parseFloat(r.PriceChange),
			PriceChangePercent: parseFloat(r.PriceChangePercent),
			WeightedAvgPrice:   parseFloat(r.WeightedAvgPrice),
			LastPrice:          parseFloat(r.LastPrice),
			BidPrice:           parseFloat(r.BidPrice),
			AskPrice:           parseFloat(r.AskPrice),
			OpenPrice:          parseFloat(r.OpenPrice),
			HighPrice:          parseFloat(r.HighPrice),
			LowPrice:           parseFloat(r.LowPrice),
			Volume:             parseFloat(r.Volume),
			QuoteVolume:        parseFloat(r.QuoteVolume),
			OpenTime:           r.OpenTime,
			CloseTime:          r.CloseTime,
		},
	}, nil
}

type rawMiniTicker struct {
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	CloseTime int64  `json:"C"`
}

func decodeMiniTicker(data json.RawMessage) (ingest.NormalizedEvent, error) {
	var r rawMiniTicker
	if err := json.Unmarshal(data, &r); err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: miniTicker: %w", err)
	}
	return ingest.NormalizedEvent{
		DataType: "miniTicker",
		Symbol:   r.Symbol,
		Payload: ingest.MiniTickerEvent{
			Symbol:    r.Symbol,
			Close:     parseFloat(r.Close),
			Open:      parseFloat(r.Open),
			High:      parseFloat(r.High),
			Low:       parseFloat(r.Low),
			Volume:    parseFloat(r.Volume),
			CloseTime: r.CloseTime,
		},
	}, nil
}

type rawBookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func decodeBookTicker(data json.RawMessage) (ingest.NormalizedEvent, error) {
	var r rawBookTicker
	if err := json.Unmarshal(data, &r); err != nil {
		return ingest.NormalizedEvent{}, fmt.Errorf("binance: bookTicker: %w", err)
	}
	return ingest.NormalizedEvent{
		DataType: "bookTicker",
		Symbol:   r.Symbol,
		Payload: ingest.BookTickerEvent{
			Symbol:   r.Symbol,
			BidPrice: parseFloat(r.BidPrice),
			BidQty:   parseFloat(r.BidQty),
			AskPrice: parseFloat(r.AskPrice),
			AskQty:   parseFloat(r.AskQty),
		},
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func parseLevels(raw [][]string) []ingest.DepthLevel {
	out := make([]ingest.DepthLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			continue
		}
		out = append(out, ingest.DepthLevel{Price: parseFloat(lvl[0]), Quantity: parseFloat(lvl[1])})
	}
	return out
}
