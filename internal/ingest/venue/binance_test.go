package venue

import (
	"testing"

	"github.com/ndrandal/quantcell/internal/ingest"
)

func TestNormalizeKline(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@kline_1m","data":{"s":"BTCUSDT","k":{"i":"1m","t":1000,"T":2000,"o":"100.5","h":"101","l":"99","c":"100.9","v":"12.3","q":"1230.0","n":5,"x":true}}}`)

	ev, err := NewBinance().Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.DataType != "kline" {
		t.Fatalf("DataType = %q, want kline", ev.DataType)
	}
	k, ok := ev.Payload.(ingest.KlineEvent)
	if !ok {
		t.Fatalf("Payload type = %T, want ingest.KlineEvent", ev.Payload)
	}
	if k.Symbol != "BTCUSDT" || k.Close != 100.9 || !k.IsClosed {
		t.Errorf("unexpected kline: %+v", k)
	}
}

func TestNormalizeDepth(t *testing.T) {
	raw := []byte(`{"stream":"ethusdt@depth","data":{"s":"ETHUSDT","lastUpdateId":42,"bids":[["10.0","1.0"]],"asks":[["11.0","2.0"]],"E":555}}`)

	ev, err := NewBinance().Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	d, ok := ev.Payload.(ingest.DepthEvent)
	if !ok {
		t.Fatalf("Payload type = %T, want ingest.DepthEvent", ev.Payload)
	}
	if len(d.Bids) != 1 || d.Bids[0].Price != 10.0 || len(d.Asks) != 1 || d.Asks[0].Quantity != 2.0 {
		t.Errorf("unexpected depth: %+v", d)
	}
}

func TestNormalizeTrade(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","t":99,"p":"50000.1","q":"0.01","T":123,"m":true}}`)

	ev, err := NewBinance().Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	tr, ok := ev.Payload.(ingest.TradeEvent)
	if !ok {
		t.Fatalf("Payload type = %T, want ingest.TradeEvent", ev.Payload)
	}
	if !tr.IsBuyerMaker || tr.Price != 50000.1 {
		t.Errorf("unexpected trade: %+v", tr)
	}
}

func TestNormalizeUnknownStreamType(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@userData","data":{}}`)
	if _, err := NewBinance().Normalize(raw); err == nil {
		t.Fatal("expected error for unknown stream type")
	}
}

func TestNormalizeMalformedEnvelope(t *testing.T) {
	if _, err := NewBinance().Normalize([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed envelope")
	}
}

func TestStreamURLJoinsChannels(t *testing.T) {
	subs := []ingest.Subscription{
		{Symbol: "BTCUSDT", StreamType: "kline", Interval: "1m"},
		{Symbol: "ETHUSDT", StreamType: "depth"},
	}
	url := NewBinance().StreamURL(subs)
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@kline_1m/ethusdt@depth"
	if url != want {
		t.Errorf("StreamURL = %q, want %q", url, want)
	}
}
