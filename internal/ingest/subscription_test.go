package ingest

import "testing"

func TestParseChannelKlineWithInterval(t *testing.T) {
	sub, err := ParseChannel("btcusdt@kline_1m")
	if err != nil {
		t.Fatalf("ParseChannel: %v", err)
	}
	if sub.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", sub.Symbol)
	}
	if sub.StreamType != "kline" {
		t.Errorf("StreamType = %q, want kline", sub.StreamType)
	}
	if sub.Interval != "1m" {
		t.Errorf("Interval = %q, want 1m", sub.Interval)
	}
}

func TestParseChannelNoInterval(t *testing.T) {
	sub, err := ParseChannel("ethusdt@depth")
	if err != nil {
		t.Fatalf("ParseChannel: %v", err)
	}
	if sub.StreamType != "depth" || sub.Interval != "" {
		t.Errorf("got StreamType=%q Interval=%q, want depth/\"\"", sub.StreamType, sub.Interval)
	}
}

func TestParseChannelMalformed(t *testing.T) {
	if _, err := ParseChannel("btcusdt-kline"); err == nil {
		t.Fatal("expected error for channel missing '@'")
	}
}

func TestChannelRoundTrip(t *testing.T) {
	sub, err := ParseChannel("btcusdt@kline_5m")
	if err != nil {
		t.Fatalf("ParseChannel: %v", err)
	}
	if got := sub.Channel(); got != "btcusdt@kline_5m" {
		t.Errorf("Channel() = %q, want btcusdt@kline_5m", got)
	}
}

func TestSubscriptionSetRestoreAfterRemove(t *testing.T) {
	set := newSubscriptionSet()
	a, _ := ParseChannel("btcusdt@trade")
	b, _ := ParseChannel("ethusdt@trade")

	set.add([]Subscription{a, b})
	if len(set.snapshot()) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(set.snapshot()))
	}

	set.remove([]Subscription{a})
	snap := set.snapshot()
	if len(snap) != 1 || snap[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected only ETHUSDT to remain, got %+v", snap)
	}
}
