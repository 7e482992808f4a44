package ingest

// Normalizer is implemented once per venue (spec §4.E: "For each (venue,
// data_type) there is a pure function raw -> normalized"). StreamURL
// builds the dial URL for a connection carrying the given subscriptions;
// Normalize turns one raw frame into a NormalizedEvent.
type Normalizer interface {
	// Name identifies the venue, stamped onto every NormalizedEvent as
	// Exchange.
	Name() string
	// StreamURL builds the WebSocket URL to dial for the given active
	// subscriptions (venues that multiplex subscriptions into the URL,
	// such as Binance's combined streams, rebuild the URL on every
	// subscribe/unsubscribe and reconnect).
	StreamURL(subs []Subscription) string
	// Normalize parses one raw frame and returns the normalized event it
	// represents. An error means the frame was malformed or of an unknown
	// type; the caller drops it and increments a counter rather than
	// failing the read loop (spec §7 ParseFault).
	Normalize(raw []byte) (NormalizedEvent, error)
}
