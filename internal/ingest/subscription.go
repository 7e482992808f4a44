package ingest

import (
	"fmt"
	"strings"
	"sync"
)

// ParseChannel parses "<symbol>@<streamType>[_<interval>]" into a
// Subscription, upper-casing the symbol per spec §6: "normalizer returns
// canonical UPPERCASE symbol."
func ParseChannel(channel string) (Subscription, error) {
	symbolPart, rest, ok := strings.Cut(channel, "@")
	if !ok || symbolPart == "" || rest == "" {
		return Subscription{}, fmt.Errorf("ingest: malformed channel %q", channel)
	}

	streamType, interval, _ := strings.Cut(rest, "_")
	return Subscription{
		Symbol:     strings.ToUpper(symbolPart),
		StreamType: streamType,
		Interval:   interval,
	}, nil
}

// subscriptionSet is the small mutex-guarded set of active subscriptions
// (spec §5: "Subscription set: small mutex; mutated by subscribe/
// unsubscribe and read at reconnection").
type subscriptionSet struct {
	mu   sync.Mutex
	subs map[string]Subscription // keyed by Channel()
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{subs: make(map[string]Subscription)}
}

func (s *subscriptionSet) add(subs []Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		s.subs[sub.Channel()] = sub
	}
}

func (s *subscriptionSet) remove(subs []Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range subs {
		delete(s.subs, sub.Channel())
	}
}

// snapshot returns every active subscription, used to restore state after
// a reconnect (spec §4.E: "re-issue every subscription from the preserved
// set before readers resume").
func (s *subscriptionSet) snapshot() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out
}
