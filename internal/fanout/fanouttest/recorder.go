// Package fanouttest provides a recording publisher for tests.
package fanouttest

import (
	"context"
	"sync"

	"relief-service/internal/fanout"
)

// Recorder keeps every published intent in order.
type Recorder struct {
	mu      sync.Mutex
	intents []fanout.Intent
}

func (r *Recorder) Publish(ctx context.Context, intent fanout.Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, intent)
	return nil
}

func (r *Recorder) Intents() []fanout.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fanout.Intent(nil), r.intents...)
}

// To returns the intents addressed to target, in publish order.
func (r *Recorder) To(target fanout.Target) []fanout.Intent {
	var out []fanout.Intent
	for _, in := range r.Intents() {
		if in.Geo == nil && in.Target == target {
			out = append(out, in)
		}
	}
	return out
}

// Events lists the event names addressed to target.
func (r *Recorder) Events(target fanout.Target) []string {
	var out []string
	for _, in := range r.To(target) {
		out = append(out, in.Envelope.Event)
	}
	return out
}

// Geo returns the geo broadcasts.
func (r *Recorder) Geo() []fanout.GeoBroadcast {
	var out []fanout.GeoBroadcast
	for _, in := range r.Intents() {
		if in.Geo != nil {
			out = append(out, *in.Geo)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = nil
}
