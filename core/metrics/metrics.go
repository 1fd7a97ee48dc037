package metrics

import "time"

// PublishEvent is the outcome of one publish attempt on one client.
type PublishEvent struct {
	Channel  string
	Kind     string
	Endpoint string
	Blocking bool
	Success  bool
	Error    string
	Latency  time.Duration
	Time     time.Time
}

// SubscriptionEvent is a deduplicated subscription edge.
type SubscriptionEvent struct {
	Channel string
	// Type is "sub" or "unsub".
	Type string
	Time time.Time
}

// Sink records publish outcomes.
type Sink interface {
	RecordPublish(ev PublishEvent) error
}

// SubscriptionRecorder is implemented by sinks able to record subscription
// edges.
type SubscriptionRecorder interface {
	RecordSubscription(ev SubscriptionEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordPublish(PublishEvent) error           { return nil }
func (NopSink) RecordSubscription(SubscriptionEvent) error { return nil }

// MultiSink forwards events to several sinks.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPublish forwards the event to all sinks, returning the first error.
func (m *MultiSink) RecordPublish(ev PublishEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordPublish(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordSubscription forwards the edge to the sinks supporting it.
func (m *MultiSink) RecordSubscription(ev SubscriptionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(SubscriptionRecorder); ok {
			if err := rec.RecordSubscription(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
