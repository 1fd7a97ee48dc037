// Package metrics defines the sinks recording publish outcomes and
// subscription edges. Implementations such as PromSink and InfluxSink live in
// infra/metrics and register themselves by type name so that a list of sink
// configurations can be turned into one Sink with NewSink. Several sinks are
// combined automatically with a MultiSink.
package metrics
