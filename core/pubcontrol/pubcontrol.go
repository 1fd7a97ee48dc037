// Package pubcontrol publishes one item to many endpoints through a single
// call. A PubControl owns an ordered list of clients, an optional shared
// pub socket and the aggregation of subscription edges reported by every
// monitor it knows about.
package pubcontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/core/logger"
	"github.com/kilianp07/pubcontrol/core/metrics"
	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/submonitor"
	"github.com/kilianp07/pubcontrol/internal/eventbus"
)

// SubscriptionEvent is a deduplicated subscription edge.
type SubscriptionEvent struct {
	Type    submonitor.Event
	Channel string
	Time    time.Time
}

// Options configures a PubControl. Every field is optional.
type Options struct {
	Factory ClientFactory
	// SubCallback is invoked on aggregated subscription edges. It runs
	// with the dispatcher lock held and must not call back into the
	// PubControl.
	SubCallback submonitor.Callback
	// Encoder serialises exported items for the shared socket. JSON is
	// used when nil.
	Encoder func(map[string]any) ([]byte, error)
	Logger  logger.Logger
	Sink    metrics.Sink
	// EventBuffer sizes each SubscriptionEvents channel. Zero keeps the
	// default.
	EventBuffer int
}

// PubControl fans published items out to every registered client.
type PubControl struct {
	factory ClientFactory
	encode  func(map[string]any) ([]byte, error)
	log     logger.Logger
	sink    metrics.Sink
	events  *eventbus.TypedBus[SubscriptionEvent]

	clientsMu sync.RWMutex
	clients   []publish.Client

	// mu guards the shared socket and serialises subscription edges.
	mu          sync.Mutex
	sock        publish.Socket
	sockMonitor submonitor.Monitor
	subCallback submonitor.Callback
}

// New creates a PubControl and applies the given entries, if any.
func New(opts Options, entries ...EndpointConfig) (*PubControl, error) {
	pc := &PubControl{
		factory:     opts.Factory,
		encode:      opts.Encoder,
		log:         logger.OrNop(opts.Logger),
		sink:        opts.Sink,
		events:      eventbus.NewTyped[SubscriptionEvent](),
		subCallback: opts.SubCallback,
	}
	if opts.EventBuffer > 0 {
		pc.events = eventbus.NewTypedBuffered[SubscriptionEvent](opts.EventBuffer)
	}
	if pc.encode == nil {
		pc.encode = encodeJSON
	}
	if pc.sink == nil {
		pc.sink = metrics.NopSink{}
	}
	if len(entries) > 0 {
		if err := pc.ApplyConfig(entries...); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// Clients returns a snapshot of the registered clients in insertion order.
func (pc *PubControl) Clients() []publish.Client {
	pc.clientsMu.RLock()
	defer pc.clientsMu.RUnlock()
	out := make([]publish.Client, len(pc.clients))
	copy(out, pc.clients)
	return out
}

// SubscriptionEvents returns a channel receiving every aggregated
// subscription edge. Slow readers miss events.
func (pc *PubControl) SubscriptionEvents() <-chan SubscriptionEvent {
	return pc.events.Subscribe()
}

// UnsubscribeEvents stops delivery to a channel returned by
// SubscriptionEvents and closes it.
func (pc *PubControl) UnsubscribeEvents(ch <-chan SubscriptionEvent) {
	pc.events.Unsubscribe(ch)
}

// DroppedSubscriptionEvents counts events skipped because a reader of
// SubscriptionEvents was not keeping up.
func (pc *PubControl) DroppedSubscriptionEvents() uint64 {
	return pc.events.Dropped()
}

// AddClient registers a client. No validation is performed and duplicates
// are allowed.
func (pc *PubControl) AddClient(c publish.Client) {
	pc.watch(c)
	pc.clientsMu.Lock()
	pc.clients = append(pc.clients, c)
	pc.clientsMu.Unlock()
}

// RemoveAllClients closes every bus client, clears the client list and
// closes the shared socket.
func (pc *PubControl) RemoveAllClients() {
	pc.clientsMu.Lock()
	clients := pc.clients
	pc.clients = nil
	pc.clientsMu.Unlock()

	for _, c := range clients {
		if c.Kind() == publish.KindDirect {
			continue
		}
		if err := c.Close(); err != nil {
			pc.log.Warnf("close %s client %s: %v", c.Kind(), c.Endpoint(), err)
		}
	}

	pc.mu.Lock()
	sock, mon := pc.sock, pc.sockMonitor
	pc.sock, pc.sockMonitor = nil, nil
	pc.mu.Unlock()
	// The monitor delivers edges under mu, so it is stopped outside it.
	if mon != nil {
		if err := mon.Close(); err != nil {
			pc.log.Warnf("close subscription monitor: %v", err)
		}
	}
	if sock != nil {
		if err := sock.Close(); err != nil {
			pc.log.Warnf("close pub socket: %v", err)
		}
	}
}

// Close removes every client and stops the subscription event stream.
func (pc *PubControl) Close() {
	pc.RemoveAllClients()
	pc.events.Close()
}

// ApplyConfig builds clients from the given entries. All entries are
// validated before any client is built; construction itself is not atomic
// and entries preceding a failing one stay registered.
func (pc *PubControl) ApplyConfig(entries ...EndpointConfig) error {
	for i, e := range entries {
		if err := e.validate(i); err != nil {
			return err
		}
	}
	for i, e := range entries {
		c, err := pc.buildClient(e)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if c != nil {
			pc.AddClient(c)
		}
	}
	return nil
}

// buildClient constructs the client for one entry. An entry naming both a
// direct uri and bus uris yields the bus client only.
func (pc *PubControl) buildClient(e EndpointConfig) (publish.Client, error) {
	if e.HasBus() {
		return pc.buildBusClient(e)
	}
	if e.URI == "" {
		return nil, nil
	}
	if pc.factory == nil {
		return nil, &publish.DependencyError{Dependency: "http"}
	}
	dc, err := pc.factory.NewDirectClient(e.URI)
	if err != nil {
		return nil, err
	}
	if e.Iss != "" {
		dc.SetAuthJWT(map[string]any{"iss": e.Iss}, []byte(e.Key))
	}
	return dc, nil
}

func (pc *PubControl) buildBusClient(e EndpointConfig) (publish.Client, error) {
	bf, ok := pc.factory.(BusFactory)
	if !ok {
		return nil, &publish.DependencyError{Dependency: "message bus"}
	}
	if e.URI != "" {
		pc.log.Warnf("entry names both %s and bus uris, using the bus", e.URI)
	}
	requireSubs := e.RequireSubscribers()
	bc, err := bf.NewBusClient(BusConfig{
		URI:                e.ZmqURI,
		PushURI:            e.ZmqPushURI,
		PubURI:             e.ZmqPubURI,
		RequireSubscribers: requireSubs,
		Lock:               &pc.mu,
	})
	if err != nil {
		return nil, err
	}
	if e.ZmqPubURI != "" && (requireSubs || e.ZmqPushURI == "") {
		if err := pc.connectPubURI(bf, e.ZmqPubURI); err != nil {
			_ = bc.Close()
			return nil, err
		}
	}
	return bc, nil
}

// Publish sends the item to the shared socket, then to every client. With
// blocking set clients are called in registration order and the first
// error is returned. Otherwise each client publishes asynchronously and
// cb, when non-nil, receives the aggregated outcome once all completed.
func (pc *PubControl) Publish(ctx context.Context, channel string, it item.Item, blocking bool, cb publish.Callback) error {
	pc.sendToSocket(channel, it)
	clients := pc.Clients()

	if blocking {
		for _, c := range clients {
			start := time.Now()
			err := c.Publish(ctx, channel, it, true, nil)
			pc.record(c, channel, true, err == nil, errText(err), start)
			if err != nil {
				return err
			}
		}
		return nil
	}

	var handler *publish.CallbackHandler
	if cb != nil {
		handler = publish.NewCallbackHandler(len(clients), cb)
	}
	for _, c := range clients {
		c := c
		start := time.Now()
		done := func(success bool, message string) {
			pc.record(c, channel, false, success, message, start)
			if handler != nil {
				handler.Handle(success, message)
			}
		}
		if err := c.Publish(ctx, channel, it, false, done); err != nil {
			// A client refusing the work up front never calls back.
			done(false, err.Error())
		}
	}
	return nil
}

// Finish waits until every direct client drained its asynchronous work.
// Bus clients are skipped.
func (pc *PubControl) Finish(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range pc.Clients() {
		if c.Kind() != publish.KindDirect {
			continue
		}
		c := c
		g.Go(func() error { return c.Finish(ctx) })
	}
	return g.Wait()
}

func (pc *PubControl) record(c publish.Client, channel string, blocking, success bool, message string, start time.Time) {
	now := time.Now()
	ev := metrics.PublishEvent{
		Channel:  channel,
		Kind:     c.Kind().String(),
		Endpoint: c.Endpoint(),
		Blocking: blocking,
		Success:  success,
		Error:    message,
		Latency:  now.Sub(start),
		Time:     now,
	}
	if err := pc.sink.RecordPublish(ev); err != nil {
		pc.log.Warnf("record publish: %v", err)
	}
	if !success {
		pc.log.Warnf("publish to %s %s on %s failed: %s", c.Kind(), c.Endpoint(), channel, message)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
