package pubcontrol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/submonitor"
)

type itemType = item.Item

type publishCall struct {
	channel  string
	blocking bool
}

// fakeClient completes asynchronous publishes according to its fields.
// With hold set, completions wait until release is called.
type fakeClient struct {
	kind     publish.Kind
	endpoint string
	failMsg  string
	monitor  submonitor.Monitor
	hold     chan struct{}

	mu       sync.Mutex
	calls    []publishCall
	closed   int
	finished int
	authIss  any
	authKey  []byte
	pending  sync.WaitGroup
}

func (f *fakeClient) Publish(_ context.Context, channel string, _ item.Item, blocking bool, cb publish.Callback) error {
	f.mu.Lock()
	f.calls = append(f.calls, publishCall{channel: channel, blocking: blocking})
	f.mu.Unlock()
	if blocking {
		if f.failMsg != "" {
			return &publish.TransportError{Endpoint: f.endpoint, Err: errors.New(f.failMsg)}
		}
		return nil
	}
	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		if f.hold != nil {
			<-f.hold
		}
		if cb != nil {
			cb(f.failMsg == "", f.failMsg)
		}
	}()
	return nil
}

func (f *fakeClient) release() { close(f.hold) }

func (f *fakeClient) Finish(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	f.mu.Lock()
	f.finished++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Kind() publish.Kind                      { return f.kind }
func (f *fakeClient) Endpoint() string                        { return f.endpoint }
func (f *fakeClient) SubscriptionMonitor() submonitor.Monitor { return f.monitor }

func (f *fakeClient) SetAuthJWT(claims map[string]any, key []byte) {
	f.authIss = claims["iss"]
	f.authKey = key
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeMonitor feeds edges through a submonitor.Set under its lock, the way
// real monitors do.
type fakeMonitor struct {
	*submonitor.Set
	lock   *submonitor.EdgeLock
	closed bool
}

func newFakeMonitor(lock sync.Locker) *fakeMonitor {
	return &fakeMonitor{Set: submonitor.NewSet(), lock: submonitor.NewEdgeLock(lock)}
}

func (m *fakeMonitor) emit(ev submonitor.Event, channel string) {
	l := m.lock.Acquire()
	defer l.Unlock()
	m.Apply(ev, channel)
}

func (m *fakeMonitor) Locker() sync.Locker     { return m.lock.Locker() }
func (m *fakeMonitor) SetLocker(l sync.Locker) { m.lock.Replace(l) }
func (m *fakeMonitor) Close() error            { m.closed = true; return nil }

type fakeSocket struct {
	mu       sync.Mutex
	uris     []string
	messages [][][]byte
	linger   time.Duration
	closed   int
	sendErr  error
}

func (s *fakeSocket) Connect(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uris = append(s.uris, uri)
	return nil
}

func (s *fakeSocket) SendMultipart(parts [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, parts)
	return s.sendErr
}

func (s *fakeSocket) SetLinger(d time.Duration) { s.linger = d }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// fakeFactory records what ApplyConfig asked for.
type fakeFactory struct {
	direct  []*fakeClient
	bus     []*fakeClient
	busCfgs []BusConfig
	sockets []*fakeSocket
	mons    []*fakeMonitor
}

func (f *fakeFactory) NewDirectClient(uri string) (DirectClient, error) {
	c := &fakeClient{kind: publish.KindDirect, endpoint: uri}
	f.direct = append(f.direct, c)
	return c, nil
}

// directOnly hides the BusFactory methods of fakeFactory.
type directOnly struct{ f *fakeFactory }

func (d directOnly) NewDirectClient(uri string) (DirectClient, error) {
	return d.f.NewDirectClient(uri)
}

type busFactory struct{ *fakeFactory }

func (f busFactory) NewBusClient(cfg BusConfig) (publish.Client, error) {
	c := &fakeClient{kind: publish.KindBus, endpoint: cfg.PubURI + cfg.PushURI + cfg.URI}
	if cfg.RequireSubscribers {
		c.monitor = newFakeMonitor(cfg.Lock)
	}
	f.bus = append(f.bus, c)
	f.busCfgs = append(f.busCfgs, cfg)
	return c, nil
}

func (f busFactory) NewSocket() (publish.Socket, error) {
	s := &fakeSocket{linger: time.Second}
	f.sockets = append(f.sockets, s)
	return s, nil
}

func (f busFactory) NewSubMonitor(_ publish.Socket, lock sync.Locker, cb submonitor.Callback) (submonitor.Monitor, error) {
	m := newFakeMonitor(lock)
	m.Listen(cb)
	f.mons = append(f.mons, m)
	return m, nil
}

// failingBus refuses every bus client.
type failingBus struct{ busFactory }

func (failingBus) NewBusClient(BusConfig) (publish.Client, error) {
	return nil, errors.New("broker unreachable")
}

func boolPtr(b bool) *bool { return &b }

func mustItem() item.Item {
	it, err := item.New(item.Raw{Key: "data", Value: "hi"})
	if err != nil {
		panic(err)
	}
	return it
}
