package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// mockClient implements pahoClient for tests. Messages injected with
// deliver reach the handlers subscribed to the topic.
type mockClient struct {
	opts *paho.ClientOptions

	mu           sync.Mutex
	published    []published
	subscribed   map[string]paho.MessageHandler
	publishErrs  []error
	connectErr   error
	disconnected bool
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.disconnected
}

func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}

func (m *mockClient) Disconnect(uint) {
	m.mu.Lock()
	m.disconnected = true
	m.mu.Unlock()
}

func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := payload.([]byte)
	m.published = append(m.published, published{topic: topic, qos: qos, payload: b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}

func (m *mockClient) Subscribe(topic string, _ byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribed == nil {
		m.subscribed = map[string]paho.MessageHandler{}
	}
	m.subscribed[topic] = h
	return &dummyToken{}
}

func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return m.IsConnected() }

func (m *mockClient) deliver(topic string, payload []byte) {
	m.mu.Lock()
	h := m.subscribed[topic]
	m.mu.Unlock()
	if h != nil {
		h(m, mockMessage{topic: topic, p: payload})
	}
}

func (m *mockClient) messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

func (m *mockClient) topics() []string {
	var out []string
	for _, p := range m.messages() {
		out = append(out, p.topic)
	}
	return out
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type slowToken struct{ dummyToken }

func (slowToken) WaitTimeout(time.Duration) bool { return false }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

// mockBroker hands out one mockClient per connection, keyed by broker URI.
type mockBroker struct {
	mu         sync.Mutex
	clients    map[string][]*mockClient
	connectErr map[string]error
}

func useMockBroker(t *testing.T) *mockBroker {
	t.Helper()
	b := &mockBroker{clients: map[string][]*mockClient{}, connectErr: map[string]error{}}
	prev := newMQTTClient
	newMQTTClient = func(o *paho.ClientOptions) pahoClient {
		uri := o.Servers[0].String()
		mc := &mockClient{opts: o}
		b.mu.Lock()
		mc.connectErr = b.connectErr[uri]
		b.clients[uri] = append(b.clients[uri], mc)
		b.mu.Unlock()
		return mc
	}
	t.Cleanup(func() { newMQTTClient = prev })
	return b
}

func (b *mockBroker) failConnect(uri string) {
	b.mu.Lock()
	b.connectErr[uri] = errors.New("connection refused")
	b.mu.Unlock()
}

func (b *mockBroker) client(t *testing.T, uri string, i int) *mockClient {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= len(b.clients[uri]) {
		t.Fatalf("no client %d for %s", i, uri)
	}
	return b.clients[uri][i]
}

func (b *mockBroker) count(uri string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients[uri])
}
