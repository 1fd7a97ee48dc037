package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/infra/logger"
)

type conn struct {
	uri string
	cli pahoClient
}

type topicHandler struct {
	topic   string
	handler paho.MessageHandler
}

// PubSocket is a pub-style socket: every message is published on each
// connected broker. Handlers registered with subscribe are attached to
// current and future connections, and re-attached after reconnects.
type PubSocket struct {
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	conns    []conn
	handlers []topicHandler
	linger   time.Duration
	closed   bool
}

// NewPubSocket creates a socket without connections.
func NewPubSocket(cfg Config) *PubSocket {
	cfg.SetDefaults()
	return &PubSocket{cfg: cfg, log: logger.New("mqtt_socket"), linger: 250 * time.Millisecond}
}

// Connect opens a connection to the broker at uri.
func (s *PubSocket) Connect(uri string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return publish.ErrClosed
	}
	s.mu.Unlock()

	opts, err := NewClientOptions(s.cfg, uri)
	if err != nil {
		return err
	}
	opts.OnConnect = func(c paho.Client) {
		s.log.Infof("connected to %s", uri)
		for _, h := range s.topicHandlers() {
			if err := wait(c.Subscribe(h.topic, s.cfg.QoS, h.handler), s.cfg.connectTimeout()); err != nil {
				s.log.Errorf("subscribe %s on %s: %v", h.topic, uri, err)
			}
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		s.log.Errorf("connection to %s lost: %v", uri, err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		s.log.Warnf("reconnecting to %s", uri)
	}
	c := newMQTTClient(opts)
	if err := wait(c.Connect(), s.cfg.connectTimeout()); err != nil {
		return fmt.Errorf("connect %s: %w", uri, err)
	}

	s.mu.Lock()
	s.conns = append(s.conns, conn{uri: uri, cli: c})
	s.mu.Unlock()
	return nil
}

// SendMultipart publishes parts[1] on topic parts[0] over every connection.
func (s *PubSocket) SendMultipart(parts [][]byte) error {
	if len(parts) != 2 {
		return fmt.Errorf("expected 2 message parts, got %d", len(parts))
	}
	return s.publish(string(parts[0]), parts[1])
}

func (s *PubSocket) publish(topic string, payload []byte) error {
	s.mu.Lock()
	closed, conns := s.closed, append([]conn(nil), s.conns...)
	s.mu.Unlock()
	if closed {
		return publish.ErrClosed
	}
	var errs []error
	for _, c := range conns {
		if err := wait(c.cli.Publish(topic, s.cfg.QoS, false, payload), s.cfg.publishTimeout()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.uri, err))
		}
	}
	return errors.Join(errs...)
}

// SetLinger bounds how long Close waits for in-flight messages.
func (s *PubSocket) SetLinger(d time.Duration) {
	s.mu.Lock()
	s.linger = d
	s.mu.Unlock()
}

// Close disconnects every connection. Closing twice is a no-op.
func (s *PubSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.conns
	s.conns = nil
	quiesce := uint(s.linger.Milliseconds())
	s.mu.Unlock()

	for _, c := range conns {
		if c.cli.IsConnected() {
			c.cli.Disconnect(quiesce)
		}
	}
	return nil
}

// URIs returns the connected broker URIs in connection order.
func (s *PubSocket) URIs() []string {
	conns := s.connections()
	out := make([]string, len(conns))
	for i, c := range conns {
		out[i] = c.uri
	}
	return out
}

// subscribe attaches handler to topic on every current and future
// connection.
func (s *PubSocket) subscribe(topic string, handler paho.MessageHandler) error {
	s.mu.Lock()
	s.handlers = append(s.handlers, topicHandler{topic: topic, handler: handler})
	conns := append([]conn(nil), s.conns...)
	s.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := wait(c.cli.Subscribe(topic, s.cfg.QoS, handler), s.cfg.connectTimeout()); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s on %s: %w", topic, c.uri, err))
		}
	}
	return errors.Join(errs...)
}

func (s *PubSocket) connections() []conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conn(nil), s.conns...)
}

func (s *PubSocket) topicHandlers() []topicHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]topicHandler(nil), s.handlers...)
}
