package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/core/monitoring"
	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/submonitor"
	"github.com/kilianp07/pubcontrol/infra/logger"
)

// BusOptions selects the endpoints of one bus client.
type BusOptions struct {
	// URI fills in PushURI and PubURI when they are empty.
	URI     string
	PushURI string
	PubURI  string
	// RequireSubscribers skips pub delivery for channels nobody subscribed
	// to. It needs a pub endpoint, whose monitor tracks the subscriptions.
	RequireSubscribers bool
	// Lock is shared with the client's subscription monitor.
	Lock sync.Locker
}

// BusClient publishes items over push and/or pub connections. Push
// delivery sends every item to Config.PushTopic with the channel in the
// payload; pub delivery publishes on a topic named after the channel.
type BusClient struct {
	cfg      Config
	endpoint string
	require  bool
	push     *PubSocket
	pub      *PubSocket
	monitor  *SubMonitor
	log      logger.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// NewBusClient connects the configured endpoints.
func NewBusClient(cfg Config, opts BusOptions) (*BusClient, error) {
	cfg.SetDefaults()
	if opts.PushURI == "" {
		opts.PushURI = opts.URI
	}
	if opts.PubURI == "" {
		opts.PubURI = opts.URI
	}
	if opts.PushURI == "" && opts.PubURI == "" {
		return nil, &publish.ConfigurationError{Reason: "bus client needs a push or pub uri"}
	}
	if opts.RequireSubscribers && opts.PubURI == "" {
		return nil, &publish.ConfigurationError{Reason: "require_subscribers needs a pub uri"}
	}

	c := &BusClient{
		cfg:      cfg,
		endpoint: endpointName(opts),
		require:  opts.RequireSubscribers,
		log:      logger.New("mqtt_bus_client"),
	}
	if opts.PushURI != "" {
		c.push = NewPubSocket(cfg)
		if err := c.push.Connect(opts.PushURI); err != nil {
			return nil, err
		}
	}
	if opts.PubURI != "" {
		c.pub = NewPubSocket(cfg)
		if err := c.pub.Connect(opts.PubURI); err != nil {
			_ = c.Close()
			return nil, err
		}
		if opts.RequireSubscribers {
			mon, err := NewSubMonitor(c.pub, opts.Lock, nil)
			if err != nil {
				_ = c.Close()
				return nil, err
			}
			c.monitor = mon
		}
	}
	return c, nil
}

func endpointName(o BusOptions) string {
	switch {
	case o.PushURI != "" && o.PubURI != "" && o.PushURI != o.PubURI:
		return o.PushURI + "," + o.PubURI
	case o.PushURI != "":
		return o.PushURI
	default:
		return o.PubURI
	}
}

func (c *BusClient) Kind() publish.Kind { return publish.KindBus }
func (c *BusClient) Endpoint() string   { return c.endpoint }

// SubscriptionMonitor returns the pub monitor, nil unless subscribers are
// required.
func (c *BusClient) SubscriptionMonitor() submonitor.Monitor {
	if c.monitor == nil {
		return nil
	}
	return c.monitor
}

// Publish delivers the item. Asynchronous publishes run on their own
// goroutine and report through cb. A closed client returns ErrClosed.
func (c *BusClient) Publish(_ context.Context, channel string, it item.Item, blocking bool, cb publish.Callback) error {
	export := it.Export(true, true)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return publish.ErrClosed
	}
	if blocking {
		return c.deliver(channel, export)
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer monitoring.Recover()
		err := c.deliver(channel, export)
		if cb == nil {
			return
		}
		if err != nil {
			cb(false, err.Error())
			return
		}
		cb(true, "")
	}()
	return nil
}

func (c *BusClient) deliver(channel string, export map[string]any) error {
	var errs []error
	if c.push != nil {
		if err := c.sendPush(channel, export); err != nil {
			errs = append(errs, err)
		}
	}
	if c.pub != nil {
		if c.require && !c.monitor.Contains(channel) {
			c.log.Debugf("no subscribers for %s, skipping pub", channel)
		} else if err := c.sendPub(channel, export); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		monitoring.CaptureException(err, monitoring.Tags("module", "mqtt", "endpoint", c.endpoint, "channel", channel))
		return &publish.TransportError{Endpoint: c.endpoint, Err: err}
	}
	return nil
}

func (c *BusClient) sendPush(channel string, export map[string]any) error {
	msg := make(map[string]any, len(export)+1)
	for k, v := range export {
		msg[k] = v
	}
	msg["channel"] = channel
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}
	return c.push.publish(c.cfg.PushTopic, payload)
}

func (c *BusClient) sendPub(channel string, export map[string]any) error {
	payload, err := json.Marshal(export)
	if err != nil {
		return fmt.Errorf("encode pub message: %w", err)
	}
	return c.pub.SendMultipart([][]byte{[]byte(channel), payload})
}

// Finish is a no-op: bus delivery is fire and forget.
func (c *BusClient) Finish(context.Context) error { return nil }

// Close stops accepting publishes, waits for in-flight deliveries and
// disconnects. Closing twice is a no-op.
func (c *BusClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.inflight.Wait()
	if c.monitor != nil {
		_ = c.monitor.Close()
	}
	if c.push != nil {
		_ = c.push.Close()
	}
	if c.pub != nil {
		_ = c.pub.Close()
	}
	return nil
}
