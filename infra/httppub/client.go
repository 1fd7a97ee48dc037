// Package httppub implements the direct publish client: items are POSTed
// as JSON to the /publish/ resource of an HTTP endpoint, optionally
// authenticated with a JWT or basic credentials. Asynchronous publishes are
// queued and sent in batches by one worker goroutine per client.
package httppub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/core/monitoring"
	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/submonitor"
	"github.com/kilianp07/pubcontrol/infra/logger"
)

type request struct {
	ctx     context.Context
	channel string
	export  map[string]any
	cb      publish.Callback
}

// Client publishes to one HTTP endpoint.
type Client struct {
	uri        string
	publishURL string
	cfg        Config
	http       *http.Client
	log        logger.Logger

	authMu sync.RWMutex
	auth   authenticator

	mu     sync.RWMutex
	closed bool
	queue  chan request
	done   chan struct{}

	// idle is closed whenever pending drops to zero.
	pendMu  sync.Mutex
	pending int
	idle    chan struct{}
}

// New creates a client for the endpoint at uri and starts its worker.
func New(uri string, cfg Config) *Client {
	cfg.SetDefaults()
	c := &Client{
		uri:        uri,
		publishURL: strings.TrimSuffix(uri, "/") + "/publish/",
		cfg:        cfg,
		http:       &http.Client{Timeout: cfg.timeout()},
		log:        logger.New("http_publisher"),
		queue:      make(chan request, cfg.QueueSize),
		done:       make(chan struct{}),
		idle:       make(chan struct{}),
	}
	close(c.idle)
	go c.run()
	return c
}

// SetAuthJWT signs every request with an HS256 token built from claims.
func (c *Client) SetAuthJWT(claims map[string]any, key []byte) {
	c.authMu.Lock()
	c.auth = &jwtAuth{claims: claims, key: key, ttl: c.cfg.tokenTTL()}
	c.authMu.Unlock()
}

// SetAuthBasic sends basic credentials with every request.
func (c *Client) SetAuthBasic(user, pass string) {
	c.authMu.Lock()
	c.auth = basicAuth{user: user, pass: pass}
	c.authMu.Unlock()
}

func (c *Client) Kind() publish.Kind                      { return publish.KindDirect }
func (c *Client) Endpoint() string                        { return c.uri }
func (c *Client) SubscriptionMonitor() submonitor.Monitor { return nil }

// Publish sends the item now when blocking, otherwise queues it. Queued
// items outlive cancellation of ctx; only its values are kept.
func (c *Client) Publish(ctx context.Context, channel string, it item.Item, blocking bool, cb publish.Callback) error {
	export := it.Export(true, false)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return publish.ErrClosed
	}
	if blocking {
		return c.send(ctx, []request{{channel: channel, export: export}})
	}
	c.track()
	c.queue <- request{ctx: context.WithoutCancel(ctx), channel: channel, export: export, cb: cb}
	return nil
}

// Finish blocks until every queued publish completed.
func (c *Client) Finish(ctx context.Context) error {
	c.pendMu.Lock()
	idle := c.idle
	c.pendMu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) track() {
	c.pendMu.Lock()
	if c.pending == 0 {
		c.idle = make(chan struct{})
	}
	c.pending++
	c.pendMu.Unlock()
}

func (c *Client) untrack() {
	c.pendMu.Lock()
	c.pending--
	if c.pending == 0 {
		close(c.idle)
	}
	c.pendMu.Unlock()
}

// Close stops accepting publishes, delivers what is queued and stops the
// worker.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()
	<-c.done
	return nil
}

func (c *Client) run() {
	defer close(c.done)
	for req := range c.queue {
		batch := []request{req}
	drain:
		for len(batch) < c.cfg.MaxBatch {
			select {
			case next, ok := <-c.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		// One request carries the whole batch, so it runs under the
		// context of the oldest item.
		err := c.send(batch[0].ctx, batch)
		for _, r := range batch {
			if r.cb != nil {
				if err != nil {
					r.cb(false, err.Error())
				} else {
					r.cb(true, "")
				}
			}
			c.untrack()
		}
	}
}

// send posts the batch, retrying transport errors and 5xx responses with
// exponential backoff.
func (c *Client) send(ctx context.Context, batch []request) error {
	items := make([]map[string]any, len(batch))
	for i, r := range batch {
		entry := make(map[string]any, len(r.export)+1)
		for k, v := range r.export {
			entry[k] = v
		}
		entry["channel"] = r.channel
		items[i] = entry
	}
	body, err := json.Marshal(map[string]any{"items": items})
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.backoff() * time.Duration(1<<(attempt-1))):
			case <-ctx.Done():
				return &publish.TransportError{Endpoint: c.uri, Err: ctx.Err()}
			}
		}
		retry, err := c.post(ctx, body)
		if err == nil {
			c.log.Debugf("published %d item(s) to %s", len(batch), c.uri)
			return nil
		}
		lastErr = err
		c.log.Errorf("publish attempt %d to %s failed: %v", attempt+1, c.uri, err)
		if !retry {
			break
		}
	}
	monitoring.CaptureException(lastErr, monitoring.Tags("module", "httppub", "endpoint", c.uri, "channel", batch[0].channel))
	return lastErr
}

// post performs one request and reports whether a failure is retryable.
func (c *Client) post(ctx context.Context, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.publishURL, bytes.NewReader(body))
	if err != nil {
		return false, &publish.TransportError{Endpoint: c.uri, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authMu.RLock()
	auth := c.auth
	c.authMu.RUnlock()
	if auth != nil {
		if err := auth.apply(req); err != nil {
			return false, &publish.TransportError{Endpoint: c.uri, Err: err}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, &publish.TransportError{Endpoint: c.uri, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(msg))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return resp.StatusCode >= 500, &publish.TransportError{
		Endpoint: c.uri,
		Status:   resp.StatusCode,
		Err:      errors.New(text),
	}
}
