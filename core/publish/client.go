// Package publish defines the contracts shared by every publish endpoint:
// the Client capability set, the pub-style Socket, the completion callback
// and the error taxonomy. It also provides CallbackHandler, which merges N
// asynchronous completions into one result.
package publish

import (
	"context"
	"time"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/core/submonitor"
)

// Kind tags the client variant so callers never need type assertions.
type Kind int

const (
	// KindDirect delivers to an HTTP publish endpoint.
	KindDirect Kind = iota
	// KindBus delivers over a message bus connection.
	KindBus
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindBus:
		return "bus"
	default:
		return "unknown"
	}
}

// Callback receives the outcome of an asynchronous publish. message is the
// error text and is empty on success.
type Callback func(success bool, message string)

// Client publishes items to one endpoint.
type Client interface {
	// Publish delivers the item to the channel. With blocking set the call
	// returns once delivery finished and cb is ignored. Otherwise the work
	// is queued, the call returns immediately and cb, when non-nil, is
	// invoked exactly once with the outcome.
	Publish(ctx context.Context, channel string, it item.Item, blocking bool, cb Callback) error
	// Finish blocks until queued asynchronous work has drained. Bus
	// clients return immediately.
	Finish(ctx context.Context) error
	// Close releases the connections held by the client. Direct clients
	// are never closed by the dispatcher.
	Close() error
	// Kind reports the client variant.
	Kind() Kind
	// Endpoint identifies the target in logs and metrics.
	Endpoint() string
	// SubscriptionMonitor returns the monitor owned by the client, or nil.
	SubscriptionMonitor() submonitor.Monitor
}

// Socket is a pub-style outbound socket able to hold several connections.
type Socket interface {
	Connect(uri string) error
	// SendMultipart sends a [channel, content] message on every connection.
	SendMultipart(parts [][]byte) error
	// SetLinger bounds how long Close may wait for pending messages.
	SetLinger(d time.Duration)
	Close() error
}
