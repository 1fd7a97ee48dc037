package pubcontrol

import (
	"sync"

	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/submonitor"
)

// EndpointConfig describes one publish endpoint. A direct endpoint sets URI
// and optionally Iss and Key for JWT authentication. A bus endpoint sets any
// combination of ZmqURI, ZmqPushURI and ZmqPubURI. The zmq_ key names are
// kept for compatibility with existing configuration files; the URIs point
// at message bus brokers.
type EndpointConfig struct {
	URI string `json:"uri"`
	Iss string `json:"iss"`
	Key string `json:"key"`

	ZmqURI     string `json:"zmq_uri"`
	ZmqPushURI string `json:"zmq_push_uri"`
	ZmqPubURI  string `json:"zmq_pub_uri"`
	// ZmqRequireSubscribers is a pointer so that an explicit false can be
	// told apart from an absent key.
	ZmqRequireSubscribers *bool `json:"zmq_require_subscribers"`
}

// HasBus reports whether the entry names any bus URI.
func (e EndpointConfig) HasBus() bool {
	return e.ZmqURI != "" || e.ZmqPushURI != "" || e.ZmqPubURI != ""
}

// RequireSubscribers returns the effective flag, false when unset.
func (e EndpointConfig) RequireSubscribers() bool {
	return e.ZmqRequireSubscribers != nil && *e.ZmqRequireSubscribers
}

func (e EndpointConfig) validate(index int) error {
	if e.ZmqRequireSubscribers != nil && !*e.ZmqRequireSubscribers && e.ZmqPubURI == "" {
		return &publish.ConfigurationError{
			Index:  index,
			Reason: "zmq_pub_uri must be set if zmq_require_subscribers is false",
		}
	}
	return nil
}

// BusConfig is handed to the BusFactory for each bus endpoint.
type BusConfig struct {
	URI                string
	PushURI            string
	PubURI             string
	RequireSubscribers bool
	// Lock serialises the client's subscription monitor with the
	// dispatcher so that subscription edges are aggregated atomically.
	Lock sync.Locker
}

// DirectClient is a direct publish client that supports JWT
// authentication.
type DirectClient interface {
	publish.Client
	SetAuthJWT(claims map[string]any, key []byte)
}

// ClientFactory builds direct publish clients.
type ClientFactory interface {
	NewDirectClient(uri string) (DirectClient, error)
}

// BusFactory builds bus clients and the dispatcher's shared pub socket.
// A ClientFactory that does not implement BusFactory makes every bus entry
// fail with a DependencyError.
type BusFactory interface {
	NewBusClient(cfg BusConfig) (publish.Client, error)
	NewSocket() (publish.Socket, error)
	NewSubMonitor(sock publish.Socket, lock sync.Locker, cb submonitor.Callback) (submonitor.Monitor, error)
}
