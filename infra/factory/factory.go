// Package factory wires the concrete transports into the dispatcher: direct
// endpoints use the HTTP client, bus endpoints use MQTT.
package factory

import (
	"fmt"
	"sync"

	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/pubcontrol"
	"github.com/kilianp07/pubcontrol/core/submonitor"
	"github.com/kilianp07/pubcontrol/infra/httppub"
	"github.com/kilianp07/pubcontrol/infra/mqtt"
)

// Direct builds HTTP clients only. Bus entries fail with a dependency
// error when it is used.
type Direct struct {
	HTTP httppub.Config
}

func (f Direct) NewDirectClient(uri string) (pubcontrol.DirectClient, error) {
	if uri == "" {
		return nil, &publish.ConfigurationError{Reason: "empty uri"}
	}
	return httppub.New(uri, f.HTTP), nil
}

// Factory builds HTTP and MQTT clients.
type Factory struct {
	Direct
	MQTT mqtt.Config
}

// New returns a factory for both transports.
func New(httpCfg httppub.Config, mqttCfg mqtt.Config) *Factory {
	return &Factory{Direct: Direct{HTTP: httpCfg}, MQTT: mqttCfg}
}

func (f *Factory) NewBusClient(cfg pubcontrol.BusConfig) (publish.Client, error) {
	return mqtt.NewBusClient(f.MQTT, mqtt.BusOptions{
		URI:                cfg.URI,
		PushURI:            cfg.PushURI,
		PubURI:             cfg.PubURI,
		RequireSubscribers: cfg.RequireSubscribers,
		Lock:               cfg.Lock,
	})
}

func (f *Factory) NewSocket() (publish.Socket, error) {
	return mqtt.NewPubSocket(f.MQTT), nil
}

func (f *Factory) NewSubMonitor(sock publish.Socket, lock sync.Locker, cb submonitor.Callback) (submonitor.Monitor, error) {
	ps, ok := sock.(*mqtt.PubSocket)
	if !ok {
		return nil, fmt.Errorf("subscription monitor needs an mqtt socket, got %T", sock)
	}
	return mqtt.NewSubMonitor(ps, lock, cb)
}

var (
	_ pubcontrol.ClientFactory = Direct{}
	_ pubcontrol.BusFactory    = (*Factory)(nil)
)
