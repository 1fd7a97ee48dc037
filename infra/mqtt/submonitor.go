package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/pubcontrol/core/submonitor"
	"github.com/kilianp07/pubcontrol/infra/logger"
)

// edgeMessage is the JSON form of a subscription edge on the control topic.
type edgeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// SubMonitor tracks subscriptions announced on the control topic of a
// socket. Edges are applied with the edge lock held.
type SubMonitor struct {
	*submonitor.Set
	lock   *submonitor.EdgeLock
	log    logger.Logger
	closed atomic.Bool
}

// NewSubMonitor attaches a monitor to sock. cb, when non-nil, is the first
// edge listener; more can be added with Listen.
func NewSubMonitor(sock *PubSocket, lock sync.Locker, cb submonitor.Callback) (*SubMonitor, error) {
	m := &SubMonitor{
		Set:  submonitor.NewSet(cb),
		lock: submonitor.NewEdgeLock(lock),
		log:  logger.New("mqtt_submonitor"),
	}
	if err := sock.subscribe(sock.cfg.SubscriptionTopic, m.onMessage); err != nil {
		return nil, fmt.Errorf("subscription monitor: %w", err)
	}
	return m, nil
}

func (m *SubMonitor) onMessage(_ paho.Client, msg paho.Message) {
	if m.closed.Load() {
		return
	}
	ev, channel, err := decodeEdge(msg.Payload())
	if err != nil {
		m.log.Warnf("invalid subscription message on %s: %v", msg.Topic(), err)
		return
	}
	m.apply(ev, channel)
}

func (m *SubMonitor) apply(ev submonitor.Event, channel string) {
	l := m.lock.Acquire()
	defer l.Unlock()
	if m.Apply(ev, channel) {
		m.log.Debugf("%s %s", ev, channel)
	}
}

// Locker returns the lock edges are applied under.
func (m *SubMonitor) Locker() sync.Locker { return m.lock.Locker() }

// SetLocker makes edges apply under l from now on.
func (m *SubMonitor) SetLocker(l sync.Locker) { m.lock.Replace(l) }

// Close stops processing edges. The underlying socket is owned by the
// caller.
func (m *SubMonitor) Close() error {
	m.closed.Store(true)
	return nil
}

// decodeEdge accepts either a JSON edge message or the compact binary form
// where the first byte is 1 for sub and 0 for unsub, followed by the
// channel name.
func decodeEdge(payload []byte) (submonitor.Event, string, error) {
	if len(payload) == 0 {
		return "", "", fmt.Errorf("empty payload")
	}
	switch payload[0] {
	case 0:
		return submonitor.Unsub, string(payload[1:]), nil
	case 1:
		return submonitor.Sub, string(payload[1:]), nil
	}
	var m edgeMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", "", err
	}
	if m.Channel == "" {
		return "", "", fmt.Errorf("missing channel")
	}
	switch submonitor.Event(m.Type) {
	case submonitor.Sub, submonitor.Unsub:
		return submonitor.Event(m.Type), m.Channel, nil
	default:
		return "", "", fmt.Errorf("unknown event type %q", m.Type)
	}
}
