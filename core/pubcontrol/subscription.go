package pubcontrol

import (
	"sync"
	"time"

	"github.com/kilianp07/pubcontrol/core/metrics"
	"github.com/kilianp07/pubcontrol/core/publish"
	"github.com/kilianp07/pubcontrol/core/submonitor"
)

// watch hooks the monitor owned by c, if any, into the aggregation. The
// monitor is moved onto the dispatcher lock so that an edge's membership
// check, listeners and set update all happen under mu.
func (pc *PubControl) watch(c publish.Client) {
	mon := c.SubscriptionMonitor()
	if mon == nil {
		return
	}
	if mon.Locker() != sync.Locker(&pc.mu) {
		mon.SetLocker(&pc.mu)
	}
	mon.Listen(pc.aggregator(mon))
}

// aggregator returns the listener attached to src. It runs with mu held.
func (pc *PubControl) aggregator(src submonitor.Monitor) submonitor.Callback {
	return func(ev submonitor.Event, channel string) {
		pc.onSubscriptionEdge(src, ev, channel)
	}
}

// onSubscriptionEdge forwards an edge reported by src unless another monitor
// still holds the channel. Monitors deliver sub edges before recording the
// channel and unsub edges after dropping it, so src itself never holds the
// channel here and the edge is a real transition of the union of all sets
// exactly when no other monitor holds it. Called with mu held.
func (pc *PubControl) onSubscriptionEdge(src submonitor.Monitor, ev submonitor.Event, channel string) {
	for _, mon := range pc.monitors() {
		if mon != src && mon.Contains(channel) {
			pc.log.Debugf("%s %s suppressed, still held by another monitor", ev, channel)
			return
		}
	}

	if pc.subCallback != nil {
		pc.subCallback(ev, channel)
	}
	at := clock()
	pc.events.Publish(SubscriptionEvent{Type: ev, Channel: channel, Time: at})
	if err := metrics.Record(pc.sink, metrics.SubscriptionEvent{Channel: channel, Type: string(ev), Time: at}); err != nil {
		pc.log.Warnf("record subscription: %v", err)
	}
}

// monitors lists the dispatcher's own monitor followed by those owned by
// registered clients.
func (pc *PubControl) monitors() []submonitor.Monitor {
	var out []submonitor.Monitor
	if pc.sockMonitor != nil {
		out = append(out, pc.sockMonitor)
	}
	for _, c := range pc.Clients() {
		if mon := c.SubscriptionMonitor(); mon != nil {
			out = append(out, mon)
		}
	}
	return out
}

// clock stamps subscription events.
var clock = time.Now
