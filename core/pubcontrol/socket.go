package pubcontrol

import (
	"encoding/json"
	"strings"

	"github.com/kilianp07/pubcontrol/core/item"
	"github.com/kilianp07/pubcontrol/core/monitoring"
)

// connectPubURI connects the shared pub socket to uri, creating it on
// first use. The socket never lingers on close. When a subscription
// callback was configured, a monitor is attached to the new socket.
func (pc *PubControl) connectPubURI(bf BusFactory, uri string) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.sock == nil {
		sock, err := bf.NewSocket()
		if err != nil {
			return err
		}
		sock.SetLinger(0)
		if pc.subCallback != nil {
			mon, err := bf.NewSubMonitor(sock, &pc.mu, nil)
			if err != nil {
				_ = sock.Close()
				return err
			}
			mon.Listen(pc.aggregator(mon))
			pc.sockMonitor = mon
		}
		pc.sock = sock
		pc.log.Infof("created shared pub socket")
	}
	if err := pc.sock.Connect(uri); err != nil {
		return err
	}
	pc.log.Infof("shared pub socket connected to %s", uri)
	return nil
}

// sendToSocket writes [channel, content] on the shared socket, if any.
// Delivery is fire and forget: failures are logged and reported only.
func (pc *PubControl) sendToSocket(channel string, it item.Item) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.sock == nil {
		return
	}
	content, err := pc.encode(it.Export(true, true))
	if err != nil {
		pc.log.Errorf("encode item for %s: %v", channel, err)
		return
	}
	parts := [][]byte{ensureUTF8(channel), content}
	if err := pc.sock.SendMultipart(parts); err != nil {
		pc.log.Errorf("send to pub socket on %s: %v", channel, err)
		monitoring.CaptureException(err, monitoring.Tags("module", "pubcontrol", "channel", channel))
	}
}

func ensureUTF8(s string) []byte {
	return []byte(strings.ToValidUTF8(s, "�"))
}

func encodeJSON(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}
