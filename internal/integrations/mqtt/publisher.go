package mqtt

import (
	"fmt"

	"barsync-go/config"
	"barsync-go/internal/status"

	log "github.com/sirupsen/logrus"
)

// StatusPublisher mirrors status snapshots onto the venue broker: network
// state on one topic and the full snapshot on another, both retained so a
// subscriber connecting later sees the current state immediately.
type StatusPublisher struct {
	client      *Client
	topicPrefix string
	lastState   string
	unsubscribe func()
}

// NewStatusPublisher creates a publisher bound to the given aggregator.
func NewStatusPublisher(client *Client, cfg config.MQTTConfig) *StatusPublisher {
	return &StatusPublisher{
		client:      client,
		topicPrefix: cfg.TopicPrefix,
	}
}

// Attach subscribes to aggregator updates. No-op when the MQTT client is
// not connected at publish time; snapshots are state, not events, and the
// retained topic catches up on reconnect.
func (p *StatusPublisher) Attach(agg *status.Aggregator) {
	p.unsubscribe = agg.Subscribe(p.publish)
}

// Detach stops publishing.
func (p *StatusPublisher) Detach() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *StatusPublisher) publish(snap status.Snapshot) {
	if !p.client.IsConnected() {
		return
	}

	stateTopic := fmt.Sprintf("%s/network/state", p.topicPrefix)
	state := string(snap.NetworkState)
	if state != p.lastState {
		if err := p.client.PublishRetain(stateTopic, state); err != nil {
			log.WithError(err).Warn("Failed to publish network state via MQTT")
		} else {
			p.lastState = state
		}
	}

	statusTopic := fmt.Sprintf("%s/status", p.topicPrefix)
	if err := p.client.PublishRetain(statusTopic, snap); err != nil {
		log.WithError(err).Warn("Failed to publish status snapshot via MQTT")
	}
}
