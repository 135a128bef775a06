package node

import (
	"context"

	"github.com/darkpool-labs/relayer/pkg/logging"
)

// GossipNotifier implements handshake.Notifier by publishing plain gossip:
// "order-book" goes to the order-book topic, and every other topic,
// including the executor's "handshakes" progress notices, goes to the
// order-state topic, tagged with the type relayTypeForTopic assigns
// (cache_sync for "handshakes"). There is no separate handshakes topic.
type GossipNotifier struct {
	gossip *GossipHandler
	log    *logging.Logger
}

// NewGossipNotifier wraps h as a handshake.Notifier.
func NewGossipNotifier(h *GossipHandler) *GossipNotifier {
	return &GossipNotifier{
		gossip: h,
		log:    logging.GetDefault().Component("gossip-notifier"),
	}
}

// Publish implements handshake.Notifier.
func (n *GossipNotifier) Publish(topic string, payload interface{}) {
	ctx := context.Background()

	msg, err := NewRelayMessage(relayTypeForTopic(topic), "", payload)
	if err != nil {
		n.log.Warn("Failed to build notification message", "topic", topic, "error", err)
		return
	}

	var pubErr error
	switch topic {
	case "order-book":
		pubErr = n.gossip.PublishOrderBook(ctx, msg)
	case "order-state":
		pubErr = n.gossip.PublishOrderState(ctx, msg)
	default:
		pubErr = n.gossip.PublishOrderState(ctx, msg)
	}

	if pubErr != nil {
		n.log.Warn("Failed to publish notification", "topic", topic, "error", pubErr)
	}
}

// relayTypeForTopic maps a notifier topic to the RelayMessage type tag
// peers use to decode the payload.
func relayTypeForTopic(topic string) string {
	switch topic {
	case "order-book":
		return RelayMsgOrderAnnounce
	case "order-state":
		return RelayMsgMatchInProgress
	case "handshakes":
		return RelayMsgCacheSync
	default:
		return topic
	}
}
