// Package node - gossip messaging for order-book state and handshake fallback.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

// PubSub topics. OrderBookTopic and OrderStateTopic carry cleartext
// gossip (order announcements and validity-proof/nullifier updates);
// HandshakeEncryptedTopic is the fallback path for handshake protocol
// messages when a direct stream to the peer can't be established.
const (
	OrderBookTopic = "/darkpool/order-book/1.0.0"

	OrderStateTopic = "/darkpool/order-state/1.0.0"

	HandshakeEncryptedTopic = "/darkpool/handshakes/encrypted/1.0.0"
)

// RelayMessage is the envelope carried over both gossip topics and the
// direct handshake stream protocol.
type RelayMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"` // handshake request ID, empty for order-book gossip
	OrderID   string          `json:"order_id,omitempty"`
	FromPeer  string          `json:"from_peer"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`

	// Delivery guarantee fields (direct P2P messaging only).
	MessageID       string `json:"message_id,omitempty"`
	SequenceNum     uint64 `json:"sequence_num,omitempty"`
	RequiresAck     bool   `json:"requires_ack,omitempty"`
	MessageDeadline int64  `json:"message_deadline,omitempty"`
}

// AckPayload is the acknowledgment message payload.
type AckPayload struct {
	MessageID   string `json:"message_id"`
	SequenceNum uint64 `json:"sequence_num"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// Relay message types. The handshake-protocol types mirror
// handshake.MessageKind (§4.6); order-book/order-state types carry
// gossiped wallet-independent state.
const (
	RelayMsgOrderAnnounce   = "order_announce"
	RelayMsgOrderCancel     = "order_cancel"
	RelayMsgNullifierSpent  = "nullifier_spent"
	RelayMsgHandshakePropose = "handshake_propose"
	RelayMsgHandshakeAccept  = "handshake_accept"
	RelayMsgPriceExchange    = "price_exchange"
	RelayMsgCacheSync        = "cache_sync"
	RelayMsgMatchInProgress  = "match_in_progress"
	RelayMsgAck              = "ack"
)

// RelayMessageHandler handles an incoming relay message.
type RelayMessageHandler func(ctx context.Context, msg *RelayMessage) error

// GossipHandler manages the node's PubSub topics: cleartext order-book
// and order-state gossip, plus the encrypted fallback topic for
// handshake messages that can't reach the peer via a direct stream.
type GossipHandler struct {
	node *Node
	log  *logging.Logger

	orderBookTopic *pubsub.Topic
	orderBookSub   *pubsub.Subscription

	orderStateTopic *pubsub.Topic
	orderStateSub   *pubsub.Subscription

	encryptedTopic *pubsub.Topic
	encryptedSub   *pubsub.Subscription
	encryptor      *MessageEncryptor

	handlers map[string]RelayMessageHandler
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGossipHandler creates a new gossip handler.
func NewGossipHandler(n *Node) (*GossipHandler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h := &GossipHandler{
		node:     n,
		log:      logging.GetDefault().Component("gossip-handler"),
		handlers: make(map[string]RelayMessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}

	return h, nil
}

// Start joins the gossip topics and starts the processing loops.
func (h *GossipHandler) Start() error {
	if h.node.pubsub == nil {
		return fmt.Errorf("pubsub not initialized")
	}

	obTopic, err := h.node.pubsub.Join(OrderBookTopic)
	if err != nil {
		return fmt.Errorf("failed to join order-book topic: %w", err)
	}
	h.orderBookTopic = obTopic

	obSub, err := obTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to order-book topic: %w", err)
	}
	h.orderBookSub = obSub

	osTopic, err := h.node.pubsub.Join(OrderStateTopic)
	if err != nil {
		return fmt.Errorf("failed to join order-state topic: %w", err)
	}
	h.orderStateTopic = osTopic

	osSub, err := osTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to order-state topic: %w", err)
	}
	h.orderStateSub = osSub

	encTopic, err := h.node.pubsub.Join(HandshakeEncryptedTopic)
	if err != nil {
		return fmt.Errorf("failed to join encrypted handshake topic: %w", err)
	}
	h.encryptedTopic = encTopic

	encSub, err := encTopic.Subscribe()
	if err != nil {
		return fmt.Errorf("failed to subscribe to encrypted handshake topic: %w", err)
	}
	h.encryptedSub = encSub

	privKey := h.node.Host().Peerstore().PrivKey(h.node.ID())
	if privKey != nil {
		enc, err := NewMessageEncryptor(privKey, h.node.ID())
		if err != nil {
			h.log.Warn("Failed to create encryptor", "error", err)
		} else {
			h.encryptor = enc
		}
	}

	go h.processTopic(h.orderBookSub)
	go h.processTopic(h.orderStateSub)
	go h.processEncryptedMessages()

	h.log.Info("Gossip handler started",
		"order_book_topic", OrderBookTopic,
		"order_state_topic", OrderStateTopic,
		"encrypted_topic", HandshakeEncryptedTopic)
	return nil
}

// GetEncryptedTopic returns the encrypted handshake topic for direct publishing.
func (h *GossipHandler) GetEncryptedTopic() *pubsub.Topic {
	return h.encryptedTopic
}

// GetOrderBookTopic returns the order-book gossip topic for direct publishing.
func (h *GossipHandler) GetOrderBookTopic() *pubsub.Topic {
	return h.orderBookTopic
}

// GetOrderStateTopic returns the order-state gossip topic for direct publishing.
func (h *GossipHandler) GetOrderStateTopic() *pubsub.Topic {
	return h.orderStateTopic
}

// Stop stops the gossip handler.
func (h *GossipHandler) Stop() error {
	h.cancel()

	for _, sub := range []*pubsub.Subscription{h.orderBookSub, h.orderStateSub, h.encryptedSub} {
		if sub != nil {
			sub.Cancel()
		}
	}
	for _, topic := range []*pubsub.Topic{h.orderBookTopic, h.orderStateTopic, h.encryptedTopic} {
		if topic != nil {
			topic.Close()
		}
	}

	h.log.Info("Gossip handler stopped")
	return nil
}

// OnMessage registers a handler for a specific message type.
func (h *GossipHandler) OnMessage(msgType string, handler RelayMessageHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[msgType] = handler
}

// PublishOrderBook publishes an order-book gossip message.
func (h *GossipHandler) PublishOrderBook(ctx context.Context, msg *RelayMessage) error {
	return h.publish(ctx, h.orderBookTopic, msg)
}

// PublishOrderState publishes an order-state gossip message (nullifier
// spends, validity-proof refreshes).
func (h *GossipHandler) PublishOrderState(ctx context.Context, msg *RelayMessage) error {
	return h.publish(ctx, h.orderStateTopic, msg)
}

func (h *GossipHandler) publish(ctx context.Context, topic *pubsub.Topic, msg *RelayMessage) error {
	if topic == nil {
		return fmt.Errorf("topic not joined")
	}

	msg.FromPeer = h.node.ID().String()
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	h.log.Debug("Published gossip message", "type", msg.Type, "order_id", msg.OrderID)
	return nil
}

// processTopic processes incoming messages on a gossip subscription.
func (h *GossipHandler) processTopic(sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.log.Warn("Error receiving gossip message", "error", err)
			continue
		}

		if msg.ReceivedFrom == h.node.ID() {
			continue
		}

		var relayMsg RelayMessage
		if err := json.Unmarshal(msg.Data, &relayMsg); err != nil {
			h.log.Warn("Failed to parse gossip message", "error", err)
			continue
		}

		h.mu.RLock()
		handler, ok := h.handlers[relayMsg.Type]
		h.mu.RUnlock()

		if !ok {
			h.log.Debug("No handler for message type", "type", relayMsg.Type)
			continue
		}

		h.log.Debug("Received gossip message", "type", relayMsg.Type, "from", shortPeerID(msg.ReceivedFrom))

		go func() {
			if err := handler(h.ctx, &relayMsg); err != nil {
				h.log.Warn("Error handling gossip message", "type", relayMsg.Type, "error", err)
			}
		}()
	}
}

// processEncryptedMessages processes incoming encrypted handshake
// messages broadcast via PubSub gossip as a direct-stream fallback.
func (h *GossipHandler) processEncryptedMessages() {
	for {
		msg, err := h.encryptedSub.Next(h.ctx)
		if err != nil {
			if h.ctx.Err() != nil {
				return
			}
			h.log.Warn("Error receiving encrypted message", "error", err)
			continue
		}

		if msg.ReceivedFrom == h.node.ID() {
			continue
		}

		var envelope EncryptedEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			h.log.Debug("Failed to parse encrypted envelope", "error", err)
			continue
		}

		if h.encryptor == nil || !h.encryptor.IsForUs(&envelope) {
			continue
		}

		relayMsg, err := h.encryptor.Decrypt(&envelope)
		if err != nil {
			h.log.Warn("Failed to decrypt message", "error", err, "from", envelope.SenderPeerID[:12])
			continue
		}

		h.log.Debug("Received encrypted message",
			"type", relayMsg.Type,
			"request_id", relayMsg.RequestID,
			"message_id", relayMsg.MessageID,
			"from", envelope.SenderPeerID[:12])

		h.mu.RLock()
		handler, ok := h.handlers[relayMsg.Type]
		h.mu.RUnlock()

		if !ok {
			h.log.Debug("No handler for encrypted message type", "type", relayMsg.Type)
			continue
		}

		go func(env EncryptedEnvelope, rMsg *RelayMessage) {
			if err := handler(h.ctx, rMsg); err != nil {
				h.log.Warn("Error handling encrypted message", "type", rMsg.Type, "error", err)
				if rMsg.RequiresAck {
					h.sendEncryptedAck(env.SenderPeerID, rMsg.MessageID, rMsg.SequenceNum, false, err.Error())
				}
				return
			}

			if rMsg.RequiresAck {
				h.sendEncryptedAck(env.SenderPeerID, rMsg.MessageID, rMsg.SequenceNum, true, "")
			}
		}(envelope, relayMsg)
	}
}

// sendEncryptedAck sends an encrypted ACK back to the sender via PubSub.
func (h *GossipHandler) sendEncryptedAck(senderPeerIDStr string, messageID string, seq uint64, success bool, errMsg string) {
	if h.encryptor == nil || h.encryptedTopic == nil {
		return
	}

	senderPeerID, err := peer.Decode(senderPeerIDStr)
	if err != nil {
		h.log.Warn("Invalid sender peer ID for ACK", "peer", senderPeerIDStr)
		return
	}

	ackPayload := AckPayload{
		MessageID:   messageID,
		SequenceNum: seq,
		Success:     success,
		Error:       errMsg,
	}

	payloadBytes, err := json.Marshal(ackPayload)
	if err != nil {
		h.log.Warn("Failed to marshal ACK payload", "error", err)
		return
	}

	ackMsg := &RelayMessage{
		Type:      RelayMsgAck,
		Payload:   payloadBytes,
		FromPeer:  h.node.ID().String(),
		MessageID: messageID,
	}

	envelope, err := h.encryptor.Encrypt(senderPeerID, ackMsg)
	if err != nil {
		h.log.Warn("Failed to encrypt ACK", "error", err)
		return
	}

	envelopeBytes, err := json.Marshal(envelope)
	if err != nil {
		h.log.Warn("Failed to marshal ACK envelope", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()

	if err := h.encryptedTopic.Publish(ctx, envelopeBytes); err != nil {
		h.log.Warn("Failed to publish ACK", "error", err)
	}

	h.log.Debug("Sent encrypted ACK", "message_id", messageID, "success", success)
}

func shortPeerID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// OrderAnnouncePayload is the payload of an order announcement on
// OrderBookTopic, from which peers learn of a counterparty without a
// centralized book. cmd/relayerd persists the announcements it receives;
// nothing in the module publishes one.
type OrderAnnouncePayload struct {
	OrderID   string `json:"order_id"`
	QuoteMint string `json:"quote_mint"`
	BaseMint  string `json:"base_mint"`
	Side      string `json:"side"`
	ClusterID string `json:"cluster_id"`
}

// NullifierSpentPayload is the payload of a nullifier-spent message on
// OrderStateTopic, announcing that a wallet's nullifier has been spent
// on-chain. Nothing in the module publishes this message or registers a
// handler for it.
type NullifierSpentPayload struct {
	Nullifier string `json:"nullifier"`
	TxHash    string `json:"tx_hash"`
}

// NewOrderAnnounceMessage creates an order announcement message.
func NewOrderAnnounceMessage(orderID string, payload OrderAnnouncePayload) (*RelayMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &RelayMessage{
		Type:    RelayMsgOrderAnnounce,
		OrderID: orderID,
		Payload: data,
	}, nil
}

// NewOrderCancelMessage creates an order cancellation message.
func NewOrderCancelMessage(orderID string) (*RelayMessage, error) {
	return &RelayMessage{
		Type:    RelayMsgOrderCancel,
		OrderID: orderID,
	}, nil
}

// NewNullifierSpentMessage creates a nullifier-spent order-state message.
func NewNullifierSpentMessage(payload NullifierSpentPayload) (*RelayMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &RelayMessage{
		Type:    RelayMsgNullifierSpent,
		Payload: data,
	}, nil
}

// NewRelayMessage creates a generic relay message, used for the
// handshake protocol's request/response payloads.
func NewRelayMessage(msgType, requestID string, payload interface{}) (*RelayMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &RelayMessage{
		Type:      msgType,
		RequestID: requestID,
		Payload:   data,
	}, nil
}
