// Package node - handshake.Transport adapter binding the direct-stream
// request/response plumbing to the darkpool handshake executor.
package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/darkpool-labs/relayer/internal/darkpool/handshake"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

// HandshakeTransport implements handshake.Transport over the node's
// direct libp2p streams. The dialer-perspective calls (Propose,
// ExchangePrice) open a stream, send the request, and block for the
// peer's substantive response; the listener perspective is registered
// separately via RegisterHandshakeResponder.
type HandshakeTransport struct {
	node *Node
	log  *logging.Logger
}

// NewHandshakeTransport wraps n as a handshake.Transport.
func NewHandshakeTransport(n *Node) *HandshakeTransport {
	return &HandshakeTransport{
		node: n,
		log:  logging.GetDefault().Component("handshake-transport"),
	}
}

// Propose sends a handshake proposal to peerID and waits for its
// acceptance or rejection.
func (t *HandshakeTransport) Propose(ctx context.Context, peerID string, proposal handshake.HandshakeProposal) (handshake.HandshakeAcceptance, error) {
	var acceptance handshake.HandshakeAcceptance

	pid, err := peer.Decode(peerID)
	if err != nil {
		return acceptance, fmt.Errorf("invalid peer id %q: %w", peerID, err)
	}

	msg, err := NewRelayMessage(RelayMsgHandshakePropose, proposal.RequestID, proposal)
	if err != nil {
		return acceptance, fmt.Errorf("failed to build proposal message: %w", err)
	}

	resp, err := t.node.StreamHandler().SendDirectRequest(ctx, pid, msg)
	if err != nil {
		return acceptance, fmt.Errorf("handshake proposal to %s failed: %w", peerID, err)
	}
	if resp.Type != RelayMsgHandshakeAccept {
		return acceptance, fmt.Errorf("unexpected response type %q to handshake proposal", resp.Type)
	}
	if err := json.Unmarshal(resp.Payload, &acceptance); err != nil {
		return acceptance, fmt.Errorf("failed to parse handshake acceptance: %w", err)
	}

	return acceptance, nil
}

// ExchangePrice sends this cluster's price report to peerID and returns
// the peer's own report.
func (t *HandshakeTransport) ExchangePrice(ctx context.Context, peerID string, mine handshake.PriceExchange) (handshake.PriceExchange, error) {
	var theirs handshake.PriceExchange

	pid, err := peer.Decode(peerID)
	if err != nil {
		return theirs, fmt.Errorf("invalid peer id %q: %w", peerID, err)
	}

	msg, err := NewRelayMessage(RelayMsgPriceExchange, mine.RequestID, mine)
	if err != nil {
		return theirs, fmt.Errorf("failed to build price exchange message: %w", err)
	}

	resp, err := t.node.StreamHandler().SendDirectRequest(ctx, pid, msg)
	if err != nil {
		return theirs, fmt.Errorf("price exchange with %s failed: %w", peerID, err)
	}
	if resp.Type != RelayMsgPriceExchange {
		return theirs, fmt.Errorf("unexpected response type %q to price exchange", resp.Type)
	}
	if err := json.Unmarshal(resp.Payload, &theirs); err != nil {
		return theirs, fmt.Errorf("failed to parse peer price exchange: %w", err)
	}

	return theirs, nil
}

// HandshakeResponder answers inbound handshake proposals and price
// exchanges on the listener side. It is the node-facing mirror of
// Transport, implemented by whatever owns the executor's listener path.
type HandshakeResponder interface {
	RespondToProposal(ctx context.Context, fromPeer string, proposal handshake.HandshakeProposal) (handshake.HandshakeAcceptance, error)
	RespondToPriceExchange(ctx context.Context, fromPeer string, theirs handshake.PriceExchange) (handshake.PriceExchange, error)
}

// RegisterHandshakeResponder wires a HandshakeResponder into the node's
// stream handler so inbound proposals and price-exchange requests get a
// substantive reply instead of a bare ACK.
func RegisterHandshakeResponder(n *Node, responder HandshakeResponder) {
	sh := n.StreamHandler()
	if sh == nil {
		return
	}

	sh.OnRequest(RelayMsgHandshakePropose, func(ctx context.Context, msg *RelayMessage) (*RelayMessage, error) {
		var proposal handshake.HandshakeProposal
		if err := json.Unmarshal(msg.Payload, &proposal); err != nil {
			return nil, fmt.Errorf("failed to parse handshake proposal: %w", err)
		}
		acceptance, err := responder.RespondToProposal(ctx, msg.FromPeer, proposal)
		if err != nil {
			return nil, err
		}
		return NewRelayMessage(RelayMsgHandshakeAccept, msg.RequestID, acceptance)
	})

	sh.OnRequest(RelayMsgPriceExchange, func(ctx context.Context, msg *RelayMessage) (*RelayMessage, error) {
		var theirs handshake.PriceExchange
		if err := json.Unmarshal(msg.Payload, &theirs); err != nil {
			return nil, fmt.Errorf("failed to parse price exchange: %w", err)
		}
		mine, err := responder.RespondToPriceExchange(ctx, msg.FromPeer, theirs)
		if err != nil {
			return nil, err
		}
		return NewRelayMessage(RelayMsgPriceExchange, msg.RequestID, mine)
	})
}
