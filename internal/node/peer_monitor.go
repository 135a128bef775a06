// Package node - Monitors peer connection events for message flushing and
// for tearing down handshakes whose counterparty has dropped off the network.
package node

import (
	"context"

	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/darkpool-labs/relayer/internal/darkpool/handshake"
	"github.com/darkpool-labs/relayer/internal/storage"
	"github.com/darkpool-labs/relayer/pkg/logging"
)

// PeerMonitor watches for peer connection events, triggers message flushing
// on reconnect, and shoots down any in-flight handshake against a peer that
// disconnects mid-protocol.
type PeerMonitor struct {
	node    *Node
	storage *storage.Storage
	sender  *MessageSender
	states  *handshake.StateIndex
	log     *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewPeerMonitor creates a new peer monitor. states may be nil if the
// caller hasn't wired the handshake layer (e.g. in tests of the node
// package alone); disconnect handling then skips the shootdown step.
func NewPeerMonitor(n *Node, store *storage.Storage, sender *MessageSender, states *handshake.StateIndex) *PeerMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &PeerMonitor{
		node:    n,
		storage: store,
		sender:  sender,
		states:  states,
		log:     logging.GetDefault().Component("peer-monitor"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the peer monitor background goroutine.
func (m *PeerMonitor) Start() error {
	// Subscribe to peer connectedness events
	sub, err := m.node.Host().EventBus().Subscribe(new(event.EvtPeerConnectednessChanged))
	if err != nil {
		return err
	}

	go m.run(sub)
	m.log.Info("Peer monitor started")
	return nil
}

// Stop stops the peer monitor.
func (m *PeerMonitor) Stop() {
	m.cancel()
	m.log.Info("Peer monitor stopped")
}

// run is the main loop of the peer monitor.
func (m *PeerMonitor) run(sub event.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-sub.Out():
			e, ok := ev.(event.EvtPeerConnectednessChanged)
			if !ok {
				continue
			}

			m.handleConnectednessChange(e)
		}
	}
}

// handleConnectednessChange handles a peer connectedness change event.
func (m *PeerMonitor) handleConnectednessChange(e event.EvtPeerConnectednessChanged) {
	switch e.Connectedness {
	case network.Connected:
		m.handlePeerConnected(e.Peer)
	case network.NotConnected:
		m.handlePeerDisconnected(e.Peer)
	}
}

// handlePeerConnected handles when a peer connects.
func (m *PeerMonitor) handlePeerConnected(peerID peer.ID) {
	// Check if we have pending messages for this peer
	messages, err := m.storage.GetPendingForPeer(peerID.String())
	if err != nil {
		m.log.Warn("Failed to get pending messages for peer", "error", err)
		return
	}

	if len(messages) == 0 {
		return
	}

	m.log.Info("Peer connected with pending messages",
		"peer", shortPeerID(peerID),
		"pending_count", len(messages))

	// Flush pending messages in background
	go m.sender.FlushPendingForPeer(m.ctx, peerID)
}

// handlePeerDisconnected handles when a peer disconnects. Per the
// handshake lifecycle's cancellation rules, a dropped connection aborts
// any request still negotiating or mid-match against that peer rather
// than leaving it to time out on its own.
func (m *PeerMonitor) handlePeerDisconnected(peerID peer.ID) {
	if m.states != nil {
		if affected := m.states.ShootdownByPeer(peerID.String()); affected > 0 {
			m.log.Info("Aborted in-flight handshakes on peer disconnect",
				"peer", shortPeerID(peerID),
				"requests", affected)
		}
	}

	// Check if we have pending messages for this peer
	messages, err := m.storage.GetPendingForPeer(peerID.String())
	if err != nil {
		return
	}

	if len(messages) > 0 {
		m.log.Debug("Peer disconnected with pending messages",
			"peer", shortPeerID(peerID),
			"pending_count", len(messages))
	}
}
