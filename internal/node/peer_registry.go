package node

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/darkpool-labs/relayer/internal/darkpool/scheduler"
)

// ClusterPeerRegistry tracks which cluster each known remote peer belongs
// to, as recorded through NoteCluster. It implements scheduler.PeerSource
// directly so the scheduler can exclude a local order's own cluster-mates
// when picking a counterparty. Nothing in the module calls NoteCluster, so
// every peer is reported with an empty ClusterID: none is excluded when
// the local cluster ID is set, and all are when it is empty.
type ClusterPeerRegistry struct {
	node *Node

	mu       sync.RWMutex
	clusters map[peer.ID]string
}

// NewClusterPeerRegistry builds a registry over n's connected peer set.
func NewClusterPeerRegistry(n *Node) *ClusterPeerRegistry {
	return &ClusterPeerRegistry{
		node:     n,
		clusters: make(map[peer.ID]string),
	}
}

// NoteCluster records peerID's cluster membership; an empty clusterID is
// ignored.
func (r *ClusterPeerRegistry) NoteCluster(peerID peer.ID, clusterID string) {
	if clusterID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clusters[peerID] = clusterID
}

// KnownPeers implements scheduler.PeerSource. Peers whose cluster hasn't
// been learned yet are reported with an empty ClusterID, which the
// scheduler treats as distinct from every real cluster.
func (r *ClusterPeerRegistry) KnownPeers() []scheduler.Peer {
	connected := r.node.Peers()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]scheduler.Peer, 0, len(connected))
	for _, p := range connected {
		out = append(out, scheduler.Peer{ID: p.String(), ClusterID: r.clusters[p]})
	}
	return out
}
