package admin

import (
	"sync"
	"time"

	p2p "circuitadmin/peerconn"
)

// PeerConnectHandler receives peer lifecycle notifications so the
// coordinator can drive its pending-payload queues.
type PeerConnectHandler interface {
	OnPeerConnected(nodeID string)
	OnPeerDisconnected(nodeID string)
}

// PeerConnector is the reference-counted peer lifecycle collaborator. The
// coordinator holds a ref per member of every active proposal/circuit and
// releases it deterministically when that proposal/circuit is removed. The
// actual transport handshake is an external collaborator; this interface
// only exposes the reference-counting contract the core depends on.
type PeerConnector interface {
	// AddPeerRef registers one more reference on nodeID, asking the
	// transport to begin peering if this is the first reference, and
	// reports whether the peer is already peered.
	AddPeerRef(nodeID string) (peered bool, err error)
	// ReleasePeerRef drops one reference on nodeID.
	ReleasePeerRef(nodeID string) error
	// IsPeered reports the current peering state without mutating refs.
	IsPeered(nodeID string) bool
	// RefCount returns the current reference count for nodeID (for tests
	// and invariant checks).
	RefCount(nodeID string) int
}

// LocalPeerConnector is the concrete reference PeerConnector. It durably
// tracks peer dial bookkeeping via a peerconn.Peerstore (so reconnection
// backoff state survives restarts) while keeping reference counts and live
// peering state in memory, a lock-guarded record in the same style as
// `p2p.connManager`.
//
// Since the real authorization handshake and transport are external
// collaborators, this implementation peers a node as soon as the first
// reference is added — a connect/disconnect pair can still be driven
// externally (e.g. by a transport layer or by tests) via Connect and
// Disconnect to exercise the unpeered → protocol → ready queue transitions
// against a real delay.
type LocalPeerConnector struct {
	mu sync.Mutex

	peerstore *p2p.Peerstore
	handler   PeerConnectHandler

	refs   map[string]int
	peered map[string]bool

	// AutoPeer, when true (the default), marks a node peered the instant
	// its first reference is added instead of waiting for an explicit
	// Connect call. When false, a node stays unpeered until Connect is
	// called for it.
	AutoPeer bool
}

// NewLocalPeerConnector constructs a PeerConnector backed by the given
// peerstore. handler may be nil until the coordinator registers itself.
func NewLocalPeerConnector(peerstore *p2p.Peerstore) *LocalPeerConnector {
	return &LocalPeerConnector{
		peerstore: peerstore,
		refs:      make(map[string]int),
		peered:    make(map[string]bool),
		AutoPeer:  true,
	}
}

// SetHandler wires the coordinator as the recipient of connect/disconnect
// notifications. Must be called before any peer activity to avoid missed
// events.
func (c *LocalPeerConnector) SetHandler(h PeerConnectHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *LocalPeerConnector) AddPeerRef(nodeID string) (bool, error) {
	c.mu.Lock()
	c.refs[nodeID]++
	first := c.refs[nodeID] == 1
	if c.peerstore != nil {
		_ = c.peerstore.Put(p2p.PeerstoreEntry{NodeID: nodeID, LastSeen: time.Now()})
	}
	autoPeer := c.AutoPeer
	alreadyPeered := c.peered[nodeID]
	c.mu.Unlock()

	if first && autoPeer && !alreadyPeered {
		c.Connect(nodeID)
	}
	c.mu.Lock()
	peered := c.peered[nodeID]
	c.mu.Unlock()
	return peered, nil
}

func (c *LocalPeerConnector) ReleasePeerRef(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs[nodeID] > 0 {
		c.refs[nodeID]--
	}
	if c.refs[nodeID] <= 0 {
		delete(c.refs, nodeID)
	}
	return nil
}

func (c *LocalPeerConnector) IsPeered(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peered[nodeID]
}

func (c *LocalPeerConnector) RefCount(nodeID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[nodeID]
}

// Connect marks nodeID as peered and notifies the handler, simulating (or
// confirming) a completed transport handshake.
func (c *LocalPeerConnector) Connect(nodeID string) {
	c.mu.Lock()
	if c.peered[nodeID] {
		c.mu.Unlock()
		return
	}
	c.peered[nodeID] = true
	if c.peerstore != nil {
		_, _ = c.peerstore.RecordSuccess(nodeID, time.Now())
	}
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler.OnPeerConnected(nodeID)
	}
}

// Disconnect marks nodeID as no longer peered and notifies the handler.
func (c *LocalPeerConnector) Disconnect(nodeID string) {
	c.mu.Lock()
	if !c.peered[nodeID] {
		c.mu.Unlock()
		return
	}
	c.peered[nodeID] = false
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler.OnPeerDisconnected(nodeID)
	}
}
