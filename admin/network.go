package admin

// NetworkSender delivers admin wire messages to a specific peer. The
// transport itself — dialing, framing, authorization — is an external
// collaborator; this interface is only the send-side contract the
// coordinator depends on.
type NetworkSender interface {
	SendProtocolVersionRequest(nodeID string, req ServiceProtocolVersionRequest) error
	SendMemberReady(nodeID string, msg MemberReady) error
	SendDisbandedCircuit(nodeID string, msg DisbandedCircuit) error
	SendAbandonedCircuit(nodeID string, msg AbandonedCircuit) error
}

// LoopbackNetwork is a reference NetworkSender that delivers messages by
// direct in-process method calls between registered coordinators. It plays
// the same role for the transport boundary that admin/consensus.InProcessAdapter
// plays for the consensus boundary: a deterministic stand-in so end-to-end
// scenarios are runnable against a real (if trivial) network boundary
// instead of a hand-wired mock. A production deployment replaces it with
// the real peer transport.
type LoopbackNetwork struct {
	nodes map[string]*Coordinator
}

// NewLoopbackNetwork constructs an empty loopback network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{nodes: make(map[string]*Coordinator)}
}

// Register associates nodeID with the coordinator that should receive
// messages addressed to it.
func (n *LoopbackNetwork) Register(nodeID string, c *Coordinator) {
	n.nodes[nodeID] = c
}

// For returns a NetworkSender scoped to selfNodeID — the view of the
// loopback network that a single coordinator instance uses to send
// messages and receive protocol-version replies.
func (n *LoopbackNetwork) For(selfNodeID string) NetworkSender {
	return &loopbackSender{self: selfNodeID, net: n}
}

type loopbackSender struct {
	self string
	net  *LoopbackNetwork
}

func (s *loopbackSender) SendProtocolVersionRequest(nodeID string, req ServiceProtocolVersionRequest) error {
	peer, ok := s.net.nodes[nodeID]
	if !ok {
		return nil
	}
	resp := peer.HandleProtocolVersionRequest(req)
	caller, ok := s.net.nodes[s.self]
	if !ok {
		return nil
	}
	return caller.HandleProtocolVersionResponse(nodeID, resp)
}

func (s *loopbackSender) SendMemberReady(nodeID string, msg MemberReady) error {
	target, ok := s.net.nodes[nodeID]
	if !ok {
		return nil
	}
	return target.HandleMemberReady(msg)
}

func (s *loopbackSender) SendDisbandedCircuit(nodeID string, msg DisbandedCircuit) error {
	target, ok := s.net.nodes[nodeID]
	if !ok {
		return nil
	}
	return target.HandleDisbandedCircuit(msg)
}

func (s *loopbackSender) SendAbandonedCircuit(nodeID string, msg AbandonedCircuit) error {
	target, ok := s.net.nodes[nodeID]
	if !ok {
		return nil
	}
	return target.HandleAbandonedCircuit(msg)
}
