package admin

// ConsensusSink is implemented by CoordinatorCore and driven by a
// ConsensusAdapter as proposals are ordered (the consensus → core
// direction).
type ConsensusSink interface {
	// OnProposalReceived delivers a proposal ordered by consensus, along
	// with the payload that produced it and an opaque sender tag.
	OnProposalReceived(proposal CircuitProposal, payload CircuitManagementPayload, senderTag string) error
	// Commit applies the single outstanding pending change set by the most
	// recent OnProposalReceived call and releases the slot.
	Commit() error
	// Rollback discards the outstanding pending change without applying it
	// (e.g. on consensus timeout).
	Rollback() error
}

// ConsensusAdapter ships proposals to the pluggable consensus engine and, in
// the other direction, drives a ConsensusSink with ordered commit/rollback
// notifications. The algorithm itself is an external collaborator; only this
// contract is implemented here. A production deployment swaps in a real
// BFT/Raft/Tendermint-style adapter without
// changing CoordinatorCore — see admin/consensus.InProcessAdapter for the
// reference stand-in used by this module's own tests.
type ConsensusAdapter interface {
	// SetSink wires the coordinator as the recipient of ordered proposals.
	// Must be called once before Propose is used.
	SetSink(sink ConsensusSink)
	// Propose ships a proposal for ordering. verifiers is the list of
	// admin-service node ids for every member of the proposed circuit;
	// expectedHash is the SHA-256 of the canonical circuit encoding, used
	// by consensus to match commit notifications back to this proposal.
	Propose(proposalID string, verifiers []string, expectedHash string, body []byte) error
}
