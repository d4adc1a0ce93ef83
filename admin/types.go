// Package admin implements the circuit lifecycle coordinator: the replicated
// state machine that validates, proposes, votes on, and tears down circuits —
// named multi-party scoped communication contexts binding a roster of
// services across a subset of member nodes.
package admin

import "time"

// AuthorizationType is the access-control scheme a circuit is gated by.
// Trust is the only scheme this implementation recognises.
type AuthorizationType string

const (
	AuthorizationUnset AuthorizationType = ""
	AuthorizationTrust AuthorizationType = "Trust"
)

// Persistence describes whether a circuit's record is kept across restarts.
type Persistence string

const (
	PersistenceUnset   Persistence = ""
	PersistenceAny     Persistence = "Any"
)

// Durability describes the delivery guarantee circuit messaging requires.
type Durability string

const (
	DurabilityUnset    Durability = ""
	DurabilityNone     Durability = "NoDurability"
)

// RouteType selects how messages are routed among circuit members.
type RouteType string

const (
	RouteUnset   RouteType = ""
	RouteAny     RouteType = "Any"
	RouteRequire RouteType = "RequireDirect"
)

// CircuitStatus is the lifecycle state of a committed circuit.
type CircuitStatus string

const (
	CircuitStatusActive    CircuitStatus = "Active"
	CircuitStatusDisbanded CircuitStatus = "Disbanded"
	CircuitStatusAbandoned CircuitStatus = "Abandoned"
)

// CircuitNode is a member node plus the endpoints it can be reached at.
type CircuitNode struct {
	NodeID    string   `json:"node_id"`
	Endpoints []string `json:"endpoints"`
}

// Service is a single roster entry: a service instance bound to exactly one
// allowed node.
type Service struct {
	ServiceID    string            `json:"service_id"`
	ServiceType  string            `json:"service_type"`
	AllowedNodes []string          `json:"allowed_nodes"`
	Arguments    []Argument        `json:"arguments"`
}

// Argument is one ordered key/value pair in a service's argument list.
// A slice (rather than a map) preserves the ordering the canonical encoding
// requires.
type Argument struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Circuit is an active, disbanded, or abandoned multi-party agreement.
type Circuit struct {
	CircuitID           string            `json:"circuit_id"`
	Members             []CircuitNode     `json:"members"`
	Roster              []Service         `json:"roster"`
	AuthorizationType   AuthorizationType `json:"authorization_type"`
	Persistence         Persistence       `json:"persistence"`
	Durability          Durability        `json:"durability"`
	Routes              RouteType         `json:"routes"`
	ManagementType      string            `json:"management_type"`
	DisplayName         string            `json:"display_name,omitempty"`
	Comments            string            `json:"comments,omitempty"`
	ApplicationMetadata []byte            `json:"application_metadata,omitempty"`
	CircuitVersion      int               `json:"circuit_version"`
	CircuitStatus       CircuitStatus     `json:"circuit_status"`
}

// MemberNodeIDs returns the node ids of every member, in member order.
func (c *Circuit) MemberNodeIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.NodeID
	}
	return ids
}

// HasMember reports whether nodeID is a member of the circuit.
func (c *Circuit) HasMember(nodeID string) bool {
	for _, m := range c.Members {
		if m.NodeID == nodeID {
			return true
		}
	}
	return false
}

// ProposalType is the kind of change a CircuitProposal carries.
type ProposalType string

const (
	ProposalCreate       ProposalType = "Create"
	ProposalDisband      ProposalType = "Disband"
	ProposalUpdateRoster ProposalType = "UpdateRoster"
	ProposalAddNode      ProposalType = "AddNode"
	ProposalRemoveNode   ProposalType = "RemoveNode"
	ProposalDestroy      ProposalType = "Destroy"
)

// Vote is a voter's decision on a proposal.
type Vote string

const (
	VoteAccept Vote = "Accept"
	VoteReject Vote = "Reject"
)

// VoteRecord is one member's recorded vote on a proposal.
type VoteRecord struct {
	PublicKey   []byte `json:"public_key"`
	Vote        Vote   `json:"vote"`
	VoterNodeID string `json:"voter_node_id"`
}

// CircuitProposal is a pending change to circuit state, subject to member
// voting.
type CircuitProposal struct {
	ProposalType     ProposalType     `json:"proposal_type"`
	CircuitID        string           `json:"circuit_id"`
	CircuitHash      string           `json:"circuit_hash"`
	ProposedCircuit  Circuit          `json:"proposed_circuit"`
	Requester        []byte           `json:"requester"`
	RequesterNodeID  string           `json:"requester_node_id"`
	Votes            []VoteRecord     `json:"votes"`
}

// HasVoted reports whether voterNodeID has already cast a vote.
func (p *CircuitProposal) HasVoted(voterNodeID string) bool {
	for _, v := range p.Votes {
		if v.VoterNodeID == voterNodeID {
			return true
		}
	}
	return false
}

// VoterNodeIDs returns the node ids of every member who has voted.
func (p *CircuitProposal) VoterNodeIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(p.Votes))
	for _, v := range p.Votes {
		out[v.VoterNodeID] = struct{}{}
	}
	return out
}

// ApprovalState is the outcome of tallying a proposal's votes.
type ApprovalState int

const (
	ApprovalPending ApprovalState = iota
	ApprovalAccepted
	ApprovalRejected
)

// EventType enumerates the kinds of AdminServiceEvent the coordinator emits.
type EventType string

const (
	EventProposalSubmitted          EventType = "ProposalSubmitted"
	EventProposalVote                EventType = "ProposalVote"
	EventProposalAccepted            EventType = "ProposalAccepted"
	EventProposalRejected            EventType = "ProposalRejected"
	EventCircuitReady                EventType = "CircuitReady"
	EventCircuitDisbanded            EventType = "CircuitDisbanded"
	EventCircuitAbandoned            EventType = "CircuitAbandoned"
	EventServiceInitializationFailed EventType = "ServiceInitializationFailed"
)

// AdminServiceEvent is one durable, fanned-out notification of coordinator
// activity.
type AdminServiceEvent struct {
	EventID        uint64       `json:"event_id"`
	EventType      EventType    `json:"event_type"`
	ManagementType string       `json:"management_type"`
	Proposal       CircuitProposal `json:"proposal"`
	SignerPublicKey []byte      `json:"signer_public_key,omitempty"`
	Detail         string       `json:"detail,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// uninitializedCircuit is a transient record tracking which members have
// broadcast MemberReady for a just-committed create proposal.
type uninitializedCircuit struct {
	Proposal     CircuitProposal
	ReadyMembers map[string]struct{}
}

// pendingDisband is the symmetric transient record used during disband
// cleanup.
type pendingDisband struct {
	Proposal     CircuitProposal
	ReadyMembers map[string]struct{}
}
