// Package consensus provides a reference ConsensusAdapter for the circuit
// coordinator: a deterministic, single-process stand-in for a real ordered
// broadcast engine, so the coordinator is exercisable end-to-end without a
// separate BFT/Raft cluster.
package consensus

import (
	"encoding/json"
	"fmt"
	"sync"

	"circuitadmin/admin"
)

type job struct {
	proposal admin.CircuitProposal
	payload  admin.CircuitManagementPayload
}

// envelope is the wire shape of a proposal's consensus body: the proposal
// plus the payload that produced it, so the adapter can replay both halves
// to the sink.
type envelope struct {
	Proposal admin.CircuitProposal          `json:"proposal"`
	Payload  admin.CircuitManagementPayload `json:"payload"`
}

// InProcessAdapter is the reference ConsensusAdapter: propose enqueues
// synchronously and a single dedicated goroutine echoes
// OnProposalReceived followed immediately by Commit, one proposal at a time,
// in FIFO order — preserving the single-outstanding-pending-change rule with
// one goroutine owning the inbox.
type InProcessAdapter struct {
	senderTag string

	mu   sync.Mutex
	sink admin.ConsensusSink

	inbox chan job
	done  chan struct{}
}

// New constructs an InProcessAdapter. senderTag identifies this node's
// admin-service id in OnProposalReceived callbacks.
func New(senderTag string) *InProcessAdapter {
	a := &InProcessAdapter{
		senderTag: senderTag,
		inbox:     make(chan job, 256),
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

// Close stops the adapter's worker goroutine.
func (a *InProcessAdapter) Close() {
	close(a.done)
}

func (a *InProcessAdapter) SetSink(sink admin.ConsensusSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = sink
}

func (a *InProcessAdapter) Propose(proposalID string, verifiers []string, expectedHash string, body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("consensus: decode proposal body: %w", err)
	}
	select {
	case <-a.done:
		return fmt.Errorf("consensus: adapter closed")
	default:
	}
	select {
	case a.inbox <- job{proposal: env.Proposal, payload: env.Payload}:
		return nil
	case <-a.done:
		return fmt.Errorf("consensus: adapter closed")
	}
}

// EncodeBody is a convenience helper for callers constructing the body_bytes
// argument to Propose from a proposal and the payload that produced it.
func EncodeBody(proposal admin.CircuitProposal, payload admin.CircuitManagementPayload) ([]byte, error) {
	return json.Marshal(envelope{Proposal: proposal, Payload: payload})
}

func (a *InProcessAdapter) run() {
	for {
		select {
		case j := <-a.inbox:
			a.mu.Lock()
			sink := a.sink
			a.mu.Unlock()
			if sink == nil {
				continue
			}
			if err := sink.OnProposalReceived(j.proposal, j.payload, a.senderTag); err != nil {
				_ = sink.Rollback()
				continue
			}
			_ = sink.Commit()
		case <-a.done:
			return
		}
	}
}
