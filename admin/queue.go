package admin

// PayloadKind distinguishes a queued payload that has not yet been dispatched
// to consensus (Circuit) from one already carrying a proposal id awaiting
// peering/protocol agreement only (Consensus).
type PayloadKind int

const (
	PayloadKindCircuit PayloadKind = iota
	PayloadKindConsensus
)

// PendingPayload is a queued payload awaiting peering or protocol agreement
// before it can be dispatched (create/vote/disband) or executed (local
// replay).
type PendingPayload struct {
	ID                 string
	UnpeeredIDs        map[string]struct{}
	MissingProtocolIDs map[string]struct{}
	Members            []string
	Kind               PayloadKind
	Proposal           CircuitProposal
	Payload            CircuitManagementPayload
	MessageSender      string

	stage queueStage
}

type queueStage int

const (
	stageUnpeered queueStage = iota
	stageProtocol
	stageReady
)

// PayloadQueue implements the three FIFO stages a pending payload moves
// through: unpeered, protocol, and ready. All mutation happens under the
// coordinator's own lock, so this type itself does no internal locking — the
// queue is state the coordinator owns, not an independent actor.
type PayloadQueue struct {
	byID map[string]*PendingPayload

	unpeered []string
	protocol []string
	ready    []string
}

// NewPayloadQueue constructs an empty queue.
func NewPayloadQueue() *PayloadQueue {
	return &PayloadQueue{byID: make(map[string]*PendingPayload)}
}

// Enqueue inserts pp into the stage matching its current readiness.
func (q *PayloadQueue) Enqueue(pp *PendingPayload) {
	q.byID[pp.ID] = pp
	q.place(pp)
}

func (q *PayloadQueue) place(pp *PendingPayload) {
	switch {
	case len(pp.UnpeeredIDs) > 0:
		pp.stage = stageUnpeered
		q.unpeered = append(q.unpeered, pp.ID)
	case len(pp.MissingProtocolIDs) > 0:
		pp.stage = stageProtocol
		q.protocol = append(q.protocol, pp.ID)
	default:
		pp.stage = stageReady
		q.ready = append(q.ready, pp.ID)
	}
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// Remove drops pp from whichever stage currently holds it.
func (q *PayloadQueue) Remove(id string) {
	pp, ok := q.byID[id]
	if !ok {
		return
	}
	switch pp.stage {
	case stageUnpeered:
		q.unpeered = removeID(q.unpeered, id)
	case stageProtocol:
		q.protocol = removeID(q.protocol, id)
	case stageReady:
		q.ready = removeID(q.ready, id)
	}
	delete(q.byID, id)
}

// Get returns the pending payload with the given id, if queued.
func (q *PayloadQueue) Get(id string) (*PendingPayload, bool) {
	pp, ok := q.byID[id]
	return pp, ok
}

// OnPeerConnected removes nodeID from every unpeered entry's wait set and
// moves any entry that becomes fully peered into the protocol stage,
// returning the moved entries so the caller can trigger protocol requests
// for their members.
func (q *PayloadQueue) OnPeerConnected(nodeID string) []*PendingPayload {
	var moved []*PendingPayload
	remaining := q.unpeered[:0]
	for _, id := range q.unpeered {
		pp := q.byID[id]
		delete(pp.UnpeeredIDs, nodeID)
		if len(pp.UnpeeredIDs) == 0 {
			pp.stage = stageProtocol
			q.protocol = append(q.protocol, id)
			moved = append(moved, pp)
		} else {
			remaining = append(remaining, id)
		}
	}
	q.unpeered = remaining
	return moved
}

// OnPeerDisconnected re-adds nodeID to the missing-protocol set of every
// unpeered- or protocol-stage entry whose members include it, and moves the
// protocol-stage ones back to unpeered with nodeID as an unmet peer. The
// cached protocol agreement is cleared by the coordinator, not here.
func (q *PayloadQueue) OnPeerDisconnected(nodeID string) []*PendingPayload {
	for _, id := range q.unpeered {
		if pp := q.byID[id]; containsMember(pp.Members, nodeID) {
			pp.MissingProtocolIDs[nodeID] = struct{}{}
		}
	}
	var movedBack []*PendingPayload
	remaining := q.protocol[:0]
	for _, id := range q.protocol {
		pp := q.byID[id]
		if !containsMember(pp.Members, nodeID) {
			remaining = append(remaining, id)
			continue
		}
		pp.MissingProtocolIDs[nodeID] = struct{}{}
		pp.stage = stageUnpeered
		pp.UnpeeredIDs[nodeID] = struct{}{}
		q.unpeered = append(q.unpeered, id)
		movedBack = append(movedBack, pp)
	}
	q.protocol = remaining
	return movedBack
}

func containsMember(members []string, nodeID string) bool {
	for _, m := range members {
		if m == nodeID {
			return true
		}
	}
	return false
}

// OnProtocolAgreement records the agreed protocol version for nodeID. A
// version of 0 means no mutually supported version: every entry referencing
// it is dropped and returned so the caller can release their peer refs.
// Otherwise entries with no remaining missing protocol ids move to ready,
// and are returned for dispatch.
func (q *PayloadQueue) OnProtocolAgreement(nodeID string, version uint32) (ready []*PendingPayload, dropped []*PendingPayload) {
	if version == 0 {
		remaining := q.protocol[:0]
		for _, id := range q.protocol {
			pp := q.byID[id]
			if containsMember(pp.Members, nodeID) {
				dropped = append(dropped, pp)
				delete(q.byID, id)
				continue
			}
			remaining = append(remaining, id)
		}
		q.protocol = remaining

		remainingUnpeered := q.unpeered[:0]
		for _, id := range q.unpeered {
			pp := q.byID[id]
			if containsMember(pp.Members, nodeID) {
				dropped = append(dropped, pp)
				delete(q.byID, id)
				continue
			}
			remainingUnpeered = append(remainingUnpeered, id)
		}
		q.unpeered = remainingUnpeered
		return nil, dropped
	}

	remaining := q.protocol[:0]
	for _, id := range q.protocol {
		pp := q.byID[id]
		delete(pp.MissingProtocolIDs, nodeID)
		if len(pp.MissingProtocolIDs) == 0 {
			pp.stage = stageReady
			q.ready = append(q.ready, id)
			ready = append(ready, pp)
		} else {
			remaining = append(remaining, id)
		}
	}
	q.protocol = remaining
	return ready, nil
}
