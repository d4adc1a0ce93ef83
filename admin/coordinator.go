package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"circuitadmin/observability/logging"
)

// Config holds the per-node parameters the coordinator needs to validate and
// negotiate submissions.
type Config struct {
	SelfNodeID             string
	ProtocolMin            uint32
	ProtocolMax            uint32
	CircuitProtocolVersion uint32
}

// Deps bundles every collaborator CoordinatorCore depends on. Tests and
// cmd/admind both build one of these and hand it to New.
type Deps struct {
	Store         AdminStore
	Peers         PeerConnector
	Orchestrator  ServiceOrchestrator
	Routing       RoutingTableWriter
	Verifier      SignatureVerifier
	KeyVerifier   KeyVerifier
	Permissions   KeyPermissionManager
	Consensus     ConsensusAdapter
	Network       NetworkSender
	Events        *EventFanout
	ArgValidators map[string]ServiceArgValidator
	Logger        *slog.Logger
}

// pendingChangeRecord is the single outstanding slot a ConsensusAdapter may
// occupy between OnProposalReceived and the matching Commit/Rollback.
type pendingChangeRecord struct {
	proposal  CircuitProposal
	payload   CircuitManagementPayload
	senderTag string
}

// Coordinator is CoordinatorCore: the replicated state machine that
// validates, proposes, orders, and commits circuit lifecycle changes. It
// implements ConsensusSink and PeerConnectHandler so its collaborators can
// drive it directly.
type Coordinator struct {
	cfg Config

	store         AdminStore
	peers         PeerConnector
	orchestrator  ServiceOrchestrator
	routing       RoutingTableWriter
	verifier      SignatureVerifier
	keyVerifier   KeyVerifier
	permissions   KeyPermissionManager
	argValidators map[string]ServiceArgValidator
	consensus     ConsensusAdapter
	network       NetworkSender
	events        *EventFanout
	logger        *slog.Logger

	mu              sync.Mutex
	queue           *PayloadQueue
	agreedProtocol  map[string]uint32
	uninitCircuits  map[string]*uninitializedCircuit
	pendingDisbands map[string]*pendingDisband
	pending         *pendingChangeRecord
}

// New wires every collaborator into a running Coordinator. If deps.Peers is a
// *LocalPeerConnector, the coordinator registers itself as its
// PeerConnectHandler; if deps.Consensus is non-nil, the coordinator registers
// itself as its ConsensusSink.
func New(cfg Config, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		cfg:             cfg,
		store:           deps.Store,
		peers:           deps.Peers,
		orchestrator:    deps.Orchestrator,
		routing:         deps.Routing,
		verifier:        deps.Verifier,
		keyVerifier:     deps.KeyVerifier,
		permissions:     deps.Permissions,
		argValidators:   deps.ArgValidators,
		consensus:       deps.Consensus,
		network:         deps.Network,
		events:          deps.Events,
		logger:          logger,
		queue:           NewPayloadQueue(),
		agreedProtocol:  make(map[string]uint32),
		uninitCircuits:  make(map[string]*uninitializedCircuit),
		pendingDisbands: make(map[string]*pendingDisband),
	}
	c.agreedProtocol[cfg.SelfNodeID] = cfg.ProtocolMax
	if lp, ok := deps.Peers.(*LocalPeerConnector); ok {
		lp.SetHandler(c)
	}
	if deps.Consensus != nil {
		deps.Consensus.SetSink(c)
	}
	return c
}

func (c *Coordinator) validationContext() *validationContext {
	return &validationContext{
		selfNodeID:      c.cfg.SelfNodeID,
		keyVerifier:     c.keyVerifier,
		permissions:     c.permissions,
		argValidators:   c.argValidators,
		circuitProtocol: c.cfg.CircuitProtocolVersion,
	}
}

// Submit is the single admission entrypoint for every payload, whether it
// originates from a local client or arrives from a peer. It checks the
// signature first, then dispatches to the action-specific grammar.
func (c *Coordinator) Submit(payload CircuitManagementPayload) error {
	if c.verifier != nil && !c.verifier.Verify(payload.RequesterPubKey, payload.HeaderBytes, payload.Signature) {
		return ErrSignatureInvalid
	}
	switch payload.Action {
	case ActionCreateCircuit:
		return c.submitCreate(payload)
	case ActionVote:
		return c.submitVote(payload)
	case ActionDisband:
		return c.submitDisband(payload)
	case ActionPurge:
		return c.submitPurge(payload)
	case ActionAbandon:
		return c.submitAbandon(payload)
	default:
		return ErrUnknownAction
	}
}

func (c *Coordinator) minAgreedProtocol(members []string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	min := c.cfg.ProtocolMax
	for _, m := range members {
		if m == c.cfg.SelfNodeID {
			continue
		}
		v, ok := c.agreedProtocol[m]
		if !ok {
			return 0
		}
		if v < min {
			min = v
		}
	}
	return min
}

func (c *Coordinator) submitCreate(payload CircuitManagementPayload) error {
	req := payload.CreateCircuit
	if req == nil {
		return newValidationError("missing create_circuit request")
	}
	circuitID := req.Circuit.CircuitID
	_, existingProposal, err := c.store.GetProposal(circuitID)
	if err != nil {
		return wrapStoreErr("get_proposal", err)
	}
	_, existingCircuit, err := c.store.GetCircuit(circuitID)
	if err != nil {
		return wrapStoreErr("get_circuit", err)
	}
	if existingProposal {
		return ErrDuplicateProposal
	}
	if existingCircuit {
		return ErrDuplicateCircuit
	}

	agreed := c.minAgreedProtocol(req.Circuit.MemberNodeIDs())
	vc := c.validationContext()
	if err := vc.validateCreateCircuit(req, payload.RequesterNodeID, payload.RequesterPubKey, existingProposal, existingCircuit, agreed); err != nil {
		return err
	}

	proposal := CircuitProposal{
		ProposalType:    ProposalCreate,
		CircuitID:       circuitID,
		CircuitHash:     CircuitHash(&req.Circuit),
		ProposedCircuit: req.Circuit,
		Requester:       payload.RequesterPubKey,
		RequesterNodeID: payload.RequesterNodeID,
	}
	return c.admitAndDispatch(proposal, payload, true)
}

func (c *Coordinator) submitVote(payload CircuitManagementPayload) error {
	req := payload.Vote
	if req == nil {
		return newValidationError("missing vote request")
	}
	proposal, ok, err := c.store.GetProposal(req.CircuitID)
	if err != nil {
		return wrapStoreErr("get_proposal", err)
	}
	if !ok {
		return newValidationError("no pending proposal for circuit_id %q", req.CircuitID)
	}

	vc := c.validationContext()
	if err := vc.validateVote(proposal, payload.RequesterNodeID, payload.RequesterPubKey, req.CircuitHash); err != nil {
		return err
	}

	updated := *proposal
	updated.Votes = append(append([]VoteRecord(nil), proposal.Votes...), VoteRecord{
		PublicKey:   payload.RequesterPubKey,
		Vote:        req.Vote,
		VoterNodeID: payload.RequesterNodeID,
	})
	return c.admitAndDispatch(updated, payload, false)
}

func (c *Coordinator) submitDisband(payload CircuitManagementPayload) error {
	req := payload.Disband
	if req == nil {
		return newValidationError("missing disband request")
	}
	circuit, ok, err := c.store.GetCircuit(req.CircuitID)
	if err != nil {
		return wrapStoreErr("get_circuit", err)
	}
	if !ok {
		circuit = nil
	}
	_, hasPendingDisband, err := c.store.GetProposal(req.CircuitID)
	if err != nil {
		return wrapStoreErr("get_proposal", err)
	}

	vc := c.validationContext()
	if err := vc.validateDisband(circuit, payload.RequesterNodeID, payload.RequesterPubKey, hasPendingDisband, c.cfg.CircuitProtocolVersion); err != nil {
		return err
	}

	proposal := CircuitProposal{
		ProposalType:    ProposalDisband,
		CircuitID:       req.CircuitID,
		CircuitHash:     CircuitHash(circuit),
		ProposedCircuit: *circuit,
		Requester:       payload.RequesterPubKey,
		RequesterNodeID: payload.RequesterNodeID,
	}
	return c.admitAndDispatch(proposal, payload, false)
}

func (c *Coordinator) submitPurge(payload CircuitManagementPayload) error {
	req := payload.Purge
	if req == nil {
		return newValidationError("missing purge request")
	}
	circuit, ok, err := c.store.GetCircuit(req.CircuitID)
	if err != nil {
		return wrapStoreErr("get_circuit", err)
	}
	if !ok {
		circuit = nil
	}

	vc := c.validationContext()
	if err := vc.validatePurge(circuit, payload.RequesterNodeID, payload.RequesterPubKey, c.cfg.CircuitProtocolVersion); err != nil {
		return err
	}

	for _, svc := range circuit.Roster {
		if !isLocalService(svc, c.cfg.SelfNodeID) {
			continue
		}
		if err := c.orchestrator.PurgeService(circuit.CircuitID, svc); err != nil {
			c.logger.Warn("purge service failed",
				logging.MaskField("circuit_id", circuit.CircuitID),
				slog.String("service_id", svc.ServiceID),
				slog.Any("error", err))
		}
	}
	return wrapStoreErr("remove_circuit", c.store.RemoveCircuit(req.CircuitID))
}

func (c *Coordinator) submitAbandon(payload CircuitManagementPayload) error {
	req := payload.Abandon
	if req == nil {
		return newValidationError("missing abandon request")
	}
	circuit, ok, err := c.store.GetCircuit(req.CircuitID)
	if err != nil {
		return wrapStoreErr("get_circuit", err)
	}
	if !ok {
		circuit = nil
	}

	vc := c.validationContext()
	if err := vc.validateAbandon(circuit, payload.RequesterNodeID, payload.RequesterPubKey, c.cfg.CircuitProtocolVersion); err != nil {
		return err
	}

	updated := *circuit
	updated.CircuitStatus = CircuitStatusAbandoned
	if err := c.store.UpdateCircuit(&updated); err != nil {
		return wrapStoreErr("update_circuit", err)
	}
	c.leaveActive(&updated)

	c.publishEvent(EventCircuitAbandoned, CircuitProposal{
		ProposalType:    ProposalDestroy,
		CircuitID:       updated.CircuitID,
		ProposedCircuit: updated,
		RequesterNodeID: payload.RequesterNodeID,
	}, payload.RequesterPubKey, "")

	for _, member := range updated.MemberNodeIDs() {
		if member == c.cfg.SelfNodeID {
			continue
		}
		if err := c.network.SendAbandonedCircuit(member, AbandonedCircuit{CircuitID: updated.CircuitID, MemberNodeID: c.cfg.SelfNodeID}); err != nil {
			c.logger.Warn("send abandoned circuit failed", logging.MaskField("node_id", member), slog.Any("error", err))
		}
	}
	return nil
}

func isLocalService(svc Service, selfNodeID string) bool {
	return len(svc.AllowedNodes) == 1 && svc.AllowedNodes[0] == selfNodeID
}

// admitMembers acquires (for a create) or checks (for a vote/disband) peer
// references for every non-self member, reporting which are not yet peered
// and which have no cached protocol agreement.
func (c *Coordinator) admitMembers(members []string, acquireRefs bool) (unpeered, missingProtocol map[string]struct{}) {
	unpeered = make(map[string]struct{})
	missingProtocol = make(map[string]struct{})
	for _, nodeID := range members {
		if nodeID == c.cfg.SelfNodeID {
			continue
		}
		var peered bool
		if acquireRefs {
			p, _ := c.peers.AddPeerRef(nodeID)
			peered = p
		} else {
			peered = c.peers.IsPeered(nodeID)
		}
		if !peered {
			unpeered[nodeID] = struct{}{}
			continue
		}
		c.mu.Lock()
		_, known := c.agreedProtocol[nodeID]
		c.mu.Unlock()
		if !known {
			missingProtocol[nodeID] = struct{}{}
		}
	}
	return unpeered, missingProtocol
}

// admitAndDispatch queues proposal/payload behind whatever peering and
// protocol negotiation it still needs, dispatching to consensus immediately
// if it already needs neither.
func (c *Coordinator) admitAndDispatch(proposal CircuitProposal, payload CircuitManagementPayload, acquireRefs bool) error {
	members := proposal.ProposedCircuit.MemberNodeIDs()
	unpeered, missingProtocol := c.admitMembers(members, acquireRefs)

	pp := &PendingPayload{
		ID:                 proposal.CircuitID,
		UnpeeredIDs:        unpeered,
		MissingProtocolIDs: missingProtocol,
		Members:            members,
		Kind:               PayloadKindCircuit,
		Proposal:           proposal,
		Payload:            payload,
		MessageSender:      payload.RequesterNodeID,
	}

	c.mu.Lock()
	c.queue.Enqueue(pp)
	ready := len(unpeered) == 0 && len(missingProtocol) == 0
	c.mu.Unlock()

	for nodeID := range missingProtocol {
		c.requestProtocolVersion(nodeID)
	}
	if ready {
		c.mu.Lock()
		c.queue.Remove(pp.ID)
		c.mu.Unlock()
		return c.dispatchToConsensus(pp)
	}
	return nil
}

type consensusEnvelope struct {
	Proposal CircuitProposal          `json:"proposal"`
	Payload  CircuitManagementPayload `json:"payload"`
}

func encodeConsensusBody(proposal CircuitProposal, payload CircuitManagementPayload) ([]byte, error) {
	return json.Marshal(consensusEnvelope{Proposal: proposal, Payload: payload})
}

func (c *Coordinator) dispatchToConsensus(pp *PendingPayload) error {
	body, err := encodeConsensusBody(pp.Proposal, pp.Payload)
	if err != nil {
		return fmt.Errorf("admin: encode consensus body: %w", err)
	}
	return c.consensus.Propose(pp.ID, pp.Members, pp.Proposal.CircuitHash, body)
}

// OnProposalReceived occupies the single pending-change slot.
func (c *Coordinator) OnProposalReceived(proposal CircuitProposal, payload CircuitManagementPayload, senderTag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return fmt.Errorf("admin: consensus pending-change slot already occupied")
	}
	c.pending = &pendingChangeRecord{proposal: proposal, payload: payload, senderTag: senderTag}
	return nil
}

// Commit applies and releases the pending-change slot.
func (c *Coordinator) Commit() error {
	c.mu.Lock()
	pc := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pc == nil {
		return nil
	}
	return c.applyCommittedChange(pc)
}

// Rollback discards the pending-change slot without applying it.
func (c *Coordinator) Rollback() error {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) applyCommittedChange(pc *pendingChangeRecord) error {
	switch pc.payload.Action {
	case ActionCreateCircuit:
		return c.applyCreateSubmission(&pc.proposal)
	case ActionVote:
		return c.applyVote(&pc.proposal)
	case ActionDisband:
		return c.applyDisbandSubmission(&pc.proposal)
	default:
		return ErrUnknownAction
	}
}

func (c *Coordinator) applyCreateSubmission(proposal *CircuitProposal) error {
	if err := c.store.AddProposal(proposal); err != nil {
		return wrapStoreErr("add_proposal", err)
	}
	c.publishEvent(EventProposalSubmitted, *proposal, nil, "")
	return c.evaluate(proposal)
}

func (c *Coordinator) applyDisbandSubmission(proposal *CircuitProposal) error {
	if err := c.store.AddProposal(proposal); err != nil {
		return wrapStoreErr("add_proposal", err)
	}
	c.publishEvent(EventProposalSubmitted, *proposal, nil, "")
	return c.evaluate(proposal)
}

func (c *Coordinator) applyVote(proposal *CircuitProposal) error {
	if err := c.store.UpdateProposal(proposal); err != nil {
		return wrapStoreErr("update_proposal", err)
	}
	last := proposal.Votes[len(proposal.Votes)-1]
	c.publishEvent(EventProposalVote, *proposal, last.PublicKey, string(last.Vote))
	return c.evaluate(proposal)
}

// checkApproved tallies votes against every member other than the requester:
// one Reject fails the proposal outright, otherwise it is Accepted once every
// other member has voted Accept.
func (c *Coordinator) checkApproved(proposal *CircuitProposal) ApprovalState {
	required := 0
	for _, id := range proposal.ProposedCircuit.MemberNodeIDs() {
		if id != proposal.RequesterNodeID {
			required++
		}
	}
	accept, reject := 0, 0
	for _, v := range proposal.Votes {
		switch v.Vote {
		case VoteAccept:
			accept++
		case VoteReject:
			reject++
		}
	}
	if reject > 0 {
		return ApprovalRejected
	}
	if accept >= required {
		return ApprovalAccepted
	}
	return ApprovalPending
}

func (c *Coordinator) evaluate(proposal *CircuitProposal) error {
	switch c.checkApproved(proposal) {
	case ApprovalAccepted:
		if proposal.ProposalType == ProposalCreate {
			return c.acceptCreate(proposal)
		}
		return c.acceptDisband(proposal)
	case ApprovalRejected:
		return c.rejectProposal(proposal, "a member rejected the proposal")
	default:
		return nil
	}
}

func (c *Coordinator) acceptCreate(proposal *CircuitProposal) error {
	circuit := proposal.ProposedCircuit
	circuit.CircuitStatus = CircuitStatusActive
	if circuit.CircuitVersion == 0 {
		circuit.CircuitVersion = int(c.cfg.CircuitProtocolVersion)
	}
	if err := c.store.UpgradeProposalToCircuit(circuit.CircuitID, &circuit); err != nil {
		return wrapStoreErr("upgrade_proposal_to_circuit", err)
	}
	if err := c.routing.AddCircuit(&circuit); err != nil {
		c.logger.Warn("add circuit to routing table failed", logging.MaskField("circuit_id", circuit.CircuitID), slog.Any("error", err))
	}

	c.mu.Lock()
	c.uninitCircuits[circuit.CircuitID] = &uninitializedCircuit{
		Proposal:     *proposal,
		ReadyMembers: map[string]struct{}{c.cfg.SelfNodeID: {}},
	}
	c.mu.Unlock()

	c.publishEvent(EventProposalAccepted, *proposal, nil, "")

	for _, member := range circuit.MemberNodeIDs() {
		if member == c.cfg.SelfNodeID {
			continue
		}
		if err := c.network.SendMemberReady(member, MemberReady{CircuitID: circuit.CircuitID, MemberNodeID: c.cfg.SelfNodeID}); err != nil {
			c.logger.Warn("send member ready failed", logging.MaskField("node_id", member), slog.Any("error", err))
		}
	}

	c.attemptCreateReadyCleanup(circuit.CircuitID)
	return nil
}

// HandleMemberReady records a remote member's readiness for a just-committed
// create proposal.
func (c *Coordinator) HandleMemberReady(msg MemberReady) error {
	c.mu.Lock()
	uc, ok := c.uninitCircuits[msg.CircuitID]
	if ok {
		uc.ReadyMembers[msg.MemberNodeID] = struct{}{}
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.attemptCreateReadyCleanup(msg.CircuitID)
	return nil
}

func (c *Coordinator) attemptCreateReadyCleanup(circuitID string) {
	c.mu.Lock()
	uc, ok := c.uninitCircuits[circuitID]
	if !ok {
		c.mu.Unlock()
		return
	}
	complete := len(uc.ReadyMembers) >= len(uc.Proposal.ProposedCircuit.Members)
	proposal := uc.Proposal
	if complete {
		delete(c.uninitCircuits, circuitID)
	}
	c.mu.Unlock()
	if complete {
		for _, svc := range proposal.ProposedCircuit.Roster {
			if isLocalService(svc, c.cfg.SelfNodeID) {
				if err := c.orchestrator.InitializeService(circuitID, svc); err != nil {
					c.publishEvent(EventServiceInitializationFailed, proposal, nil, fmt.Sprintf("service %s: %v", svc.ServiceID, err))
				}
			}
		}
		c.publishEvent(EventCircuitReady, proposal, nil, "")
	}
}

func (c *Coordinator) acceptDisband(proposal *CircuitProposal) error {
	circuit := proposal.ProposedCircuit
	circuit.CircuitStatus = CircuitStatusDisbanded
	if err := c.store.UpdateCircuit(&circuit); err != nil {
		return wrapStoreErr("update_circuit", err)
	}
	if err := c.store.RemoveProposal(circuit.CircuitID); err != nil {
		return wrapStoreErr("remove_proposal", err)
	}
	c.leaveActive(&circuit)

	c.mu.Lock()
	c.pendingDisbands[circuit.CircuitID] = &pendingDisband{
		Proposal:     *proposal,
		ReadyMembers: map[string]struct{}{c.cfg.SelfNodeID: {}},
	}
	c.mu.Unlock()

	c.publishEvent(EventProposalAccepted, *proposal, nil, "")

	for _, member := range circuit.MemberNodeIDs() {
		if member == c.cfg.SelfNodeID {
			continue
		}
		if err := c.network.SendDisbandedCircuit(member, DisbandedCircuit{CircuitID: circuit.CircuitID, MemberNodeID: c.cfg.SelfNodeID}); err != nil {
			c.logger.Warn("send disbanded circuit failed", logging.MaskField("node_id", member), slog.Any("error", err))
		}
	}

	c.attemptDisbandCleanup(circuit.CircuitID)
	return nil
}

// HandleDisbandedCircuit records a remote member's readiness for a
// just-committed disband proposal.
func (c *Coordinator) HandleDisbandedCircuit(msg DisbandedCircuit) error {
	c.mu.Lock()
	pd, ok := c.pendingDisbands[msg.CircuitID]
	if ok {
		pd.ReadyMembers[msg.MemberNodeID] = struct{}{}
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.attemptDisbandCleanup(msg.CircuitID)
	return nil
}

func (c *Coordinator) attemptDisbandCleanup(circuitID string) {
	c.mu.Lock()
	pd, ok := c.pendingDisbands[circuitID]
	if !ok {
		c.mu.Unlock()
		return
	}
	complete := len(pd.ReadyMembers) >= len(pd.Proposal.ProposedCircuit.Members)
	proposal := pd.Proposal
	if complete {
		delete(c.pendingDisbands, circuitID)
	}
	c.mu.Unlock()
	if complete {
		c.publishEvent(EventCircuitDisbanded, proposal, nil, "")
	}
}

// HandleAbandonedCircuit applies a remote member's unilateral abandon to the
// local view of the same circuit, if still Active.
func (c *Coordinator) HandleAbandonedCircuit(msg AbandonedCircuit) error {
	circuit, ok, err := c.store.GetCircuit(msg.CircuitID)
	if err != nil {
		return wrapStoreErr("get_circuit", err)
	}
	if !ok || circuit.CircuitStatus != CircuitStatusActive {
		return nil
	}
	updated := *circuit
	updated.CircuitStatus = CircuitStatusAbandoned
	if err := c.store.UpdateCircuit(&updated); err != nil {
		return wrapStoreErr("update_circuit", err)
	}
	c.leaveActive(&updated)
	return nil
}

func (c *Coordinator) rejectProposal(proposal *CircuitProposal, reason string) error {
	if err := c.store.RemoveProposal(proposal.CircuitID); err != nil {
		return wrapStoreErr("remove_proposal", err)
	}
	if proposal.ProposalType == ProposalCreate {
		for _, member := range proposal.ProposedCircuit.MemberNodeIDs() {
			if member == c.cfg.SelfNodeID {
				continue
			}
			_ = c.peers.ReleasePeerRef(member)
		}
	}
	c.publishEvent(EventProposalRejected, *proposal, nil, reason)
	return nil
}

// leaveActive stops locally-hosted services, releases peer references, and
// drops the routing entry for a circuit that just left the Active status
// (disband or abandon completion) — never called for purge, which affects
// neither peers nor routing.
func (c *Coordinator) leaveActive(circuit *Circuit) {
	for _, svc := range circuit.Roster {
		if !isLocalService(svc, c.cfg.SelfNodeID) {
			continue
		}
		if err := c.orchestrator.StopService(circuit.CircuitID, svc); err != nil {
			c.logger.Warn("stop service failed",
				logging.MaskField("circuit_id", circuit.CircuitID),
				slog.String("service_id", svc.ServiceID),
				slog.Any("error", err))
		}
	}
	for _, member := range circuit.MemberNodeIDs() {
		if member == c.cfg.SelfNodeID {
			continue
		}
		_ = c.peers.ReleasePeerRef(member)
	}
	if err := c.routing.RemoveCircuit(circuit.CircuitID); err != nil {
		c.logger.Warn("remove circuit from routing table failed", logging.MaskField("circuit_id", circuit.CircuitID), slog.Any("error", err))
	}
}

func (c *Coordinator) publishEvent(t EventType, proposal CircuitProposal, signer []byte, detail string) {
	if c.events == nil {
		return
	}
	if _, err := c.events.Publish(AdminServiceEvent{
		EventType:       t,
		ManagementType:  proposal.ProposedCircuit.ManagementType,
		Proposal:        proposal,
		SignerPublicKey: signer,
		Detail:          detail,
	}); err != nil {
		c.logger.Error("publish event failed", slog.String("event_type", string(t)), slog.Any("error", err))
	}
}

// HandleProtocolVersionRequest answers a peer's version negotiation request
// with the highest version both ends support, or 0 if their ranges don't
// overlap.
func (c *Coordinator) HandleProtocolVersionRequest(req ServiceProtocolVersionRequest) ServiceProtocolVersionResponse {
	lo := req.ProtocolMin
	if c.cfg.ProtocolMin > lo {
		lo = c.cfg.ProtocolMin
	}
	hi := req.ProtocolMax
	if c.cfg.ProtocolMax < hi {
		hi = c.cfg.ProtocolMax
	}
	if hi < lo {
		return ServiceProtocolVersionResponse{Protocol: 0}
	}
	return ServiceProtocolVersionResponse{Protocol: hi}
}

// HandleProtocolVersionResponse records nodeID's negotiated protocol version
// and resumes any queued payloads that were waiting on it.
func (c *Coordinator) HandleProtocolVersionResponse(nodeID string, resp ServiceProtocolVersionResponse) error {
	c.onProtocolAgreement(nodeID, resp.Protocol)
	return nil
}

func (c *Coordinator) requestProtocolVersion(nodeID string) {
	req := ServiceProtocolVersionRequest{ProtocolMin: c.cfg.ProtocolMin, ProtocolMax: c.cfg.ProtocolMax}
	if err := c.network.SendProtocolVersionRequest(nodeID, req); err != nil {
		c.logger.Warn("protocol version request failed", logging.MaskField("node_id", nodeID), slog.Any("error", err))
	}
}

func (c *Coordinator) onProtocolAgreement(nodeID string, version uint32) {
	c.mu.Lock()
	c.agreedProtocol[nodeID] = version
	ready, dropped := c.queue.OnProtocolAgreement(nodeID, version)
	c.mu.Unlock()

	for _, pp := range dropped {
		for _, member := range pp.Members {
			if member == c.cfg.SelfNodeID {
				continue
			}
			_ = c.peers.ReleasePeerRef(member)
		}
	}
	for _, pp := range ready {
		c.mu.Lock()
		c.queue.Remove(pp.ID)
		c.mu.Unlock()
		if err := c.dispatchToConsensus(pp); err != nil {
			c.logger.Error("dispatch to consensus failed", slog.String("proposal_id", pp.ID), slog.Any("error", err))
		}
	}
}

// OnPeerConnected resumes queued payloads that were waiting on nodeID's
// peering. When at least one payload moved on, it reuses a cached protocol
// agreement for nodeID or requests one; when none moved, it sends no
// protocol request.
func (c *Coordinator) OnPeerConnected(nodeID string) {
	c.mu.Lock()
	moved := c.queue.OnPeerConnected(nodeID)
	version, known := c.agreedProtocol[nodeID]
	c.mu.Unlock()
	if len(moved) == 0 {
		return
	}
	if known {
		c.onProtocolAgreement(nodeID, version)
		return
	}
	c.requestProtocolVersion(nodeID)
}

// OnPeerDisconnected clears any cached protocol agreement for nodeID and
// moves affected queued payloads back to the unpeered stage.
func (c *Coordinator) OnPeerDisconnected(nodeID string) {
	c.mu.Lock()
	delete(c.agreedProtocol, nodeID)
	c.queue.OnPeerDisconnected(nodeID)
	c.mu.Unlock()
}
