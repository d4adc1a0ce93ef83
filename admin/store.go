package admin

// CircuitPredicate filters circuits during ListCircuits.
type CircuitPredicate func(*Circuit) bool

// ProposalPredicate filters proposals during ListProposals.
type ProposalPredicate func(*CircuitProposal) bool

// WithManagementType restricts a circuit list to circuits of the given
// management type.
func WithManagementType(managementType string) CircuitPredicate {
	return func(c *Circuit) bool { return c.ManagementType == managementType }
}

// WithMember restricts a proposal list to proposals whose proposed circuit
// includes nodeID as a member.
func WithMember(nodeID string) ProposalPredicate {
	return func(p *CircuitProposal) bool { return p.ProposedCircuit.HasMember(nodeID) }
}

// AdminStore is the persistent record of circuits, proposals, member nodes,
// and the durable event log. The coordinator core treats it purely as
// an interface; this package additionally ships a MemStore (tests) and, in
// admin/leveldbstore, a leveldb-backed implementation for the daemon.
type AdminStore interface {
	GetProposal(circuitID string) (*CircuitProposal, bool, error)
	AddProposal(p *CircuitProposal) error
	UpdateProposal(p *CircuitProposal) error
	RemoveProposal(circuitID string) error
	ListProposals(predicates ...ProposalPredicate) ([]*CircuitProposal, error)

	GetCircuit(circuitID string) (*Circuit, bool, error)
	AddCircuit(c *Circuit) error
	UpdateCircuit(c *Circuit) error
	RemoveCircuit(circuitID string) error
	ListCircuits(predicates ...CircuitPredicate) ([]*Circuit, error)

	// UpgradeProposalToCircuit atomically removes the proposal and persists
	// the accepted circuit, so a crash can never observe neither or both.
	UpgradeProposalToCircuit(circuitID string, c *Circuit) error

	ListNodes() ([]CircuitNode, error)

	AddEvent(evt *AdminServiceEvent) (uint64, error)
	ListEventsByManagementTypeSince(managementType string, sinceEventID uint64) ([]*AdminServiceEvent, error)

	// RecordServiceIntent persists a start/stop/purge intent for a service
	// before the orchestrator issues the corresponding call, so a crash
	// mid-operation leaves a recoverable record instead of silent drift.
	RecordServiceIntent(circuitID, serviceID, intent string) error
	// ClearServiceIntent removes a previously recorded intent once the
	// orchestrator call has returned.
	ClearServiceIntent(circuitID, serviceID string) error
	// ListServiceIntents returns every outstanding (unfinished) intent, for
	// crash-recovery sweeps at startup.
	ListServiceIntents() (map[string]string, error)
}
