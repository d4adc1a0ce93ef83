package admin

import (
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory AdminStore, used by tests and as the default
// store for a coordinator that does not need durability across restarts.
type MemStore struct {
	mu sync.RWMutex

	proposals map[string]*CircuitProposal
	circuits  map[string]*Circuit
	nodes     map[string]CircuitNode

	events    []*AdminServiceEvent
	nextEvent uint64

	intents map[string]string
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		proposals: make(map[string]*CircuitProposal),
		circuits:  make(map[string]*Circuit),
		nodes:     make(map[string]CircuitNode),
		nextEvent: 1,
		intents:   make(map[string]string),
	}
}

func intentKey(circuitID, serviceID string) string { return circuitID + "/" + serviceID }

func (s *MemStore) RecordServiceIntent(circuitID, serviceID, intent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intentKey(circuitID, serviceID)] = intent
	return nil
}

func (s *MemStore) ClearServiceIntent(circuitID, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.intents, intentKey(circuitID, serviceID))
	return nil
}

func (s *MemStore) ListServiceIntents() (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.intents))
	for k, v := range s.intents {
		out[k] = v
	}
	return out, nil
}

func cloneProposal(p *CircuitProposal) *CircuitProposal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Votes = append([]VoteRecord(nil), p.Votes...)
	cp.Requester = append([]byte(nil), p.Requester...)
	cp.ProposedCircuit = *cloneCircuit(&p.ProposedCircuit)
	return &cp
}

func cloneCircuit(c *Circuit) *Circuit {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Members = append([]CircuitNode(nil), c.Members...)
	cp.Roster = append([]Service(nil), c.Roster...)
	cp.ApplicationMetadata = append([]byte(nil), c.ApplicationMetadata...)
	return &cp
}

func (s *MemStore) GetProposal(circuitID string) (*CircuitProposal, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[circuitID]
	if !ok {
		return nil, false, nil
	}
	return cloneProposal(p), true, nil
}

func (s *MemStore) AddProposal(p *CircuitProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.CircuitID]; exists {
		return fmt.Errorf("proposal %s already exists", p.CircuitID)
	}
	s.proposals[p.CircuitID] = cloneProposal(p)
	return nil
}

func (s *MemStore) UpdateProposal(p *CircuitProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.proposals[p.CircuitID]; !exists {
		return fmt.Errorf("proposal %s not found", p.CircuitID)
	}
	s.proposals[p.CircuitID] = cloneProposal(p)
	return nil
}

func (s *MemStore) RemoveProposal(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proposals, circuitID)
	return nil
}

func (s *MemStore) ListProposals(predicates ...ProposalPredicate) ([]*CircuitProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.proposals))
	for id := range s.proposals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*CircuitProposal, 0, len(ids))
	for _, id := range ids {
		p := s.proposals[id]
		if matchesProposal(p, predicates) {
			out = append(out, cloneProposal(p))
		}
	}
	return out, nil
}

func matchesProposal(p *CircuitProposal, predicates []ProposalPredicate) bool {
	for _, pred := range predicates {
		if !pred(p) {
			return false
		}
	}
	return true
}

func (s *MemStore) GetCircuit(circuitID string) (*Circuit, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.circuits[circuitID]
	if !ok {
		return nil, false, nil
	}
	return cloneCircuit(c), true, nil
}

func (s *MemStore) AddCircuit(c *Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.circuits[c.CircuitID]; exists {
		return fmt.Errorf("circuit %s already exists", c.CircuitID)
	}
	s.circuits[c.CircuitID] = cloneCircuit(c)
	s.indexNodesLocked(c)
	return nil
}

func (s *MemStore) UpdateCircuit(c *Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.circuits[c.CircuitID]; !exists {
		return fmt.Errorf("circuit %s not found", c.CircuitID)
	}
	s.circuits[c.CircuitID] = cloneCircuit(c)
	s.indexNodesLocked(c)
	return nil
}

func (s *MemStore) RemoveCircuit(circuitID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circuits, circuitID)
	return nil
}

func (s *MemStore) ListCircuits(predicates ...CircuitPredicate) ([]*Circuit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.circuits))
	for id := range s.circuits {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Circuit, 0, len(ids))
	for _, id := range ids {
		c := s.circuits[id]
		if matchesCircuit(c, predicates) {
			out = append(out, cloneCircuit(c))
		}
	}
	return out, nil
}

func matchesCircuit(c *Circuit, predicates []CircuitPredicate) bool {
	for _, pred := range predicates {
		if !pred(c) {
			return false
		}
	}
	return true
}

func (s *MemStore) UpgradeProposalToCircuit(circuitID string, c *Circuit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proposals, circuitID)
	s.circuits[c.CircuitID] = cloneCircuit(c)
	s.indexNodesLocked(c)
	return nil
}

func (s *MemStore) indexNodesLocked(c *Circuit) {
	for _, m := range c.Members {
		s.nodes[m.NodeID] = m
	}
}

func (s *MemStore) ListNodes() ([]CircuitNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]CircuitNode, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.nodes[id])
	}
	return out, nil
}

func (s *MemStore) AddEvent(evt *AdminServiceEvent) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt.EventID = s.nextEvent
	s.nextEvent++
	cp := *evt
	cp.Proposal = *cloneProposal(&evt.Proposal)
	s.events = append(s.events, &cp)
	return cp.EventID, nil
}

func (s *MemStore) ListEventsByManagementTypeSince(managementType string, sinceEventID uint64) ([]*AdminServiceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AdminServiceEvent, 0)
	for _, evt := range s.events {
		if evt.EventID <= sinceEventID {
			continue
		}
		if managementType != "" && evt.ManagementType != managementType {
			continue
		}
		cp := *evt
		out = append(out, &cp)
	}
	return out, nil
}
