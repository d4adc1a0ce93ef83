package leveldbstore

import (
	"testing"

	"circuitadmin/admin"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleCircuit(id string) *admin.Circuit {
	return &admin.Circuit{
		CircuitID: id,
		Members: []admin.CircuitNode{
			{NodeID: "nodeA", Endpoints: []string{"tcp://a"}},
			{NodeID: "nodeB", Endpoints: []string{"tcp://b"}},
		},
		Roster: []admin.Service{
			{ServiceID: "ec01", ServiceType: "echo", AllowedNodes: []string{"nodeA"}},
		},
		AuthorizationType: admin.AuthorizationTrust,
		Persistence:       admin.PersistenceAny,
		Durability:        admin.DurabilityNone,
		Routes:            admin.RouteAny,
		ManagementType:    "echo",
		CircuitVersion:    2,
		CircuitStatus:     admin.CircuitStatusActive,
	}
}

func TestStoreProposalRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p := &admin.CircuitProposal{ProposalType: admin.ProposalCreate, CircuitID: "aaaaa-11111", RequesterNodeID: "nodeA"}

	if err := s.AddProposal(p); err != nil {
		t.Fatalf("add proposal: %v", err)
	}
	if err := s.AddProposal(p); err == nil {
		t.Fatal("expected error adding a duplicate proposal")
	}

	got, ok, err := s.GetProposal("aaaaa-11111")
	if err != nil || !ok {
		t.Fatalf("get proposal: ok=%v err=%v", ok, err)
	}
	if got.RequesterNodeID != "nodeA" {
		t.Fatalf("unexpected requester node id %q", got.RequesterNodeID)
	}

	got.Votes = append(got.Votes, admin.VoteRecord{VoterNodeID: "nodeB", Vote: admin.VoteAccept})
	if err := s.UpdateProposal(got); err != nil {
		t.Fatalf("update proposal: %v", err)
	}
	updated, _, _ := s.GetProposal("aaaaa-11111")
	if len(updated.Votes) != 1 {
		t.Fatalf("expected 1 vote after update, got %d", len(updated.Votes))
	}

	if err := s.RemoveProposal("aaaaa-11111"); err != nil {
		t.Fatalf("remove proposal: %v", err)
	}
	if _, ok, _ := s.GetProposal("aaaaa-11111"); ok {
		t.Fatal("expected proposal to be gone after removal")
	}
}

func TestStoreCircuitRoundTripAndNodeIndex(t *testing.T) {
	s := openTestStore(t)
	c := sampleCircuit("aaaaa-11111")

	if err := s.AddCircuit(c); err != nil {
		t.Fatalf("add circuit: %v", err)
	}
	if err := s.AddCircuit(c); err == nil {
		t.Fatal("expected error adding a duplicate circuit")
	}

	got, ok, err := s.GetCircuit("aaaaa-11111")
	if err != nil || !ok {
		t.Fatalf("get circuit: ok=%v err=%v", ok, err)
	}
	if got.CircuitStatus != admin.CircuitStatusActive {
		t.Fatalf("unexpected status %q", got.CircuitStatus)
	}

	nodes, err := s.ListNodes()
	if err != nil {
		t.Fatalf("list nodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 indexed nodes, got %d", len(nodes))
	}

	got.CircuitStatus = admin.CircuitStatusDisbanded
	if err := s.UpdateCircuit(got); err != nil {
		t.Fatalf("update circuit: %v", err)
	}
	updated, _, _ := s.GetCircuit("aaaaa-11111")
	if updated.CircuitStatus != admin.CircuitStatusDisbanded {
		t.Fatalf("expected disbanded status, got %q", updated.CircuitStatus)
	}

	if err := s.RemoveCircuit("aaaaa-11111"); err != nil {
		t.Fatalf("remove circuit: %v", err)
	}
	if _, ok, _ := s.GetCircuit("aaaaa-11111"); ok {
		t.Fatal("expected circuit to be gone after removal")
	}
}

func TestStoreUpgradeProposalToCircuit(t *testing.T) {
	s := openTestStore(t)
	p := &admin.CircuitProposal{ProposalType: admin.ProposalCreate, CircuitID: "aaaaa-11111", RequesterNodeID: "nodeA"}
	if err := s.AddProposal(p); err != nil {
		t.Fatalf("add proposal: %v", err)
	}

	c := sampleCircuit("aaaaa-11111")
	if err := s.UpgradeProposalToCircuit("aaaaa-11111", c); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	if _, ok, _ := s.GetProposal("aaaaa-11111"); ok {
		t.Fatal("expected proposal to be removed after upgrade")
	}
	if _, ok, _ := s.GetCircuit("aaaaa-11111"); !ok {
		t.Fatal("expected circuit to exist after upgrade")
	}
}

func TestStoreEventOrderingAndFilter(t *testing.T) {
	s := openTestStore(t)
	for i, mt := range []string{"echo", "other", "echo"} {
		id, err := s.AddEvent(&admin.AdminServiceEvent{EventType: admin.EventProposalSubmitted, ManagementType: mt, Detail: string(rune('a' + i))})
		if err != nil {
			t.Fatalf("add event %d: %v", i, err)
		}
		if id != uint64(i+1) {
			t.Fatalf("expected monotonic event id %d, got %d", i+1, id)
		}
	}

	all, err := s.ListEventsByManagementTypeSince("", 0)
	if err != nil {
		t.Fatalf("list all events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	for i, evt := range all {
		if evt.EventID != uint64(i+1) {
			t.Fatalf("expected ascending event ids, got %d at position %d", evt.EventID, i)
		}
	}

	echoOnly, err := s.ListEventsByManagementTypeSince("echo", 0)
	if err != nil {
		t.Fatalf("list filtered events: %v", err)
	}
	if len(echoOnly) != 2 {
		t.Fatalf("expected 2 echo events, got %d", len(echoOnly))
	}

	since, err := s.ListEventsByManagementTypeSince("", 1)
	if err != nil {
		t.Fatalf("list events since 1: %v", err)
	}
	if len(since) != 2 || since[0].EventID != 2 {
		t.Fatalf("expected events after id 1 to start at id 2, got %+v", since)
	}
}

func TestStoreServiceIntents(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordServiceIntent("aaaaa-11111", "ec01", "start"); err != nil {
		t.Fatalf("record intent: %v", err)
	}

	intents, err := s.ListServiceIntents()
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if intents["aaaaa-11111/ec01"] != "start" {
		t.Fatalf("unexpected intents %+v", intents)
	}

	if err := s.ClearServiceIntent("aaaaa-11111", "ec01"); err != nil {
		t.Fatalf("clear intent: %v", err)
	}
	intents, _ = s.ListServiceIntents()
	if len(intents) != 0 {
		t.Fatalf("expected no outstanding intents after clear, got %+v", intents)
	}
}

func TestStoreListCircuitsFilteredByManagementType(t *testing.T) {
	s := openTestStore(t)
	a := sampleCircuit("aaaaa-11111")
	b := sampleCircuit("bbbbb-22222")
	b.ManagementType = "other"
	if err := s.AddCircuit(a); err != nil {
		t.Fatalf("add circuit a: %v", err)
	}
	if err := s.AddCircuit(b); err != nil {
		t.Fatalf("add circuit b: %v", err)
	}

	echoOnly, err := s.ListCircuits(admin.WithManagementType("echo"))
	if err != nil {
		t.Fatalf("list circuits: %v", err)
	}
	if len(echoOnly) != 1 || echoOnly[0].CircuitID != "aaaaa-11111" {
		t.Fatalf("unexpected filtered circuits %+v", echoOnly)
	}

	all, err := s.ListCircuits()
	if err != nil {
		t.Fatalf("list all circuits: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 circuits, got %d", len(all))
	}
}
