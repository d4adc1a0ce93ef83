package consensus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"circuitadmin/admin"
)

type fakeSink struct {
	mu       sync.Mutex
	received []string
	commits  chan string
}

func newFakeSink() *fakeSink {
	return &fakeSink{commits: make(chan string, 16)}
}

func (s *fakeSink) OnProposalReceived(proposal admin.CircuitProposal, payload admin.CircuitManagementPayload, senderTag string) error {
	s.mu.Lock()
	s.received = append(s.received, proposal.CircuitID)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Commit() error {
	s.mu.Lock()
	id := s.received[len(s.received)-1]
	s.mu.Unlock()
	s.commits <- id
	return nil
}

func (s *fakeSink) Rollback() error { return nil }

func TestInProcessAdapterDeliversInFIFOOrder(t *testing.T) {
	sink := newFakeSink()
	adapter := New("nodeA")
	defer adapter.Close()
	adapter.SetSink(sink)

	for _, id := range []string{"aaaaa-11111", "bbbbb-22222", "ccccc-33333"} {
		proposal := admin.CircuitProposal{CircuitID: id}
		payload := admin.CircuitManagementPayload{Action: admin.ActionCreateCircuit}
		body, err := EncodeBody(proposal, payload)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		if err := adapter.Propose(id, []string{"nodeA"}, "", body); err != nil {
			t.Fatalf("propose %s: %v", id, err)
		}
	}

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-sink.commits:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for commit")
		}
	}
	want := []string{"aaaaa-11111", "bbbbb-22222", "ccccc-33333"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected FIFO order %v, got %v", want, got)
		}
	}
}

type errSink struct {
	rolledBack chan struct{}
}

func newErrSink() *errSink { return &errSink{rolledBack: make(chan struct{}, 1)} }

func (s *errSink) OnProposalReceived(proposal admin.CircuitProposal, payload admin.CircuitManagementPayload, senderTag string) error {
	return errors.New("boom")
}

func (s *errSink) Commit() error { return nil }

func (s *errSink) Rollback() error {
	s.rolledBack <- struct{}{}
	return nil
}

func TestInProcessAdapterRollsBackOnSinkError(t *testing.T) {
	sink := newErrSink()
	adapter := New("nodeA")
	defer adapter.Close()
	adapter.SetSink(sink)

	body, err := EncodeBody(admin.CircuitProposal{CircuitID: "aaaaa-11111"}, admin.CircuitManagementPayload{})
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	if err := adapter.Propose("aaaaa-11111", []string{"nodeA"}, "", body); err != nil {
		t.Fatalf("propose: %v", err)
	}
	select {
	case <-sink.rolledBack:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for rollback")
	}
}

func TestInProcessAdapterClosedRejectsProposals(t *testing.T) {
	adapter := New("nodeA")
	adapter.Close()
	body, err := EncodeBody(admin.CircuitProposal{CircuitID: "aaaaa-11111"}, admin.CircuitManagementPayload{})
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	// Propose checks the closed done channel before the buffered send, so a
	// closed adapter rejects the proposal rather than queueing it.
	done := make(chan error, 1)
	go func() { done <- adapter.Propose("aaaaa-11111", []string{"nodeA"}, "", body) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected propose to be rejected after adapter close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("propose did not return after adapter close")
	}
}
