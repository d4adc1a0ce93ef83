package client

import (
	"encoding/json"
	"testing"

	"circuitadmin/admin"
	"circuitadmin/crypto"
)

func newTestSigner(t *testing.T) (*Signer, *crypto.PrivateKey) {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return New(priv, "nodeA"), priv
}

func TestBuildCreateCircuitProducesAVerifiableSignature(t *testing.T) {
	s, priv := newTestSigner(t)
	circuit := admin.Circuit{
		CircuitID:         "aaaaa-11111",
		Members:           []admin.CircuitNode{{NodeID: "nodeA", Endpoints: []string{"tcp://a"}}},
		AuthorizationType: admin.AuthorizationTrust,
		Persistence:       admin.PersistenceAny,
		Durability:        admin.DurabilityNone,
		Routes:            admin.RouteAny,
		ManagementType:    "echo",
	}

	payload, err := s.BuildCreateCircuit(circuit)
	if err != nil {
		t.Fatalf("build create circuit: %v", err)
	}
	if payload.Action != admin.ActionCreateCircuit {
		t.Fatalf("unexpected action %q", payload.Action)
	}
	if payload.CreateCircuit == nil || payload.CreateCircuit.Circuit.CircuitID != circuit.CircuitID {
		t.Fatal("expected the embedded request to carry the circuit")
	}
	if !crypto.Verify(payload.RequesterPubKey, payload.HeaderBytes, payload.Signature) {
		t.Fatal("expected the header signature to verify against the requester public key")
	}
	if string(payload.RequesterPubKey) != string(priv.PubKey().CompressedPubKey()) {
		t.Fatal("expected the payload to carry the signer's own compressed public key")
	}

	var decodedHeader struct {
		Action          admin.PayloadAction `json:"action"`
		RequesterNodeID string              `json:"requester_node_id"`
		Body            json.RawMessage     `json:"body"`
	}
	if err := json.Unmarshal(payload.HeaderBytes, &decodedHeader); err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if decodedHeader.RequesterNodeID != "nodeA" {
		t.Fatalf("unexpected requester_node_id %q", decodedHeader.RequesterNodeID)
	}
}

func TestBuildVoteDisbandPurgeAbandonSignConsistently(t *testing.T) {
	s, _ := newTestSigner(t)

	vote, err := s.BuildVote("aaaaa-11111", "deadbeef", admin.VoteAccept)
	if err != nil {
		t.Fatalf("build vote: %v", err)
	}
	if vote.Vote == nil || vote.Vote.Vote != admin.VoteAccept {
		t.Fatal("expected the embedded vote request to carry the cast vote")
	}
	if !crypto.Verify(vote.RequesterPubKey, vote.HeaderBytes, vote.Signature) {
		t.Fatal("expected the vote signature to verify")
	}

	disband, err := s.BuildDisband("aaaaa-11111")
	if err != nil {
		t.Fatalf("build disband: %v", err)
	}
	if disband.Disband == nil || disband.Disband.CircuitID != "aaaaa-11111" {
		t.Fatal("expected the embedded disband request to carry the circuit id")
	}

	purge, err := s.BuildPurge("aaaaa-11111")
	if err != nil {
		t.Fatalf("build purge: %v", err)
	}
	if purge.Purge == nil || purge.Purge.CircuitID != "aaaaa-11111" {
		t.Fatal("expected the embedded purge request to carry the circuit id")
	}

	abandon, err := s.BuildAbandon("aaaaa-11111")
	if err != nil {
		t.Fatalf("build abandon: %v", err)
	}
	if abandon.Abandon == nil || abandon.Abandon.CircuitID != "aaaaa-11111" {
		t.Fatal("expected the embedded abandon request to carry the circuit id")
	}
}

func TestSignatureDoesNotVerifyAgainstATamperedHeader(t *testing.T) {
	s, _ := newTestSigner(t)
	payload, err := s.BuildDisband("aaaaa-11111")
	if err != nil {
		t.Fatalf("build disband: %v", err)
	}
	tampered := append([]byte(nil), payload.HeaderBytes...)
	tampered[0] ^= 0xFF
	if crypto.Verify(payload.RequesterPubKey, tampered, payload.Signature) {
		t.Fatal("expected signature verification to fail against a tampered header")
	}
}
