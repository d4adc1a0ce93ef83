// Package client builds and signs the CircuitManagementPayload envelopes a
// node submits to its own (or a remote) coordinator, pairing a canonical
// header with a signature the same way the transaction-building helpers
// elsewhere in this codebase do.
package client

import (
	"encoding/json"
	"fmt"

	"circuitadmin/admin"
	"circuitadmin/crypto"
)

// Signer builds signed CircuitManagementPayload envelopes on behalf of one
// node identity.
type Signer struct {
	priv   *crypto.PrivateKey
	nodeID string
}

// New constructs a Signer. nodeID is the admin-service identifier this
// signer submits payloads as.
func New(priv *crypto.PrivateKey, nodeID string) *Signer {
	return &Signer{priv: priv, nodeID: nodeID}
}

// header is the signed portion of every payload: the action, the requester's
// node id, and the action-specific request, json-encoded in struct field
// order so the signature is reproducible from the same inputs.
type header struct {
	Action          admin.PayloadAction `json:"action"`
	RequesterNodeID string              `json:"requester_node_id"`
	Body            json.RawMessage     `json:"body"`
}

func (s *Signer) sign(action admin.PayloadAction, body any) (admin.CircuitManagementPayload, error) {
	rawBody, err := json.Marshal(body)
	if err != nil {
		return admin.CircuitManagementPayload{}, fmt.Errorf("client: encode request body: %w", err)
	}
	headerBytes, err := json.Marshal(header{Action: action, RequesterNodeID: s.nodeID, Body: rawBody})
	if err != nil {
		return admin.CircuitManagementPayload{}, fmt.Errorf("client: encode header: %w", err)
	}
	sig, err := crypto.Sign(s.priv, headerBytes)
	if err != nil {
		return admin.CircuitManagementPayload{}, fmt.Errorf("client: sign header: %w", err)
	}
	return admin.CircuitManagementPayload{
		HeaderBytes:     headerBytes,
		Signature:       sig,
		RequesterPubKey: s.priv.PubKey().CompressedPubKey(),
		RequesterNodeID: s.nodeID,
		Action:          action,
	}, nil
}

// BuildCreateCircuit signs a CreateCircuit submission for circuit.
func (s *Signer) BuildCreateCircuit(circuit admin.Circuit) (admin.CircuitManagementPayload, error) {
	req := admin.CreateCircuitRequest{Circuit: circuit}
	payload, err := s.sign(admin.ActionCreateCircuit, req)
	if err != nil {
		return payload, err
	}
	payload.CreateCircuit = &req
	return payload, nil
}

// BuildVote signs a Vote submission against circuitID/circuitHash.
func (s *Signer) BuildVote(circuitID, circuitHash string, vote admin.Vote) (admin.CircuitManagementPayload, error) {
	req := admin.VoteRequest{CircuitID: circuitID, CircuitHash: circuitHash, Vote: vote}
	payload, err := s.sign(admin.ActionVote, req)
	if err != nil {
		return payload, err
	}
	payload.Vote = &req
	return payload, nil
}

// BuildDisband signs a Disband submission for circuitID.
func (s *Signer) BuildDisband(circuitID string) (admin.CircuitManagementPayload, error) {
	req := admin.DisbandRequest{CircuitID: circuitID}
	payload, err := s.sign(admin.ActionDisband, req)
	if err != nil {
		return payload, err
	}
	payload.Disband = &req
	return payload, nil
}

// BuildPurge signs a Purge submission for circuitID.
func (s *Signer) BuildPurge(circuitID string) (admin.CircuitManagementPayload, error) {
	req := admin.PurgeRequest{CircuitID: circuitID}
	payload, err := s.sign(admin.ActionPurge, req)
	if err != nil {
		return payload, err
	}
	payload.Purge = &req
	return payload, nil
}

// BuildAbandon signs an Abandon submission for circuitID.
func (s *Signer) BuildAbandon(circuitID string) (admin.CircuitManagementPayload, error) {
	req := admin.AbandonRequest{CircuitID: circuitID}
	payload, err := s.sign(admin.ActionAbandon, req)
	if err != nil {
		return payload, err
	}
	payload.Abandon = &req
	return payload, nil
}
