package admin

import (
	"strings"
	"testing"

	"circuitadmin/crypto"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv.PubKey().CompressedPubKey()
}

func validCircuit(selfNodeID string) Circuit {
	return Circuit{
		CircuitID: "aaaaa-11111",
		Members: []CircuitNode{
			{NodeID: selfNodeID, Endpoints: []string{"tcp://self"}},
			{NodeID: "nodeB", Endpoints: []string{"tcp://nodeb"}},
		},
		Roster: []Service{
			{ServiceID: "ec01", ServiceType: "echo", AllowedNodes: []string{selfNodeID}},
		},
		AuthorizationType: AuthorizationTrust,
		Persistence:       PersistenceAny,
		Durability:        DurabilityNone,
		Routes:            RouteAny,
		ManagementType:    "echo",
	}
}

func allowAll() (*RegistryKeyPermissions, []byte) {
	perms := NewRegistryKeyPermissions()
	key := []byte(strings.Repeat("k", crypto.PublicKeyLength))
	perms.Grant("nodeA", key, RoleProposer, RoleVoter)
	return perms, key
}

func TestValidateCreateCircuitGrammar(t *testing.T) {
	perms, key := allowAll()
	vc := &validationContext{selfNodeID: "nodeA", keyVerifier: perms, permissions: perms}

	t.Run("accepts a well-formed request", func(t *testing.T) {
		req := &CreateCircuitRequest{Circuit: validCircuit("nodeA")}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("rejects empty requester node id", func(t *testing.T) {
		req := &CreateCircuitRequest{Circuit: validCircuit("nodeA")}
		if err := vc.validateCreateCircuit(req, "", key, false, false, 2); err == nil {
			t.Fatal("expected error for empty requester_node_id")
		}
	})

	t.Run("rejects a wrong-length key", func(t *testing.T) {
		req := &CreateCircuitRequest{Circuit: validCircuit("nodeA")}
		if err := vc.validateCreateCircuit(req, "nodeA", []byte{1, 2, 3}, false, false, 2); err == nil {
			t.Fatal("expected error for short key")
		}
	})

	t.Run("rejects a key not permitted for the node", func(t *testing.T) {
		req := &CreateCircuitRequest{Circuit: validCircuit("nodeA")}
		other := testKey(t)
		if err := vc.validateCreateCircuit(req, "nodeA", other, false, false, 2); err == nil {
			t.Fatal("expected error for unpermitted key")
		}
	})

	t.Run("rejects a key without the proposer role", func(t *testing.T) {
		bareKey := []byte(strings.Repeat("v", crypto.PublicKeyLength))
		perms.Grant("nodeA", bareKey)
		req := &CreateCircuitRequest{Circuit: validCircuit("nodeA")}
		if err := vc.validateCreateCircuit(req, "nodeA", bareKey, false, false, 2); err == nil {
			t.Fatal("expected error for missing proposer role")
		}
	})

	t.Run("rejects a duplicate proposal or circuit", func(t *testing.T) {
		req := &CreateCircuitRequest{Circuit: validCircuit("nodeA")}
		if err := vc.validateCreateCircuit(req, "nodeA", key, true, false, 2); err == nil {
			t.Fatal("expected error for existing proposal")
		}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, true, 2); err == nil {
			t.Fatal("expected error for existing circuit")
		}
	})

	t.Run("rejects a malformed circuit id", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.CircuitID = "not-valid"
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for malformed circuit_id")
		}
	})

	for _, tc := range []struct {
		name  string
		break_ func(*Circuit)
	}{
		{"management_type", func(c *Circuit) { c.ManagementType = "" }},
		{"authorization_type", func(c *Circuit) { c.AuthorizationType = AuthorizationUnset }},
		{"persistence", func(c *Circuit) { c.Persistence = PersistenceUnset }},
		{"durability", func(c *Circuit) { c.Durability = DurabilityUnset }},
		{"routes", func(c *Circuit) { c.Routes = RouteUnset }},
	} {
		t.Run("rejects missing "+tc.name, func(t *testing.T) {
			c := validCircuit("nodeA")
			tc.break_(&c)
			req := &CreateCircuitRequest{Circuit: c}
			if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
				t.Fatalf("expected error for missing %s", tc.name)
			}
		})
	}

	t.Run("rejects empty members", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Members = nil
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for empty members")
		}
	})

	t.Run("rejects members that exclude self", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Members = []CircuitNode{{NodeID: "nodeB", Endpoints: []string{"tcp://nodeb"}}}
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for members missing self")
		}
	})

	t.Run("rejects a duplicate member node id", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Members = append(c.Members, CircuitNode{NodeID: "nodeA", Endpoints: []string{"tcp://dup"}})
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for duplicate member")
		}
	})

	t.Run("rejects a member with no endpoints", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Members[1].Endpoints = nil
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for member with no endpoints")
		}
	})

	t.Run("rejects a duplicate endpoint across members", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Members[1].Endpoints = []string{"tcp://self"}
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for duplicate endpoint")
		}
	})

	t.Run("rejects an empty roster", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Roster = nil
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for empty roster")
		}
	})

	t.Run("rejects a malformed service id", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Roster[0].ServiceID = "toolong"
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for malformed service_id")
		}
	})

	t.Run("rejects a service allowed node outside membership", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Roster[0].AllowedNodes = []string{"nodeC"}
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for non-member allowed node")
		}
	})

	t.Run("rejects a service with more than one allowed node", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Roster[0].AllowedNodes = []string{"nodeA", "nodeB"}
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for multi-node allowed list")
		}
	})

	t.Run("rejects display_name below protocol version 2", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.DisplayName = "my circuit"
		req := &CreateCircuitRequest{Circuit: c}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 1); err == nil {
			t.Fatal("expected error for display_name at protocol 1")
		}
		if err := vc.validateCreateCircuit(req, "nodeA", key, false, false, 2); err != nil {
			t.Fatalf("expected display_name to be accepted at protocol 2, got %v", err)
		}
	})

	t.Run("rejects circuit_version above the supported protocol", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.CircuitVersion = 5
		req := &CreateCircuitRequest{Circuit: c}
		vc2 := &validationContext{selfNodeID: "nodeA", keyVerifier: perms, permissions: perms, circuitProtocol: 2}
		if err := vc2.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error for circuit_version exceeding CIRCUIT_PROTOCOL_VERSION")
		}
	})

	t.Run("enforces a registered argument validator", func(t *testing.T) {
		c := validCircuit("nodeA")
		c.Roster[0].Arguments = []Argument{{Key: "bad", Value: "1"}}
		req := &CreateCircuitRequest{Circuit: c}
		vc2 := &validationContext{
			selfNodeID:  "nodeA",
			keyVerifier: perms,
			permissions: perms,
			argValidators: map[string]ServiceArgValidator{
				"echo": func(args []Argument) error {
					for _, a := range args {
						if a.Key == "bad" {
							return errRejectedArg
						}
					}
					return nil
				},
			},
		}
		if err := vc2.validateCreateCircuit(req, "nodeA", key, false, false, 2); err == nil {
			t.Fatal("expected error from registered argument validator")
		}
	})
}

var errRejectedArg = newValidationError("bad argument")

func TestValidateVoteGrammar(t *testing.T) {
	perms, key := allowAll()
	perms.Grant("nodeB", key, RoleVoter)
	vc := &validationContext{selfNodeID: "nodeA", keyVerifier: perms, permissions: perms}

	proposal := &CircuitProposal{
		CircuitID:       "aaaaa-11111",
		CircuitHash:     "deadbeef",
		RequesterNodeID: "nodeA",
	}

	t.Run("accepts a well-formed vote", func(t *testing.T) {
		if err := vc.validateVote(proposal, "nodeB", key, "deadbeef"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("rejects a wrong-length key", func(t *testing.T) {
		if err := vc.validateVote(proposal, "nodeB", []byte{1}, "deadbeef"); err == nil {
			t.Fatal("expected error for short key")
		}
	})

	t.Run("rejects the requester voting on its own proposal", func(t *testing.T) {
		if err := vc.validateVote(proposal, "nodeA", key, "deadbeef"); err == nil {
			t.Fatal("expected error for requester self-vote")
		}
	})

	t.Run("rejects a second vote from the same node", func(t *testing.T) {
		already := *proposal
		already.Votes = []VoteRecord{{VoterNodeID: "nodeB", Vote: VoteAccept}}
		if err := vc.validateVote(&already, "nodeB", key, "deadbeef"); err == nil {
			t.Fatal("expected error for double vote")
		}
	})

	t.Run("rejects a mismatched circuit hash", func(t *testing.T) {
		if err := vc.validateVote(proposal, "nodeB", key, "wronghash"); err == nil {
			t.Fatal("expected error for mismatched circuit_hash")
		}
	})

	t.Run("rejects a voter without the voter role", func(t *testing.T) {
		bareKey := []byte(strings.Repeat("z", crypto.PublicKeyLength))
		perms.Grant("nodeB", bareKey)
		if err := vc.validateVote(proposal, "nodeB", bareKey, "deadbeef"); err == nil {
			t.Fatal("expected error for missing voter role")
		}
	})
}

func TestValidateDisbandGrammar(t *testing.T) {
	perms, key := allowAll()
	vc := &validationContext{selfNodeID: "nodeA", keyVerifier: perms, permissions: perms}
	circuit := &Circuit{CircuitID: "aaaaa-11111", CircuitStatus: CircuitStatusActive, CircuitVersion: 2}

	t.Run("accepts a well-formed disband", func(t *testing.T) {
		if err := vc.validateDisband(circuit, "nodeA", key, false, 2); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("rejects a missing circuit", func(t *testing.T) {
		if err := vc.validateDisband(nil, "nodeA", key, false, 2); err == nil {
			t.Fatal("expected error for nil circuit")
		}
	})

	t.Run("rejects a non-active circuit", func(t *testing.T) {
		c := *circuit
		c.CircuitStatus = CircuitStatusDisbanded
		if err := vc.validateDisband(&c, "nodeA", key, false, 2); err == nil {
			t.Fatal("expected error for non-active circuit")
		}
	})

	t.Run("rejects a mismatched circuit_version", func(t *testing.T) {
		if err := vc.validateDisband(circuit, "nodeA", key, false, 3); err == nil {
			t.Fatal("expected error for mismatched circuit_version")
		}
	})

	t.Run("rejects a second disband while one is pending", func(t *testing.T) {
		if err := vc.validateDisband(circuit, "nodeA", key, true, 2); err == nil {
			t.Fatal("expected error for already-pending disband")
		}
	})
}

func TestValidatePurgeAndAbandonAreLocalOnly(t *testing.T) {
	perms, key := allowAll()
	vc := &validationContext{selfNodeID: "nodeA", keyVerifier: perms, permissions: perms}
	disbanded := &Circuit{CircuitID: "aaaaa-11111", CircuitStatus: CircuitStatusDisbanded, CircuitVersion: 2}
	active := &Circuit{CircuitID: "aaaaa-11111", CircuitStatus: CircuitStatusActive, CircuitVersion: 2}

	t.Run("purge rejects a remote requester", func(t *testing.T) {
		if err := vc.validatePurge(disbanded, "nodeB", key, 2); err == nil {
			t.Fatal("expected error for remote purge request")
		}
	})

	t.Run("purge rejects a still-active circuit", func(t *testing.T) {
		if err := vc.validatePurge(active, "nodeA", key, 2); err == nil {
			t.Fatal("expected error for purging an active circuit")
		}
	})

	t.Run("purge accepts a local request against a disbanded circuit", func(t *testing.T) {
		if err := vc.validatePurge(disbanded, "nodeA", key, 2); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("abandon rejects a remote requester", func(t *testing.T) {
		if err := vc.validateAbandon(active, "nodeB", key, 2); err == nil {
			t.Fatal("expected error for remote abandon request")
		}
	})

	t.Run("abandon rejects a non-active circuit", func(t *testing.T) {
		if err := vc.validateAbandon(disbanded, "nodeA", key, 2); err == nil {
			t.Fatal("expected error for abandoning a non-active circuit")
		}
	})

	t.Run("abandon accepts a local request against an active circuit", func(t *testing.T) {
		if err := vc.validateAbandon(active, "nodeA", key, 2); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})
}
