package admin

import "testing"

func sampleCircuitForEncoding() Circuit {
	return Circuit{
		CircuitID: "aaaaa-11111",
		Members: []CircuitNode{
			{NodeID: "nodeA", Endpoints: []string{"tcp://a"}},
			{NodeID: "nodeB", Endpoints: []string{"tcp://b"}},
		},
		Roster: []Service{
			{ServiceID: "ec01", ServiceType: "echo", AllowedNodes: []string{"nodeA"}, Arguments: []Argument{{Key: "k", Value: "v"}}},
		},
		AuthorizationType: AuthorizationTrust,
		Persistence:       PersistenceAny,
		Durability:        DurabilityNone,
		Routes:            RouteAny,
		ManagementType:    "echo",
		CircuitVersion:    2,
		CircuitStatus:     CircuitStatusActive,
	}
}

func TestCanonicalEncodeIsDeterministic(t *testing.T) {
	c := sampleCircuitForEncoding()
	a := CanonicalEncode(&c)
	b := CanonicalEncode(&c)
	if string(a) != string(b) {
		t.Fatal("canonical encoding of the same circuit differed between calls")
	}
}

func TestCanonicalEncodeIsFieldSensitive(t *testing.T) {
	base := sampleCircuitForEncoding()
	baseEnc := CanonicalEncode(&base)

	mutations := []func(*Circuit){
		func(c *Circuit) { c.DisplayName = "renamed" },
		func(c *Circuit) { c.Members[0].NodeID = "nodeX" },
		func(c *Circuit) { c.Roster[0].ServiceID = "ec02" },
		func(c *Circuit) { c.CircuitStatus = CircuitStatusDisbanded },
		func(c *Circuit) { c.CircuitVersion = 3 },
	}
	for i, mutate := range mutations {
		mutated := sampleCircuitForEncoding()
		mutate(&mutated)
		if string(CanonicalEncode(&mutated)) == string(baseEnc) {
			t.Fatalf("mutation %d did not change the canonical encoding", i)
		}
	}
}

func TestCircuitHashMatchesEncoding(t *testing.T) {
	c := sampleCircuitForEncoding()
	h1 := CircuitHash(&c)
	h2 := CircuitHash(&c)
	if h1 != h2 {
		t.Fatal("hash of the same circuit differed between calls")
	}
	if len(h1) != 64 {
		t.Fatalf("expected a 64-char hex sha256 digest, got %d chars", len(h1))
	}

	mutated := sampleCircuitForEncoding()
	mutated.DisplayName = "renamed"
	if CircuitHash(&mutated) == h1 {
		t.Fatal("expected hash to change when the circuit changes")
	}
}
