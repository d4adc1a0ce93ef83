package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateIdentityPlaintextRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := LoadOrCreateIdentity(path, "")
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}
	if first.NodeID == "" {
		t.Fatal("expected a derived node id")
	}

	second, err := LoadOrCreateIdentity(path, "")
	if err != nil {
		t.Fatalf("reload identity: %v", err)
	}
	if second.NodeID != first.NodeID {
		t.Fatalf("reloaded identity has a different node id: %s != %s", second.NodeID, first.NodeID)
	}
}

func TestLoadOrCreateIdentityKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	first, err := LoadOrCreateIdentity(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("create encrypted identity: %v", err)
	}

	second, err := LoadOrCreateIdentity(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("reload encrypted identity: %v", err)
	}
	if second.NodeID != first.NodeID {
		t.Fatalf("reloaded identity has a different node id: %s != %s", second.NodeID, first.NodeID)
	}
}

func TestLoadOrCreateIdentityKeystoreRequiresPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")

	if _, err := LoadOrCreateIdentity(path, "some-passphrase"); err != nil {
		t.Fatalf("create encrypted identity: %v", err)
	}

	if _, err := LoadOrCreateIdentity(path, ""); err == nil {
		t.Fatal("expected an error loading an encrypted identity without a passphrase")
	}

	if _, err := LoadOrCreateIdentity(path, "wrong-passphrase"); err == nil {
		t.Fatal("expected an error loading an encrypted identity with the wrong passphrase")
	}
}
