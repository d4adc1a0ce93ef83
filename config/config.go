package config

import (
	"encoding/hex"
	"os"

	"circuitadmin/crypto"

	"github.com/BurntSushi/toml"
)

// Config holds the construction-time settings for the circuit admin daemon.
// AdminServiceProtocolMin/Max and CircuitProtocolVersion are deliberately
// plain configuration fields rather than compiled-in constants so tests can
// construct coordinators with different bounds to exercise mixed-version
// fleets.
type Config struct {
	ListenAddress  string   `toml:"ListenAddress"`
	RESTAddress    string   `toml:"RESTAddress"`
	DataDir        string   `toml:"DataDir"`
	NodeKey        string   `toml:"NodeKey"`
	BootstrapPeers []string `toml:"BootstrapPeers"`
	PeerstorePath  string   `toml:"PeerstorePath"`

	// IdentityPassphraseEnv, when set, names the environment variable
	// holding the passphrase used to encrypt the node's identity key at
	// rest (see identity.LoadOrCreateIdentity). Empty keeps the plaintext
	// identity file used by earlier versions of this daemon.
	IdentityPassphraseEnv string `toml:"IdentityPassphraseEnv"`

	AdminServiceProtocolMin   uint32 `toml:"AdminServiceProtocolMin"`
	AdminServiceProtocolMax   uint32 `toml:"AdminServiceProtocolMax"`
	CircuitProtocolVersion    uint32 `toml:"CircuitProtocolVersion"`
	CoordinatorTimeoutSeconds uint32 `toml:"CoordinatorTimeoutSeconds"`

	// APIKeys gates POST /admin/submit with HMAC request signing, keyed by
	// the caller's X-Api-Key. Empty disables the check.
	APIKeys map[string]string `toml:"APIKeys"`

	// JWTEnabled gates the read-only listing endpoints behind a bearer
	// token carrying the "circuit-read" scope.
	JWTEnabled    bool   `toml:"JWTEnabled"`
	JWTHMACSecret string `toml:"JWTHMACSecret"`
	JWTIssuer     string `toml:"JWTIssuer"`
	JWTAudience   string `toml:"JWTAudience"`

	// LogFilePath, when set, rotates structured logs to disk alongside
	// stdout. Empty disables file rotation.
	LogFilePath   string `toml:"LogFilePath"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`
}

// Load loads the configuration from the given path, writing sane defaults
// (and an autogenerated node key) the first time the daemon runs against a
// fresh data directory.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.NodeKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.NodeKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:  ":8901",
		RESTAddress:    ":8900",
		DataDir:        "./admin-data",
		NodeKey:        hex.EncodeToString(key.Bytes()),
		BootstrapPeers: []string{},
		PeerstorePath:  "./admin-data/peerstore",
	}
	applyDefaults(cfg)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.AdminServiceProtocolMin == 0 {
		cfg.AdminServiceProtocolMin = 1
	}
	if cfg.AdminServiceProtocolMax == 0 {
		cfg.AdminServiceProtocolMax = 2
	}
	if cfg.CircuitProtocolVersion == 0 {
		cfg.CircuitProtocolVersion = 2
	}
	if cfg.CoordinatorTimeoutSeconds == 0 {
		cfg.CoordinatorTimeoutSeconds = 30
	}
	if cfg.PeerstorePath == "" {
		cfg.PeerstorePath = cfg.DataDir + "/peerstore"
	}
	if cfg.LogMaxSizeMB == 0 {
		cfg.LogMaxSizeMB = 100
	}
	if cfg.LogMaxBackups == 0 {
		cfg.LogMaxBackups = 5
	}
	if cfg.LogMaxAgeDays == 0 {
		cfg.LogMaxAgeDays = 28
	}
}
