package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"circuitadmin/admin"
	"circuitadmin/admin/client"
	"circuitadmin/admin/consensus"
	"circuitadmin/admin/leveldbstore"
	"circuitadmin/cmd/internal/passphrase"
	"circuitadmin/config"
	gwauth "circuitadmin/gateway/auth"
	"circuitadmin/gateway/adminapi"
	"circuitadmin/gateway/middleware"
	"circuitadmin/identity"
	"circuitadmin/observability/logging"
	telemetry "circuitadmin/observability/otel"
	p2p "circuitadmin/peerconn"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger := logging.SetupWithRotation("admind", env, logging.FileRotation{
		Path:       cfg.LogFilePath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "admind",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialise telemetry: %v", err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("failed to prepare data directory: %v", err))
	}

	store, err := leveldbstore.Open(filepath.Join(cfg.DataDir, "admin"))
	if err != nil {
		panic(fmt.Sprintf("failed to open admin store: %v", err))
	}
	defer store.Close()

	peerstore, err := p2p.NewPeerstore(cfg.PeerstorePath, 0, 0)
	if err != nil {
		panic(fmt.Sprintf("failed to open peerstore: %v", err))
	}
	defer peerstore.Close()

	var identityPassphrase string
	if cfg.IdentityPassphraseEnv != "" {
		identityPassphrase, err = passphrase.NewSource(cfg.IdentityPassphraseEnv).Get()
		if err != nil {
			panic(fmt.Sprintf("failed to resolve identity passphrase: %v", err))
		}
	}
	nodeIdentity, err := identity.LoadOrCreateIdentity(filepath.Join(cfg.DataDir, "identity.json"), identityPassphrase)
	if err != nil {
		panic(fmt.Sprintf("failed to load node identity: %v", err))
	}

	recoverServiceIntents(store, logger)

	permissions := admin.NewRegistryKeyPermissions()
	selfPubKey := nodeIdentity.PrivateKey.PubKey().CompressedPubKey()
	permissions.Grant(nodeIdentity.NodeID, selfPubKey, admin.RoleProposer, admin.RoleVoter)

	routing := admin.NewMemRoutingTable()
	echoFactory := admin.NewEchoServiceFactory()
	orchestrator := admin.NewLocalServiceOrchestrator(store, map[string]admin.ServiceFactory{
		"echo": echoFactory,
	})
	peers := admin.NewLocalPeerConnector(peerstore)
	consensusAdapter := consensus.New(nodeIdentity.NodeID)
	defer consensusAdapter.Close()
	network := admin.NewLoopbackNetwork()
	events := admin.NewEventFanout(store, logger)

	coordinator := admin.New(admin.Config{
		SelfNodeID:             nodeIdentity.NodeID,
		ProtocolMin:            cfg.AdminServiceProtocolMin,
		ProtocolMax:            cfg.AdminServiceProtocolMax,
		CircuitProtocolVersion: cfg.CircuitProtocolVersion,
	}, admin.Deps{
		Store:        store,
		Peers:        peers,
		Orchestrator: orchestrator,
		Routing:      routing,
		Verifier:     admin.Secp256k1Verifier{},
		KeyVerifier:  permissions,
		Permissions:  permissions,
		Consensus:    consensusAdapter,
		Network:      network.For(nodeIdentity.NodeID),
		Events:       events,
		Logger:       logger,
	})
	network.Register(nodeIdentity.NodeID, coordinator)

	// signer is exercised by local administrative tooling that submits
	// self-originated payloads (e.g. bootstrapping a single-node circuit).
	_ = client.New(nodeIdentity.PrivateKey, nodeIdentity.NodeID)

	var submitAuth *gwauth.Authenticator
	if len(cfg.APIKeys) > 0 {
		noncePersistence, err := gwauth.NewLevelDBNoncePersistence(filepath.Join(cfg.DataDir, "nonces"))
		if err != nil {
			panic(fmt.Sprintf("failed to open nonce store: %v", err))
		}
		defer noncePersistence.Close()
		submitAuth = gwauth.NewAuthenticator(cfg.APIKeys, 0, 0, 0, time.Now, noncePersistence)
		if err := submitAuth.HydrateNonces(context.Background(), time.Now().Add(-10*time.Minute)); err != nil {
			logger.Warn("failed to hydrate nonce cache", slog.Any("error", err))
		}
	}

	var readAuth *middleware.Authenticator
	if cfg.JWTEnabled {
		readAuth = middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: cfg.JWTHMACSecret,
			Issuer:     cfg.JWTIssuer,
			Audience:   cfg.JWTAudience,
		}, nil)
	}

	rateLimiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"admin_submit": {RatePerSecond: 5, Burst: 10, DefaultTokens: 1},
	}, nil)

	observability := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   "admind",
		MetricsPrefix: "circuitadmin",
		LogRequests:   true,
		Enabled:       true,
	}, nil)

	handler := adminapi.New(adminapi.Config{
		Coordinator:   coordinator,
		Store:         store,
		SelfNodeID:    nodeIdentity.NodeID,
		CORS:          middleware.CORSConfig{},
		Observability: observability,
		SubmitAuth:    submitAuth,
		ReadAuth:      readAuth,
		RateLimiter:   rateLimiter,
	})

	server := &http.Server{
		Addr:              cfg.RESTAddress,
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(cfg.CoordinatorTimeoutSeconds) * time.Second,
	}

	logger.Info("admind initialised and running",
		slog.String("node_id", nodeIdentity.NodeID),
		slog.String("rest_address", cfg.RESTAddress))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("admin REST server failed: %v", err))
	}
}

// recoverServiceIntents logs any service start/stop/purge intent that was
// recorded but never cleared, meaning the process crashed mid-call. A real
// recovery policy would re-issue the call against the orchestrator; this
// daemon only surfaces the gap so an operator can investigate.
func recoverServiceIntents(store *leveldbstore.Store, logger *slog.Logger) {
	intents, err := store.ListServiceIntents()
	if err != nil {
		logger.Error("failed to list outstanding service intents", slog.Any("error", err))
		return
	}
	for key, intent := range intents {
		logger.Warn("found outstanding service intent from a previous run",
			slog.String("key", key), slog.String("intent", intent))
	}
}
