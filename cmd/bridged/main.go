package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/certen/quantum-bridge/pkg/auditmirror"
	"github.com/certen/quantum-bridge/pkg/chainadapter"
	"github.com/certen/quantum-bridge/pkg/chainadapter/evm"
	"github.com/certen/quantum-bridge/pkg/chainadapter/nearfamily"
	"github.com/certen/quantum-bridge/pkg/config"
	"github.com/certen/quantum-bridge/pkg/database"
	"github.com/certen/quantum-bridge/pkg/eventbus"
	"github.com/certen/quantum-bridge/pkg/keystore"
	"github.com/certen/quantum-bridge/pkg/metrics"
	"github.com/certen/quantum-bridge/pkg/price"
	"github.com/certen/quantum-bridge/pkg/risk"
	"github.com/certen/quantum-bridge/pkg/supervisor"
	"github.com/certen/quantum-bridge/pkg/swap"
)

// HealthStatus tracks the health of the bridge's components for the /health
// endpoint (adapted from the teacher's main.go HealthStatus: explicit
// per-component setters collapsing into one overall status string).
type HealthStatus struct {
	Status        string `json:"status"` // "ok", "degraded", "error"
	Database      string `json:"database"`
	EVMAdapter    string `json:"evm_adapter"`
	NearAdapter   string `json:"near_adapter"`
	Supervisor    string `json:"supervisor"`
	AuditMirror   string `json:"audit_mirror"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	startTime     time.Time
	mu            sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:      "starting",
	Database:    "unknown",
	EVMAdapter:  "unknown",
	NearAdapter: "unknown",
	Supervisor:  "unknown",
	AuditMirror: "disabled",
	startTime:   time.Now(),
}

func (h *HealthStatus) SetDatabase(s string)  { h.set(func() { h.Database = s }) }
func (h *HealthStatus) SetEVM(s string)       { h.set(func() { h.EVMAdapter = s }) }
func (h *HealthStatus) SetNear(s string)      { h.set(func() { h.NearAdapter = s }) }
func (h *HealthStatus) SetSupervisor(s string) { h.set(func() { h.Supervisor = s }) }
func (h *HealthStatus) SetAuditMirror(s string) { h.set(func() { h.AuditMirror = s }) }

func (h *HealthStatus) set(mutate func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	mutate()
	h.updateOverallStatus()
}

func (h *HealthStatus) updateOverallStatus() {
	if h.Database == "disconnected" || h.EVMAdapter == "disconnected" || h.NearAdapter == "disconnected" {
		h.Status = "error"
		return
	}
	if h.Supervisor == "stopped" {
		h.Status = "degraded"
		return
	}
	h.Status = "ok"
}

func (h *HealthStatus) ToJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()

	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting quantum-bridge daemon")

	var showHelp = flag.Bool("help", false, "Show help message")
	flag.Parse()
	if *showHelp {
		flag.PrintDefaults()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbLogger := log.New(log.Writer(), "[Database] ", log.LstdFlags)
	dbClient, err := database.NewClient(cfg, database.WithLogger(dbLogger))
	if err != nil {
		if cfg.DatabaseRequired {
			log.Fatalf("database connection required but failed: %v", err)
		}
		log.Printf("WARNING: database connection failed, running degraded: %v", err)
		healthStatus.SetDatabase("disconnected")
	} else {
		healthStatus.SetDatabase("connected")
		if err := dbClient.MigrateUp(ctx); err != nil {
			log.Printf("WARNING: database migration failed: %v", err)
		}
	}
	repo := database.NewRepositories(dbClient)

	keyStore, err := keystore.New(repo.QuantumKeys, []byte(cfg.WrappingKeySecret),
		keystore.WithLogger(log.New(log.Writer(), "[KeyStore] ", log.LstdFlags)))
	if err != nil {
		log.Fatalf("failed to initialize key store: %v", err)
	}

	priceProviders, err := buildPriceProviders(cfg.PriceProviders, cfg.PriceProviderTimeout)
	if err != nil {
		log.Fatalf("failed to configure price providers: %v", err)
	}
	priceEngineCfg := price.DefaultEngineConfig()
	priceEngineCfg.ProviderTimeout = cfg.PriceProviderTimeout
	priceEngineCfg.StalenessWindow = cfg.PriceStalenessWindow
	priceEngineCfg.QuoteLifetime = cfg.QuoteLifetime
	priceEngine := price.New(priceProviders, priceEngineCfg, log.New(log.Writer(), "[Price] ", log.LstdFlags))

	scorer := risk.NewHTTPScorer(cfg.RiskScorerURL, cfg.RiskScorerTimeout)
	riskGate := risk.New(scorer, repo.Risk, risk.GateConfig{
		ScorerTimeout:    cfg.RiskScorerTimeout,
		AllowThreshold:   cfg.RiskAllowThreshold,
		ReviewThreshold:  cfg.RiskReviewThreshold,
		BlockThreshold:   cfg.RiskBlockThreshold,
		AdminOverrideCap: cfg.RiskAdminOverrideCap,
		QuorumN:          cfg.RiskQuorumN,
	}, risk.WithLogger(log.New(log.Writer(), "[RiskGate] ", log.LstdFlags)))

	bus := eventbus.New(cfg.EventBusSubscriberBuffer, log.New(log.Writer(), "[EventBus] ", log.LstdFlags))

	evmKey, err := readSecretFile(cfg.EVMPrivateKeyPath)
	if err != nil {
		log.Fatalf("failed to read EVM private key: %v", err)
	}
	evmAdapter, err := evm.New(evm.Config{
		RPCURL:            cfg.EVMRPCURL,
		ChainID:           cfg.EVMChainID,
		ContractAddress:   cfg.EVMBridgeContract,
		PrivateKeyHex:     evmKey,
		ConfirmationDepth: cfg.EVMConfirmationDepth,
	})
	if err != nil {
		log.Printf("WARNING: EVM adapter init failed: %v", err)
		healthStatus.SetEVM("disconnected")
	} else {
		healthStatus.SetEVM("connected")
	}

	nearAdapter, err := nearfamily.New(nearfamily.Config{
		RPCURL:            cfg.NearRPCURL,
		NetworkID:         cfg.NearNetworkID,
		BridgeAccountID:   cfg.NearBridgeAccountID,
		SignerKeyPath:     cfg.NearSignerKeyPath,
		ConfirmationDepth: cfg.NearConfirmationDepth,
	})
	if err != nil {
		log.Printf("WARNING: NEAR-family adapter init failed: %v", err)
		healthStatus.SetNear("disconnected")
	} else {
		healthStatus.SetNear("connected")
	}

	adapters := map[database.ChainID]chainadapter.Adapter{}
	if evmAdapter != nil {
		adapters[database.ChainEVM] = evmAdapter
	}
	if nearAdapter != nil {
		adapters[database.ChainNearFamily] = nearAdapter
	}

	deadlines := swap.Deadlines{
		SubmitSource:  cfg.DeadlineSubmitSource,
		SourceConfirm: cfg.DeadlineSourceConfirm,
		SubmitDest:    cfg.DeadlineSubmitDest,
		DestConfirm:   cfg.DeadlineDestConfirm,
		Review:        cfg.DeadlineReview,
	}
	swapEngine := swap.New(swap.NewRepository(repo), keyStore, priceEngine, riskGate, bus, adapters, deadlines,
		swap.WithLogger(log.New(log.Writer(), "[SwapEngine] ", log.LstdFlags)))

	sup := supervisor.New(repo, swapEngine, cfg.SupervisorSweepPeriod,
		supervisor.WithLogger(log.New(log.Writer(), "[Supervisor] ", log.LstdFlags)))
	if err := sup.Start(ctx); err != nil {
		log.Fatalf("failed to start supervisor: %v", err)
	}
	healthStatus.SetSupervisor("running")

	metricsServer := metrics.NewServer(cfg.MetricsAddr, log.New(log.Writer(), "[Metrics] ", log.LstdFlags))
	metricsServer.StartAsync()

	mirror, err := auditmirror.New(ctx, &auditmirror.Config{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredentialsFile,
		Enabled:         cfg.FirestoreEnabled,
		Logger:          log.New(log.Writer(), "[AuditMirror] ", log.LstdFlags),
	})
	if err != nil {
		log.Printf("WARNING: audit mirror init failed: %v", err)
	} else if mirror.IsEnabled() {
		healthStatus.SetAuditMirror("enabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if healthStatus.Status == "ok" {
			w.WriteHeader(http.StatusOK)
		} else if healthStatus.Status == "degraded" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Write(healthStatus.ToJSON())
	})

	healthServer := &http.Server{Addr: cfg.HealthAddr, Handler: mux}
	go func() {
		log.Printf("health endpoint listening on %s", cfg.HealthAddr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server exited: %v", err)
		}
	}()

	log.Printf("quantum-bridge daemon ready: evm=%s near-family=%s", cfg.EVMRPCURL, cfg.NearRPCURL)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down quantum-bridge daemon")
	cancel()
	sup.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown error: %v", err)
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	if mirror != nil {
		if err := mirror.Close(); err != nil {
			log.Printf("audit mirror close error: %v", err)
		}
	}
	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}

	log.Printf("quantum-bridge daemon stopped")
}

// buildPriceProviders parses the "name=url=weight" triples config.Load
// produces from PRICE_PROVIDERS into price.Provider instances, each backed
// by a plain JSON-over-HTTP fetch (spec §6 "Price providers": get_price(pair)
// -> {price, confidence, observed_at}).
func buildPriceProviders(specs []string, timeout time.Duration) ([]price.Provider, error) {
	providers := make([]price.Provider, 0, len(specs))
	client := &http.Client{Timeout: timeout}
	for _, spec := range specs {
		parts := strings.SplitN(spec, "=", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("price provider spec %q: want name=url=weight", spec)
		}
		name, url := parts[0], parts[1]
		weight, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("price provider spec %q: invalid weight: %w", spec, err)
		}
		providers = append(providers, price.NewStaticProvider(name, weight, httpPriceFetch(client, url)))
	}
	return providers, nil
}

func httpPriceFetch(client *http.Client, baseURL string) func(ctx context.Context, pair string) (price.Observation, error) {
	return func(ctx context.Context, pair string) (price.Observation, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?pair="+pair, nil)
		if err != nil {
			return price.Observation{}, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return price.Observation{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return price.Observation{}, fmt.Errorf("price provider returned %d: %s", resp.StatusCode, body)
		}
		var out struct {
			Price      float64   `json:"price"`
			Confidence float64   `json:"confidence"`
			ObservedAt time.Time `json:"observed_at"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return price.Observation{}, err
		}
		return price.Observation{Price: out.Price, Confidence: out.Confidence, ObservedAt: out.ObservedAt}, nil
	}
}

// readSecretFile reads a PEM/hex secret from disk. Empty paths are returned
// as-is: adapters that require a signing key fail their own construction
// when it is missing rather than this loader inventing a default.
func readSecretFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
