// Command agentd is the on-device reconciliation daemon: it watches a
// local target-state directory, diffs it against what's actually running
// on the Docker engine, and drives the two together.
package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cfilipov/edged/internal/config"
	"github.com/cfilipov/edged/internal/engine"
	"github.com/cfilipov/edged/internal/loop"
	"github.com/cfilipov/edged/internal/state"
	"github.com/cfilipov/edged/internal/statusapi"
	"github.com/cfilipov/edged/internal/strategy"
	"github.com/cfilipov/edged/internal/targetstore"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		runHealthcheck()
		return
	}

	cfg := config.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})))

	slog.Info("starting agentd",
		"dockerHost", cfg.DockerHost,
		"targetDir", cfg.TargetDir,
		"dataDir", cfg.DataDir,
		"statusAddr", cfg.StatusAddr,
		"reconcileEvery", cfg.ReconcileEvery,
		"localMode", cfg.LocalMode,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("create data dir", "err", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.TargetDir, 0o755); err != nil {
		slog.Error("create target dir", "err", err)
		os.Exit(1)
	}

	eng, err := newEngine(cfg)
	if err != nil {
		slog.Error("engine", "err", err)
		os.Exit(1)
	}

	st, err := state.Open(filepath.Join(cfg.DataDir, "agent.db"))
	if err != nil {
		slog.Error("open state store", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	strategy.UnknownStrategySeenFunc = st.LogUnknownStrategyOnce

	auth, err := ensureDeviceAuth(cfg.DeviceKeyFile)
	if err != nil {
		slog.Error("device auth", "err", err)
		os.Exit(1)
	}

	status := statusapi.NewServer(auth, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger := make(chan struct{}, 1)
	if err := targetstore.Watch(ctx, cfg.TargetDir, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}); err != nil {
		slog.Warn("target-store watcher failed to start", "err", err)
	}

	rl := loop.New(eng, st, status, cfg.TargetDir, cfg.LocalMode, slog.Default())
	go rl.Run(ctx, cfg.ReconcileEvery, trigger)

	mux := status.Mux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", netpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", netpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", netpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", netpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", netpprof.Trace)
		slog.Info("pprof enabled at /debug/pprof/")
	}

	srv := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("status api listening", "addr", cfg.StatusAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status api server", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func newEngine(cfg *config.Config) (*engine.SDKEngine, error) {
	if cfg.DockerHost == "" {
		return engine.New()
	}
	return engine.NewWithHost(cfg.DockerHost)
}

// ensureDeviceAuth loads the device API key hash from keyFile, generating
// and persisting a fresh key on first run. The plaintext key is printed to
// stderr exactly once, since it can never be recovered from the stored
// hash afterward.
func ensureDeviceAuth(keyFile string) (*statusapi.DeviceAuth, error) {
	jwtSecret := make([]byte, 32)
	if _, err := rand.Read(jwtSecret); err != nil {
		return nil, fmt.Errorf("agentd: generate jwt secret: %w", err)
	}

	hash, err := os.ReadFile(keyFile)
	if err == nil {
		return statusapi.NewDeviceAuth(string(hash), jwtSecret), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("agentd: read device key file: %w", err)
	}

	key, err := statusapi.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("agentd: generate device key: %w", err)
	}
	newHash, err := statusapi.HashAPIKey(key)
	if err != nil {
		return nil, fmt.Errorf("agentd: hash device key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyFile), 0o755); err != nil {
		return nil, fmt.Errorf("agentd: create device key dir: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(newHash), 0o600); err != nil {
		return nil, fmt.Errorf("agentd: write device key file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "generated device api key (save this, it will not be shown again): %s\n", key)

	return statusapi.NewDeviceAuth(newHash, jwtSecret), nil
}

func runHealthcheck() {
	addr := "127.0.0.1:5050"
	if v := os.Getenv("AGENTD_STATUS_ADDR"); v != "" {
		addr = v
	}
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
	os.Exit(0)
}
