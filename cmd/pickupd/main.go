// Command pickupd runs the anonymous pickup authorization daemon.
//
// Startup order: configuration, logging, proving-system artifacts, storage,
// registry, HTTP. Groth16 keys are compiled and persisted under KeyDir on
// first run and reloaded afterwards.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"anonpickup/internal/adapters/postgres"
	"anonpickup/internal/circuit"
	"anonpickup/internal/pickup"
)

func main() {
	configPath := flag.String("config", "", "path to JSON config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("listen_addr", cfg.ListenAddr).Str("key_dir", cfg.KeyDir).Msg("starting pickupd")

	if err := os.MkdirAll(cfg.KeyDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create key directory")
	}

	ccs, err := circuit.Compile()
	if err != nil {
		log.Fatal().Err(err).Msg("compile circuit")
	}
	pkPath := filepath.Join(cfg.KeyDir, "pickup.pk")
	vkPath := filepath.Join(cfg.KeyDir, "pickup.vk")
	_, vk, err := circuit.SetupOrLoadKeys(ccs, pkPath, vkPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load proving keys")
	}
	verifier := circuit.NewGroth16Verifier(vk)
	log.Info().Int("constraints", ccs.GetNbConstraints()).Msg("proving system ready")

	var repo pickup.Repository
	health := NewHealthChecker()
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres")
		}
		defer pg.Close()
		repo = pg
		health.Register("postgres", func() error { return pg.Ping(context.Background()) })
		log.Info().Msg("using postgres repository")
	} else {
		repo = pickup.NewMemoryRepository()
		log.Info().Msg("using in-memory repository")
	}
	health.Register("keys", func() error {
		_, err := os.Stat(vkPath)
		return err
	})

	registry, err := pickup.NewRegistry(repo, verifier, cfg.RegistryConfig(), pickup.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("create registry")
	}

	metrics := NewMetricsCollector()
	limiter := NewClientRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute, time.Minute)
	server := NewServer(registry, metrics, health, limiter, log)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("daemon exited with error")
	}
	log.Info().Msg("daemon stopped")
}
