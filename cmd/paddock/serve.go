package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paddockhq/paddock/pkg/api"
	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/broker"
	"github.com/paddockhq/paddock/pkg/config"
	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/meter"
	"github.com/paddockhq/paddock/pkg/platform"
	"github.com/paddockhq/paddock/pkg/platform/kube"
	"github.com/paddockhq/paddock/pkg/platform/runpod"
	"github.com/paddockhq/paddock/pkg/probe"
	"github.com/paddockhq/paddock/pkg/reconciler"
	"github.com/paddockhq/paddock/pkg/scheduler"
	"github.com/paddockhq/paddock/pkg/security"
	"github.com/paddockhq/paddock/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Run the Paddock control plane: HTTP API, scheduler and reconciler in
one process. Configuration comes from PADDOCK_* environment variables; see
pkg/config for the full list.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen-addr", "", "Listen address (overrides PADDOCK_LISTEN_ADDR)")
	serveCmd.Flags().String("log-level", "", "Log level (overrides PADDOCK_LOG_LEVEL)")
	serveCmd.Flags().String("kubeconfig", "", "Path to a kubeconfig enabling the kube backend (empty: in-cluster if available)")
	serveCmd.Flags().String("kube-namespace", "default", "Kubernetes namespace for the kube backend")
	serveCmd.Flags().String("default-platform", "runpod", "Backend used when a container spec names none")
	serveCmd.Flags().Bool("skip-migrate", false, "Do not run schema migrations on boot")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
		cfg.ListenAddr = addr
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("serve")

	if skip, _ := cmd.Flags().GetBool("skip-migrate"); !skip {
		if err := storage.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	store, err := storage.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer store.Close()

	brk, err := broker.NewRedisBroker(cfg.BrokerURL, cfg.BrokerPassword)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer brk.Close()

	secrets, err := security.NewSecretsManagerFromPassword(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("secrets manager: %w", err)
	}

	platforms, err := buildPlatforms(cmd, cfg)
	if err != nil {
		return err
	}
	if len(platforms) == 0 {
		return fmt.Errorf("no backend configured: set PADDOCK_BACKEND_API_KEY or --kubeconfig")
	}
	defaultPlatform, _ := cmd.Flags().GetString("default-platform")
	if _, ok := platforms[defaultPlatform]; !ok {
		// Fall back to whichever backend exists.
		for tag := range platforms {
			defaultPlatform = tag
			break
		}
	}
	logger.Info().Str("default_platform", defaultPlatform).Int("backends", len(platforms)).Msg("backends ready")

	emitter := meter.NewEmitter(cfg.MeterSinkURL, cfg.MeterSinkToken)

	rec := reconciler.New(store, platforms, secrets, probe.NewSSHProber(), emitter, brk, reconciler.Config{
		WatchInterval:    cfg.WatchInterval,
		PreferredRegions: cfg.PreferredRegions,
		DefaultPlatform:  defaultPlatform,
		BucketName:       cfg.BucketName,
		BucketRegion:     cfg.BucketRegion,
		BrokerURL:        cfg.BrokerURL,
		AuthServerURL:    cfg.AuthServerURL,
		TailnetAuthKey:   cfg.TailnetAuthKey,
		Tailnet:          cfg.Tailnet,
		RegistryAuthID:   cfg.RegistryAuthID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-attach pods that survived a previous process before ticking.
	if err := rec.ReconcileOrphans(ctx); err != nil {
		logger.Warn().Err(err).Msg("orphan scan incomplete")
	}

	sched := scheduler.New(store, rec, cfg.TickInterval)
	sched.Start(ctx)

	var authn auth.Authenticator = auth.HeaderAuthenticator{}
	if cfg.AuthServerURL != "" {
		authn = auth.NewRemoteAuthenticator(cfg.AuthServerURL)
	}

	srv := api.NewServer(store, rec, brk, secrets, authn, cfg.RootOwner)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("shutting down")
	}

	// Stop accepting work, let in-flight reconciles drain, then close the
	// listener.
	cancel()
	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

func buildPlatforms(cmd *cobra.Command, cfg *config.Config) (map[string]platform.Platform, error) {
	platforms := map[string]platform.Platform{}

	if cfg.BackendAPIKey != "" {
		platforms["runpod"] = runpod.NewClient(cfg.BackendAPIURL, cfg.BackendAPIKey)
	}

	kubeconfig, _ := cmd.Flags().GetString("kubeconfig")
	kubeNamespace, _ := cmd.Flags().GetString("kube-namespace")
	if kubeconfig != "" {
		kc, err := kube.NewClient(kubeconfig, kubeNamespace)
		if err != nil {
			return nil, fmt.Errorf("kube backend: %w", err)
		}
		platforms["kube"] = kc
	}

	return platforms, nil
}
