package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Zyle0001/foundry-local-runtime/internal/audio/adapters"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/control"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/engine"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/hardware"
	"github.com/Zyle0001/foundry-local-runtime/internal/audio/state"
	"github.com/Zyle0001/foundry-local-runtime/internal/config"
	configstore "github.com/Zyle0001/foundry-local-runtime/internal/config/store"
	"github.com/Zyle0001/foundry-local-runtime/internal/eventbus"
	"github.com/Zyle0001/foundry-local-runtime/internal/server"
	"github.com/Zyle0001/foundry-local-runtime/internal/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "foundryd",
		Short:         "Foundry daemon - local audio routing engine and control-plane API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	var binding string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audio routing daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(binding)
		},
	}
	serveCmd.Flags().StringVar(&binding, "binding", "127.0.0.1:9560", "HTTP API listen address")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.FormatVersion(version.String()))
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(binding string) error {
	if err := setupLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	cfg, err := configstore.Open(configstore.Options{})
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}
	defer cfg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := cfg.LoadAudioSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load audio settings: %w", err)
	}

	bus := eventbus.New()
	store := state.New(settings.AudioEnabled, state.WithBus(bus))
	store.SetDefaults(settings.DefaultInputDevice, settings.DefaultOutputDevice, true, true)
	if err := store.SetDuplexPolicy(settings.DuplexPolicy); err != nil {
		log.Printf("[Daemon] persisted duplex policy invalid, keeping default: %v", err)
	}
	store.SetPushToTalk(settings.PushToTalk)

	routes, err := cfg.ListRoutes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}
	for _, route := range routes {
		store.UpsertRoute(route)
	}
	log.Printf("[Daemon] restored %d routes", len(routes))

	backend := hardware.NewPortAudioBackend()
	defer backend.Terminate()

	eng := engine.New(backend, store,
		engine.WithASRAdapter(adapters.NoopASR{}),
		engine.WithTTSAdapter(adapters.NoopTTS{}),
	)
	coordinator := control.New(store, eng)

	apiServer := server.New(coordinator, store, eng, backend,
		server.WithBinding(binding),
		server.WithBus(bus),
		server.WithConfigStore(cfg),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- apiServer.Start()
	}()

	log.Printf("[Daemon] started (PID: %d)", os.Getpid())

	select {
	case <-ctx.Done():
		log.Printf("[Daemon] shutdown signal received")
	case err := <-errChan:
		if err != nil {
			eng.ShutdownAll()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Daemon] API server shutdown error: %v", err)
	}
	eng.ShutdownAll()
	log.Printf("[Daemon] stopped")
	return nil
}

func setupLogging() error {
	paths, err := config.EnsureDirs()
	if err != nil {
		return fmt.Errorf("initialise data directories: %w", err)
	}

	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return nil
}
