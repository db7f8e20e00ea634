package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"btk/orchestrator/api/rest"
	"btk/orchestrator/internal/backend"
	"btk/orchestrator/internal/orchestrator"
	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	Long: `Starts the orchestrator: the HTTP API, the backend bridge WebSocket
endpoint and the task dispatcher. Statically configured HTTP backends are
registered into the fallback chain in configuration order.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddress != "" {
		cfg.Server.Address = serveAddress
	}
	initLogger(cfg)
	defer logger.Sync()

	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrent:       cfg.Orchestrator.MaxConcurrent,
		HealthCheckInterval: cfg.Orchestrator.HealthCheckInterval,
		DefaultTaskTimeout:  cfg.Orchestrator.DefaultTaskTimeout,
		DefaultRetries:      cfg.Orchestrator.DefaultRetries,
	})

	// Static HTTP backends join the chain in configured order.
	for _, bc := range cfg.Backends {
		info := types.BackendInfo{
			ID:     bc.ID,
			Host:   bc.Host,
			Port:   bc.Port,
			Role:   types.BackendRole(bc.Role),
			Labels: bc.Labels,
		}
		transport := backend.NewHTTPTransport("http://" + info.Addr())
		if err := orch.Chain().Register(backend.NewClient(info, transport)); err != nil {
			return fmt.Errorf("register backend %s: %w", bc.ID, err)
		}
		orch.TrackBackend(bc.ID)
		logger.Info("registered http backend",
			zap.String("backend_id", bc.ID), zap.String("addr", info.Addr()))
	}

	if err := orch.Start(); err != nil {
		return err
	}
	defer orch.Stop()

	serverCfg := &rest.Config{
		Address:       cfg.Server.Address,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		EnableCORS:    cfg.Server.EnableCORS,
		ShutdownGrace: cfg.Server.ShutdownGrace,
	}
	if cfg.Server.APIKey != "" {
		serverCfg.Auth = &rest.AuthConfig{Enabled: true, APIKey: cfg.Server.APIKey}
	}
	server := rest.NewServer(orch, serverCfg)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	server.SetShutdownFunc(func() {
		select {
		case stop <- syscall.SIGTERM:
		default:
		}
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator listening", zap.String("address", cfg.Server.Address))
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		return server.ShutdownWithTimeout(10 * time.Second)
	}
}
