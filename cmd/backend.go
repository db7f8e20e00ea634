package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"btk/orchestrator/internal/bridge"
	"btk/orchestrator/internal/localtool"
	"btk/orchestrator/internal/protocol"
	"btk/orchestrator/pkg/logger"
	"btk/orchestrator/pkg/types"
)

var (
	backendURL string
	backendID  string
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run a bridge-connected execution backend",
	Long: `Runs a worker process that connects to the orchestrator over the
WebSocket bridge, registers as an execution backend and serves tool calls.
The built-in tools (data extraction and script evaluation) are exposed;
the connection re-establishes itself automatically after drops.`,
	RunE: runBackend,
}

func init() {
	backendCmd.Flags().StringVar(&backendURL, "url", "", "orchestrator bridge URL (overrides config)")
	backendCmd.Flags().StringVar(&backendID, "id", "", "backend component ID (overrides config)")
	rootCmd.AddCommand(backendCmd)
}

func runBackend(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if backendURL != "" {
		cfg.Bridge.OrchestratorURL = backendURL
	}
	if backendID != "" {
		cfg.Bridge.ComponentID = backendID
	}
	if cfg.Bridge.ComponentID == "" {
		host, _ := os.Hostname()
		cfg.Bridge.ComponentID = "backend-" + host
	}
	initLogger(cfg)
	defer logger.Sync()

	tools := localtool.NewRegistry()
	tools.MustRegister(localtool.NewExtractTool())
	tools.MustRegister(localtool.NewScriptTool())

	startedAt := time.Now()

	conn := bridge.New(bridge.Config{
		URL:    cfg.Bridge.OrchestratorURL,
		Source: cfg.Bridge.ComponentID,
		Target: "orchestrator",
		Register: types.RegisterPayload{
			ComponentID:  cfg.Bridge.ComponentID,
			Role:         string(types.RoleBridge),
			Capabilities: []string{"data.extract", "script.eval"},
		},
		HeartbeatInterval: cfg.Bridge.HeartbeatInterval,
		ReconnectDelay:    cfg.Bridge.ReconnectDelay,
		RequestTimeout:    cfg.Bridge.RequestTimeout,
	})

	conn.Handle(types.MsgTaskExecute, func(ctx context.Context, msg *types.BridgeMessage) (interface{}, error) {
		var p types.ExecutePayload
		if err := protocol.DecodePayload(msg, &p); err != nil {
			return nil, err
		}
		if p.TimeoutMs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(p.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		res := tools.Execute(ctx, &types.Task{
			ID:       p.TaskID,
			ToolName: p.ToolName,
			Args:     p.Args,
		})
		return types.ExecuteResultPayload{
			TaskID:  p.TaskID,
			Success: res.Success,
			Data:    res.Data,
			Error:   res.Error,
		}, nil
	})

	conn.Handle(types.MsgToolsList, func(ctx context.Context, msg *types.BridgeMessage) (interface{}, error) {
		return types.ToolsPayload{Tools: tools.Definitions()}, nil
	})

	conn.Handle(types.MsgHealthCheck, func(ctx context.Context, msg *types.BridgeMessage) (interface{}, error) {
		return types.HealthStatus{
			Status:   types.HealthHealthy,
			UptimeMs: time.Since(startedAt).Milliseconds(),
		}, nil
	})

	if err := conn.Connect(context.Background()); err != nil {
		return fmt.Errorf("connect to orchestrator: %w", err)
	}
	defer conn.Close()

	logger.Info("backend connected",
		zap.String("component_id", cfg.Bridge.ComponentID),
		zap.String("url", cfg.Bridge.OrchestratorURL))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("backend stopping", zap.String("signal", sig.String()))
	return nil
}
