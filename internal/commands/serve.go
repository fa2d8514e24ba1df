package commands

import (
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotcommander/hive/internal/agentstate"
	"github.com/dotcommander/hive/internal/app"
	"github.com/dotcommander/hive/internal/coordinator"
	"github.com/dotcommander/hive/internal/hub"
	"github.com/dotcommander/hive/internal/lock"
)

// NewServeCmd creates the serve command: the HTTP/WebSocket coordination
// hub in the foreground until SIGINT/SIGTERM.
func NewServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination hub server",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := app.DataDir()
			if err != nil {
				return cmdErr(err)
			}

			agents := agentstate.NewRegistry(dataDir)
			defer func() { _ = agents.Close() }()

			coord, err := coordinator.Open(app.CoordinatorDBPath(dataDir), agents)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = coord.Close() }()

			locks := lock.NewRegistry(dataDir)
			defer func() { _ = locks.Close() }()

			if addr == "" {
				addr = app.ListenAddr()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("starting hive hub", "addr", addr, "data_dir", dataDir)
			if err := hub.New(coord, agents, locks).Start(ctx, addr); err != nil {
				return cmdErr(err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: $HIVE_ADDR or :8787)")
	return cmd
}
