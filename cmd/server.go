package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	app "lockd/internal"
	"lockd/internal/invite"
	"lockd/internal/syncd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the lock authority server",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		fmt.Println("Starting lock authority server...")
		ServerMain(ctx)
	},
}

func ServerMain(ctx context.Context) {
	authority, store, err := buildAuthority(ctx)
	if err != nil {
		slog.Error("Failed to build authority", "error", err)
		os.Exit(1)
	}

	invites := invite.NewService(cfg.Secret, cfg.BaseURL, clk)

	// Background sync against a shared snapshot directory, when
	// configured. Unresolved conflicts abort the round; the server
	// keeps serving from local state.
	if cfg.Sync.Remote != "" {
		remote, err := syncd.NewFileRemote(cfg.Sync.Remote)
		if err != nil {
			slog.Error("Failed to open sync remote", "error", err, "remote", cfg.Sync.Remote)
			os.Exit(1)
		}
		engine := syncd.NewEngine(store, remote, clk, nil, cfg.SyncInterval())
		go engine.Run(ctx)
	}

	server := app.HTTPServer()
	app.RegisterRoutes(server, authority, cfg.LockName, invites)

	if err := server.Run(cfg.Listen); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
