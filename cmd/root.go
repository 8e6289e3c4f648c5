package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lockd/internal/auth"
	"lockd/internal/clock"
	"lockd/internal/config"
	"lockd/internal/lock"
	"lockd/internal/protocol"
	"lockd/internal/storage"
)

var (
	cfgFile  string
	cfg      *config.Config
	provider storage.Provider
	clk      = clock.Real()
)

var rootCmd = &cobra.Command{
	Use:   "lockd",
	Short: "Smart lock key management daemon",
	Long:  `Runs a lock authority: key roster, invitations, unlock and state sync.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize configuration
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadConfig(cfgFile)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}

		initLogger(cfg)

		// Initialize storage provider
		provider = storage.NewProvider(&cfg.Storage)
		if provider == nil {
			slog.Error("Failed to initialize storage provider")
			os.Exit(1)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		// Cleanup
		if provider != nil {
			provider.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./instance/config.yaml)")
}

// Initialize logger
func initLogger(cfg *config.Config) *slog.Logger {
	// Determine level from config and set it on the handler options.
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
		println("Invalid log level in config, defaulting to INFO")
	}
	handlerOpts := &slog.HandlerOptions{
		Level: level,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	slog.SetDefault(logger)

	slog.Debug("Logger initialized", "level", level.String())
	return logger
}

// loadStore assembles the store from persisted state. Fails when the
// lock has not been set up yet.
func loadStore(ctx context.Context) (*lock.Store, error) {
	data, err := provider.LoadApplicationData(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNoApplicationData) {
			return nil, fmt.Errorf("lock is not set up, run 'lockd setup' first")
		}
		return nil, err
	}

	secrets, err := provider.LoadSecrets(ctx)
	if err != nil {
		return nil, err
	}

	return lock.NewStore(clk, provider, *data, secrets), nil
}

// lockIdentity reads the lock's own identifier from application data.
// Setup records exactly one lock record for the authority itself.
func lockIdentity(data lock.ApplicationData) (uuid.UUID, error) {
	if len(data.Locks) == 0 {
		return uuid.Nil, fmt.Errorf("application data carries no lock identity")
	}
	return data.Locks[0].Identifier, nil
}

// newReplayCache picks the configured replay cache backend.
func newReplayCache() auth.ReplayCache {
	switch cfg.ReplayStore {
	case "sql":
		return auth.NewSQLReplayCache(clk, provider)
	default:
		return auth.NewMemoryReplayCache(clk)
	}
}

// buildAuthority wires the full authority stack from persisted state.
func buildAuthority(ctx context.Context) (*protocol.Authority, *lock.Store, error) {
	store, err := loadStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	lockID, err := lockIdentity(store.Snapshot())
	if err != nil {
		return nil, nil, err
	}

	verifier := auth.NewVerifier(clk, cfg.Window(), newReplayCache())
	authority := protocol.NewAuthority(lockID, store, verifier, clk, cfg.Location())
	return authority, store, nil
}

// ownerKey finds the owner key in a snapshot, for CLI operations that
// act with the authority operator's standing.
func ownerKey(data lock.ApplicationData) (lock.Key, error) {
	for _, k := range data.Keys {
		if k.Permission.Type() == lock.PermissionOwner {
			return k, nil
		}
	}
	return lock.Key{}, fmt.Errorf("no owner key in application data")
}
