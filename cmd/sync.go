package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"lockd/internal/lock"
	"lockd/internal/syncd"
)

var syncYes bool

// promptConflict asks the operator to pick a side when the merge is
// ambiguous. With --yes the remote side is taken without asking.
func promptConflict(local, remote lock.ApplicationData) lock.Resolution {
	if syncYes {
		return lock.TakeRemote
	}

	fmt.Printf("Conflict: local updated %s, remote updated %s\n",
		local.Updated.Format("2006-01-02 15:04:05"), remote.Updated.Format("2006-01-02 15:04:05"))
	fmt.Print("Keep [l]ocal, take [r]emote, or [a]bort? ")

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return lock.Abort
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "l", "local":
		return lock.KeepLocal
	case "r", "remote":
		return lock.TakeRemote
	default:
		return lock.Abort
	}
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync round against the configured remote",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if cfg.Sync.Remote == "" {
			fmt.Fprintln(os.Stderr, "Error: no sync remote configured (SYNC_REMOTE)")
			os.Exit(1)
		}

		store, err := loadStore(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		remote, err := syncd.NewFileRemote(cfg.Sync.Remote)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening remote: %v\n", err)
			os.Exit(1)
		}

		engine := syncd.NewEngine(store, remote, clk, promptConflict, cfg.SyncInterval())
		if err := engine.Sync(ctx); err != nil {
			if errors.Is(err, lock.ErrUnresolvedConflict) {
				fmt.Fprintln(os.Stderr, "Sync aborted, no state was changed.")
			} else {
				fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Println("Sync complete.")
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncYes, "yes", false, "resolve conflicts by taking the remote side")
	rootCmd.AddCommand(syncCmd)
}
