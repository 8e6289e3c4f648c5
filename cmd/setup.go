package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lockd/internal/auth"
	"lockd/internal/lock"
	"lockd/internal/protocol"
	"lockd/internal/storage"
)

var setupOwnerName string

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Initialize the lock and mint the owner key",
	Long: `Creates the lock's application data and the single owner key.
The owner secret is printed exactly once; it cannot be recovered.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if _, err := provider.LoadApplicationData(ctx); err == nil {
			fmt.Fprintln(os.Stderr, "Lock is already set up.")
			os.Exit(1)
		} else if !errors.Is(err, storage.ErrNoApplicationData) {
			fmt.Fprintf(os.Stderr, "Error reading storage: %v\n", err)
			os.Exit(1)
		}

		data := lock.NewApplicationData(clk.Now())
		store := lock.NewStore(clk, provider, data, nil)

		lockID := uuid.New()
		verifier := auth.NewVerifier(clk, cfg.Window(), newReplayCache())
		authority := protocol.NewAuthority(lockID, store, verifier, clk, cfg.Location())

		creds, err := authority.Setup(ctx, cfg.LockName, setupOwnerName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error setting up lock: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Lock %q initialized.\n", cfg.LockName)
		fmt.Printf("  Lock identifier:  %s\n", lockID)
		fmt.Printf("  Owner key:        %s\n", creds.Identifier)
		fmt.Printf("  Owner secret:     %s\n", base64.StdEncoding.EncodeToString(creds.Secret))
		fmt.Println("Store the owner secret now; it is not shown again.")
	},
}

func init() {
	setupCmd.Flags().StringVar(&setupOwnerName, "owner", "Owner", "display name for the owner key")
	rootCmd.AddCommand(setupCmd)
}
