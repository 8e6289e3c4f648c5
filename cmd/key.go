package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lockd/internal/lock"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage keys",
	Long:  `List active keys and pending invitations, or remove a key from the lock.`,
}

var keyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys and pending invitations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, err := loadStore(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		data := store.Snapshot()
		if len(data.Keys) == 0 && len(data.PendingKeys) == 0 {
			fmt.Println("No keys found.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPERMISSION\tSTATE\tCREATED")
		for _, k := range data.Keys {
			fmt.Fprintf(w, "%s\t%s\t%s\tactive\t%s\n",
				k.Identifier, k.Name, k.Permission.Type(), k.Created.Format(time.RFC3339))
		}
		now := clk.Now()
		for _, k := range data.PendingKeys {
			state := "pending"
			if k.Expired(now) {
				state = "expired"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				k.Identifier, k.Name, k.Permission.Type(), state, k.Created.Format(time.RFC3339))
		}
		w.Flush()
	},
}

var keyRemoveCmd = &cobra.Command{
	Use:     "remove [id]",
	Aliases: []string{"revoke"},
	Short:   "Remove an active key or revoke a pending invitation",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		target, err := uuid.Parse(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid key identifier: %v\n", err)
			os.Exit(1)
		}

		store, err := loadStore(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		data := store.Snapshot()
		owner, err := ownerKey(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if target == owner.Identifier {
			fmt.Fprintln(os.Stderr, "Error: the owner key cannot be removed")
			os.Exit(1)
		}

		err = store.Apply(ctx, lock.Change{
			Data: func(d *lock.ApplicationData) error {
				if d.RemoveKey(target) || d.RemovePending(target) {
					d.AppendEvent(lock.NewEvent(lock.EventRemoveKey, clk.Now().UTC(), owner.Identifier, &target))
					return nil
				}
				return fmt.Errorf("no key or pending invitation with identifier %s", target)
			},
			DeleteSecrets: []uuid.UUID{target},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Removed %s\n", target)
	},
}

func init() {
	keyCmd.AddCommand(keyListCmd)
	keyCmd.AddCommand(keyRemoveCmd)
	rootCmd.AddCommand(keyCmd)
}
