package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"lockd/internal/email"
	"lockd/internal/invite"
	"lockd/internal/lock"
	"lockd/internal/protocol"
)

var (
	inviteName     string
	inviteAdmin    bool
	inviteSchedule string
	inviteTTL      time.Duration
	inviteOut      string
	inviteQR       string
	inviteEmail    string
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Create a key invitation",
	Long: `Creates a pending invitation with a one-time secret and registers it
with the lock. The invitation can be written to a file, rendered as a
QR code link, or emailed to the invitee.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		store, err := loadStore(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		data := store.Snapshot()
		lockID, err := lockIdentity(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		owner, err := ownerKey(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		permission := lock.Anytime()
		switch {
		case inviteAdmin && inviteSchedule != "":
			fmt.Fprintln(os.Stderr, "Error: --admin and --schedule are mutually exclusive")
			os.Exit(1)
		case inviteAdmin:
			permission = lock.Admin()
		case inviteSchedule != "":
			schedule, err := loadSchedule(inviteSchedule)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading schedule: %v\n", err)
				os.Exit(1)
			}
			permission = lock.Scheduled(schedule)
		}

		ttl := inviteTTL
		if !cmd.Flags().Changed("ttl") && cfg.InvitationTTL > 0 {
			ttl = time.Duration(cfg.InvitationTTL) * time.Second
		}

		invitation, err := protocol.NewInvitation(lockID, inviteName, permission, clk, ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating invitation: %v\n", err)
			os.Exit(1)
		}
		invitation.LockURL = cfg.BaseURL

		// Register: one-time secret plus pending entry in one commit,
		// attributed to the owner key in the event log.
		newKeyID := invitation.NewKey.Identifier
		err = store.Apply(ctx, lock.Change{
			Data: func(d *lock.ApplicationData) error {
				d.SetPending(invitation.NewKey)
				d.AppendEvent(lock.NewEvent(lock.EventCreateNewKey, clk.Now().UTC(), owner.Identifier, &newKeyID))
				return nil
			},
			SetSecrets: map[uuid.UUID]lock.Secret{newKeyID: invitation.Secret},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error registering invitation: %v\n", err)
			os.Exit(1)
		}

		// Plain invitation file, for out-of-band transfer
		raw, err := json.MarshalIndent(invitation, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding invitation: %v\n", err)
			os.Exit(1)
		}
		if inviteOut != "" {
			if err := os.WriteFile(inviteOut, raw, 0o600); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing invitation: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Invitation written to %s\n", inviteOut)
		} else {
			fmt.Println(string(raw))
		}

		// Link, QR and email delivery all require the signing secret
		if cfg.Secret == "" {
			if inviteQR != "" || inviteEmail != "" {
				fmt.Fprintln(os.Stderr, "Error: link delivery requires SECRET to be configured")
				os.Exit(1)
			}
			return
		}

		invites := invite.NewService(cfg.Secret, cfg.BaseURL, clk)
		token, err := invites.Token(invitation)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error signing invitation link: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Invitation link: %s\n", invites.Link(token))

		if inviteQR != "" {
			png, err := invites.QR(token)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error rendering QR code: %v\n", err)
				os.Exit(1)
			}
			if err := os.WriteFile(inviteQR, png, 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing QR code: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("QR code written to %s\n", inviteQR)
		}

		if inviteEmail != "" {
			client := email.NewClientFromConfig(cfg.Email)
			msg := invites.Email(inviteEmail, cfg.LockName, invitation, token)
			if err := client.SendInvitation(msg); err != nil {
				fmt.Fprintf(os.Stderr, "Error sending invitation email: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Invitation emailed to %s\n", inviteEmail)
		}
	},
}

func init() {
	inviteCmd.Flags().StringVar(&inviteName, "name", "", "display name for the new key (required)")
	inviteCmd.Flags().BoolVar(&inviteAdmin, "admin", false, "grant admin permission")
	inviteCmd.Flags().StringVar(&inviteSchedule, "schedule", "", "YAML schedule file for a scheduled permission")
	inviteCmd.Flags().DurationVar(&inviteTTL, "ttl", lock.DefaultInvitationTTL, "invitation validity")
	inviteCmd.Flags().StringVar(&inviteOut, "out", "", "write the invitation JSON to a file instead of stdout")
	inviteCmd.Flags().StringVar(&inviteQR, "qr", "", "write an invitation link QR code PNG to a file")
	inviteCmd.Flags().StringVar(&inviteEmail, "email", "", "email the invitation link to an address")
	inviteCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(inviteCmd)
}
