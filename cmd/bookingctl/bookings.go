package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"mobibook/internal/audit"
	"mobibook/internal/database"
	"mobibook/internal/models"

	"github.com/spf13/cobra"
)

func newBookingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bookings",
		Short: "Inspect bookings",
	}
	cmd.AddCommand(newBookingsShowCmd(opts))
	cmd.AddCommand(newBookingsAuditCmd(opts))
	return cmd
}

func newBookingsShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|reference>",
		Short: "Print a booking as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			booking, err := lookupBooking(cmd, e.db, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(booking)
		},
	}
}

func newBookingsAuditCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <id|reference>",
		Short: "Print the audit trail of a booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			booking, err := lookupBooking(cmd, e.db, args[0])
			if err != nil {
				return err
			}
			entries, err := audit.New(e.db, e.logger).Trail(commandContext(cmd), booking.ID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tACTION\tACTOR\tDETAIL")
			for _, entry := range entries {
				detail, _ := json.Marshal(entry.Detail)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", entry.CreatedAt.Format(time.RFC3339), entry.Action, entry.Actor, detail)
			}
			return w.Flush()
		},
	}
}

// lookupBooking treats a numeric argument as an id and anything else as a reference.
func lookupBooking(cmd *cobra.Command, db *database.DB, arg string) (*models.Booking, error) {
	ctx := commandContext(cmd)
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		b, err := db.GetBooking(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("booking %d: %w", id, err)
		}
		return b, nil
	}
	b, err := db.GetBookingByReference(ctx, arg)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", arg, err)
	}
	return b, nil
}

func newBackupCmd(opts *options) *cobra.Command {
	var dir string

	c := &cobra.Command{
		Use:   "backup",
		Short: "Write a snapshot of the database and prune old snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			cfg := e.cfg.Backup
			if dir != "" {
				cfg.StoragePath = dir
			}
			if cfg.StoragePath == "" {
				return fmt.Errorf("backup.storage_path is not set; pass --dir")
			}

			svc := database.NewBackupService(e.db, cfg, e.logger)
			path, err := svc.PerformBackup(commandContext(cmd))
			if err != nil {
				return err
			}
			removed := svc.CleanupOldBackups()
			fmt.Fprintf(cmd.OutOrStdout(), "backup written to %s (%d old removed)\n", path, removed)
			return nil
		},
	}
	c.Flags().StringVar(&dir, "dir", "", "override backup.storage_path")
	return c
}
