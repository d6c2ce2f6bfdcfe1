package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"mobibook/internal/logging"
	"mobibook/internal/models"
	"mobibook/internal/slots"

	"github.com/spf13/cobra"
)

func newSlotsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Generate, list and delete bookable slots",
	}
	cmd.AddCommand(newSlotsGenerateCmd(opts))
	cmd.AddCommand(newSlotsListCmd(opts))
	cmd.AddCommand(newSlotsDeleteCmd(opts))
	return cmd
}

func newSlotsGenerateCmd(opts *options) *cobra.Command {
	var (
		planPath   string
		from       string
		to         string
		weekdays   string
		times      string
		notes      string
		everyWeeks int
	)

	c := &cobra.Command{
		Use:   "generate",
		Short: "Create slots from a plan file or from flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			var plan slots.Plan
			if planPath != "" {
				loaded, err := slots.LoadPlan(planPath)
				if err != nil {
					return err
				}
				plan = *loaded
			} else {
				plan = slots.Plan{From: from, To: to, Weekdays: splitList(weekdays), Times: splitList(times), EveryWeeks: everyWeeks, Notes: notes}
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			res, err := slots.NewGenerator(e.db, logging.Component(e.logger, "slots")).Generate(commandContext(cmd), plan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %d, skipped %d\n", len(res.Created), res.Skipped)
			return nil
		},
	}

	c.Flags().StringVar(&planPath, "plan", "", "YAML plan file (overrides the other flags)")
	c.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	c.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD (default end of the --from month)")
	c.Flags().IntVar(&everyWeeks, "every-weeks", 0, "only every Nth week, counted from the --from week")
	c.Flags().StringVar(&weekdays, "weekdays", "", "comma separated weekdays, e.g. mon,wed,fri (default every day)")
	c.Flags().StringVar(&times, "times", "", "comma separated start times, e.g. 09:00,11:30")
	c.Flags().StringVar(&notes, "notes", "", "notes stored on every slot")
	return c
}

func newSlotsListCmd(opts *options) *cobra.Command {
	var (
		from      string
		to        string
		available bool
		limit     int
	)

	c := &cobra.Command{
		Use:   "list",
		Short: "List slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.SlotFilter{AvailableOnly: available, Limit: limit}
			if from != "" {
				d, err := time.Parse(models.DateLayout, from)
				if err != nil {
					return fmt.Errorf("invalid --from (want YYYY-MM-DD)")
				}
				filter.From = d
			}
			if to != "" {
				d, err := time.Parse(models.DateLayout, to)
				if err != nil {
					return fmt.Errorf("invalid --to (want YYYY-MM-DD)")
				}
				filter.To = d
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.db.ListSlots(commandContext(cmd), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tDATE\tSTART\tAVAILABLE\tNOTES")
			for _, s := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", s.ID, s.Date.Format(models.DateLayout), s.StartTime, s.IsAvailable, s.Notes)
			}
			return w.Flush()
		},
	}

	c.Flags().StringVar(&from, "from", "", "first date, YYYY-MM-DD")
	c.Flags().StringVar(&to, "to", "", "last date, YYYY-MM-DD")
	c.Flags().BoolVar(&available, "available", false, "only available slots")
	c.Flags().IntVar(&limit, "limit", models.DefaultListLimit, "maximum rows")
	return c
}

func newSlotsDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a slot that was never booked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid slot id %q", args[0])
			}

			e, err := opts.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.db.DeleteSlot(commandContext(cmd), id); err != nil {
				return fmt.Errorf("delete slot %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted slot %d\n", id)
			return nil
		},
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// commandContext returns cmd's context, or Background when run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
