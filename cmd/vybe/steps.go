package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nevindra/vybe/durable"
)

func newStepsCmd(opts *options) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "steps <run-id>",
		Short: "List the durable step records of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			// Steps only need the database.
			cfg.Observer.Enabled = false
			a := &app{cfg: cfg, logger: cfg.Log.NewLogger(os.Stderr)}
			if err := a.openStore(cmd.Context()); err != nil {
				return err
			}
			defer a.close(context.Background())

			records, err := a.store.ListSteps(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list steps: %w", err)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			return printSteps(os.Stdout, records)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func printSteps(w io.Writer, records []durable.StepRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no steps recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tCLAIMED\tTOOK\tRESULT")
	for _, r := range records {
		status, took := "pending", "-"
		if r.Completed() {
			status = "done"
			took = (time.Duration(r.CompletedAt-r.ClaimedAt) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%dB\n", r.Name, status,
			time.UnixMilli(r.ClaimedAt).Format(time.RFC3339), took, len(r.Result))
	}
	return tw.Flush()
}
