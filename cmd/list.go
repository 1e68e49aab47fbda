package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/doggo-watch/doggo/internal/watchdog"
)

type watchdogSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	OwnerEmail string     `json:"owner_email"`
	SearchURL  string     `json:"search_url"`
	Interval   string     `json:"interval"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	SeenItems  int        `json:"seen_items"`
}

func newListCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Lists stored watchdogs without modifying the state file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, err := appInstance.ReadStore()
			if err != nil {
				return err
			}
			summaries := summarize(st.Watchdogs())
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(summaries); err != nil {
					return fmt.Errorf("encode watchdogs: %w", err)
				}
				return nil
			}
			return writeTable(cmd.OutOrStdout(), summaries)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func summarize(list []*watchdog.Watchdog) []watchdogSummary {
	out := make([]watchdogSummary, 0, len(list))
	for _, w := range list {
		out = append(out, watchdogSummary{
			ID:         w.ID.String(),
			Name:       w.Name,
			OwnerEmail: w.OwnerEmail,
			SearchURL:  w.SearchURL,
			Interval:   w.PollInterval().String(),
			LastRunAt:  w.LastRunAt,
			SeenItems:  len(w.SeenItems),
		})
	}
	return out
}

func writeTable(out io.Writer, summaries []watchdogSummary) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER\tINTERVAL\tLAST RUN\tSEEN\tURL")
	for _, s := range summaries {
		lastRun := "never"
		if s.LastRunAt != nil {
			lastRun = s.LastRunAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.Name, s.OwnerEmail, s.Interval, lastRun, s.SeenItems, s.SearchURL)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write table: %w", err)
	}
	return nil
}
