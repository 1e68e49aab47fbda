package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doggo-watch/doggo/internal/id/uuid"
	"github.com/doggo-watch/doggo/internal/watchdog"
)

type addOptions struct {
	name     string
	email    string
	url      string
	interval time.Duration
}

// idGenerator is swapped in tests.
var idGenerator watchdog.IDGenerator = uuid.NewUUIDGenerator()

func newAddCmd() *cobra.Command {
	opts := addOptions{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Adds a watchdog to the state file",
		Long: `Creates a watchdog with a fresh id and persists it. Stop any running
scheduler first; it owns the state file and would overwrite the change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if opts.email == "" || opts.url == "" {
				return errors.New("--email and --url are required")
			}
			interval := opts.interval
			if interval == 0 {
				interval = appInstance.Config().Schedule.DefaultInterval
			}

			id, err := idGenerator.NewID()
			if err != nil {
				return err
			}
			w, err := watchdog.New(watchdog.Params{
				ID:         id,
				Name:       opts.name,
				OwnerEmail: opts.email,
				SearchURL:  opts.url,
				Interval:   interval,
			})
			if err != nil {
				return err
			}

			st, err := appInstance.OpenStore()
			if err != nil {
				return err
			}
			if err := st.Add(w); err != nil {
				return err
			}
			if err := st.Persist(); err != nil {
				return err
			}
			appInstance.Logger().Info("watchdog added",
				zap.String("watchdog_id", w.ID.String()),
				zap.String("path", st.Path()),
			)
			fmt.Fprintln(cmd.OutOrStdout(), w.ID.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "display name, used as the email sender name")
	cmd.Flags().StringVar(&opts.email, "email", "", "owner email address")
	cmd.Flags().StringVar(&opts.url, "url", "", "search results URL to poll")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "poll interval (default schedule.default_interval)")
	return cmd
}
