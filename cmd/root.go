// Package cmd defines and implements the CLI commands for the doggo executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/doggo-watch/doggo/internal/app"
	"github.com/doggo-watch/doggo/internal/config"
	"github.com/doggo-watch/doggo/internal/logging"
	"github.com/doggo-watch/doggo/internal/notifier"
	"github.com/doggo-watch/doggo/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject their own.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	OpenStore() (*store.Store, error)
	ReadStore() (*store.Store, error)
	NewNotifier() (*notifier.Notifier, error)
	Run(ctx context.Context) error
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfgFile string) (App, error) {
	return app.Build(cfgFile)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "doggo",
		Short: "Sniffs classifieds searches and mails you the new ads.",
		Long: `doggo periodically polls classifieds search pages, remembers every ad it
has already seen, and sends the owner of each watchdog a DKIM-signed email
listing the ads that appeared since the last run.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newSendTestCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	cmd := newRootCmd()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		logger, lerr := logging.New(logging.Config{Development: true})
		if lerr != nil {
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
