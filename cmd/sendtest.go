package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSendTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send-test <email>",
		Short: "Sends a signed test message straight to the recipient's mail exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.NewNotifier()
			if err != nil {
				return err
			}
			if err := n.SendTest(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("send test message: %w", err)
			}
			appInstance.Logger().Info("test message delivered", zap.String("to", args[0]))
			return nil
		},
	}
}
