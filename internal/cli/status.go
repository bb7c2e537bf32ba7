package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd connects and prints the runtime health snapshot
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway connection health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.Gateway.DialTimeoutDuration()*2)
		defer cancel()

		if err := rt.client.Connect(ctx); err != nil {
			// Still print what we know: the snapshot shows the failing state.
			cmd.PrintErrf("connect failed: %v\n", err)
		}

		status := rt.client.Health()
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render status: %w", err)
		}
		cmd.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
