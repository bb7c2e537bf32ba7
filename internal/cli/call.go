package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/gatelink/pkg/gateway"
)

var (
	callTimeout time.Duration
	callAgentID string
	callQuery   string
)

// callCmd issues a single RPC against the gateway and prints the result
var callCmd = &cobra.Command{
	Use:   "call <method> [params-json]",
	Short: "Issue one call against the gateway",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := args[0]

		var params map[string]interface{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
				return fmt.Errorf("invalid params JSON: %w", err)
			}
		}

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout+rt.cfg.Gateway.DialTimeoutDuration())
		defer cancel()

		if err := rt.client.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		var opts []gateway.CallOption
		if callTimeout > 0 {
			opts = append(opts, gateway.WithTimeout(callTimeout))
		}
		if callAgentID != "" {
			query := callQuery
			if query == "" && len(args) == 2 {
				query = args[1]
			}
			opts = append(opts, gateway.WithSemanticCache(callAgentID, query))
		}

		result, err := rt.client.Call(ctx, method, params, opts...)
		if err != nil {
			return err
		}

		pretty, err := json.MarshalIndent(json.RawMessage(result), "", "  ")
		if err != nil {
			pretty = result
		}
		cmd.Println(string(pretty))
		return nil
	},
}

func init() {
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 30*time.Second, "per-call timeout")
	callCmd.Flags().StringVar(&callAgentID, "agent", "", "agent id for semantic caching")
	callCmd.Flags().StringVar(&callQuery, "query", "", "cache query text (defaults to the params JSON)")
	rootCmd.AddCommand(callCmd)
}
