package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/gatelink/internal/config"
	"github.com/harun/gatelink/pkg/gateway"
)

var keygenForce bool

// keygenCmd generates the device identity used for the connect handshake
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a device identity keypair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		cfg, err := loader.Load()
		if err != nil {
			return err
		}

		path := cfg.Gateway.IdentityPath
		if _, err := os.Stat(path); err == nil && !keygenForce {
			return fmt.Errorf("identity already exists at %s (use --force to replace)", path)
		}

		identity, err := gateway.GenerateIdentity()
		if err != nil {
			return err
		}
		if err := identity.Save(path); err != nil {
			return err
		}

		cmd.Printf("Device identity written to %s\n", path)
		cmd.Printf("Public key: %s\n", identity.PublicKeyString())
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "replace an existing identity")
	rootCmd.AddCommand(keygenCmd)
}
