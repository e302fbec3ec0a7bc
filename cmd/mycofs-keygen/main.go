// Command mycofs-keygen generates a CURVE key pair for transport
// encryption. The public key is written to the given file, the secret key
// to the same name with ".secret" appended.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mycofs/mycofs/pkg/keys"
	"github.com/mycofs/mycofs/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "mycofs-keygen FILE",
		Short:   "generate a transport encryption key pair",
		Version: version.Version,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			public, secret, err := keys.Generate()
			if err != nil {
				return err
			}
			if err := keys.WritePair(args[0], public, secret); err != nil {
				return err
			}
			fmt.Printf("public key %s written to %s\n", public, args[0])
			fmt.Printf("secret key written to %s%s\n", args[0], keys.SecretSuffix)
			return nil
		},
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
