package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire sessions past their deadline",
	Long: "Runs one expiry sweep over all live sessions. Intended to be invoked\n" +
		"periodically by an external scheduler; every session access also runs\n" +
		"the same check lazily.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.engine.CheckExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d session(s).\n", n)
		return nil
	},
}
