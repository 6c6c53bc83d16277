package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show judge usage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		calls, tokens, err := a.events.JudgeCallStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("query judge usage: %w", err)
		}
		if calls == 0 {
			fmt.Println("No judge usage recorded yet.")
			return nil
		}
		fmt.Printf("Judge calls: %d\nTokens:      %d\n", calls, tokens)
		return nil
	},
}
