package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/lingoband/internal/engine"
)

var resultCmd = &cobra.Command{
	Use:   "result <session-id>",
	Short: "Show the score for a completed session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		result, err := a.engine.Result(cmd.Context(), args[0])
		if errors.Is(err, engine.ErrResultNotReady) {
			fmt.Println("Not yet scored.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Session:      %s\n", result.SessionID)
		fmt.Printf("Rubric:       %s\n", result.RubricID)
		fmt.Printf("Judge model:  %s\n", result.JudgeModel)
		fmt.Printf("Produced:     %s\n", result.ProducedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Overall band: %.1f\n\n", result.OverallBand)
		for name, c := range result.Criteria {
			fmt.Printf("  %-18s %.1f  %s\n", name, c.Score, c.Feedback)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resultCmd)
}
