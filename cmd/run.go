package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/lingoband/internal/assessment"
	"github.com/abhisek/lingoband/internal/engine"
	"github.com/abhisek/lingoband/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one assessment attempt interactively",
	Long: "Starts an attempt for the given user, prints the examiner's turns,\n" +
		"and reads candidate responses from stdin until the session ends.",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		typeName, _ := cmd.Flags().GetString("type")

		typ := assessment.Type(typeName)
		if err := typ.Validate(); err != nil {
			return err
		}

		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		s, err := a.engine.StartAttempt(ctx, userID, typ)
		if err != nil {
			if errors.Is(err, engine.ErrEntitlementExhausted) {
				return fmt.Errorf("no attempts remaining; redeem a purchase first (lingoband redeem)")
			}
			return err
		}

		fmt.Printf("Session %s started (%s)\n\n", s.SessionID, s.Phase)
		printNewTurns(s, 0)
		seen := len(s.Turns)

		reader := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("> ")
			if !reader.Scan() {
				fmt.Println()
				if _, err := a.engine.CancelAttempt(ctx, s.SessionID); err != nil {
					return err
				}
				fmt.Println("Attempt abandoned.")
				return nil
			}
			content := strings.TrimSpace(reader.Text())
			if content == "" {
				continue
			}

			s, _, err = a.engine.SubmitTurn(ctx, s.SessionID, content)
			if err != nil {
				if errors.Is(err, engine.ErrInvalidStateTransition) {
					// Timer-driven transition; show the latest state.
					s, err = a.engine.SessionStatus(ctx, s.SessionID)
					if err != nil {
						return err
					}
				} else {
					return err
				}
			}

			printNewTurns(s, seen)
			seen = len(s.Turns)

			if s.Phase.Terminal() {
				break
			}
		}

		fmt.Printf("\nSession ended: %s\n", s.Phase)
		if s.Phase != session.PhaseCompleted {
			return nil
		}

		result, err := a.engine.Result(ctx, s.SessionID)
		if errors.Is(err, engine.ErrResultNotReady) {
			fmt.Println("Scoring pending; check back with the result command.")
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("\nOverall band: %.1f\n", result.OverallBand)
		for name, c := range result.Criteria {
			fmt.Printf("  %-18s %.1f  %s\n", name, c.Score, c.Feedback)
		}
		return nil
	},
}

func printNewTurns(s *session.Session, from int) {
	for _, t := range s.Turns[from:] {
		if t.Role == session.RoleExaminer {
			fmt.Printf("examiner: %s\n", t.Content)
		}
	}
}

func init() {
	runCmd.Flags().StringP("user", "u", "local", "User ID to run the attempt as")
	runCmd.Flags().StringP("type", "t", "speaking", "Assessment type (speaking|academic_writing)")
}
