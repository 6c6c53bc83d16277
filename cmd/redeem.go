package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/abhisek/lingoband/internal/receipt"
)

var redeemCmd = &cobra.Command{
	Use:   "redeem",
	Short: "Redeem a purchase receipt for assessment attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		platformName, _ := cmd.Flags().GetString("platform")
		product, _ := cmd.Flags().GetString("product")
		blob, _ := cmd.Flags().GetString("receipt")

		platform := receipt.Platform(platformName)
		switch platform {
		case receipt.PlatformAppStore, receipt.PlatformPlayStore:
		default:
			return fmt.Errorf("unknown platform %q", platformName)
		}

		a, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		// Without a real verification service the mock verifier stands in;
		// feed it the product this redemption should credit.
		if mock, ok := a.verifier.(*receipt.MockVerifier); ok {
			mock.AddResponse(receipt.MockVerification{
				Verification: receipt.Verification{
					Valid:         true,
					ProductID:     product,
					TransactionID: uuid.New().String(),
				},
			})
		}

		p, err := a.engine.RedeemReceipt(cmd.Context(), userID, platform, []byte(blob))
		if err != nil {
			return err
		}

		fmt.Printf("Purchase %s credited: %d %s attempts for user %s\n",
			p.PurchaseID, p.AttemptsTotal, p.AssessmentType, p.UserID)
		return nil
	},
}

func init() {
	redeemCmd.Flags().StringP("user", "u", "local", "User ID to credit")
	redeemCmd.Flags().String("platform", "app_store", "Storefront platform (app_store|play_store)")
	redeemCmd.Flags().String("product", "speaking_4", "Product ID to credit when using the mock verifier")
	redeemCmd.Flags().String("receipt", "", "Raw receipt blob to verify")
}
