package cli

import (
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	alertOwner     string
	alertAsset     string
	alertDirection string
	alertTarget    float64
)

var alertCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage threshold alerts",
}

var alertAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a threshold alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOwner == "" {
			return errors.New("--owner is required")
		}
		if alertTarget <= 0 {
			return errors.New("--target must be greater than zero")
		}

		target := decimal.NewFromFloat(alertTarget)
		return getApp().AddAlert(cmd.Context(), alertOwner, alertAsset, alertDirection, target)
	},
}

var alertRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete an alert by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return errors.New("id must be an integer")
		}
		return getApp().RemoveAlert(cmd.Context(), id)
	},
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertOwner == "" {
			return errors.New("--owner is required")
		}
		return getApp().ListAlerts(cmd.Context(), alertOwner)
	},
}

func init() {
	alertAddCmd.Flags().StringVar(&alertOwner, "owner", "", "Owner reference the alert belongs to")
	alertAddCmd.Flags().StringVar(&alertAsset, "asset", "gold", "Asset to watch")
	alertAddCmd.Flags().StringVar(&alertDirection, "direction", "above", "Crossing direction (above or below)")
	alertAddCmd.Flags().Float64Var(&alertTarget, "target", 0, "Target price in USD per troy ounce")

	alertListCmd.Flags().StringVar(&alertOwner, "owner", "", "Owner reference to list alerts for")

	alertCmd.AddCommand(alertAddCmd)
	alertCmd.AddCommand(alertRemoveCmd)
	alertCmd.AddCommand(alertListCmd)
}
