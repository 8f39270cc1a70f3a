package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAsset string
	simulatePrice float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次价格并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice <= 0 {
			return errors.New("--price 必须大于 0")
		}

		price := decimal.NewFromFloat(simulatePrice)
		return getApp().SimulateAlert(cmd.Context(), simulateAsset, price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "gold", "模拟的金属品种")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "模拟的现货价格 (USD/ozt)")
}
