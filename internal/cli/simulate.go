package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulateRate float64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次利率观测并触发告警链路",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateRate <= 0 {
			return errors.New("--rate 必须大于 0")
		}

		rate := decimal.NewFromFloat(simulateRate)
		return getApp().SimulateAlert(cmd.Context(), rate)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateRate, "rate", 0, "模拟的年化利率 (%)")
}
