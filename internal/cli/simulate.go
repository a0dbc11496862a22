package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateTVLBefore float64
	simulateTVLAfter  float64
	simulateAPY       float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed a synthetic TVL drop through the oracle and dispatch alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateTVLBefore <= 0 || simulateTVLAfter < 0 {
			return errors.New("--tvl-before must be positive and --tvl-after non-negative")
		}

		before := decimal.NewFromFloat(simulateTVLBefore)
		after := decimal.NewFromFloat(simulateTVLAfter)
		apy := decimal.NewFromFloat(simulateAPY)
		return getApp().SimulateAlert(cmd.Context(), before, after, apy)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateTVLBefore, "tvl-before", 0, "TVL before the simulated drain, token units")
	simulateCmd.Flags().Float64Var(&simulateTVLAfter, "tvl-after", 0, "TVL after the simulated drain, token units")
	simulateCmd.Flags().Float64Var(&simulateAPY, "apy", 0, "Advertised APY in percent")
}
