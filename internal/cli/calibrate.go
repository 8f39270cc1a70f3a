package cli

import (
	"github.com/spf13/cobra"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Run one calibration pass for the proxy instrument",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Calibrate(cmd.Context())
	},
}
