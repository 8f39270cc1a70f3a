package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	deviceOwner string
	deviceToken string
)

var deviceCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage push delivery destinations",
}

var deviceAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a device token for an owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deviceOwner == "" || deviceToken == "" {
			return errors.New("--owner and --token are required")
		}
		return getApp().RegisterDevice(cmd.Context(), deviceOwner, deviceToken)
	},
}

var deviceRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a device token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deviceOwner == "" || deviceToken == "" {
			return errors.New("--owner and --token are required")
		}
		return getApp().RemoveDevice(cmd.Context(), deviceOwner, deviceToken)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{deviceAddCmd, deviceRemoveCmd} {
		cmd.Flags().StringVar(&deviceOwner, "owner", "", "Owner reference")
		cmd.Flags().StringVar(&deviceToken, "token", "", "Push destination token")
	}

	deviceCmd.AddCommand(deviceAddCmd)
	deviceCmd.AddCommand(deviceRemoveCmd)
}
