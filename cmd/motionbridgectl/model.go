package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modelCmd = &cobra.Command{
	Use:   "model <key>",
	Short: "Print the object-model patch stored under key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := cl.GetObjectModel(args[0])
		if err != nil {
			return fmt.Errorf("model: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), patch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelCmd)
}
