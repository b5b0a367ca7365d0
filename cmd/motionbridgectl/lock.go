package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock <channel>",
	Short: "Request the exclusive movement lock on behalf of a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cl.Lock(args[0]); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "locked")
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <channel>",
	Short: "Release a lock previously taken with lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cl.Unlock(args[0]); err != nil {
			return fmt.Errorf("unlock: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "unlocked")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
}
