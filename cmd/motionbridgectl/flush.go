package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flushSync bool

var flushCmd = &cobra.Command{
	Use:   "flush <channel>",
	Short: "Wait for a channel's pending work to drain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flushed, err := cl.Flush(args[0], flushSync)
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		if flushed {
			fmt.Fprintln(cmd.OutOrStdout(), "flushed")
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "not flushed")
		}
		return nil
	},
}

func init() {
	flushCmd.Flags().BoolVar(&flushSync, "sync-file-streams", false, "also wait for in-flight file-stream codes")
	rootCmd.AddCommand(flushCmd)
}
