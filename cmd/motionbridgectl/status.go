package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"motionbridge/pkg/gcode"
)

var statusChannel string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-channel stack depth and queue diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := cl.Status(statusChannel)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-10s %6s %8s %5s %11s %10s %8s  %s\n",
			"CHANNEL", "STACK", "PENDING", "SENT", "FLUSH-WAIT", "LOCK-WAIT", "ABORTED", "LAST ERROR")
		for _, s := range stats {
			fmt.Fprintf(w, "%-10s %6d %8d %5d %11d %10d %8t  %s\n",
				gcode.Channel(s.Channel).String(), s.StackDepth, s.PendingCodes, s.SentCodes,
				s.FlushWaiters, s.LockWaiters, s.Aborted, s.LastError)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusChannel, "channel", "", "limit to one channel (default: all)")
	rootCmd.AddCommand(statusCmd)
}
