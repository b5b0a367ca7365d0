package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var codeCmd = &cobra.Command{
	Use:   "code <channel> <code...>",
	Short: "Submit one code to a channel and print its reply",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reply, err := cl.Code(args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("code: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(codeCmd)
}
