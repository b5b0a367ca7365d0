// Grounded on strandctl's cmd/dashboard.go: launch a bubbletea program
// over the alt screen buffer.
package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"motionbridge/pkg/ctl/tui"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Launch the interactive channel dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := tea.NewProgram(tui.New(cl, cfg.SocketPath), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
