// motionbridgectl is the operator CLI for a running motionbridged
// daemon: it talks to the daemon's loopback Unix socket to submit
// codes, flush and lock/unlock channels, read object-model keys, and
// inspect per-channel diagnostics, plus an interactive dashboard.
//
// Grounded on strandctl's cmd/root.go: persistent flags loaded once in
// PersistentPreRunE, package-level client/config set up there and used
// by every subcommand.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"motionbridge/pkg/ctl/client"
	ctlconfig "motionbridge/pkg/ctl/config"
)

var (
	cfgFile    string
	socketPath string

	cfg *ctlconfig.Config
	cl  *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "motionbridgectl",
	Short: "Operator CLI for a running motionbridged daemon",
	Long: `motionbridgectl talks to a motionbridged daemon's loopback command
socket: submit codes, flush or lock/unlock channels, read the object
model, inspect per-channel diagnostics, or watch the live dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = ctlconfig.DefaultPath()
		}
		var err error
		cfg, err = ctlconfig.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if socketPath != "" {
			cfg.SocketPath = socketPath
		}
		cl = client.New(cfg.SocketPath)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.motionbridge/ctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket-path", "", "override the daemon's command socket path")
}
