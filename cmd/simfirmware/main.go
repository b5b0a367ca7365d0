// simfirmware is a standalone simulated firmware peer for exercising a
// motionbridged build without real SPI hardware. It listens on a Unix
// socket and speaks the real §4.A framing protocol over each accepted
// connection, one peer at a time — the out-of-process counterpart to
// the daemon's --no-spi in-process simulator.
//
// Usage:
//
//	simfirmware -socket /tmp/motionbridge-simfw.sock [-protocol-version 1] [-log-level info]
//
// Grounded on the teacher's cmd/mock-mcu/main.go (flag parsing, Unix
// socket listener, signal-driven shutdown, one goroutine per connection).
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"motionbridge/pkg/log"
	"motionbridge/pkg/simfw"
	"motionbridge/pkg/spilink"
)

func main() {
	socketPath := flag.String("socket", "/tmp/motionbridge-simfw.sock", "Unix socket path to listen on")
	protocolVersion := flag.Uint("protocol-version", 1, "protocol version to advertise")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger := log.New("simfirmware")
	logger.SetLevel(log.ParseLevel(*logLevel))

	os.Remove(*socketPath)
	ln, err := net.Listen("unix", *socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simfirmware: listen %s: %v\n", *socketPath, err)
		os.Exit(1)
	}
	defer ln.Close()
	defer os.Remove(*socketPath)

	logger.Info("listening", "socket", *socketPath, "protocol_version", *protocolVersion)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
		ln.Close()
	}()

	cfg := spilink.DefaultConfig(uint16(*protocolVersion))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("accept error", "error", err)
			continue
		}
		logger.Info("peer connected")
		go func() {
			defer conn.Close()
			fw := simfw.New(spilink.NewSocketLink(conn), spilink.ImmediateReady{}, cfg, logger.WithPrefix("peer"))
			if err := fw.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("peer session ended", "error", err)
			}
		}()
	}
}
