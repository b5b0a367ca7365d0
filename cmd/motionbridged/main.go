// motionbridged is the host daemon: it drives the §4.A SPI transport
// against RRF firmware (or, with -no-spi, an in-process simulated
// firmware), routes decoded packets through a Processor into one
// Channel per gcode.Channel, and exposes the result over a loopback
// command socket, an operator websocket feed, and a Prometheus-style
// metrics endpoint.
//
// Usage:
//
//	motionbridged -config /etc/motionbridge.cfg [options]
//
// Options:
//
//	-config string       Daemon configuration file (required)
//	-socket-path string  Override the [ipc] socket_path from -config
//	-no-spi              Drive an in-process simulated firmware instead of real SPI hardware
//	-log-level string    Override the [daemon] log_level from -config
//
// Exit codes (§6 CLI surface):
//
//	0  clean shutdown
//	1  configuration error
//	2  transport fatal error
//	3  firmware protocol incompatible
//
// Grounded on the teacher's cmd/klipper-go/main.go: flag parsing, a
// goroutine-plus-signal-channel race around the blocking startup
// handshake so Ctrl+C works even if it never completes, and a final
// graceful-shutdown log banner.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"motionbridge/pkg/config"
	"motionbridge/pkg/corectx"
	"motionbridge/pkg/ipc"
	"motionbridge/pkg/metrics"
	"motionbridge/pkg/processor"
	"motionbridge/pkg/simfw"
	"motionbridge/pkg/spilink"
)

const (
	exitOK                   = 0
	exitConfigError          = 1
	exitTransportFatal       = 2
	exitFirmwareIncompatible = 3
)

// startErrorFile records a one-line description of the most recent
// startup failure, so an operator (or a process supervisor) can learn
// why the daemon exited without having to scrape logs (§6 Persisted
// state).
const startErrorFile = "/var/run/motionbridge.starterror"

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "daemon configuration file (required)")
	socketPathOverride := flag.String("socket-path", "", "override [ipc] socket_path")
	noSPI := flag.Bool("no-spi", false, "drive an in-process simulated firmware instead of real SPI hardware")
	logLevelOverride := flag.String("log-level", "", "override [daemon] log_level")
	flag.Parse()

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "motionbridged: -config is required")
		flag.Usage()
		return recordStartError(exitConfigError, errors.New("-config is required"))
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return recordStartError(exitConfigError, fmt.Errorf("loading config: %w", err))
	}
	settings, err := corectx.LoadSettings(cfg)
	if err != nil {
		return recordStartError(exitConfigError, fmt.Errorf("loading settings: %w", err))
	}
	if *socketPathOverride != "" {
		settings.SocketPath = *socketPathOverride
	}
	if *logLevelOverride != "" {
		settings.LogLevel = *logLevelOverride
	}

	cctx := corectx.New(settings)
	cctx.Log.Info("motionbridged starting",
		"config", *configFile, "no_spi", *noSPI, "protocol_version", settings.ProtocolVersion)

	link, ready, closeLink, err := openLink(settings, *noSPI, cctx)
	if err != nil {
		return recordStartError(exitConfigError, fmt.Errorf("opening transport: %w", err))
	}
	defer closeLink()

	dt := spilink.New(link, ready, spilink.DefaultConfig(settings.ProtocolVersion))
	om := ipc.NewObjectModelStore()
	monitor := ipc.NewMonitor(om, cctx.Log)

	proc := processor.New(cctx, dt, monitor)
	proc.SetMessageSink(monitor)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cctx.Log.Info("signal received, shutting down")
		cancel()
	}()

	startCh := make(chan error, 1)
	go func() { startCh <- proc.Start(ctx) }()

	select {
	case <-ctx.Done():
		cctx.Log.Info("shutdown requested before handshake completed")
		return exitOK
	case err := <-startCh:
		if err != nil {
			if errors.Is(err, processor.ErrFirmwareIncompatible) {
				return recordStartError(exitFirmwareIncompatible, err)
			}
			return recordStartError(exitConfigError, err)
		}
	}

	clearStartError()

	ipcServer := ipc.NewServer(cctx, om)
	go func() {
		if err := ipcServer.Serve(ctx, settings.SocketPath); err != nil && ctx.Err() == nil {
			cctx.Log.Error("ipc server stopped", "error", err)
		}
	}()

	wsServer := &monitorHTTPServer{addr: settings.WSAddr, monitor: monitor}
	go wsServer.run(ctx, cctx)

	metricsServer := metrics.NewMetricsServer(cctx.Metrics, settings.MetricsAddr)
	metricsErrCh := metricsServer.StartAsync()
	go func() {
		if err := <-metricsErrCh; err != nil {
			cctx.Log.Warn("metrics server stopped", "error", err)
		}
	}()

	cctx.Log.Info("motionbridged ready",
		"socket_path", settings.SocketPath, "ws_address", settings.WSAddr, "metrics_address", settings.MetricsAddr)

	runErr := proc.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	metricsServer.Shutdown(shutdownCtx)
	shutdownCancel()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		cctx.Log.Error("processor run ended fatally", "error", runErr)
		recordError(runErr)
		return exitTransportFatal
	}

	cctx.Log.Info("motionbridged stopped")
	return exitOK
}

// openLink returns the Link/ReadyWaiter pair the Processor will drive.
// With noSPI it wires an in-process simfw.Firmware over a ChannelLink
// pair instead of opening real hardware (SPEC_FULL.md SUPPLEMENTED
// FEATURES), the daemon-side analogue of cmd/simfirmware.
func openLink(settings corectx.Settings, noSPI bool, cctx *corectx.Context) (spilink.Link, spilink.ReadyWaiter, func(), error) {
	if noSPI {
		hostLink, peerLink := spilink.NewChannelLinkPair()
		fw := simfw.New(peerLink, spilink.ImmediateReady{}, spilink.DefaultConfig(settings.ProtocolVersion), cctx.Log.WithPrefix("simfw"))
		fwCtx, fwCancel := context.WithCancel(context.Background())
		go func() {
			if err := fw.Run(fwCtx); err != nil && fwCtx.Err() == nil {
				cctx.Log.Warn("simulated firmware stopped", "error", err)
			}
		}()
		return hostLink, spilink.ImmediateReady{}, fwCancel, nil
	}

	dev, err := spilink.OpenSPIDevice(settings.SPIDevicePath, settings.SPISpeedHz)
	if err != nil {
		return nil, nil, func() {}, err
	}
	gpio, err := spilink.OpenGPIOReady(settings.GPIOChipPath, settings.GPIOReadyOffset)
	if err != nil {
		dev.Close()
		return nil, nil, func() {}, err
	}
	return dev, gpio, func() { gpio.Close(); dev.Close() }, nil
}

// monitorHTTPServer wires ipc.Monitor into a standalone HTTP listener
// for the operator websocket feed, separate from both the ipc.Server
// command socket and the metrics server.
type monitorHTTPServer struct {
	addr    string
	monitor *ipc.Monitor
}

func (m *monitorHTTPServer) run(ctx context.Context, cctx *corectx.Context) {
	mux := http.NewServeMux()
	mux.Handle("/ws", m.monitor)
	srv := &http.Server{Addr: m.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cctx.Log.Warn("websocket monitor server stopped", "error", err)
	}
}

func recordStartError(code int, err error) int {
	recordError(err)
	fmt.Fprintf(os.Stderr, "motionbridged: %v\n", err)
	return code
}

func recordError(err error) {
	_ = os.WriteFile(startErrorFile, []byte(err.Error()+"\n"), 0o644)
}

func clearStartError() {
	_ = os.Remove(startErrorFile)
}
