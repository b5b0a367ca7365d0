// Package corectx gathers the daemon's shared collaborators into one
// explicit context constructed once at startup (§9 design note: "replace
// global singletons with an explicit context"), grounded on how the
// teacher's cmd/klipper-go/main.go wires config, logging, and the
// realtime integration together and threads the result down instead of
// reaching for package-level state.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package corectx

import (
	"motionbridge/pkg/channel"
	"motionbridge/pkg/config"
	"motionbridge/pkg/gcode"
	"motionbridge/pkg/log"
	"motionbridge/pkg/metrics"
)

// Settings holds the daemon's own configuration, read from a handful of
// sections in the INI file this build's config package reads (§6
// Configuration surface). Unlike the teacher's config, there is no pin
// map, printer schema, or autosave block — the firmware owns all of that
// on its side of the link.
type Settings struct {
	SocketPath      string
	WSAddr          string
	SPIDevicePath   string
	SPISpeedHz      uint32
	GPIOChipPath    string
	GPIOReadyOffset uint32
	ProtocolVersion uint16
	LogLevel        string
	MetricsAddr     string
}

// DefaultSettings returns the daemon's out-of-the-box configuration.
func DefaultSettings() Settings {
	return Settings{
		SocketPath:      "/var/run/motionbridge.sock",
		WSAddr:          ":7130",
		SPIDevicePath:   "/dev/spidev0.0",
		SPISpeedHz:      8_000_000,
		GPIOChipPath:    "/dev/gpiochip0",
		GPIOReadyOffset: 25,
		ProtocolVersion: 1,
		LogLevel:        "info",
		MetricsAddr:     ":9273",
	}
}

// LoadSettings reads the [transport], [ipc], and [daemon] sections of
// cfg into a Settings, falling back to DefaultSettings for anything
// absent.
func LoadSettings(cfg *config.Config) (Settings, error) {
	s := DefaultSettings()

	if sec := cfg.GetSectionOptional("daemon"); sec != nil {
		if v, err := sec.Get("log_level", s.LogLevel); err == nil {
			s.LogLevel = v
		}
		if v, err := sec.Get("metrics_address", s.MetricsAddr); err == nil {
			s.MetricsAddr = v
		}
	}
	if sec := cfg.GetSectionOptional("ipc"); sec != nil {
		if v, err := sec.Get("socket_path", s.SocketPath); err == nil {
			s.SocketPath = v
		}
		if v, err := sec.Get("ws_address", s.WSAddr); err == nil {
			s.WSAddr = v
		}
	}
	if sec := cfg.GetSectionOptional("transport"); sec != nil {
		if v, err := sec.Get("spi_device", s.SPIDevicePath); err == nil {
			s.SPIDevicePath = v
		}
		if v, err := sec.GetInt("spi_speed_hz", int(s.SPISpeedHz)); err == nil {
			s.SPISpeedHz = uint32(v)
		}
		if v, err := sec.Get("gpio_chip", s.GPIOChipPath); err == nil {
			s.GPIOChipPath = v
		}
		if v, err := sec.GetInt("gpio_ready_offset", int(s.GPIOReadyOffset)); err == nil {
			s.GPIOReadyOffset = uint32(v)
		}
		if v, err := sec.GetInt("protocol_version", int(s.ProtocolVersion)); err == nil {
			s.ProtocolVersion = uint16(v)
		}
	}
	return s, nil
}

// Context is the daemon's one explicit dependency bag: every long-lived
// collaborator a component needs is reached through this struct, never
// through a package-level variable.
type Context struct {
	Settings Settings
	Log      *log.Logger
	Metrics  *metrics.BridgeMetrics
	Channels [numChannels]*channel.Channel
}

const numChannels = int(gcode.ChannelAutoPause) + 1

// New builds a Context with one Channel per gcode.Channel value, each
// with its own logger prefix the way the teacher gives each mcu.Reader
// instance its own logger.
func New(settings Settings) *Context {
	logger := log.New("motionbridge")
	logger.SetLevel(log.ParseLevel(settings.LogLevel))

	ctx := &Context{
		Settings: settings,
		Log:      logger,
		Metrics:  metrics.NewBridgeMetrics(),
	}
	for i := 0; i < numChannels; i++ {
		id := gcode.Channel(i)
		ctx.Channels[i] = channel.New(id, logger.WithPrefix(id.String()))
	}
	return ctx
}

// Channel returns the Channel for id, or nil if id is out of range.
func (c *Context) Channel(id gcode.Channel) *channel.Channel {
	if int(id) < 0 || int(id) >= numChannels {
		return nil
	}
	return c.Channels[id]
}

// ReinitializeAll resets every channel to a single base frame, used
// after a peer reset is detected (§4.D loop, "reinitialize all
// channels").
func (c *Context) ReinitializeAll() {
	for _, ch := range c.Channels {
		ch.Reinitialize()
	}
}

// InvalidateAll aborts every channel's outstanding work, used on a fatal
// link error before the process exits (§7 Error taxonomy, Fatal).
func (c *Context) InvalidateAll() {
	for _, ch := range c.Channels {
		ch.OnInvalidated()
	}
}
