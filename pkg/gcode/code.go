// Package gcode defines the Code record routed through a channel's state
// machine and a hand-rolled parser for the host's own code stream. It does
// not execute motion — the firmware is the one doing that — it only
// extracts enough structure to route a code to the right channel and match
// its eventual reply.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package gcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Channel identifies the logical source of a Code.
type Channel int

const (
	ChannelUnknown Channel = iota
	ChannelHTTP
	ChannelTelnet
	ChannelFile
	ChannelUSB
	ChannelAux
	ChannelDaemon
	ChannelTrigger
	ChannelQueue
	ChannelLCD
	ChannelSBC
	ChannelAutoPause
)

var channelNames = [...]string{
	"unknown", "http", "telnet", "file", "usb", "aux",
	"daemon", "trigger", "queue", "lcd", "sbc", "autopause",
}

// String renders the channel name used in logs and diagnostics.
func (c Channel) String() string {
	if int(c) < 0 || int(c) >= len(channelNames) {
		return "unknown"
	}
	return channelNames[c]
}

// ParseChannel maps a channel name back to its Channel value.
func ParseChannel(name string) (Channel, error) {
	for i, n := range channelNames {
		if strings.EqualFold(n, name) {
			return Channel(i), nil
		}
	}
	return ChannelUnknown, fmt.Errorf("gcode: unknown channel %q", name)
}

// ExprFlag marks a parameter value as a deferred expression rather than a
// literal, e.g. `{move.axes[0].machine_position}`.
type ExprFlag int

const (
	ExprNone ExprFlag = iota
	ExprDeferred
)

// Param is one letter/value pair on a code line, e.g. `X10.5` or
// `S{state.temperature}`.
type Param struct {
	Letter string
	Raw    string
	Expr   ExprFlag
}

// Float parses the parameter's raw value as a float, failing if it carries
// a deferred expression.
func (p Param) Float() (float64, error) {
	if p.Expr != ExprNone {
		return 0, fmt.Errorf("gcode: parameter %s%s is a deferred expression", p.Letter, p.Raw)
	}
	return strconv.ParseFloat(p.Raw, 64)
}

// SourcePosition identifies where a Code came from within a file channel,
// for resuming after a pause/macro.
type SourcePosition struct {
	File string
	Line int
	Byte int64
}

// Code is one parsed command line together with its routing metadata.
type Code struct {
	Letter string  // command letter, e.g. "G", "M", "T"
	Major  int     // major number, e.g. 28 in G28
	Minor  int     // minor/decimal number, e.g. 1 in G28.1 (0 if absent)
	Params []Param

	// Raw is the comment-stripped source line as Parse saw it, e.g.
	// "G0 X10 Y20". Codes built without going through Parse (the object
	// model, a synthesized macro call) leave it empty; Line falls back to
	// reconstructing a command word with no parameters in that case.
	Raw string

	Channel  Channel
	Source   SourcePosition
	ID       uint32 // correlation id assigned by the channel on push
	FromFile bool   // true if generated while replaying a macro/file
}

// Command returns the canonical command string, e.g. "G28.1".
func (c *Code) Command() string {
	if c.Minor == 0 {
		return fmt.Sprintf("%s%d", c.Letter, c.Major)
	}
	return fmt.Sprintf("%s%d.%d", c.Letter, c.Major, c.Minor)
}

// Line returns the full source line to send to the firmware, parameters
// and all (packet.Code.Line, §4.B "the parameter list travels as the raw
// source line"). It falls back to Command() for codes with no recorded
// Raw line.
func (c *Code) Line() string {
	if c.Raw != "" {
		return c.Raw
	}
	return c.Command()
}

// Get returns the raw value of a named parameter and whether it was present.
func (c *Code) Get(letter string) (Param, bool) {
	for _, p := range c.Params {
		if strings.EqualFold(p.Letter, letter) {
			return p, true
		}
	}
	return Param{}, false
}

// GetFloat is a convenience wrapper around Get+Param.Float with a fallback.
func (c *Code) GetFloat(letter string, fallback float64) float64 {
	p, ok := c.Get(letter)
	if !ok {
		return fallback
	}
	v, err := p.Float()
	if err != nil {
		return fallback
	}
	return v
}
