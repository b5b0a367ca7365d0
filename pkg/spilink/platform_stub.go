//go:build !linux

// Off-target stub for platforms without spidev/gpio chardev support,
// mirroring the teacher's ioctl_darwin.go / canbus_stub.go split so the
// module still builds on a development laptop.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package spilink

import (
	"errors"
	"time"
)

// ErrUnsupportedPlatform is returned by every constructor on platforms
// without a real spidev/gpio chardev implementation.
var ErrUnsupportedPlatform = errors.New("spilink: spidev/gpio transport unsupported on this platform")

// SPIDevice is an unusable stand-in off Linux.
type SPIDevice struct{}

func OpenSPIDevice(path string, speedHz uint32) (*SPIDevice, error) {
	return nil, ErrUnsupportedPlatform
}

func (d *SPIDevice) Close() error { return nil }

func (d *SPIDevice) Exchange(tx, rx []byte) error { return ErrUnsupportedPlatform }

// GPIOReady is an unusable stand-in off Linux.
type GPIOReady struct{}

func OpenGPIOReady(chipPath string, offset uint32) (*GPIOReady, error) {
	return nil, ErrUnsupportedPlatform
}

func (g *GPIOReady) Close() error { return nil }

func (g *GPIOReady) WaitReady(timeout time.Duration) error { return ErrUnsupportedPlatform }
