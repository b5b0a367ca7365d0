//go:build linux

// Linux GPIO character-device transport for the firmware's transferReady
// line (§4.A Ready signal), using the same open-fd-then-ioctl pattern as
// spidev_linux.go and the teacher's termios ioctls in pkg/serial.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package spilink

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	gpioGetLineHandleIOCTL = 0xc16cb403
	gpioHandleGetLineValuesIOCTL = 0xc040b408
	gpioHandleRequestInput = 1 << 0
)

type gpioHandleRequest struct {
	lineOffsets   [64]uint32
	flags         uint32
	defaultValues [64]uint8
	consumerLabel [32]byte
	lines         uint32
	fd            int32
}

type gpioHandleData struct {
	values [64]uint8
}

// GPIOReady implements ReadyWaiter by polling a GPIO chardev line until it
// asserts or the timeout elapses.
type GPIOReady struct {
	lineFd      int
	pollInterval time.Duration
}

// OpenGPIOReady requests line offset on the chardev at chipPath (e.g.
// "/dev/gpiochip0") as an input and returns a ReadyWaiter over it.
func OpenGPIOReady(chipPath string, offset uint32) (*GPIOReady, error) {
	chipFd, err := unix.Open(chipPath, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("spilink: open %s: %w", chipPath, err)
	}
	defer unix.Close(chipFd)

	req := gpioHandleRequest{flags: gpioHandleRequestInput, lines: 1}
	req.lineOffsets[0] = offset
	copy(req.consumerLabel[:], "motionbridge")

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(chipFd), gpioGetLineHandleIOCTL, uintptr(unsafe.Pointer(&req)))
	if errno != 0 {
		return nil, fmt.Errorf("spilink: GPIO_GET_LINEHANDLE_IOCTL: %w", errno)
	}

	return &GPIOReady{lineFd: int(req.fd), pollInterval: time.Millisecond}, nil
}

// Close releases the line handle.
func (g *GPIOReady) Close() error {
	return unix.Close(g.lineFd)
}

// WaitReady polls the line until it reads high or timeout elapses.
func (g *GPIOReady) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var data gpioHandleData
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(g.lineFd), gpioHandleGetLineValuesIOCTL, uintptr(unsafe.Pointer(&data)))
		if errno != 0 {
			return fmt.Errorf("spilink: GPIOHANDLE_GET_LINE_VALUES_IOCTL: %w", errno)
		}
		if data.values[0] != 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrReadyTimeout
		}
		time.Sleep(g.pollInterval)
	}
}
