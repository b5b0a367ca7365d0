//go:build linux

// Linux spidev transport: a Link backed by /dev/spidevX.Y, using the
// SPI_IOC_MESSAGE full-duplex ioctl the way the teacher's pkg/serial
// drives /dev/ttyACM* via termios ioctls (open fd, configure, then raw
// syscalls for every transfer).
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package spilink

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	spiIOCWrMode    = 0x40016b01
	spiIOCWrBitsPerWord = 0x40016b03
	spiIOCWrMaxSpeedHz  = 0x40026b04
)

// spiIOCMessage is computed the same way Linux's _IOW macro does for a
// single spi_ioc_transfer struct; spidev accepts an array of these but
// this transport only ever sends one at a time.
func spiIOCMessage(n uint32) uintptr {
	const structSize = 32 // sizeof(struct spi_ioc_transfer)
	size := uintptr(structSize) * uintptr(n)
	return uintptr(0x40000000) | (size << 16) | uintptr('k')<<8 | 0
}

// specIOCTransfer mirrors struct spi_ioc_transfer from linux/spi/spidev.h.
type specIOCTransfer struct {
	txBuf uint64
	rxBuf uint64
	len   uint32

	speedHz uint32

	delayUsecs uint16
	bitsPerWord uint8
	csChange    uint8
	txNBits     uint8
	rxNBits     uint8
	wordDelayUsecs uint8
	pad         uint8
}

// SPIDevice is a Link implementation over a Linux spidev character device.
type SPIDevice struct {
	fd        int
	speedHz   uint32
	bitsPerWord uint8
}

// OpenSPIDevice opens path (e.g. "/dev/spidev0.0") in mode 0, configures
// bitsPerWord=8, and sets the clock to speedHz (§6 "typically 8 MHz").
func OpenSPIDevice(path string, speedHz uint32) (*SPIDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("spilink: open %s: %w", path, err)
	}

	dev := &SPIDevice{fd: fd, speedHz: speedHz, bitsPerWord: 8}

	var mode uint8
	if err := ioctlSetU8(fd, spiIOCWrMode, mode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spilink: set spi mode: %w", err)
	}
	if err := ioctlSetU8(fd, spiIOCWrBitsPerWord, dev.bitsPerWord); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spilink: set bits per word: %w", err)
	}
	if err := ioctlSetU32(fd, spiIOCWrMaxSpeedHz, speedHz); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("spilink: set max speed: %w", err)
	}

	return dev, nil
}

// Close releases the underlying file descriptor.
func (d *SPIDevice) Close() error {
	return unix.Close(d.fd)
}

// Exchange performs one full-duplex SPI_IOC_MESSAGE transfer.
func (d *SPIDevice) Exchange(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("spilink: tx/rx length mismatch: %d vs %d", len(tx), len(rx))
	}
	if len(tx) == 0 {
		return nil
	}

	xfer := specIOCTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		len:         uint32(len(tx)),
		speedHz:     d.speedHz,
		bitsPerWord: d.bitsPerWord,
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), spiIOCMessage(1), uintptr(unsafe.Pointer(&xfer)))
	if errno != 0 {
		return fmt.Errorf("spilink: SPI_IOC_MESSAGE: %w", errno)
	}
	return nil
}

func ioctlSetU8(fd int, req uintptr, v uint8) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlSetU32(fd int, req uintptr, v uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(unsafe.Pointer(&v)))
	if errno != 0 {
		return errno
	}
	return nil
}
