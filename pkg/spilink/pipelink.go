// ChannelLink is an in-process Link pair used by motionbridged -no-spi and
// the simfw tests to exercise the four-step exchange without a real
// SPI bus, the way the teacher's mock-mcu talks to klipper-go over a Unix
// socket instead of a serial port.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package spilink

import "time"

// ChannelLink implements Link over a pair of one-slot channels shared
// with a peer ChannelLink. Each Exchange hands its tx to the peer and then
// waits for the peer's tx, so both sides complete the same step together.
type ChannelLink struct {
	out chan<- []byte
	in  <-chan []byte
}

// NewChannelLinkPair returns two ChannelLinks wired to each other: bytes
// written by a.Exchange's tx arrive in b.Exchange's rx, and vice versa.
func NewChannelLinkPair() (a, b *ChannelLink) {
	ab := make(chan []byte, 1)
	ba := make(chan []byte, 1)
	return &ChannelLink{out: ab, in: ba}, &ChannelLink{out: ba, in: ab}
}

// Exchange sends tx to the peer and fills rx with whatever the peer sent
// in its matching Exchange call.
func (c *ChannelLink) Exchange(tx, rx []byte) error {
	sent := make([]byte, len(tx))
	copy(sent, tx)
	c.out <- sent
	peerTx := <-c.in
	copy(rx, peerTx)
	return nil
}

// ImmediateReady is a ReadyWaiter that never stalls, for links (like
// ChannelLink) with no real ready-line concept.
type ImmediateReady struct{}

func (ImmediateReady) WaitReady(_ time.Duration) error { return nil }
