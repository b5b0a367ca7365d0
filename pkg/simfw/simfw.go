// Package simfw implements a minimal simulated firmware peer: it speaks
// the real §4.A wire protocol (the same spilink.DataTransfer state
// machine the host drives, since the exchange is fully symmetric) and
// answers just enough of the §4.B packet set to exercise a host's
// Channel/Processor stack without real hardware.
//
// Grounded on the teacher's cmd/mock-mcu (flag-driven standalone peer,
// periodic unsolicited reports, ack-or-reply-per-command loop), adapted
// from Klipper's VLQ/dictionary wire format to this spec's fixed-layout
// packet codec — cmd/simfirmware and the daemon's --no-spi mode both
// drive this type, one over a SocketLink and the other over a
// ChannelLink (SPEC_FULL.md SUPPLEMENTED FEATURES).
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package simfw

import (
	"context"
	"fmt"
	"time"

	"motionbridge/pkg/log"
	"motionbridge/pkg/packet"
	"motionbridge/pkg/spilink"
)

// heartbeatEveryCycles sends an unsolicited Message line periodically,
// the way mock-mcu's analog-input goroutine reports on a ticker.
const heartbeatEveryCycles = 50

// Firmware is the simulated peripheral side of one SPI link.
type Firmware struct {
	dt  *spilink.DataTransfer
	log *log.Logger

	tx         []byte
	nextID     uint16
	numPackets uint8
	cycle      uint64

	locked map[uint8]bool
}

// New creates a Firmware over link, using the same retry/ready config a
// real firmware's host-side counterpart would use.
func New(link spilink.Link, ready spilink.ReadyWaiter, cfg spilink.Config, logger *log.Logger) *Firmware {
	if ready == nil {
		ready = spilink.ImmediateReady{}
	}
	return &Firmware{
		dt:     spilink.New(link, ready, cfg),
		log:    logger,
		tx:     make([]byte, 0, spilink.MaxPayload),
		locked: make(map[uint8]bool),
	}
}

// Run performs the protocol-version handshake and then drives transfers
// until ctx is cancelled or the link fails fatally.
func (f *Firmware) Run(ctx context.Context) error {
	if err := f.dt.Init(); err != nil {
		return fmt.Errorf("simfw: handshake failed: %w", err)
	}
	f.log.Info("simulated firmware handshake complete")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome, err := f.dt.PerformFullTransfer(f.tx, f.numPackets)
		switch outcome {
		case spilink.OutcomePeerReset:
			f.log.Warn("host reset detected, clearing lock state", "error", err)
			f.locked = make(map[uint8]bool)
			f.resetCycle()
			continue
		case spilink.OutcomeFatal:
			return err
		}

		f.resetCycle()
		packets, decErr := packet.Decode(f.dt.RxPayload())
		if decErr != nil {
			f.log.Warn("payload decode error", "error", decErr)
		}
		for _, pkt := range packets {
			f.handle(pkt)
		}

		f.cycle++
		if f.cycle%heartbeatEveryCycles == 0 {
			f.emitHeartbeat()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (f *Firmware) resetCycle() {
	f.tx = f.tx[:0]
	f.numPackets = 0
}

func (f *Firmware) handle(pkt packet.Packet) {
	switch body := pkt.Body.(type) {
	case *packet.Code:
		f.reply(&packet.CodeReply{ChannelID: body.ChannelID, Flags: uint8(packet.ReplyInfo), Content: "ok"}, pkt.Header.ID)

	case *packet.LockMovementAndWaitForStandstill:
		f.locked[body.ChannelID] = true
		f.reply(&packet.ResourceLocked{ChannelID: body.ChannelID}, pkt.Header.ID)

	case *packet.Unlock:
		f.locked[body.ChannelID] = false

	case *packet.MacroCompleted:
		f.log.Debug("host acknowledged macro completion", "channel", body.ChannelID)

	case *packet.ResetAll:
		f.locked = make(map[uint8]bool)

	case *packet.GetObjectModel:
		f.reply(&packet.ObjectModel{Patch: []byte(fmt.Sprintf(`{"echo":%q}`, body.Key))}, pkt.Header.ID)

	default:
		f.log.Debug("simfw ignoring packet kind", "kind", pkt.Body.Kind().String())
	}
}

// reply appends one response packet to the next cycle's tx, deferring
// silently on ErrBufferFull the way the real firmware would defer to the
// next cycle's buffer budget (§4.A Buffer discipline).
func (f *Firmware) reply(body packet.Body, id uint16) {
	if err := packet.Encode(&f.tx, id, 0, body); err != nil {
		f.log.Warn("simfw reply dropped, buffer full this cycle", "kind", body.Kind().String())
		return
	}
	f.numPackets++
}

func (f *Firmware) emitHeartbeat() {
	msg := &packet.Message{Flags: 0, Content: fmt.Sprintf("simfw heartbeat at %s", time.Now().Format(time.RFC3339))}
	f.reply(msg, f.issueID())
}

func (f *Firmware) issueID() uint16 {
	id := f.nextID
	f.nextID++
	return id
}
