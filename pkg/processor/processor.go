// Package processor implements the top-level loop (§4.D) that drives one
// DataTransfer, decodes its rx payload through pkg/packet, routes each
// packet to the owning Channel or to an external collaborator, and
// refills the next cycle's tx payload from channel work under a
// byte budget.
//
// Grounded on the teacher's mcu.Reader read loop and cmd/klipper-go's
// main-goroutine startup sequencing, generalised from a stream transport
// to this fixed four-step full-duplex one (§9 design note: make the
// transfer state machine explicit — that lives in pkg/spilink; this
// package is the thing that calls it in a loop).
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package processor

import (
	"context"
	"fmt"
	"time"

	"motionbridge/pkg/channel"
	"motionbridge/pkg/corectx"
	"motionbridge/pkg/errorsx"
	"motionbridge/pkg/gcode"
	"motionbridge/pkg/packet"
	"motionbridge/pkg/spilink"
)

// ObjectModelSink receives object-model patches decoded from the
// firmware (§4.D Routing). The real mirror lives in pkg/ipc; this
// interface is the Processor's only dependency on it, matching the
// spec's "external collaborator" boundary (§1).
type ObjectModelSink interface {
	ApplyPatch(patch []byte)
}

// noopObjectModelSink is used when the caller doesn't wire a real one
// (e.g. cmd/simfirmware smoke runs).
type noopObjectModelSink struct{}

func (noopObjectModelSink) ApplyPatch([]byte) {}

// MessageSink receives firmware console/log lines (§4.D Routing,
// "Message packets to logging (external)"). The Processor always logs
// these itself; a MessageSink is an additional, optional fan-out (e.g.
// pkg/ipc's websocket push to operator clients).
type MessageSink interface {
	OnMessage(flags uint8, content string)
}

type noopMessageSink struct{}

func (noopMessageSink) OnMessage(uint8, string) {}

// headroomBytes is reserved out of every cycle's payload budget for
// priority packets — lock/unlock, acks, MacroCompleted — that must never
// be starved by a channel dumping ordinary codes (§4.D Budget).
const headroomBytes = 192

// startupHandshakeTimeout bounds the exponential-backoff protocol
// version handshake (§4.D Startup).
const startupHandshakeTimeout = 30 * time.Second

// ErrFirmwareIncompatible is returned by Start when the firmware never
// accepted the host's protocol version within startupHandshakeTimeout.
// cmd/motionbridged maps this to exit code 3.
var ErrFirmwareIncompatible = errorsx.New(errorsx.Fatal, "firmware did not accept host protocol version within handshake window")

// Processor is the single owner of the transport (§5 Scheduling model).
type Processor struct {
	ctx *corectx.Context
	dt  *spilink.DataTransfer

	objectModel ObjectModelSink
	messages    MessageSink

	tx         []byte
	nextPktID  uint16
	numPackets uint8
}

// New creates a Processor over dt, driven by the channels and logger in
// corectx.
func New(cctx *corectx.Context, dt *spilink.DataTransfer, objectModel ObjectModelSink) *Processor {
	if objectModel == nil {
		objectModel = noopObjectModelSink{}
	}
	return &Processor{
		ctx:         cctx,
		dt:          dt,
		objectModel: objectModel,
		messages:    noopMessageSink{},
		tx:          make([]byte, 0, spilink.MaxPayload),
	}
}

// SetMessageSink wires an additional fan-out for firmware Message
// packets, e.g. pkg/ipc's operator websocket push. Optional — the
// Processor always logs Message packets regardless.
func (p *Processor) SetMessageSink(sink MessageSink) {
	if sink == nil {
		sink = noopMessageSink{}
	}
	p.messages = sink
}

// Start performs the protocol-version-only handshake (§4.D Startup),
// retrying the header-only Init exchange with exponential backoff until
// it succeeds or startupHandshakeTimeout elapses.
func (p *Processor) Start(ctx context.Context) error {
	deadline := time.Now().Add(startupHandshakeTimeout)
	backoff := 50 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for attempt := 0; ; attempt++ {
		if err := p.dt.Init(); err == nil {
			p.ctx.Log.Info("handshake complete", "attempt", attempt, "protocol_version", p.ctx.Settings.ProtocolVersion)
			return nil
		} else if time.Now().After(deadline) {
			return fmt.Errorf("%w: %v", ErrFirmwareIncompatible, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Run drives the steady-state loop (§4.D Contract) until ctx is
// cancelled or a Fatal outcome occurs. On clean cancellation it sends a
// final ResetAll packet before returning (§5 Cancellation, "Shutdown...
// sends a final ResetAll packet").
func (p *Processor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return p.shutdown()
		}

		start := time.Now()
		outcome, err := p.dt.PerformFullTransfer(p.tx, p.numPackets)
		p.ctx.Metrics.RecordTransfer(outcome.String(), time.Since(start))

		switch outcome {
		case spilink.OutcomePeerReset:
			p.ctx.Log.Warn("firmware peer reset detected", "error", err)
			p.ctx.Metrics.PeerResets.Inc(nil)
			p.ctx.ReinitializeAll()
			p.resetCycleState()
			continue
		case spilink.OutcomeFatal:
			p.ctx.Log.Error("transfer failed fatally", "error", err)
			p.ctx.Metrics.FatalTransfers.Inc(nil)
			p.ctx.InvalidateAll()
			return err
		}

		if err := p.decodeAndRoute(); err != nil {
			p.ctx.Log.Error("decode error, requesting resend next cycle", "error", err)
		}

		p.attemptMacroPops()
		p.encodeNextCycle()
	}
}

func (p *Processor) resetCycleState() {
	p.tx = p.tx[:0]
	p.numPackets = 0
	p.nextPktID = 0
}

func (p *Processor) shutdown() error {
	p.ctx.Log.Info("shutting down, sending final ResetAll")
	tx := make([]byte, 0, spilink.MaxPayload)
	if err := packet.Encode(&tx, p.nextPacketID(), 0, &packet.ResetAll{}); err != nil {
		return err
	}
	_, err := p.dt.PerformFullTransfer(tx, 1)
	p.ctx.InvalidateAll()
	return err
}

func (p *Processor) nextPacketID() uint16 {
	id := p.nextPktID
	p.nextPktID++
	return id
}

// decodeAndRoute processes every packet in the most recent rx payload to
// completion before encodeNextCycle generates any tx packet for the
// cycle (§5 Ordering guarantees).
func (p *Processor) decodeAndRoute() error {
	packets, err := packet.Decode(p.dt.RxPayload())
	for _, pkt := range packets {
		p.route(pkt)
	}
	return err
}

func (p *Processor) route(pkt packet.Packet) {
	p.ctx.Metrics.PacketsDecodedTotal.Inc(nil)

	switch body := pkt.Body.(type) {
	case *packet.ObjectModel:
		p.objectModel.ApplyPatch(body.Patch)

	case *packet.Message:
		p.ctx.Log.Info("firmware message", "flags", body.Flags, "content", body.Content)
		p.messages.OnMessage(body.Flags, body.Content)

	case *packet.CodeReply:
		if ch := p.ctx.Channel(gcode.Channel(body.ChannelID)); ch != nil {
			ch.OnReply(uint32(pkt.Header.ID), body.Content, body.Flags)
			p.ctx.Metrics.CodesReplied.Inc(nil)
		}

	case *packet.MacroRequest:
		if ch := p.ctx.Channel(gcode.Channel(body.ChannelID)); ch != nil {
			ch.OnMacroRequest(body.Filename, body.FromCode)
		}

	case *packet.ExecuteMacro:
		if ch := p.ctx.Channel(gcode.Channel(body.ChannelID)); ch != nil {
			ch.PushMacroFrame(&channel.Macro{Filename: body.Filename, FromCode: body.FromCode}, nil)
		}

	case *packet.ResourceLocked:
		if ch := p.ctx.Channel(gcode.Channel(body.ChannelID)); ch != nil {
			ch.OnResourceLocked()
		}

	case *packet.AbortFile:
		if ch := p.ctx.Channel(gcode.Channel(body.ChannelID)); ch != nil {
			ch.OnAbort("AbortFile")
			p.ctx.Metrics.ChannelAborts.Inc(nil)
		}

	case *packet.PrintPaused:
		// The protocol doesn't carry a ChannelID on PrintPaused — a print
		// is always driven from the File channel.
		if ch := p.ctx.Channel(gcode.ChannelFile); ch != nil {
			p.ctx.Log.Info("print paused", "channel", ch.ID().String(), "file_position", body.FilePosition, "reason", body.Reason)
		}

	case *packet.CodeBufferUpdate:
		// Consumed by the budget accounting below via RxNumPackets/etc in
		// a fuller build; logged for now since no channel owns buffer
		// space directly.
		p.ctx.Log.Debug("firmware buffer space update", "free_bytes", body.BufferSpace)

	case *packet.FileChunkRequest, *packet.EvaluationResult, *packet.DoCode:
		// File streaming, expression evaluation, and host-generated code
		// execution are handled by pkg/ipc's collaborators in a full
		// deployment; the core only needs to not drop them.
		p.ctx.Log.Debug("unrouted packet kind reached core processor", "kind", pkt.Body.Kind().String())

	case *packet.Unknown:
		p.ctx.Metrics.UnknownPacketsTotal.Inc(nil)
		p.ctx.Log.Warn("unknown packet kind skipped", "kind", body.Tag.String())

	default:
		p.ctx.Log.Warn("unhandled packet kind", "kind", pkt.Body.Kind().String())
	}
}

// attemptMacroPops tries to pop the topmost frame of every channel that
// has a macro waiting to complete (§3 Lifecycle: "destroyed when its
// macro finishes AND all its queues drain AND the firmware acknowledges
// pop"). The wire protocol carries no discrete ack packet for
// MacroCompleted (§4.B Key kinds lists it host→firmware only), so a
// transfer cycle completing successfully after the packet was sent
// stands in for the firmware's acknowledgement — by the time this runs,
// PerformFullTransfer above already confirmed the cycle that carried it
// went through. Channel.TryPopFrame itself still re-checks that the
// packet was actually sent (not merely queued) before it will pop.
func (p *Processor) attemptMacroPops() {
	for _, ch := range p.ctx.Channels {
		if ch == nil {
			continue
		}
		if ch.TryPopFrame(true) {
			p.ctx.Log.Debug("macro frame popped", "channel", ch.ID().String())
		}
	}
}

// encodeNextCycle refills p.tx from channel work under the cycle's byte
// budget, servicing channels in weighted round-robin with priority for
// channels whose topmost frame's startCode is awaiting a reply (§4.D
// Budget).
func (p *Processor) encodeNextCycle() {
	p.tx = p.tx[:0]
	p.numPackets = 0
	budget := spilink.MaxPayload - headroomBytes

	order := p.channelServiceOrder()

	for _, ch := range order {
		p.drainPriorityActions(ch)
	}
	for len(p.tx) < budget {
		progressed := false
		for _, ch := range order {
			if len(p.tx) >= budget {
				break
			}
			if p.encodeOneCode(ch, budget) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	for _, ch := range p.ctx.Channels {
		stats := ch.Diagnostics()
		p.ctx.Metrics.SetChannelDepths(stats.Channel.String(), stats.StackDepth, stats.PendingCodes, stats.FlushWaiters, stats.LockWaiters)
	}
	p.ctx.Metrics.BudgetBytesUsed.Observe(nil, float64(len(p.tx)))
}

// channelServiceOrder returns channels with work, channels awaiting a
// startCode reply first (§4.D Budget, "priority").
func (p *Processor) channelServiceOrder() []*channel.Channel {
	var priority, rest []*channel.Channel
	for _, ch := range p.ctx.Channels {
		if !ch.HasWork() {
			continue
		}
		if ch.Diagnostics().StackDepth > 1 {
			priority = append(priority, ch)
		} else {
			rest = append(rest, ch)
		}
	}
	return append(priority, rest...)
}

// drainPriorityActions sends lock/unlock/MacroCompleted packets for ch
// ahead of ordinary codes, within headroomBytes (§4.D Budget).
func (p *Processor) drainPriorityActions(ch *channel.Channel) {
	id := uint8(ch.ID())

	if lr := ch.NextLockAction(); lr != nil {
		_ = packet.Encode(&p.tx, p.nextPacketID(), 0, &packet.LockMovementAndWaitForStandstill{ChannelID: id})
		p.numPackets++
		p.ctx.Metrics.PacketsEncodedTotal.Inc(nil)
		_ = lr // the waiter resolves later from ResourceLocked
	}
	if ch.TakeUnlockRequest() {
		_ = packet.Encode(&p.tx, p.nextPacketID(), 0, &packet.Unlock{ChannelID: id})
		p.numPackets++
		p.ctx.Metrics.PacketsEncodedTotal.Inc(nil)
	}
	if ch.PendingMacroCompletion() {
		if err := packet.Encode(&p.tx, p.nextPacketID(), 0, &packet.MacroCompleted{ChannelID: id}); err == nil {
			ch.MarkMacroCompletionSent()
			p.numPackets++
			p.ctx.Metrics.PacketsEncodedTotal.Inc(nil)
		}
	}
}

// encodeOneCode dequeues and encodes at most one Code packet for ch,
// reporting whether it made progress.
func (p *Processor) encodeOneCode(ch *channel.Channel, budget int) bool {
	if len(p.tx) >= budget {
		return false
	}
	code := ch.NextCode()
	if code == nil {
		return false
	}

	body := &packet.Code{
		ChannelID:    uint8(ch.ID()),
		Letter:       code.Letter[0],
		Major:        int32(code.Major),
		Minor:        int8(code.Minor),
		FilePosition: uint32(code.Source.Byte),
		Line:         code.Line(),
	}
	if err := packet.Encode(&p.tx, uint16(code.ID), 0, body); err != nil {
		// Buffer full: the code has already been moved to sentCodes by
		// NextCode, which is wrong once we can't actually send it — push
		// it back to the front of pendingCodes for next cycle.
		ch.Requeue(code)
		return false
	}
	p.numPackets++
	p.ctx.Metrics.PacketsEncodedTotal.Inc(nil)
	p.ctx.Metrics.CodesPushed.Inc(nil)
	p.ctx.Metrics.TxBytesTotal.Add(nil, uint64(len(body.Line)))
	return true
}
