// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package processor

import (
	"context"
	"testing"
	"time"

	"motionbridge/pkg/corectx"
	"motionbridge/pkg/gcode"
	"motionbridge/pkg/packet"
	"motionbridge/pkg/spilink"
)

func newTestProcessor() (*Processor, *corectx.Context) {
	cctx := corectx.New(corectx.DefaultSettings())
	dt := spilink.New(nil, nil, spilink.DefaultConfig(1))
	return New(cctx, dt, nil), cctx
}

func TestRouteCodeReplyResolvesChannelWaiter(t *testing.T) {
	p, cctx := newTestProcessor()
	ch := cctx.Channel(gcode.ChannelHTTP)

	w := ch.Push(&gcode.Code{Letter: "G", Major: 28})
	code := ch.NextCode()

	p.route(packet.Packet{
		Header: spilink.PacketHeader{ID: uint16(code.ID)},
		Body:   &packet.CodeReply{ChannelID: uint8(gcode.ChannelHTTP), Content: "ok"},
	})

	if !w.Test() {
		t.Fatalf("expected waiter resolved after routing CodeReply")
	}
}

func TestRouteAbortFileAbortsChannel(t *testing.T) {
	p, cctx := newTestProcessor()
	ch := cctx.Channel(gcode.ChannelFile)

	w := ch.Push(&gcode.Code{Letter: "G", Major: 1})

	p.route(packet.Packet{
		Body: &packet.AbortFile{ChannelID: uint8(gcode.ChannelFile)},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, _ := w.Wait(ctx)
	if !res.Aborted {
		t.Fatalf("expected push waiter aborted after AbortFile routed, got %+v", res)
	}
}

func TestRouteObjectModelReachesSink(t *testing.T) {
	var got []byte
	sink := sinkFunc(func(patch []byte) { got = patch })

	cctx := corectx.New(corectx.DefaultSettings())
	dt := spilink.New(nil, nil, spilink.DefaultConfig(1))
	p := New(cctx, dt, sink)

	p.route(packet.Packet{Body: &packet.ObjectModel{Patch: []byte(`{"a":1}`)}})

	if string(got) != `{"a":1}` {
		t.Fatalf("expected patch forwarded to sink, got %q", got)
	}
}

func TestEncodeNextCycleDrainsPendingCodes(t *testing.T) {
	p, cctx := newTestProcessor()
	ch := cctx.Channel(gcode.ChannelUSB)

	for i := 0; i < 5; i++ {
		ch.Push(&gcode.Code{Letter: "G", Major: i})
	}

	p.encodeNextCycle()

	if p.numPackets == 0 {
		t.Fatalf("expected at least one packet encoded")
	}
	if len(p.tx) == 0 {
		t.Fatalf("expected tx buffer populated")
	}

	packets, err := packet.Decode(p.tx)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(packets) != 5 {
		t.Fatalf("expected all 5 codes encoded within budget, got %d", len(packets))
	}
}

func TestDrainPriorityActionsSendsLockPacket(t *testing.T) {
	p, cctx := newTestProcessor()
	ch := cctx.Channel(gcode.ChannelHTTP)

	ch.Lock()
	p.drainPriorityActions(ch)

	packets, err := packet.Decode(p.tx)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("want 1 packet, got %d", len(packets))
	}
	if _, ok := packets[0].Body.(*packet.LockMovementAndWaitForStandstill); !ok {
		t.Fatalf("want LockMovementAndWaitForStandstill, got %T", packets[0].Body)
	}
}

func TestEncodeOneCodeSendsFullLineWithParameters(t *testing.T) {
	p, cctx := newTestProcessor()
	ch := cctx.Channel(gcode.ChannelHTTP)

	code, err := gcode.Parse("G0 X10 Y20", gcode.ChannelHTTP)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ch.Push(code)

	p.encodeNextCycle()

	packets, err := packet.Decode(p.tx)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("want 1 packet, got %d", len(packets))
	}
	body, ok := packets[0].Body.(*packet.Code)
	if !ok {
		t.Fatalf("want *packet.Code, got %T", packets[0].Body)
	}
	if body.Line != "G0 X10 Y20" {
		t.Fatalf("want full source line on the wire, got %q", body.Line)
	}
}

// TestMacroLifecycleDrivenByProcessor exercises the full macro frame
// lifecycle end to end through the Processor, not just Channel in
// isolation: a firmware ExecuteMacro pushes the frame, the macro body's
// M99 signals EOF, drainPriorityActions sends MacroCompleted, and the
// following cycle's attemptMacroPops pops the frame once the reply has
// landed (§3 Lifecycle; §8 scenario 5).
func TestMacroLifecycleDrivenByProcessor(t *testing.T) {
	p, cctx := newTestProcessor()
	ch := cctx.Channel(gcode.ChannelFile)

	p.route(packet.Packet{
		Body: &packet.ExecuteMacro{ChannelID: uint8(gcode.ChannelFile), Filename: "homeall.g"},
	})
	if got := ch.Diagnostics().StackDepth; got != 2 {
		t.Fatalf("expected macro frame pushed, stack depth 2, got %d", got)
	}

	w := ch.Push(&gcode.Code{Letter: "G", Major: 28})
	returnW := ch.Push(&gcode.Code{Letter: "M", Major: 99})
	if !returnW.Test() {
		t.Fatalf("expected M99 to resolve its own waiter immediately")
	}
	if !ch.PendingMacroCompletion() {
		t.Fatalf("expected macro completion pending after M99")
	}

	// Still outstanding: G28 hasn't been replied to, so the pop must not
	// happen yet even though MacroCompleted hasn't been sent either.
	p.attemptMacroPops()
	if ch.Diagnostics().StackDepth != 2 {
		t.Fatalf("frame popped before its codes drained")
	}

	code := ch.NextCode()
	p.route(packet.Packet{
		Header: spilink.PacketHeader{ID: uint16(code.ID)},
		Body:   &packet.CodeReply{ChannelID: uint8(gcode.ChannelFile), Content: "ok"},
	})

	p.encodeNextCycle() // sends MacroCompleted, marks it sent
	packets, err := packet.Decode(p.tx)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sawMacroCompleted := false
	for _, pkt := range packets {
		if _, ok := pkt.Body.(*packet.MacroCompleted); ok {
			sawMacroCompleted = true
		}
	}
	if !sawMacroCompleted {
		t.Fatalf("expected MacroCompleted packet encoded")
	}

	p.attemptMacroPops()
	if got := ch.Diagnostics().StackDepth; got != 1 {
		t.Fatalf("expected frame popped after MacroCompleted sent, stack depth 1, got %d", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if r, err := w.Wait(ctx); err != nil || r.Aborted {
		t.Fatalf("macro code waiter did not resolve cleanly: %v %+v", err, r)
	}
}

type sinkFunc func([]byte)

func (f sinkFunc) ApplyPatch(patch []byte) { f(patch) }
