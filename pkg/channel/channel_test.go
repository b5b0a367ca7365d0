// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package channel

import (
	"context"
	"testing"
	"time"

	"motionbridge/pkg/gcode"
)

func mustCode(major int) *gcode.Code {
	return &gcode.Code{Letter: "G", Major: major}
}

func TestPushFIFOOrder(t *testing.T) {
	ch := New(gcode.ChannelHTTP, nil)

	w1 := ch.Push(mustCode(1))
	w2 := ch.Push(mustCode(2))

	c1 := ch.NextCode()
	if c1.Major != 1 {
		t.Fatalf("expected code 1 first, got %d", c1.Major)
	}
	c2 := ch.NextCode()
	if c2.Major != 2 {
		t.Fatalf("expected code 2 second, got %d", c2.Major)
	}

	// Replying out of order must abort the channel (FIFO violation).
	ch.OnReply(c2.ID, "ok", 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	r1, err := w1.Wait(ctx)
	if err != nil {
		t.Fatalf("w1.Wait: %v", err)
	}
	if !r1.Aborted {
		t.Fatalf("expected w1 aborted after FIFO violation, got %+v", r1)
	}
	r2, err := w2.Wait(ctx)
	if err != nil {
		t.Fatalf("w2.Wait: %v", err)
	}
	if !r2.Aborted {
		t.Fatalf("expected w2 aborted after FIFO violation, got %+v", r2)
	}
}

func TestPushReplyInOrderResolves(t *testing.T) {
	ch := New(gcode.ChannelFile, nil)

	w := ch.Push(mustCode(28))
	code := ch.NextCode()
	ch.OnReply(code.ID, "ok", 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := w.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if r.Aborted || r.Content != "ok" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestFlushResolvesOnlyAfterPriorCodesReplied(t *testing.T) {
	ch := New(gcode.ChannelHTTP, nil)

	ch.Push(mustCode(1))
	flushW := ch.Flush(false)

	if flushW.Test() {
		t.Fatalf("flush resolved before pending code was replied to")
	}

	code := ch.NextCode()
	ch.OnReply(code.ID, "ok", 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := flushW.Wait(ctx)
	if err != nil {
		t.Fatalf("flush Wait: %v", err)
	}
	if !ok {
		t.Fatalf("expected flush to resolve true once the only pending code replied")
	}
}

func TestFlushWithNoPendingWorkResolvesImmediately(t *testing.T) {
	ch := New(gcode.ChannelHTTP, nil)
	w := ch.Flush(false)
	if !w.Test() {
		t.Fatalf("expected immediate flush resolution with no pending work")
	}
}

func TestMacroFrameNestingAndPop(t *testing.T) {
	ch := New(gcode.ChannelFile, nil)

	baseW := ch.Push(mustCode(1))
	baseCode := ch.NextCode()

	ch.PushMacroFrame(&Macro{Filename: "homeall.g"}, nil)
	if got := ch.Diagnostics().StackDepth; got != 2 {
		t.Fatalf("expected stack depth 2 after push, got %d", got)
	}

	macroW := ch.Push(mustCode(28))
	macroCode := ch.NextCode()

	ch.SignalMacroEOF()
	if !ch.PendingMacroCompletion() {
		t.Fatalf("expected macro completion pending after EOF signalled")
	}

	// Popping before the macro's own codes have replied must fail.
	if ch.TryPopFrame(true) {
		t.Fatalf("frame popped while sentCodes still outstanding")
	}

	ch.OnReply(macroCode.ID, "ok", 0)
	ch.MarkMacroCompletionSent()

	if !ch.TryPopFrame(true) {
		t.Fatalf("expected frame to pop once macro codes drained and ack applied")
	}
	if got := ch.Diagnostics().StackDepth; got != 1 {
		t.Fatalf("expected stack depth 1 after pop, got %d", got)
	}

	ch.OnReply(baseCode.ID, "ok", 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if r, err := baseW.Wait(ctx); err != nil || r.Aborted {
		t.Fatalf("base frame waiter did not resolve cleanly: %v %+v", err, r)
	}
	if r, err := macroW.Wait(ctx); err != nil || r.Aborted {
		t.Fatalf("macro frame waiter did not resolve cleanly: %v %+v", err, r)
	}
}

func TestAbortResolvesAllWaitersAcrossFrames(t *testing.T) {
	ch := New(gcode.ChannelFile, nil)

	baseW := ch.Push(mustCode(1))
	ch.PushMacroFrame(&Macro{Filename: "pause.g"}, nil)
	macroW := ch.Push(mustCode(2))
	flushW := ch.Flush(false)
	lockW := ch.Lock()

	ch.OnAbort("AbortFile")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if r, err := baseW.Wait(ctx); err != nil || !r.Aborted {
		t.Fatalf("base waiter not aborted: %v %+v", err, r)
	}
	if r, err := macroW.Wait(ctx); err != nil || !r.Aborted {
		t.Fatalf("macro waiter not aborted: %v %+v", err, r)
	}
	if ok, err := flushW.Wait(ctx); err != nil || ok {
		t.Fatalf("flush waiter expected false on abort: %v %v", err, ok)
	}
	if lockErr, err := lockW.Wait(ctx); err != nil || lockErr == nil {
		t.Fatalf("lock waiter expected a cancelled error on abort: %v %v", err, lockErr)
	}
	if got := ch.Diagnostics().StackDepth; got != 1 {
		t.Fatalf("expected stack collapsed to base frame, got depth %d", got)
	}
}

func TestInvalidatedChannelRejectsFurtherWork(t *testing.T) {
	ch := New(gcode.ChannelFile, nil)
	ch.OnInvalidated()

	w := ch.Push(mustCode(1))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := w.Wait(ctx)
	if err != nil || !r.Aborted {
		t.Fatalf("expected push on invalidated channel to resolve aborted immediately: %v %+v", err, r)
	}
}

func TestLockUnlockSequencing(t *testing.T) {
	ch := New(gcode.ChannelHTTP, nil)

	lockW := ch.Lock()
	action := ch.NextLockAction()
	if action == nil || action.Waiter != lockW {
		t.Fatalf("expected NextLockAction to return the pending lock request")
	}

	ch.OnResourceLocked()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err, waitErr := lockW.Wait(ctx); waitErr != nil || err != nil {
		t.Fatalf("expected lock waiter to resolve with nil error: %v %v", waitErr, err)
	}
}

func TestUnlockDoesNotBlockAndIsObservedOnce(t *testing.T) {
	ch := New(gcode.ChannelHTTP, nil)

	w := ch.Unlock()
	if !w.Test() {
		t.Fatalf("expected Unlock waiter to resolve immediately")
	}

	if !ch.TakeUnlockRequest() {
		t.Fatalf("expected a pending unlock request to be observed")
	}
	if ch.TakeUnlockRequest() {
		t.Fatalf("expected unlock request to be consumed exactly once")
	}
}

func TestM99SignalsMacroEOFWithoutReachingFirmware(t *testing.T) {
	ch := New(gcode.ChannelFile, nil)
	ch.PushMacroFrame(&Macro{Filename: "homeall.g"}, nil)

	w := ch.Push(&gcode.Code{Letter: "M", Major: 99})
	if !w.Test() {
		t.Fatalf("expected M99 to resolve its own waiter immediately")
	}
	if !ch.PendingMacroCompletion() {
		t.Fatalf("expected M99 to mark the macro frame complete")
	}
	if ch.NextCode() != nil {
		t.Fatalf("expected M99 to never be handed to NextCode")
	}
}

func TestDisplaceReplacesFrameBodyWithoutPushing(t *testing.T) {
	ch := New(gcode.ChannelHTTP, nil)
	startCode := &gcode.Code{Letter: "M", Major: 98}

	ch.Displace(startCode, []*gcode.Code{mustCode(1), mustCode(2)})

	if got := ch.Diagnostics().StackDepth; got != 1 {
		t.Fatalf("expected Displace not to push a new frame, got depth %d", got)
	}
	if got := ch.Diagnostics().PendingCodes; got != 2 {
		t.Fatalf("expected branch body queued on the current frame, got %d pending", got)
	}
	c1 := ch.NextCode()
	if c1.Major != 1 {
		t.Fatalf("expected branch body in FIFO order, got major %d first", c1.Major)
	}
}

func TestFIFOViolationAbortsChannelPermanently(t *testing.T) {
	ch := New(gcode.ChannelHTTP, nil)

	ch.Push(mustCode(1))
	code := ch.NextCode()
	ch.OnReply(code.ID+1, "ok", 0) // wrong id: FIFO violation

	w := ch.Push(mustCode(2))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := w.Wait(ctx)
	if err != nil || !r.Aborted {
		t.Fatalf("expected a Push after a FIFO violation to resolve aborted, got %v %+v", err, r)
	}
}
