// Package channel implements the per-channel stack of execution frames
// (§4.C) that sits between the Processor and the firmware: one Channel
// per logical code source (HTTP, Telnet, File, USB, Aux, Daemon, Trigger,
// Queue, LCD, SBC, AutoPause), each independently lockable and each
// holding its own stack of macro/conditional frames.
//
// Ownership follows §9's "break cyclic ownership with message passing":
// a Channel never holds a reference back to the Processor. It publishes
// readiness on a buffered notification channel the Processor drains, and
// the Processor holds Channels by index.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package channel

import (
	"sync"

	"motionbridge/pkg/errorsx"
	"motionbridge/pkg/gcode"
	"motionbridge/pkg/log"
)

// CodeResult is delivered to a Push waiter once the firmware has replied.
type CodeResult struct {
	Content   string
	Flags     uint8
	Aborted   bool
	Cancelled bool
}

// Macro identifies the macro file executing in a frame. Immutable once a
// frame is pushed (§3 Channel state stack).
type Macro struct {
	Filename string
	FromCode bool
}

// LockRequest is one ask in a frame's lock queue.
type LockRequest struct {
	Waiter   *Waiter[error]
	sent     bool
}

// pendingCode pairs a Code with the waiter its eventual reply resolves.
type pendingCode struct {
	code   *gcode.Code
	waiter *Waiter[CodeResult]
}

// Frame is one level of a channel's execution stack (§3 Channel state
// stack). Depth 0 is the base frame, created with the Channel and never
// popped.
type Frame struct {
	waitingForAcknowledgement bool

	lockRequests []*LockRequest

	suspendedCodes []*pendingCode

	macro               *Macro
	macroCompleted      bool
	macroCompletionSent bool

	startCode *gcode.Code

	pendingCodes []*pendingCode // not yet handed to the firmware
	sentCodes    []*pendingCode // handed down, awaiting reply (FIFO)

	flushRequests []*Waiter[bool]
}

// Stats is the snapshot Diagnostics returns, mirroring the teacher's
// Reader/Mutex introspection hooks used from tests and operator tooling.
type Stats struct {
	Channel       gcode.Channel
	StackDepth    int
	PendingCodes  int
	SentCodes     int
	FlushWaiters  int
	LockWaiters   int
	Aborted       bool
	LastError     string
}

// Channel is the per-code-channel stack plus the per-channel lock that
// guards it (§5 Scheduling model).
type Channel struct {
	id gcode.Channel

	mu     sync.Mutex
	frames []*Frame
	nextID uint32

	aborted         bool
	lastError       error
	unlockRequested bool

	log *log.Logger

	// workReady is signalled (non-blocking) whenever new work becomes
	// available for the Processor to drain; it is never read by this
	// Channel itself.
	workReady chan struct{}
}

// New creates a Channel with a single base frame.
func New(id gcode.Channel, logger *log.Logger) *Channel {
	return &Channel{
		id:        id,
		frames:    []*Frame{{}},
		log:       logger,
		workReady: make(chan struct{}, 1),
	}
}

// ID returns the channel's identity.
func (c *Channel) ID() gcode.Channel { return c.id }

// WorkReady returns the notification channel the Processor selects on to
// learn that this Channel has new work without Channel holding a
// back-reference to the Processor (§9 design note).
func (c *Channel) WorkReady() <-chan struct{} { return c.workReady }

func (c *Channel) notify() {
	select {
	case c.workReady <- struct{}{}:
	default:
	}
}

func (c *Channel) top() *Frame { return c.frames[len(c.frames)-1] }

// isMacroReturn reports whether code is M99, the pseudo-code a macro body
// ends on to signal its own EOF back to the channel (§4.C Frame
// transitions, "Push frame on: ... M99/return with pending replacement").
func isMacroReturn(code *gcode.Code) bool {
	return code.Letter == "M" && code.Major == 99 && code.Minor == 0
}

// Push enqueues code on the topmost frame's pendingCodes (§4.C Contract,
// invariant 1: only the topmost frame may hand codes to the firmware).
// An M99 pushed while the topmost frame is a macro never reaches the
// firmware: it is the host-local signal that the macro body has run to
// completion, so it resolves its own waiter and signals EOF on the frame
// in its place.
func (c *Channel) Push(code *gcode.Code) *Waiter[CodeResult] {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := NewWaiter[CodeResult]()
	if c.aborted {
		w.Resolve(CodeResult{Aborted: true})
		return w
	}

	top := c.top()
	if isMacroReturn(code) && top.macro != nil {
		c.signalMacroEOFLocked()
		w.Resolve(CodeResult{})
		return w
	}

	code.ID = c.nextID
	c.nextID++
	code.Channel = c.id

	pc := &pendingCode{code: code, waiter: w}
	top.pendingCodes = append(top.pendingCodes, pc)
	c.notify()
	return w
}

// Flush returns a waiter that resolves true once every code pushed
// before this call on the topmost frame has had its reply applied, and
// — if syncFileStreams — the firmware's input buffer for this channel is
// drained (§4.C Flush semantics).
func (c *Channel) Flush(syncFileStreams bool) *Waiter[bool] {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := NewWaiter[bool]()
	if c.aborted {
		w.Resolve(false)
		return w
	}

	top := c.top()
	if len(top.pendingCodes) == 0 && len(top.sentCodes) == 0 {
		w.Resolve(true)
		return w
	}
	top.flushRequests = append(top.flushRequests, w)
	return w
}

// Lock enqueues a motion-lock request for the head of this channel's
// lockRequests queue (§4.C Lock semantics).
func (c *Channel) Lock() *Waiter[error] {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := NewWaiter[error]()
	if c.aborted {
		w.Resolve(errorsx.CancelledError(c.id.String(), "channel aborted"))
		return w
	}

	top := c.top()
	top.lockRequests = append(top.lockRequests, &LockRequest{Waiter: w})
	c.notify()
	return w
}

// Unlock requests release of the channel's most recently granted lock.
// Unlike Lock it does not wait on a firmware reply: RepRapFirmware
// applies Unlock immediately and the host has no reason to stall a
// caller on it (§4.C Lock semantics).
func (c *Channel) Unlock() *Waiter[error] {
	c.mu.Lock()
	c.unlockRequested = true
	c.mu.Unlock()

	c.notify()
	w := NewWaiter[error]()
	w.Resolve(nil)
	return w
}

// TakeUnlockRequest reports and clears a pending Unlock request, for the
// Processor to translate into an Unlock packet.
func (c *Channel) TakeUnlockRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.unlockRequested {
		return false
	}
	c.unlockRequested = false
	return true
}

// PushMacroFrame pushes a new frame for a macro invocation — firmware
// ExecuteMacro, a host-initiated macro, or an M99 return with a
// replacement pending (§4.C Frame transitions, "Push frame on").
func (c *Channel) PushMacroFrame(m *Macro, startCode *gcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames = append(c.frames, &Frame{macro: m, startCode: startCode})
	c.notify()
}

// TryPopFrame pops the topmost frame if it may legally be popped: its
// macro has signalled EOF (macroCompleted), every pendingCode has been
// replied to, every flushRequest has resolved, and it isn't the base
// frame (§4.C Frame transitions, "Pop frame when").
//
// ackFromFirmware must be true only once the firmware has acknowledged
// the MacroCompleted packet for this frame; the caller (Processor) is
// responsible for sequencing that.
func (c *Channel) TryPopFrame(ackFromFirmware bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tryPopFrameLocked(ackFromFirmware)
}

func (c *Channel) tryPopFrameLocked(ackFromFirmware bool) bool {
	if len(c.frames) <= 1 {
		return false
	}
	top := c.top()
	if !top.macroCompleted || !top.macroCompletionSent || !ackFromFirmware {
		return false
	}
	if len(top.pendingCodes) != 0 || len(top.sentCodes) != 0 {
		return false
	}
	if len(top.flushRequests) != 0 {
		return false
	}

	c.frames = c.frames[:len(c.frames)-1]
	// Suspended codes on the frame that displaced this one, if any,
	// resume draining into pendingCodes on the newly-exposed top.
	newTop := c.top()
	if len(newTop.suspendedCodes) != 0 {
		newTop.pendingCodes = append(newTop.suspendedCodes, newTop.pendingCodes...)
		newTop.suspendedCodes = nil
	}
	c.resolveDrainedFlushesLocked(newTop)
	return true
}

// SignalMacroEOF marks the topmost frame's macro as having signalled EOF,
// making it eligible to pop once its queues drain and the firmware acks
// (§4.C Frame transitions; §3 invariant 5: at most once per frame).
func (c *Channel) SignalMacroEOF() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signalMacroEOFLocked()
}

func (c *Channel) signalMacroEOFLocked() {
	top := c.top()
	if top.macro == nil || top.macroCompleted {
		return
	}
	top.macroCompleted = true
	c.notify()
}

// Displace replaces the topmost frame's pendingCodes with a conditional
// branch body without pushing a new frame (§4.C Frame transitions,
// "Displace").
func (c *Channel) Displace(startCode *gcode.Code, body []*gcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.top()
	top.startCode = startCode
	pcs := make([]*pendingCode, 0, len(body))
	for _, code := range body {
		code.ID = c.nextID
		c.nextID++
		code.Channel = c.id
		pcs = append(pcs, &pendingCode{code: code, waiter: NewWaiter[CodeResult]()})
	}
	top.pendingCodes = append(pcs, top.pendingCodes...)
	c.notify()
}

// NextCode pops the topmost frame's pendingCodes in FIFO order and moves
// it to sentCodes awaiting a reply, returning nil if there is nothing to
// send. The Processor assigns no new id here — Push already did — it
// only decides when to dequeue under its byte budget (§4.D Budget).
func (c *Channel) NextCode() *gcode.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.top()
	if len(top.pendingCodes) == 0 {
		return nil
	}
	pc := top.pendingCodes[0]
	top.pendingCodes = top.pendingCodes[1:]
	top.sentCodes = append(top.sentCodes, pc)
	return pc.code
}

// Requeue undoes a NextCode dequeue for code, used when the Processor
// discovers the cycle's byte budget can't fit the packet after all
// (§4.A Buffer discipline: "a write that would overflow causes the
// packet to be deferred to the next cycle"). code must be the most
// recently dequeued code still awaiting send on the topmost frame.
func (c *Channel) Requeue(code *gcode.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.top()
	n := len(top.sentCodes)
	if n == 0 || top.sentCodes[n-1].code.ID != code.ID {
		return
	}
	pc := top.sentCodes[n-1]
	top.sentCodes = top.sentCodes[:n-1]
	top.pendingCodes = append([]*pendingCode{pc}, top.pendingCodes...)
}

// NextLockAction returns the head of the topmost frame's lockRequests
// queue that hasn't yet been sent to the firmware, or nil.
func (c *Channel) NextLockAction() *LockRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.top()
	for _, lr := range top.lockRequests {
		if !lr.sent {
			lr.sent = true
			return lr
		}
	}
	return nil
}

// PendingMacroCompletion reports whether the topmost frame needs a
// MacroCompleted packet sent, i.e. its macro signalled EOF and this
// Channel hasn't sent that notice yet. The returned bool is true exactly
// once per frame (§3 invariant 5); the caller must call
// MarkMacroCompletionSent after encoding the packet.
func (c *Channel) PendingMacroCompletion() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.top()
	return top.macro != nil && top.macroCompleted && !top.macroCompletionSent
}

// MarkMacroCompletionSent records that the MacroCompleted packet for the
// topmost frame has gone out, so PendingMacroCompletion won't repeat it.
func (c *Channel) MarkMacroCompletionSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.top().macroCompletionSent = true
}

// HasWork reports whether the Processor should consider this channel
// during the current cycle (§4.D loop, "channel.hasWork()").
func (c *Channel) HasWork() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.top()
	if len(top.pendingCodes) != 0 {
		return true
	}
	for _, lr := range top.lockRequests {
		if !lr.sent {
			return true
		}
	}
	if top.macro != nil && top.macroCompleted && !top.macroCompletionSent {
		return true
	}
	return c.unlockRequested
}

// OnReply matches a firmware CodeReply to the head of the topmost
// frame's sentCodes queue by id. A reply whose id doesn't match the head
// is a FIFO violation: the channel is aborted (§4.C Ordering, §8
// scenario 4).
func (c *Channel) OnReply(id uint32, content string, flags uint8) {
	c.mu.Lock()

	top := c.top()
	if len(top.sentCodes) == 0 || top.sentCodes[0].code.ID != id {
		wantID := uint32(0)
		if len(top.sentCodes) != 0 {
			wantID = top.sentCodes[0].code.ID
		}
		c.mu.Unlock()
		c.abort(errorsx.FIFOViolationError(c.id.String(), wantID, id))
		return
	}

	pc := top.sentCodes[0]
	top.sentCodes = top.sentCodes[1:]
	c.resolveDrainedFlushesLocked(top)
	c.mu.Unlock()

	pc.waiter.Resolve(CodeResult{Content: content, Flags: flags})
}

// resolveDrainedFlushesLocked resolves every flushRequest on frame whose
// barrier has now been crossed (§8 Flush barrier property): a flush
// waiter never resolves true before every prior push on the frame has
// resolved.
func (c *Channel) resolveDrainedFlushesLocked(frame *Frame) {
	if len(frame.pendingCodes) != 0 || len(frame.sentCodes) != 0 {
		return
	}
	for _, w := range frame.flushRequests {
		w.Resolve(true)
	}
	frame.flushRequests = nil
}

// OnMacroRequest pushes a macro frame requested by the firmware, on
// behalf of a running code (§4.C Frame transitions).
func (c *Channel) OnMacroRequest(filename string, fromCode bool) {
	c.PushMacroFrame(&Macro{Filename: filename, FromCode: fromCode}, nil)
}

// OnResourceLocked resolves the waiter at the head of the topmost
// frame's lockRequests queue.
func (c *Channel) OnResourceLocked() {
	c.mu.Lock()
	top := c.top()
	if len(top.lockRequests) == 0 {
		c.mu.Unlock()
		return
	}
	lr := top.lockRequests[0]
	top.lockRequests = top.lockRequests[1:]
	c.mu.Unlock()
	lr.Waiter.Resolve(nil)
}

// OnAbort discards the channel's frame stack down to base and fails
// every outstanding waiter with aborted (§4.D routing of AbortFile; §9
// Open Question decision: abort always wins over a pending
// MacroCompleted send, so every popped frame is force-marked completed
// to suppress a stale MacroCompleted in flight for it).
func (c *Channel) OnAbort(reason string) {
	c.mu.Lock()
	frames := c.frames
	c.frames = []*Frame{{}}
	c.mu.Unlock()

	err := errorsx.CancelledError(c.id.String(), reason)
	for _, f := range frames {
		f.macroCompleted = true
		f.macroCompletionSent = true
		for _, pc := range f.pendingCodes {
			pc.waiter.Resolve(CodeResult{Aborted: true})
		}
		for _, pc := range f.sentCodes {
			pc.waiter.Resolve(CodeResult{Aborted: true})
		}
		for _, pc := range f.suspendedCodes {
			pc.waiter.Resolve(CodeResult{Aborted: true})
		}
		for _, w := range f.flushRequests {
			w.Resolve(false)
		}
		for _, lr := range f.lockRequests {
			lr.Waiter.Resolve(err)
		}
	}
}

// OnInvalidated resolves every waiter on every frame of the channel with
// aborted and pops back to the base frame, then marks the channel
// aborted so subsequent Push/Flush/Lock calls fail fast (§4.C
// Invalidation, §8 "No leak on reset").
func (c *Channel) OnInvalidated() {
	c.OnAbort("channel invalidated")
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
}

// Reinitialize clears the aborted flag and resets to a single base
// frame, used after a peer reset once the Processor has re-established
// the link (§4.D loop, "reinitialize all channels").
func (c *Channel) Reinitialize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = []*Frame{{}}
	c.aborted = false
	c.lastError = nil
}

func (c *Channel) abort(err error) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
	if c.log != nil {
		c.log.Error("channel protocol violation", "channel", c.id.String(), "error", err)
	}
	c.OnAbort(err.Error())
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
}

// Diagnostics reports stack depth and queue sizes for operator tooling
// (§ SUPPLEMENTED FEATURES, Per-channel diagnostics).
func (c *Channel) Diagnostics() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	top := c.top()
	s := Stats{
		Channel:      c.id,
		StackDepth:   len(c.frames),
		PendingCodes: len(top.pendingCodes),
		SentCodes:    len(top.sentCodes),
		FlushWaiters: len(top.flushRequests),
		LockWaiters:  len(top.lockRequests),
		Aborted:      c.aborted,
	}
	if c.lastError != nil {
		s.LastError = c.lastError.Error()
	}
	return s
}
