// Packet kinds: the tagged union carried in PacketHeader.Request (§4.B).
// Each Body implementation owns a fixed-layout encode/decode pair; the
// registry in codec.go dispatches on Kind the way the header's Request tag
// does on the wire.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package packet

// Kind tags a packet body, carried on the wire as PacketHeader.Request.
// The full protocol has ~70 request and ~30 response kinds negotiated by
// protocol version (§4.B); this lists the kinds this host build speaks.
// Anything else decodes to Unknown and is logged-and-skipped per the
// decoding rules.
type Kind uint16

// Host -> firmware.
const (
	KindCode Kind = iota + 1
	KindGetObjectModel
	KindSetObjectModelValue
	KindPrintStarted
	KindPrintStopped
	KindMacroCompleted
	KindResetAll
	KindAck
	KindReply
	KindLockMovementAndWaitForStandstill
	KindUnlock
	KindStartPlugin
	KindSetPrintFileInfo
	KindEvaluateExpression
)

// Firmware -> host.
const (
	KindObjectModel Kind = iota + 100
	KindCodeBufferUpdate
	KindCodeReply
	KindMacroRequest
	KindAbortFile
	KindPrintPaused
	KindMessage
	KindExecuteMacro
	KindResourceLocked
	KindFileChunkRequest
	KindEvaluationResult
	KindDoCode
)

var kindNames = map[Kind]string{
	KindCode:                             "Code",
	KindGetObjectModel:                   "GetObjectModel",
	KindSetObjectModelValue:              "SetObjectModelValue",
	KindPrintStarted:                     "PrintStarted",
	KindPrintStopped:                     "PrintStopped",
	KindMacroCompleted:                   "MacroCompleted",
	KindResetAll:                         "ResetAll",
	KindAck:                              "Ack",
	KindReply:                            "Reply",
	KindLockMovementAndWaitForStandstill: "LockMovementAndWaitForStandstill",
	KindUnlock:                           "Unlock",
	KindStartPlugin:                      "StartPlugin",
	KindSetPrintFileInfo:                 "SetPrintFileInfo",
	KindEvaluateExpression:               "EvaluateExpression",
	KindObjectModel:                      "ObjectModel",
	KindCodeBufferUpdate:                 "CodeBufferUpdate",
	KindCodeReply:                        "CodeReply",
	KindMacroRequest:                     "MacroRequest",
	KindAbortFile:                        "AbortFile",
	KindPrintPaused:                      "PrintPaused",
	KindMessage:                          "Message",
	KindExecuteMacro:                     "ExecuteMacro",
	KindResourceLocked:                   "ResourceLocked",
	KindFileChunkRequest:                 "FileChunkRequest",
	KindEvaluationResult:                 "EvaluationResult",
	KindDoCode:                           "DoCode",
}

// String renders the kind's name, or "Unknown(n)" for an unrecognised tag.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown(" + itoa16(uint16(k)) + ")"
}

func itoa16(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Body is implemented by every concrete packet payload.
type Body interface {
	Kind() Kind
	encode(w *writer)
}

// Unknown wraps the raw bytes of a packet whose Request tag this build
// doesn't recognise. Decode keeps iterating past it rather than treating
// the whole payload as corrupt — only a declared length overrunning the
// payload does that (§4.B Decoding rules).
type Unknown struct {
	Tag Kind
	Raw []byte
}

func (u *Unknown) Kind() Kind      { return u.Tag }
func (u *Unknown) encode(w *writer) { w.bytes(u.Raw) }

// --- Host -> firmware ---------------------------------------------------

// Code carries one parsed command down to the firmware. The full
// parameter list travels as the raw source line in Line; FilePosition lets
// the firmware report progress for File-channel macros without the host
// re-deriving byte offsets.
type Code struct {
	ChannelID    uint8
	Letter       byte
	Major        int32
	Minor        int8
	Flags        uint8
	FilePosition uint32
	Line         string
}

func (*Code) Kind() Kind { return KindCode }
func (c *Code) encode(w *writer) {
	w.u8(c.ChannelID)
	w.u8(c.Letter)
	w.u32(uint32(c.Major))
	w.u8(uint8(c.Minor))
	w.u8(c.Flags)
	w.u32(c.FilePosition)
	w.str(c.Line)
}
func decodeCode(r *reader) (Body, error) {
	c := &Code{}
	var err error
	if c.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	if c.Letter, err = r.u8(); err != nil {
		return nil, err
	}
	var major uint32
	if major, err = r.u32(); err != nil {
		return nil, err
	}
	c.Major = int32(major)
	var minor uint8
	if minor, err = r.u8(); err != nil {
		return nil, err
	}
	c.Minor = int8(minor)
	if c.Flags, err = r.u8(); err != nil {
		return nil, err
	}
	if c.FilePosition, err = r.u32(); err != nil {
		return nil, err
	}
	if c.Line, err = r.str(); err != nil {
		return nil, err
	}
	return c, nil
}

// GetObjectModel asks the firmware for a key of the object model.
type GetObjectModel struct {
	Flags uint8
	Key   string
}

func (*GetObjectModel) Kind() Kind { return KindGetObjectModel }
func (g *GetObjectModel) encode(w *writer) {
	w.u8(g.Flags)
	w.str(g.Key)
}
func decodeGetObjectModel(r *reader) (Body, error) {
	g := &GetObjectModel{}
	var err error
	if g.Flags, err = r.u8(); err != nil {
		return nil, err
	}
	if g.Key, err = r.str(); err != nil {
		return nil, err
	}
	return g, nil
}

// SetObjectModelValue pushes a host-side write into the firmware's model.
type SetObjectModelValue struct {
	Field string
	Value string
}

func (*SetObjectModelValue) Kind() Kind { return KindSetObjectModelValue }
func (s *SetObjectModelValue) encode(w *writer) {
	w.str(s.Field)
	w.str(s.Value)
}
func decodeSetObjectModelValue(r *reader) (Body, error) {
	s := &SetObjectModelValue{}
	var err error
	if s.Field, err = r.str(); err != nil {
		return nil, err
	}
	if s.Value, err = r.str(); err != nil {
		return nil, err
	}
	return s, nil
}

// PrintStarted notifies the firmware a file print has begun.
type PrintStarted struct {
	FileSize uint32
	Filename string
}

func (*PrintStarted) Kind() Kind { return KindPrintStarted }
func (p *PrintStarted) encode(w *writer) {
	w.u32(p.FileSize)
	w.str(p.Filename)
}
func decodePrintStarted(r *reader) (Body, error) {
	p := &PrintStarted{}
	var err error
	if p.FileSize, err = r.u32(); err != nil {
		return nil, err
	}
	if p.Filename, err = r.str(); err != nil {
		return nil, err
	}
	return p, nil
}

// PrintStopReason classifies why a print ended.
type PrintStopReason uint8

const (
	StopNormal        PrintStopReason = 0
	StopUserCancelled PrintStopReason = 1
	StopAbort         PrintStopReason = 2
	StopError         PrintStopReason = 3
)

// PrintStopped notifies the firmware a file print has ended.
type PrintStopped struct {
	Reason PrintStopReason
}

func (*PrintStopped) Kind() Kind { return KindPrintStopped }
func (p *PrintStopped) encode(w *writer) { w.u8(uint8(p.Reason)) }
func decodePrintStopped(r *reader) (Body, error) {
	p := &PrintStopped{}
	v, err := r.u8()
	if err != nil {
		return nil, err
	}
	p.Reason = PrintStopReason(v)
	return p, nil
}

// MacroCompleted signals that a channel's current macro frame finished.
// Sent at most once per frame (§3 invariant 5).
type MacroCompleted struct {
	ChannelID uint8
	Error     bool
}

func (*MacroCompleted) Kind() Kind { return KindMacroCompleted }
func (m *MacroCompleted) encode(w *writer) {
	w.u8(m.ChannelID)
	w.u8(boolByte(m.Error))
}
func decodeMacroCompleted(r *reader) (Body, error) {
	m := &MacroCompleted{}
	var err error
	if m.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	var e uint8
	if e, err = r.u8(); err != nil {
		return nil, err
	}
	m.Error = e != 0
	return m, nil
}

// ResetAll asks the firmware to discard all channel state; sent on
// shutdown and after a processor-level resync.
type ResetAll struct{}

func (*ResetAll) Kind() Kind        { return KindResetAll }
func (*ResetAll) encode(w *writer) {}
func decodeResetAll(r *reader) (Body, error) { return &ResetAll{}, nil }

// Ack acknowledges a packet the header's ID field correlates to.
type Ack struct{}

func (*Ack) Kind() Kind        { return KindAck }
func (*Ack) encode(w *writer) {}
func decodeAck(r *reader) (Body, error) { return &Ack{}, nil }

// Reply forwards host-generated message text down to the firmware's
// console (e.g. a host plugin's own M118).
type Reply struct {
	Flags   uint8
	Content string
}

func (*Reply) Kind() Kind { return KindReply }
func (rp *Reply) encode(w *writer) {
	w.u8(rp.Flags)
	w.str(rp.Content)
}
func decodeReply(r *reader) (Body, error) {
	rp := &Reply{}
	var err error
	if rp.Flags, err = r.u8(); err != nil {
		return nil, err
	}
	if rp.Content, err = r.str(); err != nil {
		return nil, err
	}
	return rp, nil
}

// LockMovementAndWaitForStandstill is sent for the head of a channel's
// lockRequests queue (§4.C Lock semantics).
type LockMovementAndWaitForStandstill struct {
	ChannelID uint8
}

func (*LockMovementAndWaitForStandstill) Kind() Kind { return KindLockMovementAndWaitForStandstill }
func (l *LockMovementAndWaitForStandstill) encode(w *writer) { w.u8(l.ChannelID) }
func decodeLockMovementAndWaitForStandstill(r *reader) (Body, error) {
	l := &LockMovementAndWaitForStandstill{}
	v, err := r.u8()
	if err != nil {
		return nil, err
	}
	l.ChannelID = v
	return l, nil
}

// Unlock releases a previously granted lock.
type Unlock struct {
	ChannelID uint8
}

func (*Unlock) Kind() Kind        { return KindUnlock }
func (u *Unlock) encode(w *writer) { w.u8(u.ChannelID) }
func decodeUnlock(r *reader) (Body, error) {
	u := &Unlock{}
	v, err := r.u8()
	if err != nil {
		return nil, err
	}
	u.ChannelID = v
	return u, nil
}

// StartPlugin asks the firmware to start a named SBC-resident plugin's
// firmware-side counterpart, if any.
type StartPlugin struct {
	Name string
}

func (*StartPlugin) Kind() Kind { return KindStartPlugin }
func (s *StartPlugin) encode(w *writer) { w.str(s.Name) }
func decodeStartPlugin(r *reader) (Body, error) {
	s := &StartPlugin{}
	v, err := r.str()
	if err != nil {
		return nil, err
	}
	s.Name = v
	return s, nil
}

// SetPrintFileInfo hands the firmware pre-parsed metadata about the file
// about to print, avoiding a firmware-side re-parse.
type SetPrintFileInfo struct {
	FileSize      uint32
	NumLayers     uint32
	GeneratedTime uint32
	Filename      string
}

func (*SetPrintFileInfo) Kind() Kind { return KindSetPrintFileInfo }
func (s *SetPrintFileInfo) encode(w *writer) {
	w.u32(s.FileSize)
	w.u32(s.NumLayers)
	w.u32(s.GeneratedTime)
	w.str(s.Filename)
}
func decodeSetPrintFileInfo(r *reader) (Body, error) {
	s := &SetPrintFileInfo{}
	var err error
	if s.FileSize, err = r.u32(); err != nil {
		return nil, err
	}
	if s.NumLayers, err = r.u32(); err != nil {
		return nil, err
	}
	if s.GeneratedTime, err = r.u32(); err != nil {
		return nil, err
	}
	if s.Filename, err = r.str(); err != nil {
		return nil, err
	}
	return s, nil
}

// EvaluateExpression asks the firmware to evaluate a deferred expression
// (e.g. `move.axes[0].machine_position`) in the context of a channel.
type EvaluateExpression struct {
	ChannelID  uint8
	Expression string
}

func (*EvaluateExpression) Kind() Kind { return KindEvaluateExpression }
func (e *EvaluateExpression) encode(w *writer) {
	w.u8(e.ChannelID)
	w.str(e.Expression)
}
func decodeEvaluateExpression(r *reader) (Body, error) {
	e := &EvaluateExpression{}
	var err error
	if e.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	if e.Expression, err = r.str(); err != nil {
		return nil, err
	}
	return e, nil
}

// --- Firmware -> host ----------------------------------------------------

// ObjectModel carries a JSON patch of object-model changes, forwarded
// verbatim to the object-model mirror collaborator (§4.D Routing).
type ObjectModel struct {
	Patch []byte
}

func (*ObjectModel) Kind() Kind        { return KindObjectModel }
func (o *ObjectModel) encode(w *writer) { w.bytes(o.Patch) }
func decodeObjectModel(r *reader) (Body, error) { return &ObjectModel{Patch: r.rest()}, nil }

// CodeBufferUpdate reports how much of the firmware's per-channel input
// buffer is free, used by the Processor's byte budget accounting.
type CodeBufferUpdate struct {
	BufferSpace uint16
}

func (*CodeBufferUpdate) Kind() Kind { return KindCodeBufferUpdate }
func (c *CodeBufferUpdate) encode(w *writer) { w.u16(c.BufferSpace) }
func decodeCodeBufferUpdate(r *reader) (Body, error) {
	c := &CodeBufferUpdate{}
	v, err := r.u16()
	if err != nil {
		return nil, err
	}
	c.BufferSpace = v
	return c, nil
}

// ReplyFlag bits classify a CodeReply/Message's severity and delivery.
type ReplyFlag uint8

const (
	ReplyInfo    ReplyFlag = 0
	ReplyWarning ReplyFlag = 1 << 0
	ReplyError   ReplyFlag = 1 << 1
	ReplyPush    ReplyFlag = 1 << 2 // more reply fragments follow for this id
)

// CodeReply answers a Code packet. The header's ID field is the
// correlation id the reply is matched against within ChannelID's queue
// (§3, §4.C Ordering).
type CodeReply struct {
	ChannelID uint8
	Flags     uint8
	Content   string
}

func (*CodeReply) Kind() Kind { return KindCodeReply }
func (c *CodeReply) encode(w *writer) {
	w.u8(c.ChannelID)
	w.u8(c.Flags)
	w.str(c.Content)
}
func decodeCodeReply(r *reader) (Body, error) {
	c := &CodeReply{}
	var err error
	if c.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	if c.Flags, err = r.u8(); err != nil {
		return nil, err
	}
	if c.Content, err = r.str(); err != nil {
		return nil, err
	}
	return c, nil
}

// MacroRequest asks the host to push a macro file onto a channel's frame
// stack, e.g. because a running code invoked it with M98.
type MacroRequest struct {
	ChannelID uint8
	FromCode  bool
	Filename  string
}

func (*MacroRequest) Kind() Kind { return KindMacroRequest }
func (m *MacroRequest) encode(w *writer) {
	w.u8(m.ChannelID)
	w.u8(boolByte(m.FromCode))
	w.str(m.Filename)
}
func decodeMacroRequest(r *reader) (Body, error) {
	m := &MacroRequest{}
	var err error
	if m.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	var fc uint8
	if fc, err = r.u8(); err != nil {
		return nil, err
	}
	m.FromCode = fc != 0
	if m.Filename, err = r.str(); err != nil {
		return nil, err
	}
	return m, nil
}

// AbortFile tells the host to discard a channel's file/macro execution
// state. AbortAll also pops nested macro frames, not just the top one.
type AbortFile struct {
	ChannelID uint8
	AbortAll  bool
}

func (*AbortFile) Kind() Kind { return KindAbortFile }
func (a *AbortFile) encode(w *writer) {
	w.u8(a.ChannelID)
	w.u8(boolByte(a.AbortAll))
}
func decodeAbortFile(r *reader) (Body, error) {
	a := &AbortFile{}
	var err error
	if a.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	var all uint8
	if all, err = r.u8(); err != nil {
		return nil, err
	}
	a.AbortAll = all != 0
	return a, nil
}

// PrintPaused reports the firmware has paused a print, from which file
// position it can be resumed.
type PrintPaused struct {
	FilePosition uint32
	Reason       uint8
}

func (*PrintPaused) Kind() Kind { return KindPrintPaused }
func (p *PrintPaused) encode(w *writer) {
	w.u32(p.FilePosition)
	w.u8(p.Reason)
}
func decodePrintPaused(r *reader) (Body, error) {
	p := &PrintPaused{}
	var err error
	if p.FilePosition, err = r.u32(); err != nil {
		return nil, err
	}
	if p.Reason, err = r.u8(); err != nil {
		return nil, err
	}
	return p, nil
}

// Message carries a firmware-originated log/console line, forwarded to
// logging (§4.D Routing), not to a channel.
type Message struct {
	Flags   uint8
	Content string
}

func (*Message) Kind() Kind { return KindMessage }
func (m *Message) encode(w *writer) {
	w.u8(m.Flags)
	w.str(m.Content)
}
func decodeMessage(r *reader) (Body, error) {
	m := &Message{}
	var err error
	if m.Flags, err = r.u8(); err != nil {
		return nil, err
	}
	if m.Content, err = r.str(); err != nil {
		return nil, err
	}
	return m, nil
}

// ExecuteMacro asks the host to push a system macro (e.g. a pause/resume
// hook) onto a channel's frame stack — distinct from MacroRequest in that
// it did not originate from a code the host itself handed down.
type ExecuteMacro struct {
	ChannelID uint8
	FromCode  bool
	Filename  string
}

func (*ExecuteMacro) Kind() Kind { return KindExecuteMacro }
func (e *ExecuteMacro) encode(w *writer) {
	w.u8(e.ChannelID)
	w.u8(boolByte(e.FromCode))
	w.str(e.Filename)
}
func decodeExecuteMacro(r *reader) (Body, error) {
	e := &ExecuteMacro{}
	var err error
	if e.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	var fc uint8
	if fc, err = r.u8(); err != nil {
		return nil, err
	}
	e.FromCode = fc != 0
	if e.Filename, err = r.str(); err != nil {
		return nil, err
	}
	return e, nil
}

// ResourceLocked resolves the lock waiter at the head of a channel's
// lockRequests queue (§4.C Lock semantics).
type ResourceLocked struct {
	ChannelID uint8
}

func (*ResourceLocked) Kind() Kind { return KindResourceLocked }
func (r2 *ResourceLocked) encode(w *writer) { w.u8(r2.ChannelID) }
func decodeResourceLocked(r *reader) (Body, error) {
	rl := &ResourceLocked{}
	v, err := r.u8()
	if err != nil {
		return nil, err
	}
	rl.ChannelID = v
	return rl, nil
}

// FileChunkRequest asks the host to stream a byte range of an open file
// (the file-info parser's domain; this is only the transport boundary).
type FileChunkRequest struct {
	Offset    uint32
	MaxLength uint32
	Filename  string
}

func (*FileChunkRequest) Kind() Kind { return KindFileChunkRequest }
func (f *FileChunkRequest) encode(w *writer) {
	w.u32(f.Offset)
	w.u32(f.MaxLength)
	w.str(f.Filename)
}
func decodeFileChunkRequest(r *reader) (Body, error) {
	f := &FileChunkRequest{}
	var err error
	if f.Offset, err = r.u32(); err != nil {
		return nil, err
	}
	if f.MaxLength, err = r.u32(); err != nil {
		return nil, err
	}
	if f.Filename, err = r.str(); err != nil {
		return nil, err
	}
	return f, nil
}

// EvaluationResult answers an EvaluateExpression request; the header's ID
// field correlates it back to the request.
type EvaluationResult struct {
	Flags  uint8
	Result string
}

func (*EvaluationResult) Kind() Kind { return KindEvaluationResult }
func (e *EvaluationResult) encode(w *writer) {
	w.u8(e.Flags)
	w.str(e.Result)
}
func decodeEvaluationResult(r *reader) (Body, error) {
	e := &EvaluationResult{}
	var err error
	if e.Flags, err = r.u8(); err != nil {
		return nil, err
	}
	if e.Result, err = r.str(); err != nil {
		return nil, err
	}
	return e, nil
}

// DoCode asks the host to execute an internally-generated code string on
// a channel, as if it had been pushed by a local producer.
type DoCode struct {
	ChannelID uint8
	Line      string
}

func (*DoCode) Kind() Kind { return KindDoCode }
func (d *DoCode) encode(w *writer) {
	w.u8(d.ChannelID)
	w.str(d.Line)
}
func decodeDoCode(r *reader) (Body, error) {
	d := &DoCode{}
	var err error
	if d.ChannelID, err = r.u8(); err != nil {
		return nil, err
	}
	if d.Line, err = r.str(); err != nil {
		return nil, err
	}
	return d, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

type decodeFunc func(*reader) (Body, error)

var decoders = map[Kind]decodeFunc{
	KindCode:                             decodeCode,
	KindGetObjectModel:                   decodeGetObjectModel,
	KindSetObjectModelValue:              decodeSetObjectModelValue,
	KindPrintStarted:                     decodePrintStarted,
	KindPrintStopped:                     decodePrintStopped,
	KindMacroCompleted:                   decodeMacroCompleted,
	KindResetAll:                         decodeResetAll,
	KindAck:                              decodeAck,
	KindReply:                            decodeReply,
	KindLockMovementAndWaitForStandstill: decodeLockMovementAndWaitForStandstill,
	KindUnlock:                           decodeUnlock,
	KindStartPlugin:                      decodeStartPlugin,
	KindSetPrintFileInfo:                 decodeSetPrintFileInfo,
	KindEvaluateExpression:               decodeEvaluateExpression,
	KindObjectModel:                      decodeObjectModel,
	KindCodeBufferUpdate:                 decodeCodeBufferUpdate,
	KindCodeReply:                        decodeCodeReply,
	KindMacroRequest:                     decodeMacroRequest,
	KindAbortFile:                        decodeAbortFile,
	KindPrintPaused:                      decodePrintPaused,
	KindMessage:                          decodeMessage,
	KindExecuteMacro:                     decodeExecuteMacro,
	KindResourceLocked:                   decodeResourceLocked,
	KindFileChunkRequest:                 decodeFileChunkRequest,
	KindEvaluationResult:                 decodeEvaluationResult,
	KindDoCode:                           decodeDoCode,
}
