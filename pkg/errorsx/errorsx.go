// Unified error handling for motionbridge.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errorsx

import (
	"fmt"
	"runtime"
)

// Kind is the error taxonomy from the error handling design: retry local,
// report channel, restart global.
type Kind string

const (
	// Transient covers timeouts and bad checksums. Retried inside
	// DataTransfer; never observed above that layer.
	Transient Kind = "TRANSIENT"

	// PeerReset is surfaced to the Processor, which invalidates every
	// channel and resumes from a clean sequence.
	PeerReset Kind = "PEER_RESET"

	// Protocol covers bad format, version mismatch, and id mismatch.
	// Fatal to the affected channel only.
	Protocol Kind = "PROTOCOL"

	// BufferFull means the current cycle's byte budget was exhausted;
	// the operation is deferred, not failed.
	BufferFull Kind = "BUFFER_FULL"

	// Cancelled resolves the waiter with an aborted result.
	Cancelled Kind = "CANCELLED"

	// Fatal requires a supervisor-level process restart.
	Fatal Kind = "FATAL"
)

// BridgeError is the unified error type used across the daemon.
type BridgeError struct {
	Kind    Kind
	Message string
	Channel string
	Err     error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Channel, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// SetChannel tags the error with the channel it aborted.
func (e *BridgeError) SetChannel(channel string) *BridgeError {
	e.Channel = channel
	return e
}

// SetContext adds additional diagnostic context.
func (e *BridgeError) SetContext(key string, value interface{}) *BridgeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a BridgeError of the given kind.
func New(kind Kind, message string) *BridgeError {
	return &BridgeError{Kind: kind, Message: message}
}

// Wrap wraps an existing error with a kind and message.
func Wrap(err error, kind Kind, message string) *BridgeError {
	return &BridgeError{Kind: kind, Message: message, Err: err}
}

// Transient constructors

func TransientError(message string) *BridgeError {
	return New(Transient, message)
}

func ChecksumError(field string) *BridgeError {
	return New(Transient, fmt.Sprintf("%s checksum mismatch", field))
}

func ReadyTimeoutError() *BridgeError {
	return New(Transient, "transferReady line did not assert before timeout")
}

// PeerReset constructors

func PeerResetError(expectedSeq, gotSeq uint16) *BridgeError {
	return New(PeerReset, fmt.Sprintf("sequence regressed from %d to %d", expectedSeq, gotSeq)).
		SetContext("expected_seq", expectedSeq).
		SetContext("got_seq", gotSeq)
}

// Protocol constructors

func ProtocolError(channel, message string) *BridgeError {
	return New(Protocol, message).SetChannel(channel)
}

func FIFOViolationError(channel string, wantID, gotID uint32) *BridgeError {
	return New(Protocol, fmt.Sprintf("reply id %d arrived before id %d", gotID, wantID)).
		SetChannel(channel).
		SetContext("want_id", wantID).
		SetContext("got_id", gotID)
}

func VersionMismatchError(local, remote uint8) *BridgeError {
	return New(Protocol, fmt.Sprintf("protocol version mismatch: host=%d firmware=%d", local, remote)).
		SetContext("local_version", local).
		SetContext("remote_version", remote)
}

// BufferFull constructors

func BufferFullError(channel string, remaining int) *BridgeError {
	return New(BufferFull, fmt.Sprintf("byte budget exhausted, %d bytes remain", remaining)).
		SetChannel(channel)
}

// Cancelled constructors

func CancelledError(channel, reason string) *BridgeError {
	return New(Cancelled, reason).SetChannel(channel)
}

// Fatal constructors

func FatalError(message string) *BridgeError {
	return New(Fatal, message)
}

// RecoverPanic converts a recovered panic into a Fatal BridgeError.
func RecoverPanic() *BridgeError {
	if r := recover(); r != nil {
		switch x := r.(type) {
		case string:
			return FatalError(fmt.Sprintf("panic: %s", x))
		case error:
			return FatalError(x.Error())
		case runtime.Error:
			return FatalError(x.Error())
		default:
			return FatalError(fmt.Sprintf("panic: %v", x))
		}
	}
	return nil
}

// Is reports whether err is a BridgeError of the given kind.
func Is(err error, kind Kind) bool {
	if be, ok := err.(*BridgeError); ok {
		return be.Kind == kind
	}
	return false
}

// IsTransient reports whether err should be retried locally without
// escaping DataTransfer.
func IsTransient(err error) bool {
	return Is(err, Transient)
}

// IsFatal reports whether err requires a supervisor-level restart.
func IsFatal(err error) bool {
	return Is(err, Fatal)
}
