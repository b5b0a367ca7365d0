// DataTransfer (§4.A): the explicit four-step state machine
// (AwaitHeader -> AwaitHeaderResp -> AwaitPayload -> AwaitPayloadResp ->
// Done|Retry|Reset) that drives one SPI link with the firmware, detects
// peer resets, and retries transiently-failed steps without involving the
// Processor. Grounded on the teacher's mcu.Reader read loop (resync on a
// bad frame) generalised from a stream codec to this fixed four-step
// full-duplex exchange.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package spilink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Link performs one full-duplex exchange of len(tx) bytes, placing the
// peer's simultaneously-clocked bytes into rx. len(rx) must equal len(tx).
// Implemented by spidev on Linux, by the in-memory ChannelLink for tests
// and -no-spi, and by SocketLink for cmd/simfirmware.
type Link interface {
	Exchange(tx, rx []byte) error
}

// ReadyWaiter blocks until the firmware's transferReady GPIO line
// asserts, or returns ErrReadyTimeout.
type ReadyWaiter interface {
	WaitReady(timeout time.Duration) error
}

// ErrReadyTimeout is returned by a ReadyWaiter when the line never
// asserted within the configured timeout. Not fatal by itself (§4.A
// Ready signal) — DataTransfer counts these and only declares Fatal once
// more than MaxReadyStalls consecutive timeouts have occurred.
var ErrReadyTimeout = errors.New("spilink: transferReady timeout")

// Outcome classifies the result of one PerformFullTransfer call.
type Outcome int

const (
	// OutcomeSuccess means the transfer completed and RxPayload holds a
	// fresh, checksum-verified payload.
	OutcomeSuccess Outcome = iota
	// OutcomePeerReset means the firmware appears to have restarted;
	// the caller should invalidate all channels and resume.
	OutcomePeerReset
	// OutcomeFatal means retries were exhausted and the link cannot
	// make progress; the caller should escalate to the supervisor.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePeerReset:
		return "peer-reset"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Config tunes DataTransfer's retry and timeout behaviour.
type Config struct {
	ProtocolVersion  uint16
	ReadyTimeout     time.Duration // default 500ms
	MaxReadyStalls   int           // default 3
	MaxHeaderRetries int           // default 5
	MaxPayloadRetries int          // default 5
}

// DefaultConfig returns the §4.A defaults.
func DefaultConfig(protocolVersion uint16) Config {
	return Config{
		ProtocolVersion:   protocolVersion,
		ReadyTimeout:      500 * time.Millisecond,
		MaxReadyStalls:    3,
		MaxHeaderRetries:  5,
		MaxPayloadRetries: 5,
	}
}

// DataTransfer owns the tx/rx buffers and the SPI link's framing state.
// Exclusively owned by the Processor (§5 Shared-resource policy); never
// touched concurrently.
type DataTransfer struct {
	link  Link
	ready ReadyWaiter
	cfg   Config

	txSeq uint16
	rxSeq uint16

	haveLastGoodRxSeq   bool
	lastGoodRxSeq       uint16
	lastTransferSuccess bool

	acceptedProtocolVersion uint16
	haveAcceptedVersion     bool

	hadReset bool

	rxBuf       [MaxPayload]byte
	rxPayload   []byte
	rxNumPackets uint8

	headerExchanges int
	codeExchanges   int
	stallCount      int
}

// New creates a DataTransfer over link, waiting on ready before each
// exchange step.
func New(link Link, ready ReadyWaiter, cfg Config) *DataTransfer {
	return &DataTransfer{link: link, ready: ready, cfg: cfg}
}

// ResponseHeaderState is the number of 16-byte header exchanges performed
// since construction, including retries.
func (dt *DataTransfer) ResponseHeaderState() int { return dt.headerExchanges }

// ResponseCodeState is the number of 4-byte response-code exchanges
// performed since construction (both header-ack and payload-ack steps).
func (dt *DataTransfer) ResponseCodeState() int { return dt.codeExchanges }

// HadReset reports whether the most recent transfer detected a firmware
// restart (§4.A Peer-reset detection).
func (dt *DataTransfer) HadReset() bool { return dt.hadReset }

// RxPayload returns the most recently received, checksum-verified
// payload. The returned slice aliases an internal buffer and is only
// valid until the next PerformFullTransfer call.
func (dt *DataTransfer) RxPayload() []byte { return dt.rxPayload }

// RxNumPackets returns the packet count the peer declared for RxPayload.
func (dt *DataTransfer) RxNumPackets() uint8 { return dt.rxNumPackets }

// Init performs a zero-payload header-only handshake used to establish
// the protocol version before steady-state transfers begin (§4.D
// Startup). It shares the same header-retry logic as PerformFullTransfer
// but never attempts a payload step.
func (dt *DataTransfer) Init() error {
	outcome, err := dt.PerformFullTransfer(nil, 0)
	if outcome == OutcomeFatal {
		return fmt.Errorf("spilink: init handshake failed: %w", err)
	}
	return nil
}

// PerformFullTransfer runs the four-step state machine once: header
// exchange, header response, optional payload exchange, optional payload
// response. txPayload is clocked out verbatim; numPackets is carried in
// the tx header for the peer's packet-count bookkeeping.
func (dt *DataTransfer) PerformFullTransfer(txPayload []byte, numPackets uint8) (Outcome, error) {
	if len(txPayload) > MaxPayload {
		return OutcomeFatal, fmt.Errorf("spilink: tx payload of %d bytes exceeds MaxPayload", len(txPayload))
	}

	var rxHeader TransferHeader
	var ourHeaderVerdict ResponseCode

	for attempt := 0; ; attempt++ {
		if attempt > dt.cfg.MaxHeaderRetries {
			dt.lastTransferSuccess = false
			return OutcomeFatal, fmt.Errorf("spilink: exceeded %d header retries", dt.cfg.MaxHeaderRetries)
		}

		txHeader := TransferHeader{
			FormatCode:      FormatCode,
			NumPackets:      numPackets,
			ProtocolVersion: dt.cfg.ProtocolVersion,
			SequenceNumber:  dt.txSeq,
			DataLength:      uint16(len(txPayload)),
			ChecksumData:    CRC32C(txPayload),
		}
		txHeaderBytes := txHeader.Encode()

		var rxHeaderBytes [HeaderSize]byte
		if err := dt.exchangeWithReady(txHeaderBytes[:], rxHeaderBytes[:]); err != nil {
			if errors.Is(err, ErrReadyTimeout) {
				if dt.stallCount++; dt.stallCount > dt.cfg.MaxReadyStalls {
					return OutcomeFatal, fmt.Errorf("spilink: %d consecutive ready-line stalls", dt.stallCount)
				}
				continue
			}
			return OutcomeFatal, err
		}
		dt.stallCount = 0
		dt.headerExchanges++

		var decodeErr error
		rxHeader, decodeErr = DecodeHeader(rxHeaderBytes[:])
		ourHeaderVerdict = dt.verdictFor(rxHeader, decodeErr)

		peerVerdict, err := dt.exchangeResponseCode(ourHeaderVerdict)
		if err != nil {
			return OutcomeFatal, err
		}

		if reset, err := dt.detectReset(rxHeader, peerVerdict); reset {
			dt.applyReset()
			return OutcomePeerReset, err
		}

		if ourHeaderVerdict == RespSuccess && peerVerdict == RespSuccess {
			break
		}
		// Either side rejected the header: retry the whole header step.
	}

	dt.acceptedProtocolVersion = rxHeader.ProtocolVersion
	dt.haveAcceptedVersion = true

	dataLen := int(rxHeader.DataLength)
	if dataLen > len(txPayload) {
		// The full-duplex payload step clocks the larger of the two
		// declared lengths (§4.A Wire protocol, step 3).
	}
	exchangeLen := dataLen
	if len(txPayload) > exchangeLen {
		exchangeLen = len(txPayload)
	}

	if exchangeLen > 0 {
		if outcome, err := dt.runPayloadStep(txPayload, rxHeader, exchangeLen); outcome != OutcomeSuccess {
			dt.lastTransferSuccess = false
			return outcome, err
		}
	} else {
		dt.rxPayload = dt.rxBuf[:0]
	}

	dt.rxNumPackets = rxHeader.NumPackets
	dt.advanceSeqOnSuccess(rxHeader.SequenceNumber)
	dt.lastTransferSuccess = true
	dt.hadReset = false
	return OutcomeSuccess, nil
}

// runPayloadStep clocks the payload and retries only the payload
// exchange+response on failure, per §4.A framing rules ("keeping the
// just-sent header valid").
func (dt *DataTransfer) runPayloadStep(txPayload []byte, rxHeader TransferHeader, exchangeLen int) (Outcome, error) {
	txBuf := make([]byte, exchangeLen)
	copy(txBuf, txPayload)

	for attempt := 0; ; attempt++ {
		if attempt > dt.cfg.MaxPayloadRetries {
			return OutcomeFatal, fmt.Errorf("spilink: exceeded %d payload retries", dt.cfg.MaxPayloadRetries)
		}

		rxBuf := dt.rxBuf[:exchangeLen]
		if err := dt.exchangeWithReady(txBuf, rxBuf); err != nil {
			if errors.Is(err, ErrReadyTimeout) {
				if dt.stallCount++; dt.stallCount > dt.cfg.MaxReadyStalls {
					return OutcomeFatal, fmt.Errorf("spilink: %d consecutive ready-line stalls", dt.stallCount)
				}
				continue
			}
			return OutcomeFatal, err
		}
		dt.stallCount = 0

		ourVerdict := RespSuccess
		if err := VerifyPayload(rxHeader, rxBuf); err != nil {
			ourVerdict = RespBadDataChecksum
		}

		peerVerdict, err := dt.exchangeResponseCode(ourVerdict)
		if err != nil {
			return OutcomeFatal, err
		}

		if ourVerdict == RespSuccess && peerVerdict == RespSuccess {
			dt.rxPayload = rxBuf[:rxHeader.DataLength]
			return OutcomeSuccess, nil
		}
		// Retry the payload exchange only; the header stays valid.
	}
}

// verdictFor is our own assessment of the header we just received,
// independent of what the peer tells us about the header we sent.
func (dt *DataTransfer) verdictFor(h TransferHeader, decodeErr error) ResponseCode {
	if decodeErr != nil {
		return RespBadHeaderChecksum
	}
	if h.FormatCode != FormatCode {
		return RespBadFormat
	}
	if dt.haveAcceptedVersion && h.ProtocolVersion != dt.acceptedProtocolVersion {
		return RespBadProtocolVersion
	}
	if !dt.haveAcceptedVersion && h.ProtocolVersion != dt.cfg.ProtocolVersion {
		return RespBadProtocolVersion
	}
	return RespSuccess
}

// exchangeResponseCode clocks our 4-byte verdict out and the peer's
// 4-byte verdict in, counting the exchange regardless of outcome.
func (dt *DataTransfer) exchangeResponseCode(ours ResponseCode) (ResponseCode, error) {
	var tx, rx [4]byte
	binary.LittleEndian.PutUint32(tx[:], uint32(ours))

	if err := dt.exchangeWithReady(tx[:], rx[:]); err != nil {
		if errors.Is(err, ErrReadyTimeout) {
			return RespBadResponse, nil
		}
		return RespBadResponse, err
	}
	dt.codeExchanges++
	return ResponseCode(binary.LittleEndian.Uint32(rx[:])), nil
}

func (dt *DataTransfer) exchangeWithReady(tx, rx []byte) error {
	if err := dt.ready.WaitReady(dt.cfg.ReadyTimeout); err != nil {
		return err
	}
	return dt.link.Exchange(tx, rx)
}

// detectReset implements §4.A Peer-reset detection.
func (dt *DataTransfer) detectReset(h TransferHeader, peerVerdict ResponseCode) (bool, error) {
	if peerVerdict == RespBadProtocolVersion {
		return true, fmt.Errorf("spilink: peer rejected our protocol version")
	}
	if dt.haveAcceptedVersion && h.ProtocolVersion != dt.acceptedProtocolVersion {
		return true, fmt.Errorf("spilink: firmware protocol version changed from %d to %d", dt.acceptedProtocolVersion, h.ProtocolVersion)
	}
	if dt.haveLastGoodRxSeq && dt.lastTransferSuccess {
		want := dt.lastGoodRxSeq + 1
		if h.SequenceNumber != want {
			return true, fmt.Errorf("spilink: rx sequence regressed from %d to %d", want, h.SequenceNumber)
		}
	}
	return false, nil
}

func (dt *DataTransfer) applyReset() {
	dt.hadReset = true
	dt.txSeq = 0
	dt.haveLastGoodRxSeq = false
	dt.lastTransferSuccess = false
	dt.haveAcceptedVersion = false
	dt.rxPayload = dt.rxBuf[:0]
}

func (dt *DataTransfer) advanceSeqOnSuccess(rxSeq uint16) {
	dt.txSeq++
	dt.lastGoodRxSeq = rxSeq
	dt.haveLastGoodRxSeq = true
}
