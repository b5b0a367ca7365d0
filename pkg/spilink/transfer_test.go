package spilink

import (
	"testing"
	"time"
)

// fakeReady always asserts immediately; ready-line stalling is exercised
// separately via errReady.
type fakeReady struct{}

func (fakeReady) WaitReady(time.Duration) error { return nil }

type errReady struct{ err error }

func (r errReady) WaitReady(time.Duration) error { return r.err }

// fakeFirmware plays the peer side of the four-step exchange entirely in
// memory, so DataTransfer's retry and reset logic can be exercised
// without a real SPI bus.
type fakeFirmware struct {
	seq             uint16
	protocolVersion uint16
	nextPayload     []byte
	corruptHeader   bool // flip a header byte once, to force a bad checksum
	forceSeq        *uint16

	phase int // 0=header,1=code,2=payload,3=payload-code
}

func (f *fakeFirmware) Exchange(tx, rx []byte) error {
	switch len(tx) {
	case HeaderSize:
		seq := f.seq
		if f.forceSeq != nil {
			seq = *f.forceSeq
			f.forceSeq = nil
		}
		hdr := TransferHeader{
			FormatCode:      FormatCode,
			ProtocolVersion: f.protocolVersion,
			SequenceNumber:  seq,
			DataLength:      uint16(len(f.nextPayload)),
			ChecksumData:    CRC32C(f.nextPayload),
		}
		enc := hdr.Encode()
		if f.corruptHeader {
			enc[0] ^= 0xFF
			f.corruptHeader = false
		}
		copy(rx, enc[:])
	case 4:
		// Firmware always accepts the host's header/payload in these tests;
		// the host's own verdict about the (possibly corrupted) header it
		// just received is what drives the retry path under test.
		rx[0], rx[1], rx[2], rx[3] = byte(RespSuccess), 0, 0, 0
	default:
		copy(rx, f.nextPayload)
	}
	return nil
}

func (f *fakeFirmware) WaitReady(time.Duration) error { return nil }

func newDT(fw *fakeFirmware) *DataTransfer {
	cfg := DefaultConfig(fw.protocolVersion)
	return New(fw, fw, cfg)
}

func TestPerformFullTransferSuccessNoPayload(t *testing.T) {
	fw := &fakeFirmware{seq: 1, protocolVersion: 7}
	dt := newDT(fw)

	outcome, err := dt.PerformFullTransfer(nil, 0)
	if err != nil || outcome != OutcomeSuccess {
		t.Fatalf("want success, got %v err=%v", outcome, err)
	}
	if dt.ResponseHeaderState() != 1 || dt.ResponseCodeState() != 1 {
		t.Fatalf("want 1 header exchange and 1 code exchange, got %d/%d", dt.ResponseHeaderState(), dt.ResponseCodeState())
	}
	if dt.HadReset() {
		t.Fatal("want no reset on first clean transfer")
	}
}

func TestPerformFullTransferRetriesOnBadHeaderChecksum(t *testing.T) {
	fw := &fakeFirmware{seq: 1, protocolVersion: 7, corruptHeader: true}
	dt := newDT(fw)

	outcome, err := dt.PerformFullTransfer(nil, 0)
	if err != nil || outcome != OutcomeSuccess {
		t.Fatalf("want success after retry, got %v err=%v", outcome, err)
	}
	if dt.ResponseHeaderState() != 2 {
		t.Fatalf("want 2 header exchanges (1 retry), got %d", dt.ResponseHeaderState())
	}
	if dt.ResponseCodeState() != 2 {
		t.Fatalf("want 2 code exchanges, got %d", dt.ResponseCodeState())
	}
}

func TestPerformFullTransferWithPayload(t *testing.T) {
	fw := &fakeFirmware{seq: 1, protocolVersion: 7, nextPayload: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	dt := newDT(fw)

	outcome, err := dt.PerformFullTransfer([]byte{9, 9}, 1)
	if err != nil || outcome != OutcomeSuccess {
		t.Fatalf("want success, got %v err=%v", outcome, err)
	}
	if got := dt.RxPayload(); len(got) != 8 {
		t.Fatalf("want 8-byte rx payload, got %d", len(got))
	}
}

func TestPerformFullTransferDetectsPeerReset(t *testing.T) {
	fw := &fakeFirmware{seq: 1, protocolVersion: 7}
	dt := newDT(fw)

	if _, err := dt.PerformFullTransfer(nil, 0); err != nil {
		t.Fatalf("setup transfer failed: %v", err)
	}

	fw.seq = 5 // should have been 2 for a clean continuation
	outcome, err := dt.PerformFullTransfer(nil, 0)
	if outcome != OutcomePeerReset {
		t.Fatalf("want peer reset, got %v (err=%v)", outcome, err)
	}
	if !dt.HadReset() {
		t.Fatal("want HadReset true after a detected reset")
	}
}

func TestPerformFullTransferAcceptsSequenceWrap(t *testing.T) {
	fw := &fakeFirmware{seq: 65535, protocolVersion: 7}
	dt := newDT(fw)

	if _, err := dt.PerformFullTransfer(nil, 0); err != nil {
		t.Fatalf("setup transfer failed: %v", err)
	}
	fw.seq = 0 // 65535 + 1 wraps to 0
	outcome, err := dt.PerformFullTransfer(nil, 0)
	if outcome != OutcomeSuccess {
		t.Fatalf("want success across a sequence wrap, got %v err=%v", outcome, err)
	}
}

func TestReadyTimeoutIsNotImmediatelyFatal(t *testing.T) {
	fw := &fakeFirmware{seq: 1, protocolVersion: 7}
	dt := New(fw, errReady{err: ErrReadyTimeout}, DefaultConfig(7))
	dt.cfg.MaxReadyStalls = 1

	outcome, err := dt.PerformFullTransfer(nil, 0)
	if outcome != OutcomeFatal {
		t.Fatalf("want fatal once stalls exceed MaxReadyStalls, got %v err=%v", outcome, err)
	}
}
