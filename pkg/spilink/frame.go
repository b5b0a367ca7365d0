// Package spilink implements the wire framing, CRC32C checksums, and
// platform transport for the host/firmware SPI link: a 16-byte transfer
// header, an 8-byte packet header, and the raw spidev/GPIO plumbing used to
// clock a frame across the bus.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package spilink

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// HeaderSize is the fixed size of a TransferHeader on the wire.
const HeaderSize = 16

// PacketHeaderSize is the fixed size of a PacketHeader on the wire.
const PacketHeaderSize = 8

// MaxPayload is the maximum payload size in bytes, matching the tx/rx
// buffer capacity (§3 Buffer discipline).
const MaxPayload = 2048

// FormatCode identifies the protocol family carried by a transfer header.
const FormatCode uint8 = 0xA5

// crc32cTable is the Castagnoli polynomial table used for both the header
// and data checksums (§4.A Framing rules).
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes CRC32C (Castagnoli) over data with the wire protocol's
// init/final-xor convention: initial value 0xFFFFFFFF, final xor
// 0xFFFFFFFF. This is the plain CRC32 definition, written out explicitly
// because the framing rules call out the constants by name.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// ResponseCode is the 4-byte acknowledgement clocked after a header or
// payload exchange.
type ResponseCode uint32

const (
	RespSuccess             ResponseCode = 0
	RespBadFormat           ResponseCode = 1
	RespBadProtocolVersion  ResponseCode = 2
	RespBadHeaderChecksum   ResponseCode = 3
	RespBadDataChecksum     ResponseCode = 4
	RespBadResponse         ResponseCode = 5
)

// TransferHeader is the 16-byte header clocked at the start of every
// transfer, identical in shape in both directions (§3 Data model).
type TransferHeader struct {
	FormatCode      uint8
	NumPackets      uint8
	ProtocolVersion uint16
	SequenceNumber  uint16
	DataLength      uint16
	ChecksumData    uint32
	ChecksumHeader  uint32
}

// Encode serialises h into a 16-byte little-endian buffer, computing
// ChecksumHeader over bytes [0,12) as it goes — callers must have already
// set ChecksumData before calling Encode.
func (h *TransferHeader) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = h.FormatCode
	buf[1] = h.NumPackets
	binary.LittleEndian.PutUint16(buf[2:4], h.ProtocolVersion)
	binary.LittleEndian.PutUint16(buf[4:6], h.SequenceNumber)
	binary.LittleEndian.PutUint16(buf[6:8], h.DataLength)
	binary.LittleEndian.PutUint32(buf[8:12], h.ChecksumData)

	h.ChecksumHeader = CRC32C(buf[0:12])
	binary.LittleEndian.PutUint32(buf[12:16], h.ChecksumHeader)
	return buf
}

// DecodeHeader parses a 16-byte buffer into a TransferHeader and verifies
// ChecksumHeader before trusting any other field (§3 invariant 4).
func DecodeHeader(buf []byte) (TransferHeader, error) {
	if len(buf) < HeaderSize {
		return TransferHeader{}, fmt.Errorf("spilink: short header (%d bytes)", len(buf))
	}
	h := TransferHeader{
		FormatCode:      buf[0],
		NumPackets:      buf[1],
		ProtocolVersion: binary.LittleEndian.Uint16(buf[2:4]),
		SequenceNumber:  binary.LittleEndian.Uint16(buf[4:6]),
		DataLength:      binary.LittleEndian.Uint16(buf[6:8]),
		ChecksumData:    binary.LittleEndian.Uint32(buf[8:12]),
		ChecksumHeader:  binary.LittleEndian.Uint32(buf[12:16]),
	}
	if got := CRC32C(buf[0:12]); got != h.ChecksumHeader {
		return h, &ChecksumError{Field: "header", Want: h.ChecksumHeader, Got: got}
	}
	return h, nil
}

// ChecksumError reports a CRC32C mismatch on a header or payload.
type ChecksumError struct {
	Field string
	Want  uint32
	Got   uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("spilink: %s checksum mismatch: header says 0x%08x, computed 0x%08x", e.Field, e.Want, e.Got)
}

// VerifyPayload checks a payload's CRC32C against the header's
// ChecksumData, computed over exactly DataLength bytes (pre-pad).
func VerifyPayload(h TransferHeader, payload []byte) error {
	if int(h.DataLength) > len(payload) {
		return fmt.Errorf("spilink: declared dataLength %d exceeds payload of %d bytes", h.DataLength, len(payload))
	}
	data := payload[:h.DataLength]
	if got := CRC32C(data); got != h.ChecksumData {
		return &ChecksumError{Field: "data", Want: h.ChecksumData, Got: got}
	}
	return nil
}

// PacketHeader is the 8-byte header that precedes every packet body inside
// a transfer's payload.
type PacketHeader struct {
	Request        uint16
	ID             uint16
	Length         uint16
	ResendPacketID uint16
}

// Encode serialises a PacketHeader to 8 little-endian bytes.
func (p PacketHeader) Encode() [PacketHeaderSize]byte {
	var buf [PacketHeaderSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], p.Request)
	binary.LittleEndian.PutUint16(buf[2:4], p.ID)
	binary.LittleEndian.PutUint16(buf[4:6], p.Length)
	binary.LittleEndian.PutUint16(buf[6:8], p.ResendPacketID)
	return buf
}

// DecodePacketHeader parses 8 bytes into a PacketHeader.
func DecodePacketHeader(buf []byte) (PacketHeader, error) {
	if len(buf) < PacketHeaderSize {
		return PacketHeader{}, fmt.Errorf("spilink: short packet header (%d bytes)", len(buf))
	}
	return PacketHeader{
		Request:        binary.LittleEndian.Uint16(buf[0:2]),
		ID:             binary.LittleEndian.Uint16(buf[2:4]),
		Length:         binary.LittleEndian.Uint16(buf[4:6]),
		ResendPacketID: binary.LittleEndian.Uint16(buf[6:8]),
	}, nil
}

// Align4 rounds n up to the next multiple of 4, matching the payload's
// 4-byte alignment requirement.
func Align4(n int) int {
	return (n + 3) &^ 3
}
