// Encode/decode driver for the packet payload inside a transfer (§4.B).
// Encode appends one packet's header+body to a tx payload buffer, failing
// with ErrBufferFull rather than growing past the transfer's fixed
// capacity. Decode walks an rx payload and returns every packet it holds.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package packet

import (
	"errors"
	"fmt"

	"motionbridge/pkg/spilink"
)

// ErrBufferFull is returned by Encode when appending the packet would
// overflow the destination buffer's capacity. The caller defers the
// packet to the next transfer cycle (§4.A Buffer discipline).
var ErrBufferFull = errors.New("packet: buffer full")

// Packet pairs a decoded PacketHeader with its typed Body.
type Packet struct {
	Header spilink.PacketHeader
	Body   Body
}

// Encode serialises body, prefixed by a PacketHeader carrying id and
// resendPacketID, and appends the result to *dst. *dst must have spare
// capacity up to cap(*dst); Encode never reallocates past the capacity the
// caller pre-sized the transfer's tx buffer to.
func Encode(dst *[]byte, id uint16, resendPacketID uint16, body Body) error {
	w := &writer{}
	body.encode(w)
	w.pad()

	total := len(*dst) + spilink.PacketHeaderSize + len(w.buf)
	if total > cap(*dst) {
		return ErrBufferFull
	}

	hdr := spilink.PacketHeader{
		Request:        uint16(body.Kind()),
		ID:             id,
		Length:         uint16(len(w.buf)),
		ResendPacketID: resendPacketID,
	}
	hb := hdr.Encode()
	*dst = append(*dst, hb[:]...)
	*dst = append(*dst, w.buf...)
	return nil
}

// Decode walks payload and returns every packet in it. A packet whose
// declared Length exceeds the remaining bytes makes the whole payload
// corrupt — Decode returns the packets parsed so far and a non-nil error,
// signalling the caller to request a resend (§4.B Decoding rules).
func Decode(payload []byte) ([]Packet, error) {
	var packets []Packet
	pos := 0
	for pos+spilink.PacketHeaderSize <= len(payload) {
		hdr, err := spilink.DecodePacketHeader(payload[pos:])
		if err != nil {
			return packets, err
		}
		pos += spilink.PacketHeaderSize

		bodyLen := int(hdr.Length)
		if pos+bodyLen > len(payload) {
			return packets, fmt.Errorf("packet: declared length %d at offset %d exceeds payload of %d bytes", bodyLen, pos, len(payload))
		}
		body := payload[pos : pos+bodyLen]
		pos += spilink.Align4(bodyLen)

		decoded, err := decodeBody(Kind(hdr.Request), body)
		if err != nil {
			return packets, fmt.Errorf("packet: decode %s: %w", Kind(hdr.Request), err)
		}
		packets = append(packets, Packet{Header: hdr, Body: decoded})
	}
	return packets, nil
}

func decodeBody(kind Kind, body []byte) (Body, error) {
	fn, ok := decoders[kind]
	if !ok {
		// Unknown kinds are logged by the caller and skipped, not treated
		// as corrupting the rest of the payload.
		return &Unknown{Tag: kind, Raw: append([]byte(nil), body...)}, nil
	}
	return fn(newReader(body))
}
