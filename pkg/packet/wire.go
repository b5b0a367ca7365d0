// Little-endian binary helpers shared by every packet body's encode/decode,
// written in the same hand-rolled style as the transfer header codec
// instead of reflection-based (de)serialisation.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package packet

import (
	"encoding/binary"
	"fmt"

	"motionbridge/pkg/spilink"
)

// writer appends fixed and variable fields to a growing byte slice,
// padding every string tail to the wire's 4-byte alignment.
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) bytes(v []byte) { w.buf = append(w.buf, v...) }

// str appends a length-prefixed (u16) UTF-8 string. The tail padding to a
// 4-byte boundary is applied once, by the caller, after the full body is
// written — not per string — matching the wire layout in §3.
func (w *writer) str(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// pad appends zero bytes until len(buf) is a multiple of 4.
func (w *writer) pad() {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
}

// reader consumes fixed and variable fields from a packet body buffer,
// erroring instead of panicking on short reads.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("packet: short body: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// rest returns every remaining byte, for kinds whose tail is an opaque
// blob (e.g. ObjectModel's JSON patch) rather than a length-prefixed string.
func (r *reader) rest() []byte {
	v := r.buf[r.pos:]
	r.pos = len(r.buf)
	return v
}

// Align4 re-exports spilink's alignment helper for callers outside this
// package that need to size a buffer before encoding into it.
func Align4(n int) int { return spilink.Align4(n) }
