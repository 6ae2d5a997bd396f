package protocol

import (
	"encoding/binary"
	"fmt"
)

// writer appends big-endian fields to a growing buffer
type writer struct {
	buf []byte
}

func (w *writer) u8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *writer) u16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) u32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *writer) i64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

// bytes writes a 4-byte length followed by the bytes
func (w *writer) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// reader consumes big-endian fields and records the first short read
type reader struct {
	buf    []byte
	offset int
	err    error
}

func (r *reader) need(n int, field string) bool {
	if r.err != nil {
		return false
	}
	if len(r.buf)-r.offset < n {
		r.err = fmt.Errorf("%w: buffer too short for %s", ErrDecodeFailed, field)
		return false
	}
	return true
}

func (r *reader) u8(field string) uint8 {
	if !r.need(1, field) {
		return 0
	}
	v := r.buf[r.offset]
	r.offset++
	return v
}

func (r *reader) u16(field string) uint16 {
	if !r.need(2, field) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.offset:])
	r.offset += 2
	return v
}

func (r *reader) u32(field string) uint32 {
	if !r.need(4, field) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.offset:])
	r.offset += 4
	return v
}

func (r *reader) i64(field string) int64 {
	if !r.need(8, field) {
		return 0
	}
	v := binary.BigEndian.Uint64(r.buf[r.offset:])
	r.offset += 8
	return int64(v)
}

func (r *reader) bool(field string) bool {
	return r.u8(field) != 0
}

func (r *reader) raw(n int, field string) []byte {
	if !r.need(n, field) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.offset:r.offset+n])
	r.offset += n
	return out
}

func (r *reader) bytes(field string) []byte {
	n := r.u32(field + " length")
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(len(r.buf)-r.offset) {
		r.err = fmt.Errorf("%w: %s claims %d bytes, %d remain", ErrDecodeFailed, field, n, len(r.buf)-r.offset)
		return nil
	}
	return r.raw(int(n), field)
}

// done fails when bytes are left over after the last field
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.offset != len(r.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrDecodeFailed, len(r.buf)-r.offset)
	}
	return nil
}
