package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer encodes little-endian primitives onto an io.Writer.
// The first write error is kept and every later call becomes a no-op,
// so encoders can write a whole body and check Err once.
type Writer struct {
	w   io.Writer
	buf [8]byte
	err error
}

// NewWriter writes little-endian primitives to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

// Fail records err unless an earlier error is already set.
// Encoders use it to reject values that cannot be represented on the wire.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(p)
}

func (w *Writer) Uint8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

func (w *Writer) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

func (w *Writer) Int32(v int32) {
	binary.LittleEndian.PutUint32(w.buf[:4], uint32(v))
	w.write(w.buf[:4])
}

func (w *Writer) Int64(v int64) {
	binary.LittleEndian.PutUint64(w.buf[:8], uint64(v))
	w.write(w.buf[:8])
}

func (w *Writer) Float64(v float64) {
	binary.LittleEndian.PutUint64(w.buf[:8], math.Float64bits(v))
	w.write(w.buf[:8])
}

// Count writes an element count. Counts above MaxElements are rejected here
// so the peer never sees a frame it would refuse to decode.
func (w *Writer) Count(n int) {
	if n > MaxElements {
		w.Fail(fmt.Errorf("%w: count %d", ErrTooLarge, n))
		return
	}
	w.Int32(int32(n))
}

func (w *Writer) Bytes(p []byte) {
	w.Count(len(p))
	w.write(p)
}

// Text writes an int32 byte length followed by the UTF-8 bytes.
func (w *Writer) Text(s string) {
	if len(s) > MaxStringLen {
		w.Fail(fmt.Errorf("%w: string of %d bytes", ErrTooLarge, len(s)))
		return
	}
	w.Int32(int32(len(s)))
	if w.err == nil {
		_, w.err = io.WriteString(w.w, s)
	}
}

// Ident writes a uint16-length identifier (class, member or property name).
func (w *Writer) Ident(s string) {
	if len(s) > math.MaxUint16 {
		w.Fail(fmt.Errorf("%w: identifier of %d bytes", ErrTooLarge, len(s)))
		return
	}
	w.Uint16(uint16(len(s)))
	if w.err == nil {
		_, w.err = io.WriteString(w.w, s)
	}
}

// Reader decodes little-endian primitives from an io.Reader.
// Like Writer it keeps the first error; after a failure all reads return
// zero values.
type Reader struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewReader reads little-endian primitives from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error the reader hit. Reads after it return zero
// values.
func (r *Reader) Err() error {
	return r.err
}

// Fail records err unless an earlier error is already set.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) fill(n int) bool {
	if r.err != nil {
		return false
	}
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		r.err = err
		return false
	}
	return true
}

func (r *Reader) Uint8() uint8 {
	if !r.fill(1) {
		return 0
	}
	return r.buf[0]
}

func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

func (r *Reader) Uint16() uint16 {
	if !r.fill(2) {
		return 0
	}
	return binary.LittleEndian.Uint16(r.buf[:2])
}

func (r *Reader) Int32() int32 {
	if !r.fill(4) {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(r.buf[:4]))
}

func (r *Reader) Int64() int64 {
	if !r.fill(8) {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(r.buf[:8]))
}

func (r *Reader) Float64() float64 {
	if !r.fill(8) {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(r.buf[:8]))
}

// Count reads an element count and checks it against MaxElements.
func (r *Reader) Count() int {
	n := r.Int32()
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.err = fmt.Errorf("%w: %d", ErrNegative, n)
		return 0
	}
	if n > MaxElements {
		r.err = fmt.Errorf("%w: count %d", ErrTooLarge, n)
		return 0
	}
	return int(n)
}

func (r *Reader) readN(n int) []byte {
	if r.err != nil {
		return nil
	}
	p := make([]byte, n)
	if _, err := io.ReadFull(r.r, p); err != nil {
		r.err = err
		return nil
	}
	return p
}

func (r *Reader) Bytes() []byte {
	n := r.Count()
	if r.err != nil {
		return nil
	}
	return r.readN(n)
}

func (r *Reader) Text() string {
	n := r.Int32()
	if r.err != nil {
		return ""
	}
	if n < 0 {
		r.err = fmt.Errorf("%w: %d", ErrNegative, n)
		return ""
	}
	if n > MaxStringLen {
		r.err = fmt.Errorf("%w: string of %d bytes", ErrTooLarge, n)
		return ""
	}
	return string(r.readN(int(n)))
}

func (r *Reader) Ident() string {
	n := r.Uint16()
	if r.err != nil {
		return ""
	}
	return string(r.readN(int(n)))
}
