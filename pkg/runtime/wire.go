package runtime

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned for wire data that cannot be decoded.
var ErrMalformed = errors.New("malformed transaction encoding")

// Lengths use the compact-u16 encoding: seven bits per byte, low bits
// first, high bit set on every byte but the last.
const maxCompactU16 = 1<<16 - 1

type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) raw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) length(n int) {
	v := uint32(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			e.buf = append(e.buf, b)
			return
		}
		e.buf = append(e.buf, b|0x80)
	}
}

// decoder reads sequentially and remembers the first error; later reads
// return zero values.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) byte() byte {
	b := d.raw(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) raw(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, d.off, len(d.buf)-d.off))
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) length() int {
	var v int
	for i := 0; i < 3; i++ {
		b := d.byte()
		if d.err != nil {
			return 0
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > maxCompactU16 {
				d.fail(fmt.Errorf("%w: length %d", ErrMalformed, v))
				return 0
			}
			return v
		}
	}
	d.fail(fmt.Errorf("%w: length prefix too long", ErrMalformed))
	return 0
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(d.buf)-d.off)
	}
	return nil
}
