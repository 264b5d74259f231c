// Package rsyncwire implements the little-endian wire codec shared by
// every role: fixed-width integers, the vstring length prefix, NDX delta
// encoding, and the multiplex envelope that frames data and out-of-band
// diagnostic messages on the same byte stream once activated.
package rsyncwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Conn pairs a Reader and Writer half of a transport. The two halves are
// independent: a Conn does not imply any particular concurrency model
// beyond "reads and writes on this Conn are not safe to call
// concurrently with themselves" (each role drives its own Conn serially).
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

// ReadByte reads a single byte.
func (c *Conn) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteByte writes a single byte.
func (c *Conn) WriteByte(b byte) error {
	_, err := c.Writer.Write([]byte{b})
	return err
}

// ReadInt32 reads a little-endian 32-bit signed integer.
func (c *Conn) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteInt32 writes a little-endian 32-bit signed integer.
func (c *Conn) WriteInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadUint16 reads a little-endian 16-bit unsigned integer.
func (c *Conn) ReadUint16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// WriteUint16 writes a little-endian 16-bit unsigned integer.
func (c *Conn) WriteUint16(v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadInt64 reads a variable-width 64-bit integer: values that fit in a
// non-negative int32 are sent as a plain 4-byte integer; larger values are
// preceded by a -1 sentinel and then sent as a full 8-byte integer.
func (c *Conn) ReadInt64() (int64, error) {
	v32, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v32 != -1 {
		return int64(v32), nil
	}
	var buf [8]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// WriteInt64 writes data using the variable-width encoding ReadInt64
// understands.
func (c *Conn) WriteInt64(data int64) error {
	if data <= 0x7FFFFFFF && data >= 0 {
		return c.WriteInt32(int32(data))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(data))
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadN reads exactly n bytes.
func (c *Conn) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteString writes s verbatim, with no length prefix.
func (c *Conn) WriteString(s string) error {
	_, err := io.WriteString(c.Writer, s)
	return err
}

// ReadVString reads a length-prefixed string using the vstring encoding:
// the length prefix is one byte unless its top bit is set, in which case
// the length is ((first&0x7F)<<8)|second.
func (c *Conn) ReadVString() (string, error) {
	first, err := c.ReadByte()
	if err != nil {
		return "", err
	}
	var length int
	if first&0x80 != 0 {
		second, err := c.ReadByte()
		if err != nil {
			return "", err
		}
		length = (int(first&0x7F) << 8) | int(second)
	} else {
		length = int(first)
	}
	if length == 0 {
		return "", nil
	}
	buf, err := c.ReadN(length)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteVString writes s using the vstring encoding.
func (c *Conn) WriteVString(s string) error {
	if len(s) > 0x7FFF {
		return fmt.Errorf("rsyncwire: vstring too long: %d bytes", len(s))
	}
	if len(s) >= 0x80 {
		if err := c.WriteByte(byte(0x80 | (len(s) >> 8))); err != nil {
			return err
		}
		if err := c.WriteByte(byte(len(s) & 0xFF)); err != nil {
			return err
		}
	} else {
		if err := c.WriteByte(byte(len(s))); err != nil {
			return err
		}
	}
	return c.WriteString(s)
}
