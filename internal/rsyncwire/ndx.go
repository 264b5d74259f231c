package rsyncwire

import "fmt"

// NDX_DONE is the sentinel index that terminates a stream of file
// requests or acknowledgements.
const NDX_DONE int32 = -1

const (
	ndxNegativeIntroducer byte = 0xFF
	ndxExtendedIntroducer byte = 0xFE
)

// NDXCoder carries the "last positive index" state that NDX deltas are
// relative to. NewNDXCoder starts it at the spec-mandated initial value
// of -1, matching a fresh connection; the zero value starts at 0 instead.
type NDXCoder struct {
	lastPositive int32
}

// NewNDXCoder returns a coder ready to encode/decode the first NDX of a
// session.
func NewNDXCoder() *NDXCoder {
	return &NDXCoder{lastPositive: -1}
}

// ReadNDX reads one NDX value per spec §4.2.
func (n *NDXCoder) ReadNDX(c *Conn) (int32, error) {
	b, err := c.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case 0x00:
		return NDX_DONE, nil
	case ndxNegativeIntroducer:
		delta, err := c.ReadInt32()
		if err != nil {
			return 0, err
		}
		idx := -(delta + 1)
		return idx, nil
	case ndxExtendedIntroducer:
		lo, err := c.ReadUint16()
		if err != nil {
			return 0, err
		}
		if lo == 0xFFFF {
			v, err := c.ReadInt32()
			if err != nil {
				return 0, err
			}
			n.lastPositive = v
			return v, nil
		}
		v := n.lastPositive + int32(lo)
		n.lastPositive = v
		return v, nil
	default:
		v := n.lastPositive + int32(b)
		n.lastPositive = v
		return v, nil
	}
}

// WriteNDX writes idx per spec §4.2, choosing the shortest encoding
// available.
func (n *NDXCoder) WriteNDX(c *Conn, idx int32) error {
	if idx == NDX_DONE {
		return c.WriteByte(0x00)
	}
	if idx < 0 {
		if err := c.WriteByte(ndxNegativeIntroducer); err != nil {
			return err
		}
		return c.WriteInt32(-idx - 1)
	}
	delta := idx - n.lastPositive
	if delta >= 1 && delta <= 253 {
		if err := c.WriteByte(byte(delta)); err != nil {
			return err
		}
		n.lastPositive = idx
		return nil
	}
	if err := c.WriteByte(ndxExtendedIntroducer); err != nil {
		return err
	}
	if delta >= 0 && delta < 0xFFFF {
		if err := c.WriteUint16(uint16(delta)); err != nil {
			return err
		}
		n.lastPositive = idx
		return nil
	}
	if err := c.WriteUint16(0xFFFF); err != nil {
		return err
	}
	if err := c.WriteInt32(idx); err != nil {
		return err
	}
	n.lastPositive = idx
	return nil
}

// Validate is a defensive check: it returns an error for a nil coder and
// nil otherwise. It does not check round-trip behaviour.
func (n *NDXCoder) Validate() error {
	if n == nil {
		return fmt.Errorf("rsyncwire: nil NDXCoder")
	}
	return nil
}
