package flist

import (
	"time"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/rsyncwire"
)

// extended flag-byte bits, valid only when rsync.FLIST_EXTENDED_FLAGS is
// set on the primary flag byte.
const (
	extSymlink   = 1 << 0
	extDevice    = 1 << 1
	extHardlink  = 1 << 2
)

const maxInlinePrefixLen = 255

// Encoder streams FileEntry records, tracking the previous entry so it
// can elide repeated fields and compress shared path prefixes.
type Encoder struct {
	c             *rsyncwire.Conn
	varintFlags   bool
	preserveUID   bool
	preserveGID   bool
	prev          *FileEntry
}

// NewEncoder builds an Encoder writing to c. varintFlags should be true
// iff CompatVarintFlistFlags was negotiated; preserveUID/preserveGID
// mirror the session's --owner/--group settings and must agree with the
// corresponding Decoder or the two sides will desync.
func NewEncoder(c *rsyncwire.Conn, varintFlags, preserveUID, preserveGID bool) *Encoder {
	return &Encoder{c: c, varintFlags: varintFlags, preserveUID: preserveUID, preserveGID: preserveGID}
}

// Encode writes one FileEntry, eliding fields that match the previously
// encoded entry.
func (enc *Encoder) Encode(e FileEntry, topLevel bool) error {
	var prefixLen int
	if enc.prev != nil {
		prefixLen = commonPrefixLen(enc.prev.RelativePath, e.RelativePath)
		if prefixLen > maxInlinePrefixLen {
			prefixLen = maxInlinePrefixLen
		}
	}
	suffix := e.RelativePath[prefixLen:]

	sameMode := enc.prev != nil && enc.prev.Mode == e.Mode
	sameUID := enc.preserveUID && enc.prev != nil && equalIntPtr(enc.prev.UID, e.UID)
	sameGID := enc.preserveGID && enc.prev != nil && equalIntPtr(enc.prev.GID, e.GID)
	sameTime := enc.prev != nil && enc.prev.ModTime.Equal(e.ModTime)
	sameName := prefixLen > 0
	nameLong := len(suffix) > maxInlinePrefixLen
	extended := e.IsSymlink() || e.IsDevice() || e.HardlinkKey != nil

	// A flags byte of zero is the wire terminator (see ReceiveFileList), so
	// an entry that would otherwise elide or omit every bit forces the
	// extended-flags bit on and writes an empty extension byte purely to
	// stay distinguishable from the terminator.
	if !topLevel && !sameMode && !extended && !sameUID && !sameGID && !sameName && !nameLong && !sameTime {
		extended = true
	}

	var flags uint32
	if topLevel {
		flags |= rsync.FLIST_TOP_LEVEL
	}
	if sameMode {
		flags |= rsync.FLIST_SAME_MODE
	}
	if extended {
		flags |= rsync.FLIST_EXTENDED_FLAGS
	}
	if sameUID {
		flags |= rsync.FLIST_SAME_UID
	}
	if sameGID {
		flags |= rsync.FLIST_SAME_GID
	}
	if sameName {
		flags |= rsync.FLIST_SAME_NAME
	}
	if nameLong {
		flags |= rsync.FLIST_NAME_LONG
	}
	if sameTime {
		flags |= rsync.FLIST_SAME_TIME
	}

	if err := enc.writeFlags(flags); err != nil {
		return err
	}
	if extended {
		var ext uint32
		if e.IsSymlink() {
			ext |= extSymlink
		}
		if e.IsDevice() {
			ext |= extDevice
		}
		if e.HardlinkKey != nil {
			ext |= extHardlink
		}
		if err := enc.c.WriteByte(byte(ext)); err != nil {
			return err
		}
	}

	if sameName {
		if err := enc.c.WriteByte(byte(prefixLen)); err != nil {
			return err
		}
	}
	if nameLong {
		if err := enc.c.WriteUvarint(uint64(len(suffix))); err != nil {
			return err
		}
	} else {
		if err := enc.c.WriteByte(byte(len(suffix))); err != nil {
			return err
		}
	}
	if err := enc.c.WriteString(suffix); err != nil {
		return err
	}

	if !sameMode {
		if err := enc.c.WriteInt32(int32(e.Mode)); err != nil {
			return err
		}
	}

	if err := enc.c.WriteUvarint(uint64(e.Size)); err != nil {
		return err
	}

	if !sameTime {
		if err := enc.c.WriteUvarint(uint64(e.ModTime.Unix())); err != nil {
			return err
		}
	}

	if enc.preserveUID && !sameUID {
		var uid int32
		if e.UID != nil {
			uid = *e.UID
		}
		if err := enc.c.WriteUvarint(uint64(uint32(uid))); err != nil {
			return err
		}
	}
	if enc.preserveGID && !sameGID {
		var gid int32
		if e.GID != nil {
			gid = *e.GID
		}
		if err := enc.c.WriteUvarint(uint64(uint32(gid))); err != nil {
			return err
		}
	}

	if extended {
		if e.IsSymlink() {
			if err := enc.c.WriteUvarint(uint64(len(e.SymlinkTarget))); err != nil {
				return err
			}
			if err := enc.c.WriteString(e.SymlinkTarget); err != nil {
				return err
			}
		}
		if e.IsDevice() {
			major, minor := int32(0), int32(0)
			if e.DeviceMajor != nil {
				major = *e.DeviceMajor
			}
			if e.DeviceMinor != nil {
				minor = *e.DeviceMinor
			}
			if err := enc.c.WriteUvarint(uint64(uint32(major))); err != nil {
				return err
			}
			if err := enc.c.WriteUvarint(uint64(uint32(minor))); err != nil {
				return err
			}
		}
		if e.HardlinkKey != nil {
			if err := enc.c.WriteUvarint(uint64(*e.HardlinkKey)); err != nil {
				return err
			}
		}
	}

	prevCopy := e
	enc.prev = &prevCopy
	return nil
}

// WriteTerminator writes the zero flags byte that ends the file list.
func (enc *Encoder) WriteTerminator() error {
	return enc.writeFlags(0)
}

func (enc *Encoder) writeFlags(flags uint32) error {
	if enc.varintFlags {
		return enc.c.WriteUvarint(uint64(flags))
	}
	if flags > 0xff {
		return enc.c.WriteUvarint(uint64(flags))
	}
	return enc.c.WriteByte(byte(flags))
}

// Decoder is the Encoder's mirror image.
type Decoder struct {
	c           *rsyncwire.Conn
	varintFlags bool
	preserveUID bool
	preserveGID bool
	prev        *FileEntry
}

// NewDecoder builds a Decoder reading from c. preserveUID/preserveGID
// must match the peer Encoder's settings.
func NewDecoder(c *rsyncwire.Conn, varintFlags, preserveUID, preserveGID bool) *Decoder {
	return &Decoder{c: c, varintFlags: varintFlags, preserveUID: preserveUID, preserveGID: preserveGID}
}

// Decode reads one FileEntry. topLevel reports FLIST_TOP_LEVEL.
func (dec *Decoder) Decode() (e FileEntry, topLevel bool, err error) {
	flags, err := dec.readFlags()
	if err != nil {
		return FileEntry{}, false, err
	}
	return dec.decodeGivenFlags(flags)
}

// DecodeOrDone reads one FileEntry, reporting done=true (per spec's "a
// flag byte of zero terminates the list") instead of decoding further
// when the list has ended.
func (dec *Decoder) DecodeOrDone() (e FileEntry, topLevel bool, done bool, err error) {
	flags, err := dec.readFlags()
	if err != nil {
		return FileEntry{}, false, false, err
	}
	if flags == 0 {
		return FileEntry{}, false, true, nil
	}
	e, topLevel, err = dec.decodeGivenFlags(flags)
	return e, topLevel, false, err
}

func (dec *Decoder) decodeGivenFlags(flags uint32) (e FileEntry, topLevel bool, err error) {
	topLevel = flags&rsync.FLIST_TOP_LEVEL != 0
	extended := flags&rsync.FLIST_EXTENDED_FLAGS != 0

	var ext uint32
	if extended {
		b, err := dec.c.ReadByte()
		if err != nil {
			return FileEntry{}, false, err
		}
		ext = uint32(b)
	}

	prefixLen := 0
	if flags&rsync.FLIST_SAME_NAME != 0 {
		b, err := dec.c.ReadByte()
		if err != nil {
			return FileEntry{}, false, err
		}
		prefixLen = int(b)
	}

	var suffixLen uint64
	if flags&rsync.FLIST_NAME_LONG != 0 {
		suffixLen, err = dec.c.ReadUvarint()
	} else {
		var b byte
		b, err = dec.c.ReadByte()
		suffixLen = uint64(b)
	}
	if err != nil {
		return FileEntry{}, false, err
	}
	suffix, err := dec.c.ReadN(int(suffixLen))
	if err != nil {
		return FileEntry{}, false, err
	}

	var prefix string
	if dec.prev != nil && prefixLen > 0 {
		prefix = dec.prev.RelativePath[:prefixLen]
	}
	e.RelativePath = prefix + string(suffix)

	if flags&rsync.FLIST_SAME_MODE != 0 {
		e.Mode = dec.prev.Mode
	} else {
		mode, err := dec.c.ReadInt32()
		if err != nil {
			return FileEntry{}, false, err
		}
		e.Mode = uint32(mode)
	}

	size, err := dec.c.ReadUvarint()
	if err != nil {
		return FileEntry{}, false, err
	}
	e.Size = int64(size)

	if flags&rsync.FLIST_SAME_TIME != 0 {
		e.ModTime = dec.prev.ModTime
	} else {
		secs, err := dec.c.ReadUvarint()
		if err != nil {
			return FileEntry{}, false, err
		}
		e.ModTime = time.Unix(int64(secs), 0).UTC()
	}

	if dec.preserveUID {
		if flags&rsync.FLIST_SAME_UID != 0 && dec.prev != nil {
			e.UID = dec.prev.UID
		} else {
			uid, err := dec.c.ReadUvarint()
			if err != nil {
				return FileEntry{}, false, err
			}
			v := int32(uint32(uid))
			e.UID = &v
		}
	}
	if dec.preserveGID {
		if flags&rsync.FLIST_SAME_GID != 0 && dec.prev != nil {
			e.GID = dec.prev.GID
		} else {
			gid, err := dec.c.ReadUvarint()
			if err != nil {
				return FileEntry{}, false, err
			}
			v := int32(uint32(gid))
			e.GID = &v
		}
	}

	if extended {
		if ext&extSymlink != 0 {
			targetLen, err := dec.c.ReadUvarint()
			if err != nil {
				return FileEntry{}, false, err
			}
			target, err := dec.c.ReadN(int(targetLen))
			if err != nil {
				return FileEntry{}, false, err
			}
			e.SymlinkTarget = string(target)
		}
		if ext&extDevice != 0 {
			major, err := dec.c.ReadUvarint()
			if err != nil {
				return FileEntry{}, false, err
			}
			minor, err := dec.c.ReadUvarint()
			if err != nil {
				return FileEntry{}, false, err
			}
			majorV, minorV := int32(uint32(major)), int32(uint32(minor))
			e.DeviceMajor, e.DeviceMinor = &majorV, &minorV
		}
		if ext&extHardlink != 0 {
			key, err := dec.c.ReadUvarint()
			if err != nil {
				return FileEntry{}, false, err
			}
			k := int64(key)
			e.HardlinkKey = &k
		}
	}

	prevCopy := e
	dec.prev = &prevCopy
	return e, topLevel, nil
}

func (dec *Decoder) readFlags() (uint32, error) {
	if dec.varintFlags {
		v, err := dec.c.ReadUvarint()
		return uint32(v), err
	}
	b, err := dec.c.ReadByte()
	return uint32(b), err
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func equalIntPtr(a, b *int32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
