package flist

import "github.com/deltacopy/rsync/internal/rsyncwire"

// IDName associates a numeric id with the name the remote host should use
// when it cannot resolve the id locally (e.g. transferring between hosts
// with different /etc/passwd contents).
type IDName struct {
	ID   int32
	Name string
}

// WriteIDList writes a sequence of (varint id, byte name_len, name)
// tuples terminated by id == 0. When idZeroNames is true (the CompatIDZeroNames
// compat flag), a trailing name for id 0 is written after the terminator.
func WriteIDList(c *rsyncwire.Conn, ids []IDName, idZeroNames bool, zeroName string) error {
	for _, e := range ids {
		if e.ID == 0 {
			continue // id 0 is reserved for the terminator/zero-name slot
		}
		if err := c.WriteUvarint(uint64(uint32(e.ID))); err != nil {
			return err
		}
		if len(e.Name) > 255 {
			return &IDListError{Reason: "id name longer than 255 bytes"}
		}
		if err := c.WriteByte(byte(len(e.Name))); err != nil {
			return err
		}
		if err := c.WriteString(e.Name); err != nil {
			return err
		}
	}
	if err := c.WriteUvarint(0); err != nil {
		return err
	}
	if idZeroNames {
		if len(zeroName) > 255 {
			return &IDListError{Reason: "zero-id name longer than 255 bytes"}
		}
		if err := c.WriteByte(byte(len(zeroName))); err != nil {
			return err
		}
		if err := c.WriteString(zeroName); err != nil {
			return err
		}
	}
	return nil
}

// ReadIDList reads an id list written by WriteIDList. zeroName is "" when
// idZeroNames is false or the peer sent an empty name for id 0.
func ReadIDList(c *rsyncwire.Conn, idZeroNames bool) (ids []IDName, zeroName string, err error) {
	for {
		id, err := c.ReadUvarint()
		if err != nil {
			return nil, "", err
		}
		if id == 0 {
			break
		}
		nameLen, err := c.ReadByte()
		if err != nil {
			return nil, "", err
		}
		name, err := c.ReadN(int(nameLen))
		if err != nil {
			return nil, "", err
		}
		ids = append(ids, IDName{ID: int32(uint32(id)), Name: string(name)})
	}
	if idZeroNames {
		nameLen, err := c.ReadByte()
		if err != nil {
			return nil, "", err
		}
		name, err := c.ReadN(int(nameLen))
		if err != nil {
			return nil, "", err
		}
		zeroName = string(name)
	}
	return ids, zeroName, nil
}

// IDListError reports a malformed id list.
type IDListError struct {
	Reason string
}

func (e *IDListError) Error() string { return "flist: " + e.Reason }
