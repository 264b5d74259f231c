package sender

import (
	"fmt"
	"path/filepath"

	"github.com/deltacopy/rsync/internal/rsyncwire"
)

// FilterList is the receiver-supplied set of exclude patterns a sender
// applies while walking the source tree. Each entry is a shell glob
// matched against either a file's base name or its path relative to the
// transfer root.
type FilterList struct {
	Filters []string
}

// RecvFilterList reads the filter list a receiver sends right after the
// multiplexed connection is established: a sequence of length-prefixed
// rule strings terminated by a zero length. An empty list is just the
// lone terminator, which is what every role in this module currently
// sends (rule parsing beyond plain globs is not implemented).
func RecvFilterList(c *rsyncwire.Conn) (*FilterList, error) {
	var fl FilterList
	for {
		n, err := c.ReadInt32()
		if err != nil {
			return nil, fmt.Errorf("sender: reading filter list: %w", err)
		}
		if n == 0 {
			break
		}
		if n < 0 {
			return nil, fmt.Errorf("sender: negative filter rule length %d", n)
		}
		data, err := c.ReadN(int(n))
		if err != nil {
			return nil, err
		}
		fl.Filters = append(fl.Filters, string(data))
	}
	return &fl, nil
}

// WriteFilterList writes fl in the wire format RecvFilterList reads. A nil
// or empty fl writes just the terminator.
func WriteFilterList(c *rsyncwire.Conn, fl *FilterList) error {
	for _, rule := range fl.filters() {
		if err := c.WriteInt32(int32(len(rule))); err != nil {
			return err
		}
		if err := c.WriteString(rule); err != nil {
			return err
		}
	}
	return c.WriteInt32(0)
}

func (fl *FilterList) filters() []string {
	if fl == nil {
		return nil
	}
	return fl.Filters
}

// Excludes reports whether relPath should be skipped, matching each rule
// as a filepath.Match glob against both the full relative path and the
// base name.
func (fl *FilterList) Excludes(relPath string) bool {
	if fl == nil {
		return false
	}
	base := filepath.Base(relPath)
	for _, rule := range fl.Filters {
		if ok, _ := filepath.Match(rule, relPath); ok {
			return true
		}
		if ok, _ := filepath.Match(rule, base); ok {
			return true
		}
	}
	return false
}
