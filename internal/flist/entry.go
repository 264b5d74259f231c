// Package flist implements the streaming file-list and UID/GID id-list
// codec exchanged between sender and receiver before any file content is
// transferred.
package flist

import "time"

// FileEntry is one path-compressed inventory record.
type FileEntry struct {
	RelativePath string
	Mode         uint32
	Size         int64
	ModTime      time.Time

	UID *int32
	GID *int32

	SymlinkTarget string

	DeviceMajor *int32
	DeviceMinor *int32

	// HardlinkKey groups entries that share an inode; entries with an
	// equal, non-nil key (and not the first such entry seen) are hard
	// links of one another.
	HardlinkKey *int64
}

const (
	modeTypeMask = 0170000
	modeSymlink  = 0120000
	modeDevice   = 0020000 | 0060000 // character or block device
	modeDirMask  = 0040000
)

// IsSymlink reports whether the entry's mode indicates a symbolic link.
func (e FileEntry) IsSymlink() bool { return e.Mode&modeTypeMask == modeSymlink }

// IsDir reports whether the entry's mode indicates a directory.
func (e FileEntry) IsDir() bool { return e.Mode&modeDirMask == modeDirMask && e.Mode&modeTypeMask == modeDirMask }

// IsDevice reports whether the entry's mode indicates a character or
// block special file.
func (e FileEntry) IsDevice() bool {
	t := e.Mode & modeTypeMask
	return t == 0020000 || t == 0060000
}
