package receiver

import (
	"os"
	"time"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/log"
	"github.com/deltacopy/rsync/internal/rsyncos"
	"github.com/deltacopy/rsync/internal/rsyncstats"
	"github.com/deltacopy/rsync/internal/rsyncwire"
)

// File is the generator/receiver's working view of one file-list entry: a
// flattened, already-name-resolved form of flist.FileEntry (which only
// round-trips the wire's prefix-elided representation).
type File struct {
	Name          string
	Mode          int32
	Uid           int32
	Gid           int32
	Size          int64
	ModTime       time.Time
	SymlinkTarget string
	Flags         uint16
}

const flagTopDir uint16 = 1 << 0

// FileMode returns the stdlib fs.FileMode bits implied by Mode.
func (f *File) FileMode() os.FileMode {
	return os.FileMode(f.Mode).Perm() | modeTypeBits(f.Mode)
}

func modeTypeBits(mode int32) os.FileMode {
	switch mode & 0170000 {
	case 0040000:
		return os.ModeDir
	case 0120000:
		return os.ModeSymlink
	case 0020000, 0060000:
		return os.ModeDevice
	case 0010000:
		return os.ModeNamedPipe
	case 0140000:
		return os.ModeSocket
	default:
		return 0
	}
}

// TransferOpts carries the negotiated options the receiver/generator
// pipeline needs, decoupled from command-line flag parsing so that
// internal/rsyncopts remains the only place that knows about argv.
type TransferOpts struct {
	Server bool
	Verbose bool
	DryRun bool

	DeleteMode bool

	PreserveGid       bool
	PreserveUid       bool
	PreserveLinks     bool
	PreservePerms     bool
	PreserveDevices   bool
	PreserveSpecials  bool
	PreserveTimes     bool
	PreserveHardlinks bool
}

// Transfer holds the state for one receiver-role transfer: it drives the
// file-list exchange and runs the generator/receiver goroutine pair
// started by Do.
type Transfer struct {
	Logger   log.Logger
	Opts     *TransferOpts
	Dest     string
	DestRoot *os.Root
	Env      rsyncos.Std
	Conn     *rsyncwire.Conn
	Seed     int32

	// CompatFlags carries whatever compatibility bits were negotiated with
	// the peer (rsync.CompatChecksumSeedFix among them); zero means no
	// negotiation happened and every legacy default applies.
	CompatFlags rsync.CompatFlag

	Stats *rsyncstats.TransferStats

	IOErrors int64
}
