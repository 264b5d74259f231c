package receiver

import "github.com/google/renameio/v2"

// newPendingFile opens a temporary file next to local that is atomically
// renamed into place once CloseAtomicallyReplace is called, so a crash or
// interrupted transfer never leaves a half-written destination file.
func newPendingFile(local string) (*renameio.PendingFile, error) {
	return renameio.NewPendingFile(local, renameio.WithPermissions(0644))
}
