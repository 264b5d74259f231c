package receiver

import (
	"os"
	"path/filepath"
)

// setPerms applies the metadata carried by f to the just-written local
// file: ownership (if --owner/--group were negotiated), permission bits
// (if --perms), and modification time (if --times). It mirrors upstream
// rsync's generator.c:set_perms, minus ACL/xattr handling.
func (rt *Transfer) setPerms(f *File) error {
	local := filepath.Join(rt.Dest, f.Name)

	st, err := rt.DestRoot.Lstat(f.Name)
	if err != nil {
		return err
	}

	if rt.Opts.PreserveUid || rt.Opts.PreserveGid {
		st, err = rt.setUid(f, local, st)
		if err != nil {
			return err
		}
	}

	if rt.Opts.PreservePerms {
		wantMode := os.FileMode(f.Mode).Perm()
		if st.Mode().Perm() != wantMode {
			if err := os.Chmod(local, wantMode); err != nil {
				return err
			}
		}
	}

	if rt.Opts.PreserveTimes && !f.ModTime.IsZero() {
		if err := os.Chtimes(local, f.ModTime, f.ModTime); err != nil {
			return err
		}
	}

	return nil
}
