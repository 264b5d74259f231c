package sender

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/deltacopy/rsync/internal/flist"
	"github.com/deltacopy/rsync/internal/rsyncopts"
)

// sourceEntry pairs a wire FileEntry with the absolute path it was built
// from (sendDelta needs to reopen the file later) and whether it is
// one of the names given directly on the command line, which is what the
// receiver's --delete walk uses to decide which top-level directories it
// owns.
type sourceEntry struct {
	entry    flist.FileEntry
	abs      string
	topLevel bool
}

// buildFileList walks root/paths, producing one sourceEntry per
// transferred name in the deterministic order rsync scans directories:
// depth-first, entries within a directory sorted by name. Entries
// excluded by fl are skipped entirely, along with their subtrees.
func buildFileList(root string, paths []string, opts *rsyncopts.Options, fl *FilterList) ([]sourceEntry, error) {
	var out []sourceEntry
	for _, p := range paths {
		abs := filepath.Join(root, p)
		st, err := os.Lstat(abs)
		if err != nil {
			return nil, err
		}
		if fl.Excludes(p) {
			continue
		}
		// A trailing slash transfers the directory's contents under their
		// own names rather than the directory itself.
		rel := p
		if strings.HasSuffix(p, "/") {
			rel = "."
		}
		e, err := entryFor(rel, abs, st, opts)
		if err != nil {
			return nil, err
		}
		e.topLevel = true
		out = append(out, e)
		if st.IsDir() && opts.Recurse() {
			if err := walkDir(abs, rel, opts, fl, &out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func walkDir(abs, rel string, opts *rsyncopts.Options, fl *FilterList, out *[]sourceEntry) error {
	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		childAbs := filepath.Join(abs, name)
		childRel := filepath.Join(rel, name)
		if fl.Excludes(childRel) {
			continue
		}
		st, err := os.Lstat(childAbs)
		if err != nil {
			return err
		}
		e, err := entryFor(childRel, childAbs, st, opts)
		if err != nil {
			return err
		}
		*out = append(*out, e)
		if st.IsDir() && st.Mode()&os.ModeSymlink == 0 {
			if err := walkDir(childAbs, childRel, opts, fl, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func entryFor(rel, abs string, st os.FileInfo, opts *rsyncopts.Options) (sourceEntry, error) {
	e := flist.FileEntry{
		RelativePath: filepath.ToSlash(rel),
		Mode:         uint32(st.Mode().Perm()) | typeBits(st),
		Size:         st.Size(),
		ModTime:      st.ModTime(),
	}

	if opts.PreserveUid() || opts.PreserveGid() {
		uid, gid, ok := ownerOf(st)
		if ok {
			if opts.PreserveUid() {
				e.UID = &uid
			}
			if opts.PreserveGid() {
				e.GID = &gid
			}
		}
	}

	if st.Mode()&os.ModeSymlink != 0 {
		if !opts.PreserveLinks() {
			return sourceEntry{}, fmt.Errorf("sender: %s is a symlink and --links was not requested", rel)
		}
		target, err := os.Readlink(abs)
		if err != nil {
			return sourceEntry{}, err
		}
		e.SymlinkTarget = target
	}

	return sourceEntry{entry: e, abs: abs}, nil
}

func typeBits(st os.FileInfo) uint32 {
	switch {
	case st.IsDir():
		return 0040000
	case st.Mode()&os.ModeSymlink != 0:
		return 0120000
	case st.Mode()&os.ModeDevice != 0 && st.Mode()&os.ModeCharDevice != 0:
		return 0020000
	case st.Mode()&os.ModeDevice != 0:
		return 0060000
	case st.Mode()&os.ModeNamedPipe != 0:
		return 0010000
	case st.Mode()&os.ModeSocket != 0:
		return 0140000
	default:
		return 0100000
	}
}
