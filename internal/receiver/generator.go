package receiver

import (
	"os"
	"path/filepath"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/flist"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/signature"
)

// ReceiveFileList reads the file list the sender transmits at the start
// of a transfer, converting each wire flist.FileEntry into the flattened
// working representation the generator/receiver pipeline uses.
func (rt *Transfer) ReceiveFileList() ([]*File, error) {
	dec := flist.NewDecoder(rt.Conn, false, rt.Opts.PreserveUid, rt.Opts.PreserveGid)
	var fileList []*File
	for {
		e, topLevel, done, err := dec.DecodeOrDone()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		f := &File{
			Name:          e.RelativePath,
			Mode:          int32(e.Mode),
			Size:          e.Size,
			ModTime:       e.ModTime,
			SymlinkTarget: e.SymlinkTarget,
		}
		if e.UID != nil {
			f.Uid = *e.UID
		}
		if e.GID != nil {
			f.Gid = *e.GID
		}
		if topLevel {
			f.Flags |= flagTopDir
		}
		fileList = append(fileList, f)
	}
	return fileList, nil
}

// GenerateFiles iterates fileList and, for each regular file, decides
// whether to skip it (already identical by quick-check), request it
// whole (no local basis exists), or request a delta (a basis exists and
// differs). Skipped files never get an NDX; the other two both send the
// file's index as its NDX before their respective payload. Symlinks are
// recreated in place (when links are preserved) and never get an NDX.
func (rt *Transfer) GenerateFiles(fileList []*File) error {
	for idx, f := range fileList {
		if f.FileMode()&os.ModeSymlink != 0 {
			if rt.Opts.PreserveLinks && !rt.Opts.DryRun {
				if err := symlink(f.SymlinkTarget, filepath.Join(rt.Dest, f.Name)); err != nil {
					return err
				}
			}
			continue
		}
		if f.FileMode().IsDir() {
			continue
		}

		st, err := rt.DestRoot.Lstat(f.Name)
		switch {
		case err == nil:
			if rt.quickCheckIdentical(f, st) {
				rt.stats().AddFile(false)
				continue
			}
			if err := rt.requestDelta(int32(idx), f); err != nil {
				return err
			}
		case os.IsNotExist(err):
			if err := rt.requestWholeFile(int32(idx)); err != nil {
				return err
			}
		default:
			rt.stats().RecordMetadataError(f.Name, err.Error())
		}
	}
	if rt.Opts.Verbose {
		rt.Logger.Printf("generator finished, sending NDX_DONE")
	}
	// Two -1s: one for the end of the main generator phase, one for the
	// end of the redo phase. Redo (re-requesting blocks whose checksums
	// turned out wrong) is not implemented, so the redo phase is always
	// empty.
	if err := rt.Conn.WriteInt32(-1); err != nil {
		return err
	}
	return rt.Conn.WriteInt32(-1)
}

// quickCheckIdentical reports whether the local file already matches f by
// size and modification time, the cheap check that lets the generator
// skip a file without reading its contents.
func (rt *Transfer) quickCheckIdentical(f *File, st os.FileInfo) bool {
	return st.Size() == f.Size && st.ModTime().Unix() == f.ModTime.Unix()
}

// requestWholeFile sends an NDX for a file with no local basis, followed
// by a zero-count sum-head telling the sender to transmit the entire file
// as literal data.
func (rt *Transfer) requestWholeFile(idx int32) error {
	if err := rt.Conn.WriteInt32(idx); err != nil {
		return err
	}
	empty := rsync.SumHead{ChecksumLength: signature.DefaultStrongSumLen}
	return empty.WriteTo(rt.Conn)
}

// requestDelta sends an NDX for a file with a local basis, followed by a
// freshly generated signature of that basis so the sender can compute a
// delta against it.
func (rt *Transfer) requestDelta(idx int32, f *File) error {
	local := filepath.Join(rt.Dest, f.Name)
	basis, err := rt.DestRoot.Open(f.Name)
	if err != nil {
		if rt.Opts.Verbose {
			rt.Logger.Printf("opening basis %s failed, requesting whole file: %v", local, err)
		}
		return rt.requestWholeFile(idx)
	}
	defer basis.Close()

	st, err := basis.Stat()
	if err != nil {
		return err
	}
	layout, err := signature.CalculateLayout(st.Size(), rsync.ProtocolVersion, 0)
	if err != nil {
		return err
	}

	algo, ordering := rsyncchecksum.SelectAlgorithm(rsync.ProtocolVersion, rt.CompatFlags)
	hasher := rsyncchecksum.NewStrongHasher(algo, rsyncchecksum.SeedBytes(rt.Seed), ordering)
	sig, err := signature.Generate(basis, layout, hasher)
	if err != nil {
		return err
	}

	if err := rt.Conn.WriteInt32(idx); err != nil {
		return err
	}
	return sig.WriteTo(rt.Conn)
}
