package receiver

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/deltacopy/rsync"
	"github.com/deltacopy/rsync/internal/delta"
	"github.com/deltacopy/rsync/internal/rsyncchecksum"
	"github.com/deltacopy/rsync/internal/rsyncstats"
	"github.com/deltacopy/rsync/internal/signature"
)

// RecvFiles drives the receiver side of the generator/receiver pair: the
// generator decides, per file, whether a delta is needed and sends an NDX
// naming it; RecvFiles reads those NDX values and applies the delta that
// follows. Two consecutive -1 NDX values end the phase.
func (rt *Transfer) RecvFiles(fileList []*File) error {
	phase := 0
	for {
		idx, err := rt.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx == -1 {
			if phase == 0 {
				phase++
				if rt.Opts.Verbose {
					rt.Logger.Printf("recvFiles phase=%d", phase)
				}
				continue
			}
			break
		}
		if idx < 0 || int(idx) >= len(fileList) {
			return fmt.Errorf("receiver: NDX %d out of range (file list has %d entries)", idx, len(fileList))
		}
		if rt.Opts.Verbose {
			rt.Logger.Printf("receiving file idx=%d: %+v", idx, fileList[idx])
		}
		if err := rt.recvFile1(fileList[idx]); err != nil {
			return err
		}
	}
	if rt.Opts.Verbose {
		rt.Logger.Printf("recvFiles finished")
	}
	return nil
}

func (rt *Transfer) recvFile1(f *File) error {
	if rt.Opts.DryRun {
		if !rt.Opts.Server {
			fmt.Fprintln(rt.Env.Stdout, f.Name)
		}
		return nil
	}

	localFile, err := rt.openLocalFile(f)
	if err != nil && !os.IsNotExist(err) {
		rt.Logger.Printf("opening local file failed, continuing: %v", err)
	}
	if localFile != nil {
		defer localFile.Close()
	}
	if err := rt.receiveData(f, localFile); err != nil {
		rt.stats().RecordMetadataError(f.Name, err.Error())
		return err
	}
	return nil
}

func (rt *Transfer) openLocalFile(f *File) (*os.File, error) {
	in, err := rt.DestRoot.Open(f.Name)
	if err != nil {
		return nil, err
	}

	st, err := in.Stat()
	if err != nil {
		return nil, err
	}

	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Join(rt.Dest, f.Name))
	}

	if !st.Mode().IsRegular() {
		return nil, nil
	}

	if !rt.Opts.PreservePerms {
		// If the file exists already and we are not preserving permissions,
		// act as though the remote sent us the existing permissions.
		f.Mode = int32(st.Mode().Perm())
	}

	return in, nil
}

// receiveData reads one file's signature-relative delta off the wire and
// reconstructs it, verifying the trailing whole-file digest.
func (rt *Transfer) receiveData(f *File, localFile *os.File) error {
	var sh rsync.SumHead
	if err := sh.ReadFrom(rt.Conn); err != nil {
		return err
	}
	layout := signature.Layout{
		BlockLen:     sh.BlockLength,
		BlockCount:   sh.ChecksumCount,
		Remainder:    sh.RemainderLength,
		StrongSumLen: sh.ChecksumLength,
	}

	local := filepath.Join(rt.Dest, f.Name)
	rt.Logger.Printf("creating %s", local)
	out, err := newPendingFile(local)
	if err != nil {
		return err
	}
	defer out.Cleanup()

	algo, ordering := rsyncchecksum.SelectAlgorithm(rsync.ProtocolVersion, rt.CompatFlags)
	hasher := rsyncchecksum.NewStrongHasher(algo, rsyncchecksum.SeedBytes(rt.Seed), ordering)

	// localFile is a concrete *os.File; passing it through as-is when nil
	// would produce a non-nil io.ReaderAt wrapping a nil pointer, so the
	// interface conversion only happens when there is an actual basis.
	var basis io.ReaderAt
	if localFile != nil {
		basis = localFile
	}
	if err := delta.Apply(rt.Conn, out, basis, layout, hasher); err != nil {
		return fmt.Errorf("file corruption in %s: %w", f.Name, err)
	}
	rt.Logger.Printf("%s verified", f.Name)

	if err := out.CloseAtomicallyReplace(); err != nil {
		return err
	}

	if err := rt.setPerms(f); err != nil {
		return err
	}

	rt.stats().AddFile(true)
	return nil
}

func (rt *Transfer) stats() *rsyncstats.TransferStats {
	if rt.Stats == nil {
		rt.Stats = &rsyncstats.TransferStats{}
	}
	return rt.Stats
}
