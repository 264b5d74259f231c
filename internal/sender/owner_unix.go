//go:build linux || darwin

package sender

import (
	"os"
	"syscall"
)

// ownerOf extracts the numeric uid/gid rsync's --owner/--group transmit,
// reporting ok=false if st carries no syscall.Stat_t (never the case on
// these platforms, but entryFor treats it the same as "don't know").
func ownerOf(st os.FileInfo) (uid, gid int32, ok bool) {
	stt, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int32(stt.Uid), int32(stt.Gid), true
}
