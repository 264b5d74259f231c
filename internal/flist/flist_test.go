package flist_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/deltacopy/rsync/internal/flist"
	"github.com/deltacopy/rsync/internal/rsyncwire"
	"github.com/stretchr/testify/require"
)

func int32p(v int32) *int32 { return &v }

func TestEncodeDecodeRoundTripWithElision(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	enc := flist.NewEncoder(c, false, true, true)

	mtime := time.Unix(1700000000, 0).UTC()
	entries := []flist.FileEntry{
		{RelativePath: "dir/a.txt", Mode: 0100644, Size: 10, ModTime: mtime, UID: int32p(1000), GID: int32p(1000)},
		{RelativePath: "dir/b.txt", Mode: 0100644, Size: 20, ModTime: mtime, UID: int32p(1000), GID: int32p(1000)},
		{RelativePath: "dir2/c.txt", Mode: 0100755, Size: 0, ModTime: mtime.Add(time.Hour), UID: int32p(1001), GID: int32p(1000)},
	}
	for i, e := range entries {
		require.NoError(t, enc.Encode(e, i == 0))
	}

	dec := flist.NewDecoder(c, false, true, true)
	for i, want := range entries {
		got, topLevel, err := dec.Decode()
		require.NoError(t, err)
		require.Equal(t, want.RelativePath, got.RelativePath)
		require.Equal(t, want.Mode, got.Mode)
		require.Equal(t, want.Size, got.Size)
		require.True(t, want.ModTime.Equal(got.ModTime))
		require.Equal(t, *want.UID, *got.UID)
		require.Equal(t, *want.GID, *got.GID)
		require.Equal(t, i == 0, topLevel)
	}
}

func TestEncodeDecodeSymlinkAndDevice(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	enc := flist.NewEncoder(c, true, false, false)

	link := flist.FileEntry{RelativePath: "link", Mode: 0120777, Size: 5, SymlinkTarget: "target"}
	dev := flist.FileEntry{RelativePath: "dev0", Mode: 0020666, DeviceMajor: int32p(1), DeviceMinor: int32p(5)}
	require.NoError(t, enc.Encode(link, false))
	require.NoError(t, enc.Encode(dev, false))

	dec := flist.NewDecoder(c, true, false, false)
	gotLink, _, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, "target", gotLink.SymlinkTarget)

	gotDev, _, err := dec.Decode()
	require.NoError(t, err)
	require.EqualValues(t, 1, *gotDev.DeviceMajor)
	require.EqualValues(t, 5, *gotDev.DeviceMinor)
}

func TestIDListRoundTripWithZeroName(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	ids := []flist.IDName{{ID: 1000, Name: "alice"}, {ID: 1001, Name: "bob"}}
	require.NoError(t, flist.WriteIDList(c, ids, true, "root"))

	got, zeroName, err := flist.ReadIDList(c, true)
	require.NoError(t, err)
	require.Equal(t, ids, got)
	require.Equal(t, "root", zeroName)
}

func TestIDListRoundTripWithoutZeroName(t *testing.T) {
	var buf bytes.Buffer
	c := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	ids := []flist.IDName{{ID: 42, Name: "nobody"}}
	require.NoError(t, flist.WriteIDList(c, ids, false, ""))

	got, zeroName, err := flist.ReadIDList(c, false)
	require.NoError(t, err)
	require.Equal(t, ids, got)
	require.Empty(t, zeroName)
}
