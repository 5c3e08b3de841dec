package fuseadapter

import (
	"syscall"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/require"

	"github.com/complyue/sefs/pkg/vfs"
)

func TestInodeIDTranslationRoundTrips(t *testing.T) {
	require.Equal(t, vfs.RootInodeID, toVfsID(fuseops.RootInodeID))
	require.Equal(t, fuseops.RootInodeID, toFuseID(vfs.RootInodeID))

	var other vfs.InodeID = 17
	require.Equal(t, other, toVfsID(toFuseID(other)))
}

func TestErrnoMapsEngineErrors(t *testing.T) {
	cases := []struct {
		in   error
		want error
	}{
		{nil, nil},
		{vfs.EntryNotFound, fuse.ENOENT},
		{vfs.EntryExist, syscall.EEXIST},
		{vfs.DirNotEmpty, fuse.ENOTEMPTY},
		{vfs.NotDir, syscall.ENOTDIR},
		{vfs.NotFile, syscall.EINVAL},
		{vfs.IsDir, syscall.EISDIR},
		{vfs.NotSameFs, syscall.EXDEV},
		{vfs.NoDeviceSpace, syscall.ENOSPC},
	}
	for _, c := range cases {
		require.Equal(t, c.want, errno(c.in))
	}
}

func TestErrnoPassesThroughUnknownKinds(t *testing.T) {
	require.Equal(t, vfs.DeviceError, errno(vfs.DeviceError))
}

func TestAttrsForReportsDirMode(t *testing.T) {
	info := vfs.FileInfo{Type: vfs.Dir, Size: 2, Nlinks: 3}
	attrs := attrsFor(info)
	require.True(t, attrs.Mode.IsDir())
	require.EqualValues(t, 3, attrs.Nlink)
}

func TestAttrsForReportsFileMode(t *testing.T) {
	info := vfs.FileInfo{Type: vfs.File, Size: 5, Nlinks: 1}
	attrs := attrsFor(info)
	require.False(t, attrs.Mode.IsDir())
	require.EqualValues(t, 5, attrs.Size)
}
