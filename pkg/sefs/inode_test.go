package sefs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/complyue/sefs/pkg/sefs"
	"github.com/complyue/sefs/pkg/storage"
	"github.com/complyue/sefs/pkg/storage/memstorage"
	"github.com/complyue/sefs/pkg/structs"
	"github.com/complyue/sefs/pkg/vfs"
)

func freshRoot(t *testing.T) (*sefs.SEFS, vfs.INode) {
	t.Helper()
	fs, err := sefs.Create(memstorage.New())
	require.NoError(t, err)
	t.Cleanup(fs.Close)

	root, err := fs.RootInode()
	require.NoError(t, err)
	t.Cleanup(func() { root.Release() })

	return fs, root
}

// S2
func TestCreateFindWriteReadFile(t *testing.T) {
	_, root := freshRoot(t)

	_, err := root.Create("a", vfs.File)
	require.NoError(t, err)

	_, err = root.Create("a", vfs.File)
	require.ErrorIs(t, err, vfs.EntryExist)

	entry, err := root.Find("a")
	require.NoError(t, err)
	a, err := root.FS().GetInode(entry.Child)
	require.NoError(t, err)
	defer a.Release()

	n, err := a.WriteAt(0, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	buf := make([]byte, 2)
	n, err = a.ReadAt(0, buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", string(buf))
}

// S3
func TestCreateUnlinkDir(t *testing.T) {
	_, root := freshRoot(t)

	_, err := root.Create("d", vfs.Dir)
	require.NoError(t, err)

	info, err := root.Info()
	require.NoError(t, err)
	require.Equal(t, 3, info.Nlinks)

	require.NoError(t, root.Unlink("d"))

	info, err = root.Info()
	require.NoError(t, err)
	require.Equal(t, 2, info.Nlinks)

	_, err = root.Find("d")
	require.ErrorIs(t, err, vfs.EntryNotFound)
}

// S4
func TestUnlinkNonEmptyDirFails(t *testing.T) {
	_, root := freshRoot(t)

	dentry, err := root.Create("d", vfs.Dir)
	require.NoError(t, err)
	d, err := root.FS().GetInode(dentry.Child)
	require.NoError(t, err)
	defer d.Release()

	_, err = d.Create("x", vfs.File)
	require.NoError(t, err)

	err = root.Unlink("d")
	require.ErrorIs(t, err, vfs.DirNotEmpty)

	require.NoError(t, d.Unlink("x"))
	require.NoError(t, root.Unlink("d"))
}

// S5
func TestLinkThenUnlinkOriginal(t *testing.T) {
	_, root := freshRoot(t)

	fentry, err := root.Create("f", vfs.File)
	require.NoError(t, err)
	f, err := root.FS().GetInode(fentry.Child)
	require.NoError(t, err)
	defer f.Release()

	_, err = f.WriteAt(0, []byte("data"))
	require.NoError(t, err)

	_, err = root.Link("g", f)
	require.NoError(t, err)

	info, err := f.Info()
	require.NoError(t, err)
	require.Equal(t, 2, info.Nlinks)

	require.NoError(t, root.Unlink("f"))

	info, err = f.Info()
	require.NoError(t, err)
	require.Equal(t, 1, info.Nlinks)

	gentry, err := root.Find("g")
	require.NoError(t, err)
	g, err := root.FS().GetInode(gentry.Child)
	require.NoError(t, err)
	defer g.Release()

	buf := make([]byte, 4)
	_, err = g.ReadAt(0, buf)
	require.NoError(t, err)
	require.Equal(t, "data", string(buf))
}

// Linking a directory is rejected outright.
func TestLinkDirectoryIsRejected(t *testing.T) {
	_, root := freshRoot(t)

	dentry, err := root.Create("d", vfs.Dir)
	require.NoError(t, err)
	d, err := root.FS().GetInode(dentry.Child)
	require.NoError(t, err)
	defer d.Release()

	_, err = root.Link("alias", d)
	require.ErrorIs(t, err, vfs.IsDir)
}

// S6
func TestMoveFileBetweenDirectories(t *testing.T) {
	_, root := freshRoot(t)

	d1entry, err := root.Create("d1", vfs.Dir)
	require.NoError(t, err)
	d1, err := root.FS().GetInode(d1entry.Child)
	require.NoError(t, err)
	defer d1.Release()

	d2entry, err := root.Create("d2", vfs.Dir)
	require.NoError(t, err)
	d2, err := root.FS().GetInode(d2entry.Child)
	require.NoError(t, err)
	defer d2.Release()

	_, err = d1.Create("x", vfs.File)
	require.NoError(t, err)

	d1Before, err := d1.Info()
	require.NoError(t, err)
	d2Before, err := d2.Info()
	require.NoError(t, err)

	require.NoError(t, d1.Move("x", d2, "y"))

	_, err = d1.Find("x")
	require.ErrorIs(t, err, vfs.EntryNotFound)

	_, err = d2.Find("y")
	require.NoError(t, err)

	d1After, err := d1.Info()
	require.NoError(t, err)
	d2After, err := d2.Info()
	require.NoError(t, err)
	require.Equal(t, d1Before.Nlinks, d1After.Nlinks)
	require.Equal(t, d2Before.Nlinks, d2After.Nlinks)
}

// Moving a directory does update both endpoints' nlinks (the `..` of the
// moved directory now points at the new parent).
func TestMoveDirectoryUpdatesNlinks(t *testing.T) {
	_, root := freshRoot(t)

	d1entry, err := root.Create("d1", vfs.Dir)
	require.NoError(t, err)
	d1, err := root.FS().GetInode(d1entry.Child)
	require.NoError(t, err)
	defer d1.Release()

	d2entry, err := root.Create("d2", vfs.Dir)
	require.NoError(t, err)
	d2, err := root.FS().GetInode(d2entry.Child)
	require.NoError(t, err)
	defer d2.Release()

	_, err = d1.Create("sub", vfs.Dir)
	require.NoError(t, err)

	d1Before, err := d1.Info()
	require.NoError(t, err)
	d2Before, err := d2.Info()
	require.NoError(t, err)

	require.NoError(t, d1.Move("sub", d2, "sub"))

	d1After, err := d1.Info()
	require.NoError(t, err)
	d2After, err := d2.Info()
	require.NoError(t, err)
	require.Equal(t, d1Before.Nlinks-1, d1After.Nlinks)
	require.Equal(t, d2Before.Nlinks+1, d2After.Nlinks)
}

// Rename within one directory: the round-trip law from spec.md §8.
func TestRenameRoundTrip(t *testing.T) {
	_, root := freshRoot(t)

	entry, err := root.Create("a", vfs.File)
	require.NoError(t, err)

	require.NoError(t, root.Rename("a", "b"))

	found, err := root.Find("b")
	require.NoError(t, err)
	require.Equal(t, entry.Child, found.Child)

	_, err = root.Find("a")
	require.ErrorIs(t, err, vfs.EntryNotFound)
}

// Renaming `.`/`..` is always rejected, regardless of a colliding target name.
func TestRenameDotAndDotDotRejected(t *testing.T) {
	_, root := freshRoot(t)

	require.ErrorIs(t, root.Rename(".", "x"), vfs.IsDir)
	require.ErrorIs(t, root.Rename("..", "x"), vfs.IsDir)
}

// Unlinking `.`/`..` is rejected the same way.
func TestUnlinkDotAndDotDotRejected(t *testing.T) {
	_, root := freshRoot(t)

	require.ErrorIs(t, root.Unlink("."), vfs.IsDir)
	require.ErrorIs(t, root.Unlink(".."), vfs.IsDir)
}

// ReadAt/WriteAt/Resize are valid only on files, never on directories.
func TestFileOpsRejectedOnDirectory(t *testing.T) {
	_, root := freshRoot(t)

	_, err := root.ReadAt(0, make([]byte, 1))
	require.ErrorIs(t, err, vfs.NotFile)

	_, err = root.WriteAt(0, []byte("x"))
	require.ErrorIs(t, err, vfs.NotFile)

	err = root.Resize(0)
	require.ErrorIs(t, err, vfs.NotFile)
}

// Find/GetEntry are valid only on directories.
func TestDirOpsRejectedOnFile(t *testing.T) {
	_, root := freshRoot(t)

	entry, err := root.Create("f", vfs.File)
	require.NoError(t, err)
	f, err := root.FS().GetInode(entry.Child)
	require.NoError(t, err)
	defer f.Release()

	_, err = f.Find("anything")
	require.ErrorIs(t, err, vfs.NotDir)

	_, err = f.GetEntry(0)
	require.ErrorIs(t, err, vfs.NotDir)
}

// Resize grows a file's reported size without requiring a write.
func TestResizeUpdatesSize(t *testing.T) {
	_, root := freshRoot(t)

	entry, err := root.Create("f", vfs.File)
	require.NoError(t, err)
	f, err := root.FS().GetInode(entry.Child)
	require.NoError(t, err)
	defer f.Release()

	require.NoError(t, f.Resize(128))

	info, err := f.Info()
	require.NoError(t, err)
	require.Equal(t, 128, info.Size)
}

// Unused-block accounting: creating then unlinking a file must restore
// unused_blocks exactly (the free-map round-trip law from spec.md §8).
func TestCreateUnlinkRestoresFreeBlocks(t *testing.T) {
	device := memstorage.New()
	fs, err := sefs.Create(device)
	require.NoError(t, err)
	t.Cleanup(fs.Close)

	root, err := fs.RootInode()
	require.NoError(t, err)
	t.Cleanup(func() { root.Release() })

	// unusedBlocks syncs fs and reads unused_blocks back from the meta-file.
	unusedBlocks := func() uint32 {
		require.NoError(t, fs.Sync())
		metaFile, err := device.Open(0)
		require.NoError(t, err)
		sb, err := storage.LoadStruct(metaFile, structs.BLKNSuper, &structs.SuperBlock{})
		require.NoError(t, err)
		return sb.UnusedBlocks
	}
	before := unusedBlocks()

	entry, err := root.Create("f", vfs.File)
	require.NoError(t, err)

	f, err := fs.GetInode(entry.Child)
	require.NoError(t, err)
	require.NoError(t, root.Unlink("f"))
	// The backing block is only freed once the last handle is released.
	require.NoError(t, f.Release())

	_, err = root.Find("f")
	require.ErrorIs(t, err, vfs.EntryNotFound)
	require.Equal(t, before, unusedBlocks())
}
