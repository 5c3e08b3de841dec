package sefs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/complyue/sefs/pkg/sefs"
	"github.com/complyue/sefs/pkg/storage"
	"github.com/complyue/sefs/pkg/storage/localdisk"
	"github.com/complyue/sefs/pkg/storage/memstorage"
	"github.com/complyue/sefs/pkg/vfs"
)

// backends returns constructors for both the in-memory and the on-disk
// Storage implementation; the tests that range over it run against each,
// since neither the engine nor its invariants are
// supposed to depend on which one is plugged in.
func backends(t *testing.T) map[string]func() storage.Storage {
	return map[string]func() storage.Storage{
		"memstorage": func() storage.Storage { return memstorage.New() },
		"localdisk":  func() storage.Storage { return localdisk.New(t.TempDir()) },
	}
}

// S1
func TestCreateFreshRoot(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fs, err := sefs.Create(newBackend())
			require.NoError(t, err)
			defer fs.Close()

			root, err := fs.RootInode()
			require.NoError(t, err)
			defer root.Release()

			info, err := root.Info()
			require.NoError(t, err)
			require.Equal(t, vfs.Dir, info.Type)
			require.Equal(t, 2, info.Nlinks)

			dot, err := root.GetEntry(0)
			require.NoError(t, err)
			require.Equal(t, ".", dot)

			dotdot, err := root.GetEntry(1)
			require.NoError(t, err)
			require.Equal(t, "..", dotdot)

			_, err = root.GetEntry(2)
			require.ErrorIs(t, err, vfs.EntryNotFound)
		})
	}
}

// Round-trip law: open(create(device)) observes the root with exactly `.`/`..`.
func TestCreateThenOpenRoundTrip(t *testing.T) {
	for name, newBackend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			device := newBackend()

			fs, err := sefs.Create(device)
			require.NoError(t, err)
			fs.Close()

			fs2, err := sefs.Open(device)
			require.NoError(t, err)
			defer fs2.Close()

			root, err := fs2.RootInode()
			require.NoError(t, err)
			defer root.Release()

			info, err := root.Info()
			require.NoError(t, err)
			require.Equal(t, vfs.Dir, info.Type)
			require.Equal(t, 2, info.Nlinks)
			require.Equal(t, 2, info.Blocks)
		})
	}
}

// Open against a device that was never created must report WrongFs, not
// panic or silently succeed on garbage.
func TestOpenRejectsWrongMagic(t *testing.T) {
	device := memstorage.New()
	metaFile, err := device.Create(0)
	require.NoError(t, err)
	require.NoError(t, metaFile.SetLen(2*4096))

	_, err = sefs.Open(device)
	require.ErrorIs(t, err, vfs.WrongFs)
}

// Info reports the fixed MaxFileSize bound (spec.md §4.F / §6).
func TestInfoReportsMaxFileSize(t *testing.T) {
	fs, err := sefs.Create(memstorage.New())
	require.NoError(t, err)
	defer fs.Close()

	require.NotZero(t, fs.Info().MaxFileSize)
}

// Sync after a mutation is idempotent: calling it twice in a row must not
// error.
func TestSyncIsIdempotent(t *testing.T) {
	fs, err := sefs.Create(memstorage.New())
	require.NoError(t, err)
	defer fs.Close()

	root, err := fs.RootInode()
	require.NoError(t, err)
	defer root.Release()

	_, err = root.Create("a", vfs.File)
	require.NoError(t, err)

	require.NoError(t, fs.Sync())
	require.NoError(t, fs.Sync())
}
