// Package storage defines the Storage/File port the engine is built
// against: an abstract, per-object, random-access container addressed by
// inode id, whose bytes are opaquely encrypted at rest. Concrete backends
// live in the localdisk and memstorage subpackages; compressing wraps any
// of them.
package storage

import (
	"github.com/complyue/sefs/pkg/structs"
	"github.com/complyue/sefs/pkg/vfs"
)

// InodeID is the id a File is addressed by: 0 for the meta-file, and the
// inode's own id for every per-inode backing file.
type InodeID = vfs.InodeID

// File is a random-access byte-addressable container. The engine does not
// serialize calls on a File: ReadAt and WriteAt are called without any
// engine lock, and SetLen is called under the owning inode's lock from
// Resize but without it from directory-entry removal.
type File interface {
	ReadAt(buf []byte, off int64) error
	WriteAt(buf []byte, off int64) error
	SetLen(length int64) error
}

// Storage creates, opens and removes per-id Files.
type Storage interface {
	// Create makes a new File for id, failing if one already exists.
	Create(id InodeID) (File, error)
	// Open opens an existing File for id.
	Open(id InodeID) (File, error)
	// Remove deletes the File for id. It is a no-op error to call this
	// while a File handle for id is still held open by the caller; callers
	// are expected to have released it first.
	Remove(id InodeID) error
}

// ReadBlock reads exactly one block's worth of bytes at block id from f.
func ReadBlock(f File, id int, buf []byte) error {
	if len(buf) > structs.BLKSIZE {
		panic("storage: ReadBlock buffer larger than BLKSIZE")
	}
	return f.ReadAt(buf, int64(id)*structs.BLKSIZE)
}

// WriteBlock writes exactly one block's worth of bytes at block id to f.
func WriteBlock(f File, id int, buf []byte) error {
	if len(buf) > structs.BLKSIZE {
		panic("storage: WriteBlock buffer larger than BLKSIZE")
	}
	return f.WriteAt(buf, int64(id)*structs.BLKSIZE)
}

// ReadDirEntry reads the DiskEntry at slot i of a directory's backing file.
func ReadDirEntry(f File, i int) (structs.DiskEntry, error) {
	buf := make([]byte, structs.DirEntSize)
	if err := f.ReadAt(buf, int64(i)*structs.DirEntSize); err != nil {
		return structs.DiskEntry{}, err
	}
	var e structs.DiskEntry
	if err := e.PutBuf(buf); err != nil {
		return structs.DiskEntry{}, err
	}
	return e, nil
}

// WriteDirEntry writes e at slot i of a directory's backing file.
func WriteDirEntry(f File, i int, e *structs.DiskEntry) error {
	return f.WriteAt(e.Buf(), int64(i)*structs.DirEntSize)
}

// LoadStruct reads one block from f at id and loads it into a fresh T via
// T's PutBuf method.
func LoadStruct[T interface{ PutBuf([]byte) error }](f File, id int, zero T) (T, error) {
	buf := make([]byte, structs.BLKSIZE)
	if err := ReadBlock(f, id, buf); err != nil {
		return zero, err
	}
	if err := zero.PutBuf(buf); err != nil {
		return zero, err
	}
	return zero, nil
}
