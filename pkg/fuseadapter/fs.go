// Package fuseadapter bridges a vfs.FileSystem engine (pkg/sefs is the only
// implementation so far) to the jacobsa/fuse kernel protocol, so it can be
// mounted as a real POSIX filesystem. It is a thin layer: every operation
// either already exists on vfs.INode or is synthesized from a handful of
// them (spec.md §4.H).
package fuseadapter

import (
	"os"
	"syscall"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/complyue/sefs/pkg/vfs"
)

// fileSystem implements fuseutil.FileSystem against a vfs.FileSystem. The
// kernel's lookup-count protocol has no counterpart in the engine, which
// only knows handle acquire/release (spec.md §9), so this layer maintains
// its own fuseops.InodeID -> vfs.INode table: one retained handle per
// inode with a nonzero lookup count, released when ForgetInode drops that
// count to zero.
type fileSystem struct {
	fuseutil.NotImplementedFileSystem

	backend vfs.FileSystem
	clock   timeutil.Clock

	mu    syncutil.InvariantMutex
	nodes map[fuseops.InodeID]*node // GUARDED_BY(mu)
}

type node struct {
	handle  vfs.INode
	lookups uint64
}

// New wraps backend as a fuse.Server, ready to pass to fuse.Mount.
func New(backend vfs.FileSystem) (fuse.Server, error) {
	root, err := backend.RootInode()
	if err != nil {
		return nil, err
	}

	fs := &fileSystem{
		backend: backend,
		clock:   timeutil.RealClock(),
		nodes:   make(map[fuseops.InodeID]*node),
	}
	fs.nodes[fuseops.RootInodeID] = &node{handle: root, lookups: 1}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	return fuseutil.NewFileSystemServer(fs), nil
}

func (fs *fileSystem) checkInvariants() {
	root, ok := fs.nodes[fuseops.RootInodeID]
	if !ok || root.lookups == 0 {
		panic("fuseadapter: root inode must always have an outstanding lookup")
	}
}

// toVfsID and toFuseID translate between the kernel's reserved root id
// (fuseops.RootInodeID, always 1) and the engine's reserved root id
// (vfs.RootInodeID, SEFS's BLKN_ROOT). Every other id is numerically
// identical in both spaces, since SEFS never assigns block 1 to a
// non-root inode.
func toVfsID(id fuseops.InodeID) vfs.InodeID {
	if id == fuseops.RootInodeID {
		return vfs.RootInodeID
	}
	return vfs.InodeID(id)
}

func toFuseID(id vfs.InodeID) fuseops.InodeID {
	if id == vfs.RootInodeID {
		return fuseops.RootInodeID
	}
	return fuseops.InodeID(id)
}

// errno maps an engine vfs.FsError to the syscall.Errno the kernel expects;
// jacobsa/fuse responds to the kernel with EIO for any error that isn't a
// syscall.Errno, so sentinel kinds without an obvious POSIX match (such as
// DeviceError, WrongFs and DirRemoved) are passed through unchanged and
// reach the kernel as EIO.
func errno(err error) error {
	switch {
	case err == nil:
		return nil
	case vfs.IsKind(err, vfs.EntryNotFound):
		return fuse.ENOENT
	case vfs.IsKind(err, vfs.EntryExist):
		return syscall.EEXIST
	case vfs.IsKind(err, vfs.DirNotEmpty):
		return fuse.ENOTEMPTY
	case vfs.IsKind(err, vfs.NotDir):
		return syscall.ENOTDIR
	case vfs.IsKind(err, vfs.NotFile):
		return syscall.EINVAL
	case vfs.IsKind(err, vfs.IsDir):
		return syscall.EISDIR
	case vfs.IsKind(err, vfs.NotSameFs):
		return syscall.EXDEV
	case vfs.IsKind(err, vfs.NoDeviceSpace):
		return syscall.ENOSPC
	default:
		return err
	}
}

// attrsFor converts an engine FileInfo snapshot to the kernel's attribute
// struct. Permission bits are not modeled (spec.md §1), so every inode
// reports vfs.StubMode.
func attrsFor(info vfs.FileInfo) fuseops.InodeAttributes {
	mode := os.FileMode(vfs.StubMode)
	if info.Type == vfs.Dir {
		mode |= os.ModeDir
	}
	atime := time.Unix(info.Atime.Sec, 0)
	mtime := time.Unix(info.Mtime.Sec, 0)
	ctime := time.Unix(info.Ctime.Sec, 0)
	return fuseops.InodeAttributes{
		Size:  uint64(info.Size),
		Nlink: uint64(info.Nlinks),
		Mode:  mode,
		Atime: atime,
		Mtime: mtime,
		Ctime: ctime,
		Uid:   info.Uid,
		Gid:   info.Gid,
	}
}

// lookupLocked finds or loads the node for id and bumps its lookup count
// by one, matching the semantics LookUpInode/MkDir/CreateFile/CreateLink
// all share. Callers must hold fs.mu.
func (fs *fileSystem) lookupLocked(id fuseops.InodeID) (*node, error) {
	if n, ok := fs.nodes[id]; ok {
		n.lookups++
		return n, nil
	}
	handle, err := fs.backend.GetInode(toVfsID(id))
	if err != nil {
		return nil, err
	}
	n := &node{handle: handle, lookups: 1}
	fs.nodes[id] = n
	return n, nil
}

func (fs *fileSystem) handleLocked(id fuseops.InodeID) vfs.INode {
	n, ok := fs.nodes[id]
	if !ok {
		panic("fuseadapter: operation on an inode with no outstanding lookup")
	}
	return n.handle
}
