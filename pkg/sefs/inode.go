package sefs

import (
	"github.com/jacobsa/syncutil"

	"github.com/complyue/sefs/pkg/dirty"
	"github.com/complyue/sefs/pkg/storage"
	"github.com/complyue/sefs/pkg/structs"
	"github.com/complyue/sefs/pkg/vfs"
)

// inode is the in-memory, live representation of one on-disk inode: its
// dirty-guarded DiskINode record, its backing File, a back-reference to
// the owning filesystem, and the refcount that stands in for Rust's
// Arc/Weak (see refcount.go).
//
// When acquiring this lock, the caller must hold no other inode's lock
// and, per memfs's convention, the filesystem-wide lock (fs.mu) if one is
// already held must not be re-entered from here: inode methods that need
// the filesystem reach it through fs, never the other way around while
// inode.mu is held.
type inode struct {
	id   vfs.InodeID
	fs   *SEFS
	file storage.File

	mu        syncutil.InvariantMutex
	diskInode dirty.Dirty[structs.DiskINode] // GUARDED_BY(mu)
	rc        refCount                       // GUARDED_BY(mu)
}

var _ vfs.INode = (*inode)(nil)

func newInode(fs *SEFS, id vfs.InodeID, file storage.File, d dirty.Dirty[structs.DiskINode]) *inode {
	in := &inode{id: id, fs: fs, file: file, diskInode: d}
	in.rc.destroy = in.destroyLocked
	in.mu = syncutil.NewInvariantMutex(in.checkInvariants)
	return in
}

func (in *inode) checkInvariants() {
	di := in.diskInode.Get()
	if di.Type == vfs.Dir && di.Blocks < 2 {
		panic("sefs: live directory with blocks < 2")
	}
}

func (in *inode) ID() vfs.InodeID { return in.id }
func (in *inode) FS() vfs.FileSystem { return in.fs }

// acquire bumps the refcount; callers must already hold in.mu.
func (in *inode) acquire() {
	in.rc.Acquire()
}

// Release implements vfs.INode. The filesystem-wide cache lock is taken
// first (spec.md §5 lock order: cache before per-inode record) because
// the count reaching zero must remove this inode from the cache and free
// its block atomically with respect to a concurrent GetInode finding it.
func (in *inode) Release() error {
	fs := in.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in.mu.Lock()
	destroyed, err := in.rc.Release()
	in.mu.Unlock()

	if destroyed {
		delete(fs.inodes, in.id)
	}
	return err
}

// destroyLocked runs with in.mu and in.fs.mu both held, invoked by
// refCount when the last handle is released. Mirrors the original's Drop
// impl: flush the dirty record, and if nlinks has reached zero, free the
// block and remove the backing object.
func (in *inode) destroyLocked() error {
	if err := in.syncLocked(); err != nil {
		return err
	}
	di := in.diskInode.Get()
	if di.NLinks == 0 {
		in.diskInode.Sync()
		in.fs.freeBlockLocked(int(in.id))
		if err := in.fs.device.Remove(in.id); err != nil {
			return err
		}
	}
	return nil
}

func (in *inode) syncLocked() error {
	if !in.diskInode.IsDirty() {
		return nil
	}
	di := in.diskInode.Get()
	if err := storage.WriteBlock(in.fs.metaFile, int(in.id), di.Buf()); err != nil {
		return err
	}
	in.diskInode.Sync()
	return nil
}

// Sync implements vfs.INode.
func (in *inode) Sync() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.syncLocked()
}

// ReadAt implements vfs.INode.
func (in *inode) ReadAt(off int64, buf []byte) (int, error) {
	in.mu.RLock()
	typ := in.diskInode.Get().Type
	in.mu.RUnlock()
	if typ != vfs.File {
		return 0, vfs.NotFile
	}
	if err := in.file.ReadAt(buf, off); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// WriteAt implements vfs.INode.
func (in *inode) WriteAt(off int64, buf []byte) (int, error) {
	in.mu.RLock()
	typ := in.diskInode.Get().Type
	in.mu.RUnlock()
	if typ != vfs.File {
		return 0, vfs.NotFile
	}
	if err := in.file.WriteAt(buf, off); err != nil {
		return 0, err
	}

	in.mu.Lock()
	if size := off + int64(len(buf)); size > int64(in.diskInode.Get().Size) {
		in.diskInode.GetMut().Size = uint32(size)
	}
	in.touchLocked()
	in.mu.Unlock()

	return len(buf), nil
}

// Info implements vfs.INode.
func (in *inode) Info() (vfs.FileInfo, error) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.infoLocked(), nil
}

func (in *inode) infoLocked() vfs.FileInfo {
	di := in.diskInode.Get()
	size := int(di.Size)
	if di.Type == vfs.Dir {
		size = int(di.Blocks)
	}
	return vfs.FileInfo{
		Inode:  in.id,
		Type:   di.Type,
		Size:   size,
		Blocks: int(di.Blocks),
		Mode:   vfs.StubMode,
		Atime:  vfs.Timespec{Sec: int64(di.ATime)},
		Mtime:  vfs.Timespec{Sec: int64(di.MTime)},
		Ctime:  vfs.Timespec{Sec: int64(di.CTime)},
		Nlinks: int(di.NLinks),
		Uid:    di.UID,
		Gid:    di.GID,
	}
}

// Resize implements vfs.INode.
func (in *inode) Resize(size int64) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.diskInode.Get().Type != vfs.File {
		return vfs.NotFile
	}
	if err := in.file.SetLen(size); err != nil {
		return err
	}
	in.diskInode.GetMut().Size = uint32(size)
	in.touchLocked()
	return nil
}

func (in *inode) touchLocked() {
	now := uint32(in.fs.clock.Now().Unix())
	di := in.diskInode.GetMut()
	di.MTime = now
	di.CTime = now
}

// direntFind scans the receiver's directory entries looking for name,
// returning the child's inode id and its slot index. It reads only the
// backing file, never the disk-record lock of the entry it finds, so it
// is safe to call while deciding whether to then acquire that child's
// lock (spec.md §5).
func (in *inode) direntFind(name string) (id vfs.InodeID, slot int, found bool) {
	in.mu.RLock()
	total := int(in.diskInode.Get().Blocks)
	in.mu.RUnlock()

	for i := 0; i < total; i++ {
		e, err := storage.ReadDirEntry(in.file, i)
		if err != nil {
			return 0, 0, false
		}
		if e.Name.String() == name {
			return vfs.InodeID(e.ID), i, true
		}
	}
	return 0, 0, false
}

// direntInit writes the `.`/`..` entries of a freshly created directory
// and sets blocks = 2. nlinks bookkeeping is the caller's responsibility.
func (in *inode) direntInit(parent vfs.InodeID) error {
	in.mu.Lock()
	in.diskInode.GetMut().Blocks = 2
	in.mu.Unlock()

	self := structs.DiskEntry{ID: uint32(in.id), Name: structs.NewStr256(".")}
	if err := storage.WriteDirEntry(in.file, 0, &self); err != nil {
		return err
	}
	up := structs.DiskEntry{ID: uint32(parent), Name: structs.NewStr256("..")}
	return storage.WriteDirEntry(in.file, 1, &up)
}

// direntAppend writes e at the next free slot and bumps blocks.
func (in *inode) direntAppend(e *structs.DiskEntry) error {
	in.mu.Lock()
	slot := int(in.diskInode.Get().Blocks)
	in.mu.Unlock()

	if err := storage.WriteDirEntry(in.file, slot, e); err != nil {
		return err
	}

	in.mu.Lock()
	in.diskInode.GetMut().Blocks++
	in.mu.Unlock()
	return nil
}

// direntRemove removes the entry at slot by swapping in the last entry
// and truncating, per spec.md §4.E / §9.
func (in *inode) direntRemove(slot int) error {
	in.mu.Lock()
	total := int(in.diskInode.Get().Blocks)
	in.mu.Unlock()

	last, err := storage.ReadDirEntry(in.file, total-1)
	if err != nil {
		return err
	}
	if slot != total-1 {
		if err := storage.WriteDirEntry(in.file, slot, &last); err != nil {
			return err
		}
	}
	if err := in.file.SetLen(int64(total-1) * structs.DirEntSize); err != nil {
		return err
	}

	in.mu.Lock()
	in.diskInode.GetMut().Blocks--
	in.mu.Unlock()
	return nil
}

func (in *inode) nlinksInc() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.diskInode.GetMut().NLinks++
}

func (in *inode) nlinksDec() {
	in.mu.Lock()
	defer in.mu.Unlock()
	di := in.diskInode.Get()
	if di.NLinks == 0 {
		panic("sefs: nlinks underflow")
	}
	in.diskInode.GetMut().NLinks--
}

// Create implements vfs.INode.
func (in *inode) Create(name string, typ vfs.FileType) (vfs.ChildInodeEntry, error) {
	if err := in.checkMutableDir(); err != nil {
		return vfs.ChildInodeEntry{}, err
	}
	if _, _, found := in.direntFind(name); found {
		return vfs.ChildInodeEntry{}, vfs.EntryExist
	}

	var child *inode
	var err error
	switch typ {
	case vfs.File:
		child, err = in.fs.newInodeFile()
	case vfs.Dir:
		child, err = in.fs.newInodeDir(in.id)
	default:
		return vfs.ChildInodeEntry{}, vfs.NotFile
	}
	if err != nil {
		return vfs.ChildInodeEntry{}, err
	}
	defer child.Release()

	entry := structs.DiskEntry{ID: uint32(child.id), Name: structs.NewStr256(name)}
	if err := in.direntAppend(&entry); err != nil {
		return vfs.ChildInodeEntry{}, err
	}

	child.nlinksInc()
	if typ == vfs.Dir {
		child.nlinksInc() // for "."
		in.nlinksInc()    // for ".." in the new child pointing back here
	}

	info, _ := child.Info()
	return vfs.ChildInodeEntry{Child: child.id, Attributes: info}, nil
}

// Unlink implements vfs.INode.
func (in *inode) Unlink(name string) error {
	if err := in.checkMutableDir(); err != nil {
		return err
	}
	if name == "." || name == ".." {
		return vfs.IsDir
	}

	childID, slot, found := in.direntFind(name)
	if !found {
		return vfs.EntryNotFound
	}
	child, err := in.fs.GetInode(childID)
	if err != nil {
		return err
	}
	defer child.Release()
	ci := child.(*inode)

	ci.mu.RLock()
	childType := ci.diskInode.Get().Type
	childBlocks := ci.diskInode.Get().Blocks
	ci.mu.RUnlock()

	if childType == vfs.Dir && childBlocks > 2 {
		return vfs.DirNotEmpty
	}

	ci.nlinksDec()
	if childType == vfs.Dir {
		ci.nlinksDec() // for "."
		in.nlinksDec() // for ".." that pointed here
	}

	return in.direntRemove(slot)
}

// Link implements vfs.INode.
func (in *inode) Link(name string, other vfs.INode) (vfs.ChildInodeEntry, error) {
	if err := in.checkMutableDir(); err != nil {
		return vfs.ChildInodeEntry{}, err
	}
	if _, _, found := in.direntFind(name); found {
		return vfs.ChildInodeEntry{}, vfs.EntryExist
	}

	child, ok := other.(*inode)
	if !ok || child.fs != in.fs {
		return vfs.ChildInodeEntry{}, vfs.NotSameFs
	}
	child.mu.RLock()
	childType := child.diskInode.Get().Type
	child.mu.RUnlock()
	if childType == vfs.Dir {
		return vfs.ChildInodeEntry{}, vfs.IsDir
	}

	entry := structs.DiskEntry{ID: uint32(child.id), Name: structs.NewStr256(name)}
	if err := in.direntAppend(&entry); err != nil {
		return vfs.ChildInodeEntry{}, err
	}
	child.nlinksInc()

	info, _ := child.Info()
	return vfs.ChildInodeEntry{Child: child.id, Attributes: info}, nil
}

// Rename implements vfs.INode.
func (in *inode) Rename(oldName, newName string) error {
	if err := in.checkMutableDir(); err != nil {
		return err
	}
	if oldName == "." || oldName == ".." {
		return vfs.IsDir
	}
	if _, _, found := in.direntFind(newName); found {
		return vfs.EntryExist
	}
	childID, slot, found := in.direntFind(oldName)
	if !found {
		return vfs.EntryNotFound
	}

	entry := structs.DiskEntry{ID: uint32(childID), Name: structs.NewStr256(newName)}
	return storage.WriteDirEntry(in.file, slot, &entry)
}

// Move implements vfs.INode.
func (in *inode) Move(oldName string, target vfs.INode, newName string) error {
	if err := in.checkMutableDir(); err != nil {
		return err
	}
	if oldName == "." || oldName == ".." {
		return vfs.IsDir
	}

	dest, ok := target.(*inode)
	if !ok || dest.fs != in.fs {
		return vfs.NotSameFs
	}
	if err := dest.checkMutableDir(); err != nil {
		return err
	}
	if _, _, found := dest.direntFind(newName); found {
		return vfs.EntryExist
	}

	childID, slot, found := in.direntFind(oldName)
	if !found {
		return vfs.EntryNotFound
	}
	child, err := in.fs.GetInode(childID)
	if err != nil {
		return err
	}
	defer child.Release()
	ci := child.(*inode)

	entry := structs.DiskEntry{ID: uint32(childID), Name: structs.NewStr256(newName)}
	if err := dest.direntAppend(&entry); err != nil {
		return err
	}
	if err := in.direntRemove(slot); err != nil {
		return err
	}

	ci.mu.RLock()
	isDir := ci.diskInode.Get().Type == vfs.Dir
	ci.mu.RUnlock()
	if isDir {
		up := structs.DiskEntry{ID: uint32(dest.id), Name: structs.NewStr256("..")}
		if err := storage.WriteDirEntry(ci.file, 1, &up); err != nil {
			return err
		}
		in.nlinksDec()
		dest.nlinksInc()
	}
	return nil
}

// Find implements vfs.INode.
func (in *inode) Find(name string) (vfs.ChildInodeEntry, error) {
	in.mu.RLock()
	typ := in.diskInode.Get().Type
	in.mu.RUnlock()
	if typ != vfs.Dir {
		return vfs.ChildInodeEntry{}, vfs.NotDir
	}

	childID, _, found := in.direntFind(name)
	if !found {
		return vfs.ChildInodeEntry{}, vfs.EntryNotFound
	}
	child, err := in.fs.GetInode(childID)
	if err != nil {
		return vfs.ChildInodeEntry{}, err
	}
	defer child.Release()

	info, err := child.Info()
	if err != nil {
		return vfs.ChildInodeEntry{}, err
	}
	return vfs.ChildInodeEntry{Child: childID, Attributes: info}, nil
}

// GetEntry implements vfs.INode.
func (in *inode) GetEntry(i int) (string, error) {
	in.mu.RLock()
	typ := in.diskInode.Get().Type
	total := int(in.diskInode.Get().Blocks)
	in.mu.RUnlock()

	if typ != vfs.Dir {
		return "", vfs.NotDir
	}
	if i >= total {
		return "", vfs.EntryNotFound
	}
	e, err := storage.ReadDirEntry(in.file, i)
	if err != nil {
		return "", err
	}
	return e.Name.String(), nil
}

// checkMutableDir enforces the common precondition of every
// directory-mutating operation (spec.md §4.E): the receiver must be a
// directory that has not been unlinked down to zero links.
func (in *inode) checkMutableDir() error {
	in.mu.RLock()
	defer in.mu.RUnlock()

	di := in.diskInode.Get()
	if di.Type != vfs.Dir {
		return vfs.NotDir
	}
	if di.NLinks == 0 {
		return vfs.DirRemoved
	}
	return nil
}
