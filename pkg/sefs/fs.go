// Package sefs implements the SEFS in-memory filesystem engine: the
// superblock and free-block allocator, the inode cache, the directory
// mutation algorithms, and the write-back/sync discipline, built against
// the storage.Storage/File port.
package sefs

import (
	"github.com/golang/glog"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/complyue/sefs/pkg/bitset"
	"github.com/complyue/sefs/pkg/dirty"
	"github.com/complyue/sefs/pkg/errors"
	"github.com/complyue/sefs/pkg/storage"
	"github.com/complyue/sefs/pkg/structs"
	"github.com/complyue/sefs/pkg/vfs"
)

// SEFS is the live filesystem object: superblock, free map and inode
// cache, all guarded by one filesystem-wide lock, plus the device and
// meta-file it owns. Unlike the Rust original, inodes hold an ordinary
// strong *SEFS pointer and SEFS holds ordinary strong *inode pointers —
// Go's tracing GC does not leak on the resulting cycle, so there is no
// need for the self-referential Weak/Arc construction trick; see
// DESIGN.md for the full account of this substitution.
type SEFS struct {
	mu syncutil.InvariantMutex // guards superBlock, freeMap and inodes together

	superBlock dirty.Dirty[structs.SuperBlock] // GUARDED_BY(mu)
	freeMap    dirty.Dirty[*bitset.Bitset]     // GUARDED_BY(mu)
	inodes     map[vfs.InodeID]*inode          // GUARDED_BY(mu)

	device   storage.Storage
	metaFile storage.File
	clock    timeutil.Clock
}

var _ vfs.FileSystem = (*SEFS)(nil)

func (fs *SEFS) checkInvariants() {
	sb := fs.superBlock.Get()
	fm := *fs.freeMap.Get()
	if sb.UnusedBlocks != uint32(fm.Count()) {
		panic("sefs: unused_blocks does not match free map popcount")
	}
	for id := range fs.inodes {
		if fm.IsFree(int(id)) {
			panic("sefs: cached inode id is marked free in the free map")
		}
	}
}

// Open loads an existing SEFS image from device.
func Open(device storage.Storage) (*SEFS, error) {
	return OpenWithClock(device, timeutil.RealClock())
}

// OpenWithClock is Open with an injectable clock, used by tests that need
// exact, reproducible timestamps.
func OpenWithClock(device storage.Storage, clock timeutil.Clock) (*SEFS, error) {
	metaFile, err := device.Open(0)
	if err != nil {
		return nil, err
	}

	sb, err := storage.LoadStruct(metaFile, structs.BLKNSuper, &structs.SuperBlock{})
	if err != nil {
		return nil, err
	}
	if !sb.Check() {
		return nil, vfs.WrongFs
	}

	fmBuf := make([]byte, structs.BLKSIZE)
	if err := storage.ReadBlock(metaFile, structs.BLKNFreeMap, fmBuf); err != nil {
		return nil, err
	}
	fm := bitset.FromBytes(fmBuf, int(sb.Blocks))

	fs := &SEFS{
		superBlock: dirty.New(*sb),
		freeMap:    dirty.New(fm),
		inodes:     make(map[vfs.InodeID]*inode),
		device:     device,
		metaFile:   metaFile,
		clock:      clock,
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)
	return fs, nil
}

// Create initializes a fresh SEFS image on device.
func Create(device storage.Storage) (*SEFS, error) {
	return CreateWithClock(device, timeutil.RealClock())
}

// CreateWithClock is Create with an injectable clock.
func CreateWithClock(device storage.Storage, clock timeutil.Clock) (*SEFS, error) {
	blocks := structs.BLKBITS

	sb := structs.SuperBlock{
		Magic:        structs.MAGIC,
		Blocks:       uint32(blocks),
		UnusedBlocks: uint32(blocks - 3),
	}
	fm := bitset.New(blocks)
	fm.Set(structs.BLKNSuper, false)
	fm.Set(structs.BLKNFreeMap, false)
	fm.Set(structs.BLKNRoot, false)

	metaFile, err := device.Create(0)
	if err != nil {
		return nil, err
	}
	if err := metaFile.SetLen(int64(blocks) * structs.BLKSIZE); err != nil {
		return nil, err
	}

	fs := &SEFS{
		superBlock: dirty.NewDirty(sb),
		freeMap:    dirty.NewDirty(fm),
		inodes:     make(map[vfs.InodeID]*inode),
		device:     device,
		metaFile:   metaFile,
		clock:      clock,
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	root, err := fs.newInodeAt(structs.BLKNRoot, dirty.NewDirty(structs.NewDir()), true)
	if err != nil {
		return nil, err
	}
	defer root.Release()

	if err := root.direntInit(structs.BLKNRoot); err != nil {
		return nil, err
	}
	root.nlinksInc() // for "."
	root.nlinksInc() // for ".." (root is its own parent)
	if err := root.Sync(); err != nil {
		return nil, err
	}

	return fs, nil
}

// allocBlock allocates a free block, returning (id, true) on success.
func (fs *SEFS) allocBlock() (int, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fm := *fs.freeMap.Get()
	id, ok := fm.Alloc()
	if !ok {
		return 0, false
	}
	sb := fs.superBlock.Get()
	if sb.UnusedBlocks == 0 {
		fm.Set(id, true)
		return 0, false
	}
	fs.freeMap.GetMut() // marks freeMap dirty; Alloc already mutated it in place
	fs.superBlock.GetMut().UnusedBlocks--
	return id, true
}

// freeBlockLocked returns id to the free map; the caller must already
// hold fs.mu (used from inode.destroyLocked, which runs under Release's
// fs.mu so it must not re-lock it). It panics if id is already free,
// which indicates a double-free bug in the caller (spec.md §4.C).
func (fs *SEFS) freeBlockLocked(id int) {
	fm := *fs.freeMap.Get()
	fm.Free(id)
	fs.freeMap.GetMut()
	fs.superBlock.GetMut().UnusedBlocks++
}

// newInodeAt constructs a live inode wrapper for id, opening or creating
// its backing object, and inserts it into the cache with one outstanding
// reference. It does not touch the free map.
func (fs *SEFS) newInodeAt(id int, d dirty.Dirty[structs.DiskINode], create bool) (*inode, error) {
	var file storage.File
	var err error
	if create {
		file, err = fs.device.Create(vfs.InodeID(id))
	} else {
		file, err = fs.device.Open(vfs.InodeID(id))
	}
	if err != nil {
		return nil, err
	}

	in := newInode(fs, vfs.InodeID(id), file, d)
	if create {
		now := uint32(fs.clock.Now().Unix())
		di := in.diskInode.GetMut()
		di.ATime, di.MTime, di.CTime = now, now, now
	}

	// The new reference is acquired while still holding the cache lock, the
	// same way the cache-lookup path below does: this is what makes "found
	// in the map" and "has an outstanding reference" atomic with respect to
	// a concurrent Release racing the count to zero and removing the entry.
	fs.mu.Lock()
	fs.inodes[in.id] = in
	in.mu.Lock()
	in.acquire()
	in.mu.Unlock()
	fs.mu.Unlock()

	return in, nil
}

// GetInode implements vfs.FileSystem. It asserts id is currently in use,
// consults the live cache, and otherwise loads the DiskINode from the
// meta-file and constructs a new live inode opening (not creating) its
// backing object.
func (fs *SEFS) GetInode(id vfs.InodeID) (vfs.INode, error) {
	fs.mu.RLock()
	fm := *fs.freeMap.Get()
	if fm.IsFree(int(id)) {
		fs.mu.RUnlock()
		panic("sefs: GetInode on a free block id")
	}
	// acquire() is taken while still holding fs.mu (cache lock, ordered
	// before the inode's own lock per spec.md §5) so a concurrent Release
	// cannot drop this inode's refcount to zero and remove it from the
	// cache between the lookup and the acquire.
	if in, ok := fs.inodes[id]; ok {
		in.mu.Lock()
		in.acquire()
		in.mu.Unlock()
		fs.mu.RUnlock()
		return in, nil
	}
	fs.mu.RUnlock()

	di, err := storage.LoadStruct(fs.metaFile, int(id), &structs.DiskINode{})
	if err != nil {
		return nil, err
	}
	return fs.newInodeAt(int(id), dirty.New(*di), false)
}

// newInodeFile allocates a block and constructs a fresh file inode.
func (fs *SEFS) newInodeFile() (*inode, error) {
	id, ok := fs.allocBlock()
	if !ok {
		return nil, vfs.NoDeviceSpace
	}
	return fs.newInodeAt(id, dirty.NewDirty(structs.NewFile()), true)
}

// newInodeDir allocates a block, constructs a fresh directory inode, and
// initializes its `.`/`..` entries.
func (fs *SEFS) newInodeDir(parent vfs.InodeID) (*inode, error) {
	id, ok := fs.allocBlock()
	if !ok {
		return nil, vfs.NoDeviceSpace
	}
	in, err := fs.newInodeAt(id, dirty.NewDirty(structs.NewDir()), true)
	if err != nil {
		return nil, err
	}
	if err := in.direntInit(parent); err != nil {
		in.Release()
		return nil, err
	}
	return in, nil
}

// flushWeakInodes prunes cache entries with no outstanding reference. In
// this engine entries are removed synchronously by inode.Release when
// their refcount reaches zero, so this is a defensive sweep rather than
// the primary reclamation path spec.md §4.F describes for Rust's lazy
// Weak upgrade failures.
func (fs *SEFS) flushWeakInodes() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for id, in := range fs.inodes {
		in.mu.RLock()
		dead := in.rc.Count() == 0
		in.mu.RUnlock()
		if dead {
			delete(fs.inodes, id)
		}
	}
}

// Sync implements vfs.FileSystem: write back the superblock (if dirty),
// then the free map (if dirty), then prune dead cache entries, then sync
// every still-live inode, in that order (spec.md §4.F).
func (fs *SEFS) Sync() error {
	fs.mu.Lock()
	if fs.superBlock.IsDirty() {
		sb := fs.superBlock.Get()
		if err := storage.WriteBlock(fs.metaFile, structs.BLKNSuper, sb.Buf()); err != nil {
			fs.mu.Unlock()
			return err
		}
		fs.superBlock.Sync()
	}
	if fs.freeMap.IsDirty() {
		fm := *fs.freeMap.Get()
		if err := storage.WriteBlock(fs.metaFile, structs.BLKNFreeMap, fm.Bytes()); err != nil {
			fs.mu.Unlock()
			return err
		}
		fs.freeMap.Sync()
	}
	live := make([]*inode, 0, len(fs.inodes))
	for _, in := range fs.inodes {
		live = append(live, in)
	}
	fs.mu.Unlock()

	fs.flushWeakInodes()

	for _, in := range live {
		if err := in.Sync(); err != nil {
			return errors.Wrapf(err, "sefs: sync inode %d", in.id)
		}
	}
	return nil
}

// RootInode implements vfs.FileSystem.
func (fs *SEFS) RootInode() (vfs.INode, error) {
	return fs.GetInode(structs.BLKNRoot)
}

// Info implements vfs.FileSystem.
func (fs *SEFS) Info() *vfs.FsInfo {
	return &vfs.FsInfo{MaxFileSize: structs.MaxFileSize}
}

// Close syncs the filesystem; the meta-file is not closed. Drop-path sync failures are
// fatal to the process (spec.md §7): an unrecoverable on-disk
// inconsistency is not something a caller can meaningfully retry.
func (fs *SEFS) Close() {
	if err := fs.Sync(); err != nil {
		glog.Fatalf("sefs: sync on close failed: %s", err)
	}
}
