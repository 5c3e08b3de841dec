package fuseadapter

import (
	"context"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/complyue/sefs/pkg/vfs"
)

func (fs *fileSystem) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return nil
}

func (fs *fileSystem) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.handleLocked(op.Parent)
	entry, err := parent.Find(op.Name)
	if err != nil {
		return errno(err)
	}
	if _, err := fs.lookupLocked(toFuseID(entry.Child)); err != nil {
		return errno(err)
	}

	op.Entry.Child = toFuseID(entry.Child)
	op.Entry.Attributes = attrsFor(entry.Attributes)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrCacheDuration())
	op.Entry.EntryExpiration = fs.clock.Now().Add(entryCacheDuration())
	return nil
}

func (fs *fileSystem) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	info, err := in.Info()
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrsFor(info)
	op.AttributesExpiration = fs.clock.Now().Add(attrCacheDuration())
	return nil
}

func (fs *fileSystem) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	if op.Size != nil {
		if err := in.Resize(int64(*op.Size)); err != nil {
			return errno(err)
		}
	}
	// Mode/Atime/Mtime are not modeled; spec.md §1 treats permission and
	// timestamp control as out of scope, so requests to change them are
	// silently accepted without effect, the same stance SetInodeAttributes
	// takes toward Mode in flushfs.

	info, err := in.Info()
	if err != nil {
		return errno(err)
	}
	op.Attributes = attrsFor(info)
	op.AttributesExpiration = fs.clock.Now().Add(attrCacheDuration())
	return nil
}

func (fs *fileSystem) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.nodes[op.Inode]
	if !ok {
		return nil
	}
	if op.N >= n.lookups {
		delete(fs.nodes, op.Inode)
		return errno(n.handle.Release())
	}
	n.lookups -= op.N
	return nil
}

func (fs *fileSystem) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.handleLocked(op.Parent)
	entry, err := parent.Create(op.Name, vfs.Dir)
	if err != nil {
		return errno(err)
	}
	if _, err := fs.lookupLocked(toFuseID(entry.Child)); err != nil {
		return errno(err)
	}

	op.Entry.Child = toFuseID(entry.Child)
	op.Entry.Attributes = attrsFor(entry.Attributes)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrCacheDuration())
	op.Entry.EntryExpiration = fs.clock.Now().Add(entryCacheDuration())
	return nil
}

func (fs *fileSystem) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.handleLocked(op.Parent)
	entry, err := parent.Create(op.Name, vfs.File)
	if err != nil {
		return errno(err)
	}
	if _, err := fs.lookupLocked(toFuseID(entry.Child)); err != nil {
		return errno(err)
	}

	op.Entry.Child = toFuseID(entry.Child)
	op.Entry.Attributes = attrsFor(entry.Attributes)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrCacheDuration())
	op.Entry.EntryExpiration = fs.clock.Now().Add(entryCacheDuration())
	op.Handle = fuseops.HandleID(op.Entry.Child)
	return nil
}

func (fs *fileSystem) CreateLink(
	ctx context.Context,
	op *fuseops.CreateLinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.handleLocked(op.Parent)
	target := fs.handleLocked(op.Target)
	entry, err := parent.Link(op.Name, target)
	if err != nil {
		return errno(err)
	}
	if _, err := fs.lookupLocked(toFuseID(entry.Child)); err != nil {
		return errno(err)
	}

	op.Entry.Child = toFuseID(entry.Child)
	op.Entry.Attributes = attrsFor(entry.Attributes)
	op.Entry.AttributesExpiration = fs.clock.Now().Add(attrCacheDuration())
	op.Entry.EntryExpiration = fs.clock.Now().Add(entryCacheDuration())
	return nil
}

func (fs *fileSystem) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParent := fs.handleLocked(op.OldParent)
	if op.OldParent == op.NewParent {
		return errno(oldParent.Rename(op.OldName, op.NewName))
	}
	newParent := fs.handleLocked(op.NewParent)
	return errno(oldParent.Move(op.OldName, newParent, op.NewName))
}

func (fs *fileSystem) RmDir(
	ctx context.Context,
	op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.handleLocked(op.Parent)
	return errno(parent.Unlink(op.Name))
}

func (fs *fileSystem) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent := fs.handleLocked(op.Parent)
	return errno(parent.Unlink(op.Name))
}

func (fs *fileSystem) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	info, err := in.Info()
	if err != nil {
		return errno(err)
	}
	if info.Type != vfs.Dir {
		return fuse.ENOSYS
	}
	op.Handle = fuseops.HandleID(op.Inode)
	return nil
}

func (fs *fileSystem) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	dir := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	for i := int(op.Offset); ; i++ {
		name, err := dir.GetEntry(i)
		if vfs.IsKind(err, vfs.EntryNotFound) {
			break
		}
		if err != nil {
			return errno(err)
		}
		child, err := dir.Find(name)
		if err != nil {
			return errno(err)
		}
		de := fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  toFuseID(child.Child),
			Name:   name,
			Type:   direntType(child.Attributes.Type),
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], de)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *fileSystem) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *fileSystem) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	info, err := in.Info()
	if err != nil {
		return errno(err)
	}
	if info.Type != vfs.File {
		return fuse.ENOSYS
	}
	op.Handle = fuseops.HandleID(op.Inode)
	return nil
}

func (fs *fileSystem) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	n, err := in.ReadAt(op.Offset, op.Dst)
	op.BytesRead = n
	if err != nil {
		return errno(err)
	}
	return nil
}

func (fs *fileSystem) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	_, err := in.WriteAt(op.Offset, op.Data)
	return errno(err)
}

func (fs *fileSystem) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	return errno(in.Sync())
}

func (fs *fileSystem) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	fs.mu.Lock()
	in := fs.handleLocked(op.Inode)
	fs.mu.Unlock()

	return errno(in.Sync())
}

func (fs *fileSystem) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return nil
}
