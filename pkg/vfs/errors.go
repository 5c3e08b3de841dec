package vfs

// FsError is the portable error kind raised by engine operations.
//
// Unlike jdfs, which proxies a real local OS filesystem and so maps its
// errors 1:1 onto syscall.Errno, SEFS owns its on-disk format end to end and
// talks to an arbitrary Storage backend that may have nothing to do with a
// POSIX device. FsError is therefore its own closed enum rather than an
// alias for syscall.Errno.
type FsError string

const (
	// EOkay is never returned; it exists so a zero FsError value prints
	// sensibly if ever logged by mistake.
	EOkay FsError = ""

	WrongFs       FsError = "wrong-fs"
	NotFile       FsError = "not-file"
	NotDir        FsError = "not-dir"
	IsDir         FsError = "is-dir"
	DirRemoved    FsError = "dir-removed"
	DirNotEmpty   FsError = "dir-not-empty"
	EntryExist    FsError = "entry-exist"
	EntryNotFound FsError = "entry-not-found"
	NotSameFs     FsError = "not-same-fs"
	NoDeviceSpace FsError = "no-device-space"
	DeviceError   FsError = "device-error"
)

// Error implements the builtin error interface.
func (e FsError) Error() string {
	switch e {
	case WrongFs:
		return "superblock magic mismatch"
	case NotFile:
		return "operation valid only on a file inode"
	case NotDir:
		return "operation valid only on a directory inode"
	case IsDir:
		return "operation not valid on a directory, or on . / .."
	case DirRemoved:
		return "directory has been unlinked"
	case DirNotEmpty:
		return "directory is not empty"
	case EntryExist:
		return "directory entry already exists"
	case EntryNotFound:
		return "directory entry not found"
	case NotSameFs:
		return "inodes do not belong to the same filesystem"
	case NoDeviceSpace:
		return "no free blocks on device"
	case DeviceError:
		return "storage device error"
	}
	return "unknown fs error: " + string(e)
}

// Is lets errors.Is(err, vfs.EntryNotFound) match this kind directly.
func (e FsError) Is(target error) bool {
	k, ok := target.(FsError)
	return ok && k == e
}

// IsKind reports whether err carries the given FsError kind, unwrapping
// github.com/pkg/errors-style causes along the way.
func IsKind(err error, kind FsError) bool {
	type causer interface{ Cause() error }
	for err != nil {
		if k, ok := err.(FsError); ok {
			return k == kind
		}
		c, ok := err.(causer)
		if !ok {
			return false
		}
		err = c.Cause()
	}
	return false
}
