// Package localdisk is the reference on-disk Storage backend: one regular
// OS file per inode id, named by decimal id inside a root directory.
// Modeled on jdfs's per-handle file table (pkg/jdfs/dfd.go), simplified
// since each storage.File here owns a single long-lived *os.File rather
// than a shared handle table keyed by a separate handle id.
package localdisk

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/glog"

	"github.com/complyue/sefs/pkg/errors"
	"github.com/complyue/sefs/pkg/storage"
	"github.com/complyue/sefs/pkg/vfs"
)

// Storage rooted at a directory on the local filesystem.
type Storage struct {
	root string
}

// New returns a Storage rooted at dir, which must already exist.
func New(dir string) *Storage {
	return &Storage{root: dir}
}

func (s *Storage) path(id storage.InodeID) string {
	return filepath.Join(s.root, strconv.FormatUint(uint64(id), 10))
}

// Create makes a new backing file for id, failing if one already exists.
func (s *Storage) Create(id storage.InodeID) (storage.File, error) {
	f, err := os.OpenFile(s.path(id), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errors.Wrapf(vfs.DeviceError, "localdisk: create %d: %s", id, err)
	}
	if glog.V(2) {
		glog.Infof("localdisk: created object %d at %s", id, f.Name())
	}
	return &file{f: f}, nil
}

// Open opens the existing backing file for id.
func (s *Storage) Open(id storage.InodeID) (storage.File, error) {
	f, err := os.OpenFile(s.path(id), os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(vfs.DeviceError, "localdisk: open %d: %s", id, err)
	}
	return &file{f: f}, nil
}

// Remove deletes the backing file for id.
func (s *Storage) Remove(id storage.InodeID) error {
	if err := os.Remove(s.path(id)); err != nil {
		return errors.Wrapf(vfs.DeviceError, "localdisk: remove %d: %s", id, err)
	}
	return nil
}

type file struct {
	f *os.File
}

func (fl *file) ReadAt(buf []byte, off int64) error {
	n, err := fl.f.ReadAt(buf, off)
	if err != nil && n < len(buf) {
		return errors.Wrapf(vfs.DeviceError, "localdisk: read %s at %d: %s", fl.f.Name(), off, err)
	}
	return nil
}

func (fl *file) WriteAt(buf []byte, off int64) error {
	if _, err := fl.f.WriteAt(buf, off); err != nil {
		return errors.Wrapf(vfs.DeviceError, "localdisk: write %s at %d: %s", fl.f.Name(), off, err)
	}
	return nil
}

func (fl *file) SetLen(length int64) error {
	if err := fl.f.Truncate(length); err != nil {
		return errors.Wrapf(vfs.DeviceError, "localdisk: truncate %s to %d: %s", fl.f.Name(), length, err)
	}
	return nil
}
