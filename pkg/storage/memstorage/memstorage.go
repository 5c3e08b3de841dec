// Package memstorage is an in-process, map-backed Storage implementation
// used by unit tests.
package memstorage

import (
	"sync"

	"github.com/complyue/sefs/pkg/errors"
	"github.com/complyue/sefs/pkg/storage"
	"github.com/complyue/sefs/pkg/vfs"
)

// Storage holds every object's bytes in memory. The zero value is ready
// to use.
type Storage struct {
	mu      sync.RWMutex
	objects map[storage.InodeID][]byte
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{objects: make(map[storage.InodeID][]byte)}
}

// Create makes a new, empty File for id.
func (s *Storage) Create(id storage.InodeID) (storage.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.objects == nil {
		s.objects = make(map[storage.InodeID][]byte)
	}
	if _, exists := s.objects[id]; exists {
		return nil, errors.Wrapf(vfs.DeviceError, "memstorage: object %d already exists", id)
	}
	s.objects[id] = nil
	return &file{s: s, id: id}, nil
}

// Open opens the existing File for id.
func (s *Storage) Open(id storage.InodeID) (storage.File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.objects[id]; !exists {
		return nil, errors.Wrapf(vfs.DeviceError, "memstorage: object %d not found", id)
	}
	return &file{s: s, id: id}, nil
}

// Remove deletes the object for id.
func (s *Storage) Remove(id storage.InodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, id)
	return nil
}

type file struct {
	s  *Storage
	id storage.InodeID
}

func (f *file) ReadAt(buf []byte, off int64) error {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()

	data := f.s.objects[f.id]
	if off < 0 || off > int64(len(data)) {
		return errors.Wrap(vfs.DeviceError, "memstorage: read out of range")
	}
	n := copy(buf, data[off:])
	if n < len(buf) {
		return errors.Wrap(vfs.DeviceError, "memstorage: short read")
	}
	return nil
}

func (f *file) WriteAt(buf []byte, off int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	data := f.s.objects[f.id]
	need := off + int64(len(buf))
	if int64(len(data)) < need {
		grown := make([]byte, need)
		copy(grown, data)
		data = grown
	}
	copy(data[off:], buf)
	f.s.objects[f.id] = data
	return nil
}

func (f *file) SetLen(length int64) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	data := f.s.objects[f.id]
	switch {
	case int64(len(data)) == length:
	case int64(len(data)) < length:
		grown := make([]byte, length)
		copy(grown, data)
		data = grown
	default:
		data = data[:length]
	}
	f.s.objects[f.id] = data
	return nil
}
