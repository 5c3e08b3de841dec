// Package structs defines the on-disk record layouts of SEFS: the
// superblock, the per-inode metadata record, and the fixed-length
// directory entry, together with their binary codecs.
package structs

import (
	"encoding/binary"

	"github.com/complyue/sefs/pkg/vfs"
)

// BLKSIZE is the fixed block size of the meta-file and of every per-inode
// backing file read/write performed at block granularity.
const BLKSIZE = 4096

// BLKBITS is the number of bits the single free-map block can hold.
const BLKBITS = 8 * BLKSIZE

// Reserved block ids in the meta-file.
const (
	BLKNSuper   = 0
	BLKNFreeMap = 1
	BLKNRoot    = 2
)

// MAGIC identifies a valid SEFS image.
const MAGIC uint32 = 0x2f8dbe2a

// MaxFileSize bounds a single file's logical size; it is not enforced by
// an extent map (out of scope) but is reported via vfs.FsInfo.
const MaxFileSize = 1 << 32

// SuperBlock is the singleton record stored at block BLKNSuper.
type SuperBlock struct {
	Magic        uint32
	Blocks       uint32
	UnusedBlocks uint32
}

const superBlockSize = 4 + 4 + 4

// Check reports whether the magic number validates.
func (s *SuperBlock) Check() bool {
	return s.Magic == MAGIC
}

// Buf returns the block-sized byte image of s, zero-padded past its
// packed fields.
func (s *SuperBlock) Buf() []byte {
	buf := make([]byte, BLKSIZE)
	binary.LittleEndian.PutUint32(buf[0:4], s.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], s.Blocks)
	binary.LittleEndian.PutUint32(buf[8:12], s.UnusedBlocks)
	return buf
}

// PutBuf loads s from a raw byte image, previously produced by Buf or read
// from a block-sized Storage read. A short buffer is a DeviceError: the
// spec requires loaded records to be byte-exact images, so a truncated
// read is reported rather than silently zero-filled (spec.md §9).
func (s *SuperBlock) PutBuf(buf []byte) error {
	if len(buf) < superBlockSize {
		return vfs.DeviceError
	}
	s.Magic = binary.LittleEndian.Uint32(buf[0:4])
	s.Blocks = binary.LittleEndian.Uint32(buf[4:8])
	s.UnusedBlocks = binary.LittleEndian.Uint32(buf[8:12])
	return nil
}

// DiskINode is the persistent inode record stored at offset
// id*BLKSIZE in the meta-file.
type DiskINode struct {
	Size   uint32 // file only: logical byte length
	Type   vfs.FileType
	Blocks uint32 // dir: entry count; file: unused at this layer
	NLinks uint32
	UID    uint32
	GID    uint32
	ATime  uint32
	MTime  uint32
	CTime  uint32
}

const diskINodeSize = 4 + 1 + 4 + 4 + 4 + 4 + 4 + 4 + 4

// NewFile returns a fresh, zeroed file DiskINode.
func NewFile() DiskINode {
	return DiskINode{Type: vfs.File, NLinks: 0}
}

// NewDir returns a fresh, zeroed directory DiskINode. Callers must still
// call direntInit to populate `.`/`..` and set Blocks to 2.
func NewDir() DiskINode {
	return DiskINode{Type: vfs.Dir, NLinks: 0}
}

// Buf returns the block-sized byte image of n.
func (n *DiskINode) Buf() []byte {
	buf := make([]byte, BLKSIZE)
	binary.LittleEndian.PutUint32(buf[0:4], n.Size)
	buf[4] = byte(n.Type)
	binary.LittleEndian.PutUint32(buf[5:9], n.Blocks)
	binary.LittleEndian.PutUint32(buf[9:13], n.NLinks)
	binary.LittleEndian.PutUint32(buf[13:17], n.UID)
	binary.LittleEndian.PutUint32(buf[17:21], n.GID)
	binary.LittleEndian.PutUint32(buf[21:25], n.ATime)
	binary.LittleEndian.PutUint32(buf[25:29], n.MTime)
	binary.LittleEndian.PutUint32(buf[29:33], n.CTime)
	return buf
}

// PutBuf loads n from a raw byte image. A short buffer is a DeviceError.
func (n *DiskINode) PutBuf(buf []byte) error {
	if len(buf) < diskINodeSize {
		return vfs.DeviceError
	}
	n.Size = binary.LittleEndian.Uint32(buf[0:4])
	n.Type = vfs.FileType(buf[4])
	n.Blocks = binary.LittleEndian.Uint32(buf[5:9])
	n.NLinks = binary.LittleEndian.Uint32(buf[9:13])
	n.UID = binary.LittleEndian.Uint32(buf[13:17])
	n.GID = binary.LittleEndian.Uint32(buf[17:21])
	n.ATime = binary.LittleEndian.Uint32(buf[21:25])
	n.MTime = binary.LittleEndian.Uint32(buf[25:29])
	n.CTime = binary.LittleEndian.Uint32(buf[29:33])
	return nil
}

// Str256 is a fixed-length, NUL-padded name buffer.
type Str256 [256]byte

// NewStr256 packs s into a Str256, truncating at 255 bytes if necessary
// to leave room for the terminating NUL.
func NewStr256(s string) (out Str256) {
	n := copy(out[:255], s)
	out[n] = 0
	return out
}

// String returns the name up to the first NUL byte.
func (s Str256) String() string {
	for i, b := range s {
		if b == 0 {
			return string(s[:i])
		}
	}
	return string(s[:])
}

// DiskEntry is a fixed-size directory entry: a child inode id plus its
// NUL-padded name.
type DiskEntry struct {
	ID   uint32
	Name Str256
}

// DirEntSize is the fixed on-disk size of a DiskEntry.
const DirEntSize = 4 + 256

// Buf returns the byte image of e.
func (e *DiskEntry) Buf() []byte {
	buf := make([]byte, DirEntSize)
	binary.LittleEndian.PutUint32(buf[0:4], e.ID)
	copy(buf[4:], e.Name[:])
	return buf
}

// PutBuf loads e from a raw byte image. A short buffer is a DeviceError.
func (e *DiskEntry) PutBuf(buf []byte) error {
	if len(buf) < DirEntSize {
		return vfs.DeviceError
	}
	e.ID = binary.LittleEndian.Uint32(buf[0:4])
	copy(e.Name[:], buf[4:DirEntSize])
	return nil
}
