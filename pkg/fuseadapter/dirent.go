package fuseadapter

import (
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/complyue/sefs/pkg/vfs"
)

// direntType maps a vfs.FileType to the d_type value a Dirent's Type field
// carries over the wire.
func direntType(t vfs.FileType) fuseutil.DirentType {
	if t == vfs.Dir {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}
