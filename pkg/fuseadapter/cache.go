package fuseadapter

import (
	"flag"
	"time"
)

// CacheValidSeconds is how long the FUSE kernel may cache inode attributes
// and dentry lookups before revalidating against the engine, in seconds.
// SEFS has no concurrent writer outside this process, so a modest value is
// safe; set to zero to disable caching entirely, which is useful when
// debugging a Rename/Move race.
var CacheValidSeconds uint64 = 10

func init() {
	flag.Uint64Var(&CacheValidSeconds, "fuse-cache", 10, "FUSE attribute/dentry cache valid time in `seconds`")
}

// attrCacheDuration and entryCacheDuration feed the AttributesExpiration of
// GetInodeAttributesOp/SetInodeAttributesOp and the Entry fields of
// LookUpInodeOp/MkDirOp/CreateFileOp/CreateLinkOp so the kernel knows how long it may trust what we just told it.
func attrCacheDuration() time.Duration {
	return time.Duration(CacheValidSeconds) * time.Second
}

func entryCacheDuration() time.Duration {
	return time.Duration(CacheValidSeconds) * time.Second
}
