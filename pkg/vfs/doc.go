// Package vfs defines the filesystem-engine-facing interfaces and portable
// error kinds that any SEFS storage backend and any OS-facing adapter (see
// pkg/fuseadapter) are built against.
//
// It intentionally knows nothing about FUSE, a particular wire format, or a
// particular Storage backend: pkg/sefs implements FileSystem and INode
// against its own on-disk layout, and pkg/fuseadapter consumes them without
// either side depending on the other directly.
package vfs
