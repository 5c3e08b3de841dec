// Command sefsutil creates, checks and inspects a SEFS image stored as a
// directory of per-inode files under a local-disk Storage backend.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/complyue/sefs/pkg/sefs"
	"github.com/complyue/sefs/pkg/storage/localdisk"
	"github.com/complyue/sefs/pkg/vfs"
)

func init() {
	if glog.V(0) {
		if err := flag.CommandLine.Set("logtostderr", "true"); err != nil {
			log.Printf("Failed changing glog default destination, err: %s", err)
		}
	}
}

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
This is sefsutil, all options:

`)
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), `
Simple usage:

 %s mkfs <image-dir>
 %s fsck <image-dir>
 %s ls <image-dir> [path]

`, os.Args[0], os.Args[0], os.Args[0])
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(1)
	}

	cmd, imageDir := flag.Arg(0), flag.Arg(1)
	absDir, err := filepath.Abs(imageDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving [%s]: %+v\n", imageDir, err)
		os.Exit(2)
	}

	switch cmd {
	case "mkfs":
		err = mkfs(absDir)
	case "fsck":
		err = fsck(absDir)
	case "ls":
		var path string
		if flag.NArg() >= 3 {
			path = flag.Arg(2)
		}
		err = list(absDir, path)
	default:
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %+v\n", cmd, imageDir, err)
		os.Exit(3)
	}
}

func mkfs(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir [%s]", dir)
	}
	device := localdisk.New(dir)
	fs, err := sefs.Create(device)
	if err != nil {
		return err
	}
	fs.Close()
	fmt.Printf("Initialized a SEFS image under [%s]\n", dir)
	return nil
}

func fsck(dir string) error {
	device := localdisk.New(dir)
	fs, err := sefs.Open(device)
	if err != nil {
		return err
	}
	defer fs.Close()

	root, err := fs.RootInode()
	if err != nil {
		return err
	}
	defer root.Release()

	info, err := root.Info()
	if err != nil {
		return err
	}
	if info.Type != vfs.Dir {
		return errors.New("root inode is not a directory")
	}

	fmt.Printf("OK: root has %d entries\n", info.Blocks)
	return nil
}

func list(dir, path string) error {
	device := localdisk.New(dir)
	fs, err := sefs.Open(device)
	if err != nil {
		return err
	}
	defer fs.Close()

	target, err := resolve(fs, path)
	if err != nil {
		return err
	}
	defer target.Release()

	info, err := target.Info()
	if err != nil {
		return err
	}
	if info.Type != vfs.Dir {
		fmt.Printf("%-8d %-4s %d\n", info.Inode, info.Type, info.Size)
		return nil
	}

	for i := 0; ; i++ {
		name, err := target.GetEntry(i)
		if vfs.IsKind(err, vfs.EntryNotFound) {
			break
		}
		if err != nil {
			return err
		}
		child, err := target.Find(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-8d %-4s %-8d %s\n",
			child.Child, child.Attributes.Type, child.Attributes.Size, name)
	}
	return nil
}

// resolve walks path, a slash-separated name list relative to the root,
// returning an owned handle to the final component (the root itself if
// path is empty).
func resolve(fs vfs.FileSystem, path string) (vfs.INode, error) {
	cur, err := fs.RootInode()
	if err != nil {
		return nil, err
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return cur, nil
	}
	for _, seg := range strings.Split(path, "/") {
		entry, err := cur.Find(seg)
		cur.Release()
		if err != nil {
			return nil, err
		}
		cur, err = fs.GetInode(entry.Child)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}
