// Command sefsmount mounts a SEFS image (a directory of per-inode files
// under a local-disk Storage backend) as a FUSE filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/jacobsa/fuse"

	"github.com/golang/glog"

	"github.com/complyue/sefs/pkg/fuseadapter"
	"github.com/complyue/sefs/pkg/sefs"
	"github.com/complyue/sefs/pkg/storage/localdisk"
)

func init() {
	if glog.V(0) {
		if err := flag.CommandLine.Set("logtostderr", "true"); err != nil {
			log.Printf("Failed changing glog default destination, err: %s", err)
		}
	}
}

var fCreate = flag.Bool("create", false, "initialize a fresh image at the given directory before mounting")

func main() {
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), `
This is sefsmount, all options:

`)
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), `
Simple usage:

 %s [ -create ] <image-dir> <mount-point>

`, os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}

	imageDir, err := filepath.Abs(flag.Arg(0))
	if err != nil {
		log.Fatalf("error resolving image dir [%s]: %+v", flag.Arg(0), err)
	}
	mountPoint, err := filepath.Abs(flag.Arg(1))
	if err != nil {
		log.Fatalf("error resolving mount point [%s]: %+v", flag.Arg(1), err)
	}

	device := localdisk.New(imageDir)

	var fs *sefs.SEFS
	if *fCreate {
		if err := os.MkdirAll(imageDir, 0o755); err != nil {
			log.Fatalf("error creating image dir [%s]: %+v", imageDir, err)
		}
		fs, err = sefs.Create(device)
	} else {
		fs, err = sefs.Open(device)
	}
	if err != nil {
		log.Fatalf("error opening SEFS image at [%s]: %+v", imageDir, err)
	}
	defer fs.Close()

	server, err := fuseadapter.New(fs)
	if err != nil {
		log.Fatalf("error building FUSE adapter: %+v", err)
	}

	cfg := &fuse.MountConfig{
		DisableWritebackCaching: true,
	}
	if glog.V(3) {
		cfg.DebugLogger = log.New(os.Stderr, "sefsmount: ", 0)
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		log.Fatalf("Mount: %v", err)
	}

	if err := mfs.Join(context.Background()); err != nil {
		log.Fatalf("Join: %v", err)
	}
}
