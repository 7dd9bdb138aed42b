package fuse

import (
	"syscall"

	"github.com/brettbedarf/tarfs"
	"github.com/brettbedarf/tarfs/index"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const (
	blockSize  = 4096
	maxNameLen = 255

	// W_OK in access(2) masks
	accessWrite = 0x2
)

func fillAttr(n *index.Node, a *fuse.Attr) {
	e := &n.Entry
	a.Ino = n.Ino
	a.Mode = e.Mode()
	a.Size = uint64(e.Size)
	a.Blocks = (a.Size + 511) / 512
	a.Blksize = blockSize
	a.Owner = fuse.Owner{Uid: e.UID, Gid: e.GID}
	a.Nlink = 1
	if e.IsDir() {
		a.Nlink = 2
	}
	if e.Kind == tarfs.KindCharDevice || e.Kind == tarfs.KindBlockDevice {
		a.Rdev = mkdev(e.Devmajor, e.Devminor)
	}
	t := e.ModTime
	a.SetTimes(&t, &t, &t)
}

func (r *FuseRaw) fillEntry(n *index.Node, out *fuse.EntryOut) {
	out.NodeId = n.Ino
	out.Generation = 1
	fillAttr(n, &out.Attr)
	out.SetEntryTimeout(seconds(r.cfg.EntryTimeout))
	out.SetAttrTimeout(seconds(r.cfg.AttrTimeout))
}

// mkdev packs a device number the way the kernel's new_encode_dev does,
// which is what the 32 bit FUSE rdev field carries.
func mkdev(major, minor uint32) uint32 {
	return (minor & 0xff) | (major&0xfff)<<8 | (minor&^0xff)<<12
}

func dirMode() uint32 {
	return syscall.S_IFDIR | 0o755
}
