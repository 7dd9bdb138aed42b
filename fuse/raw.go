// Package fuse serves an archive index over the low-level FUSE protocol.
package fuse

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/brettbedarf/tarfs/config"
	"github.com/brettbedarf/tarfs/index"
	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

// Tree is the read-only view of an archive index the adapter answers from.
type Tree interface {
	Get(ino uint64) (*index.Node, bool)
	Lookup(parent uint64, name string) (*index.Node, bool)
	Stats() index.Stats
}

// FuseRaw implements the low-level FUSE wire protocol
// It serves as protocol adapter between the FUSE and the archive index.
// The tree is never mutated, so callbacks need no locking beyond the
// open file table.
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
type FuseRaw struct {
	fuse.RawFileSystem
	tree    Tree
	archive io.ReaderAt
	cfg     *config.Config

	files     *xsync.Map[uint64, *fileHandle]
	lastFH    atomic.Uint64
	bytesRead *xsync.Counter
	server    *fuse.Server
}

// NewFuseRaw returns an adapter answering from tree and reading file data
// from archive, the same bytes tree was built from.
func NewFuseRaw(tree Tree, archive io.ReaderAt, cfg *config.Config) *FuseRaw {
	return &FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		tree:          tree,
		archive:       archive,
		cfg:           cfg,
		files:         xsync.NewMap[uint64, *fileHandle](),
		bytesRead:     xsync.NewCounter(),
	}
}

func (r *FuseRaw) Init(s *fuse.Server) {
	logger := util.GetLogger("Fuse.Init")
	logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *FuseRaw) OnUnmount() {
	logger := util.GetLogger("Fuse.OnUnmount")
	logger.Info().
		Int("openFiles", r.files.Size()).
		Int64("bytesRead", r.bytesRead.Value()).
		Msg("FUSE unmounted")
}

func (r *FuseRaw) String() string {
	return "tarfs"
}

// Access called when the kernel wants to know if the user has permission to access the node.
// If the 'default_permissions' mount option is given, this method is not called.
func (r *FuseRaw) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	if _, ok := r.tree.Get(input.NodeId); !ok {
		return fuse.ENOENT
	}
	if input.Mask&accessWrite != 0 {
		return fuse.EROFS
	}
	return fuse.OK
}

// Lookup is called by the kernel when the VFS wants to know
// about a file inside a directory. Many lookup calls can
// occur in parallel, but only one call happens for each (dir,
// name) pair.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logger := util.GetLogger("Fuse.Lookup")

	child, ok := r.tree.Lookup(header.NodeId, name)
	if !ok {
		logger.Trace().Uint64("parent", header.NodeId).Str("name", name).Msg("No such entry")
		if r.cfg.NegativeTimeout > 0 {
			// NodeId 0 lets the kernel cache the miss
			out.NodeId = 0
			out.SetEntryTimeout(seconds(r.cfg.NegativeTimeout))
			return fuse.OK
		}
		return fuse.ENOENT
	}

	r.fillEntry(child, out)
	logger.Trace().Uint64("parent", header.NodeId).Str("name", name).Uint64("ino", child.Ino).Msg("Lookup")
	return fuse.OK
}

// Forget is called when the kernel discards entries from its
// dentry cache. Inodes live as long as the mount, so there is
// nothing to release.
func (r *FuseRaw) Forget(nodeid, nlookup uint64) {}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	n, ok := r.tree.Get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	fillAttr(n, &out.Attr)
	out.SetTimeout(seconds(r.cfg.AttrTimeout))
	return fuse.OK
}

// Readlink is not supported; link targets are not resolved.
func (r *FuseRaw) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	return nil, fuse.ENOSYS
}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	st := r.tree.Stats()
	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Blocks = (uint64(st.PayloadBytes) + blockSize - 1) / blockSize
	out.Files = uint64(st.Nodes)
	out.NameLen = maxNameLen
	return fuse.OK
}

// ListXAttr reports no extended attributes for any node.
func (r *FuseRaw) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	if _, ok := r.tree.Get(header.NodeId); !ok {
		return 0, fuse.ENOENT
	}
	return 0, fuse.OK
}

func (r *FuseRaw) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	return 0, fuse.ENOATTR
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
