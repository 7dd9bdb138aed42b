package fuse

import (
	"github.com/brettbedarf/tarfs/index"
	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// dirSink is the part of fuse.DirEntryList used by ReadDir.
type dirSink interface {
	AddDirEntry(e fuse.DirEntry) bool
}

// dirPlusSink is the part of fuse.DirEntryList used by ReadDirPlus.
type dirPlusSink interface {
	AddDirLookupEntry(e fuse.DirEntry) *fuse.EntryOut
}

func (r *FuseRaw) dir(ino uint64) (*index.Node, fuse.Status) {
	n, ok := r.tree.Get(ino)
	if !ok {
		return nil, fuse.ENOENT
	}
	if !n.IsDir() {
		return nil, fuse.ENOTDIR
	}
	return n, fuse.OK
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if _, st := r.dir(input.NodeId); !st.Ok() {
		return st
	}
	// listings never change while mounted
	out.OpenFlags |= fuse.FOPEN_CACHE_DIR | fuse.FOPEN_KEEP_CACHE
	return fuse.OK
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {}

// ReadDir lists a directory starting at the cursor in input.Offset.
// The listing is ".", "..", then children in discovery order; the cursor
// is the number of entries the kernel has already accepted.
func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	dir, st := r.dir(input.NodeId)
	if !st.Ok() {
		return st
	}
	n := r.listDir(dir, input.Offset, out)

	logger := util.GetLogger("Fuse.ReadDir")
	logger.Trace().Uint64("ino", dir.Ino).Uint64("cursor", input.Offset).Int("added", n).Msg("ReadDir")
	return fuse.OK
}

func (r *FuseRaw) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	dir, st := r.dir(input.NodeId)
	if !st.Ok() {
		return st
	}
	n := r.listDirPlus(dir, input.Offset, out)

	logger := util.GetLogger("Fuse.ReadDirPlus")
	logger.Trace().Uint64("ino", dir.Ino).Uint64("cursor", input.Offset).Int("added", n).Msg("ReadDirPlus")
	return fuse.OK
}

// listDir adds entries from cursor on until the listing ends or the sink
// is full, and returns how many were added. A full sink is not an error;
// the kernel calls again with the advanced cursor.
func (r *FuseRaw) listDir(dir *index.Node, cursor uint64, sink dirSink) int {
	added := 0
	for pos := cursor; ; pos++ {
		e, _, ok := r.entryAt(dir, pos)
		if !ok || !sink.AddDirEntry(e) {
			return added
		}
		added++
	}
}

func (r *FuseRaw) listDirPlus(dir *index.Node, cursor uint64, sink dirPlusSink) int {
	added := 0
	for pos := cursor; ; pos++ {
		e, child, ok := r.entryAt(dir, pos)
		if !ok {
			return added
		}
		out := sink.AddDirLookupEntry(e)
		if out == nil {
			return added
		}
		// "." and ".." stay zeroed so the kernel takes no lookup reference
		if child != nil {
			r.fillEntry(child, out)
		}
		added++
	}
}

// entryAt returns the listing entry at pos. child is nil for "." and "..".
func (r *FuseRaw) entryAt(dir *index.Node, pos uint64) (e fuse.DirEntry, child *index.Node, ok bool) {
	e.Off = pos + 1
	switch pos {
	case 0:
		e.Name, e.Ino, e.Mode = ".", dir.Ino, dirMode()
		return e, nil, true
	case 1:
		parent := dir.Parent
		if dir.IsRoot() {
			parent = dir.Ino
		}
		e.Name, e.Ino, e.Mode = "..", parent, dirMode()
		return e, nil, true
	}

	i := pos - 2
	if i >= uint64(len(dir.Children)) {
		return e, nil, false
	}
	child, ok = r.tree.Get(dir.Children[i])
	if !ok {
		return e, nil, false
	}
	e.Name, e.Ino, e.Mode = child.Name(), child.Ino, child.Entry.Mode()
	return e, child, true
}
