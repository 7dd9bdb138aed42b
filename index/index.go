// Package index derives an inode addressed directory tree from a tar stream.
//
// An Index is built once by Build and is read-only afterwards, so any number
// of goroutines may query it concurrently.
package index

import (
	"iter"
	"path"

	"github.com/brettbedarf/tarfs"
	"github.com/brettbedarf/tarfs/internal/arena"
)

type childKey struct {
	parent uint64
	name   string
}

// Index is the tree of Nodes derived from one archive.
// Node storage position is always inode-1.
type Index struct {
	nodes  *arena.Arena[Node]
	byPath map[string]uint64
	byName map[childKey]uint64
	stats  Stats
}

// Stats summarises an Index.
type Stats struct {
	Nodes        int
	Files        int
	Dirs         int
	Symlinks     int
	Devices      int
	Fifos        int
	Synthesized  int   // directories without a record, root excluded
	PayloadBytes int64 // sum of regular file sizes
	ArchiveBytes int64 // bytes consumed from the archive stream
}

func newIndex() *Index {
	return &Index{
		nodes:  arena.New[Node](64),
		byPath: make(map[string]uint64),
		byName: make(map[childKey]uint64),
	}
}

// Len returns the number of nodes, root included.
func (x *Index) Len() int {
	return x.nodes.Len()
}

// Root returns the root directory node.
func (x *Index) Root() *Node {
	n, _ := x.Get(RootIno)
	return n
}

// Get returns the node with inode ino.
func (x *Index) Get(ino uint64) (*Node, bool) {
	if ino == 0 || ino > uint64(x.nodes.Len()) {
		return nil, false
	}
	return x.nodes.GetMut(int(ino - 1))
}

// Lookup returns the child of directory parent whose base name is name.
func (x *Index) Lookup(parent uint64, name string) (*Node, bool) {
	ino, ok := x.byName[childKey{parent: parent, name: name}]
	if !ok {
		return nil, false
	}
	return x.Get(ino)
}

// LookupPath resolves an archive path. Leading slashes, "./" and trailing
// slashes are ignored; "" and "/" resolve to the root.
func (x *Index) LookupPath(p string) (*Node, bool) {
	if p == "" {
		return x.Root(), true
	}
	clean, err := cleanPath(p)
	if err != nil {
		return nil, false
	}
	ino, ok := x.byPath[clean]
	if !ok {
		return nil, false
	}
	return x.Get(ino)
}

// All iterates nodes in inode order.
func (x *Index) All() iter.Seq[*Node] {
	return func(yield func(*Node) bool) {
		for _, n := range x.nodes.All() {
			if !yield(n) {
				return
			}
		}
	}
}

// Walk visits the tree depth first from the root in child order.
// Returning false from fn skips the node's descendants.
func (x *Index) Walk(fn func(n *Node, depth int) bool) {
	x.walk(x.Root(), 0, fn)
}

func (x *Index) walk(n *Node, depth int, fn func(*Node, int) bool) {
	if !fn(n, depth) {
		return
	}
	for _, ino := range n.Children {
		child, ok := x.Get(ino)
		if !ok {
			continue
		}
		x.walk(child, depth+1, fn)
	}
}

// FullPath returns the cleaned path of n relative to the root.
func (x *Index) FullPath(n *Node) string {
	if n.IsRoot() {
		return ""
	}
	p := n.Name()
	for parent, ok := x.Get(n.Parent); ok && !parent.IsRoot(); parent, ok = x.Get(parent.Parent) {
		p = parent.Name() + "/" + p
	}
	return p
}

// Stats returns counts gathered when the Index was built.
func (x *Index) Stats() Stats {
	return x.stats
}

func (x *Index) computeStats() Stats {
	var st Stats
	for n := range x.All() {
		st.Nodes++
		switch n.Entry.Kind {
		case tarfs.KindRegular:
			st.Files++
			st.PayloadBytes += n.Entry.Size
		case tarfs.KindDirectory:
			st.Dirs++
			if n.Synthetic && !n.IsRoot() {
				st.Synthesized++
			}
		case tarfs.KindSymlink:
			st.Symlinks++
		case tarfs.KindCharDevice, tarfs.KindBlockDevice:
			st.Devices++
		case tarfs.KindFifo:
			st.Fifos++
		}
	}
	return st
}

func baseName(p string) string {
	return path.Base(p)
}
