package index

import (
	"github.com/brettbedarf/tarfs"
)

// RootIno is the inode of the synthetic root directory.
const RootIno uint64 = 1

// Node is one filesystem object in the Index.
// Nodes returned by an Index are shared and must not be modified.
type Node struct {
	Ino    uint64
	Parent uint64 // 0 for the root
	// Children in discovery order
	Children []uint64
	Entry    tarfs.Entry
	// Payload locates the data of regular files in the archive
	Payload tarfs.Section
	// Synthetic is set for the root and for directories that had no record
	// of their own
	Synthetic bool

	name string
}

// Name returns the node's base name; "" for the root.
func (n *Node) Name() string {
	return n.name
}

func (n *Node) IsDir() bool {
	return n.Entry.IsDir()
}

func (n *Node) IsRoot() bool {
	return n.Ino == RootIno
}
