package index

import (
	gotar "archive/tar"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModTime = time.Unix(1700000000, 0)

// rec describes one record of a generated test archive.
type rec struct {
	name     string
	body     string
	typeflag byte
	mode     int64
	linkname string
	format   gotar.Format
	pax      map[string]string
}

func file(name, body string) rec {
	return rec{name: name, body: body, typeflag: gotar.TypeReg, mode: 0o644}
}

func dir(name string) rec {
	return rec{name: name, typeflag: gotar.TypeDir, mode: 0o750}
}

func buildTar(t *testing.T, recs ...rec) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := gotar.NewWriter(&buf)
	for _, r := range recs {
		hdr := &gotar.Header{
			Name:       r.name,
			Typeflag:   r.typeflag,
			Mode:       r.mode,
			Uid:        1000,
			Gid:        1000,
			ModTime:    testModTime,
			Linkname:   r.linkname,
			Format:     r.format,
			PAXRecords: r.pax,
		}
		if r.typeflag == gotar.TypeReg {
			hdr.Size = int64(len(r.body))
		}
		if r.typeflag == gotar.TypeXGlobalHeader {
			// archive/tar only accepts Name, Typeflag, PAXRecords and Format here.
			hdr = &gotar.Header{Name: r.name, Typeflag: r.typeflag, Format: r.format, PAXRecords: r.pax}
		}
		require.NoError(t, tw.WriteHeader(hdr), "write header %q", r.name)
		if hdr.Size > 0 {
			_, err := tw.Write([]byte(r.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func mustBuild(t *testing.T, recs ...rec) (*Index, []byte) {
	t.Helper()

	data := buildTar(t, recs...)
	idx, err := Build(bytes.NewReader(data))
	require.NoError(t, err)
	require.NotNil(t, idx)
	requireConsistent(t, idx)
	return idx, data
}

func mustLookupPath(t *testing.T, idx *Index, p string) *Node {
	t.Helper()

	n, ok := idx.LookupPath(p)
	require.True(t, ok, "path %q not in index", p)
	return n
}

// requireConsistent checks the structural guarantees every Index must hold.
func requireConsistent(t *testing.T, idx *Index) {
	t.Helper()

	roots := 0
	seen := make(map[uint64]bool)
	for n := range idx.All() {
		require.False(t, seen[n.Ino], "inode %d assigned twice", n.Ino)
		seen[n.Ino] = true

		got, ok := idx.Get(n.Ino)
		require.True(t, ok)
		require.Same(t, n, got, "inode %d not stored at inode-1", n.Ino)

		if n.Parent == 0 {
			roots++
			assert.Equal(t, RootIno, n.Ino, "only the root may have parent 0")
			assert.True(t, n.IsDir(), "root must be a directory")
			continue
		}
		parent, ok := idx.Get(n.Parent)
		require.True(t, ok, "inode %d has dangling parent %d", n.Ino, n.Parent)
		assert.True(t, parent.IsDir(), "parent of inode %d is not a directory", n.Ino)
		assert.Contains(t, parent.Children, n.Ino, "parent %d does not list child %d", parent.Ino, n.Ino)

		byName, ok := idx.Lookup(n.Parent, n.Name())
		require.True(t, ok, "lookup(%d, %q) failed", n.Parent, n.Name())
		assert.Same(t, n, byName)

		for _, c := range n.Children {
			child, ok := idx.Get(c)
			require.True(t, ok)
			assert.Equal(t, n.Ino, child.Parent, "child %d does not point back to %d", c, n.Ino)
		}
	}
	assert.Equal(t, 1, roots, "exactly one root")
	for ino := uint64(1); ino <= uint64(idx.Len()); ino++ {
		assert.True(t, seen[ino], "inode %d missing; inodes must be dense", ino)
	}
}

func childNames(t *testing.T, idx *Index, n *Node) []string {
	t.Helper()

	names := make([]string, 0, len(n.Children))
	for _, ino := range n.Children {
		c, ok := idx.Get(ino)
		require.True(t, ok)
		names = append(names, c.Name())
	}
	return names
}
