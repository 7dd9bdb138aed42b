package fuse

import (
	gotar "archive/tar"
	"bytes"
	"testing"
	"time"

	"github.com/brettbedarf/tarfs/config"
	"github.com/brettbedarf/tarfs/index"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/require"
)

var testModTime = time.Unix(1700000000, 0)

type testRec struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

// scenarioRecs is a/, a/b.txt (10 bytes), c.txt (5 bytes).
var scenarioRecs = []testRec{
	{name: "a/", typeflag: gotar.TypeDir},
	{name: "a/b.txt", body: "0123456789", typeflag: gotar.TypeReg},
	{name: "c.txt", body: "hello", typeflag: gotar.TypeReg},
}

func buildArchive(t *testing.T, recs ...testRec) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := gotar.NewWriter(&buf)
	for _, r := range recs {
		hdr := &gotar.Header{
			Name:     r.name,
			Typeflag: r.typeflag,
			Mode:     0o644,
			Uid:      1000,
			Gid:      100,
			ModTime:  testModTime,
			Linkname: r.linkname,
		}
		if r.typeflag == gotar.TypeDir {
			hdr.Mode = 0o755
		}
		if r.typeflag == gotar.TypeReg {
			hdr.Size = int64(len(r.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := tw.Write([]byte(r.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

// newTestRaw builds an index over recs and an adapter reading the same bytes.
func newTestRaw(t *testing.T, cfg *config.Config, recs ...testRec) (*FuseRaw, *index.Index) {
	t.Helper()

	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	data := buildArchive(t, recs...)
	idx, err := index.Build(bytes.NewReader(data))
	require.NoError(t, err)
	return NewFuseRaw(idx, bytes.NewReader(data), cfg), idx
}

func inoOf(t *testing.T, idx *index.Index, p string) uint64 {
	t.Helper()

	n, ok := idx.LookupPath(p)
	require.True(t, ok, "path %q", p)
	return n.Ino
}

func header(ino uint64) fuse.InHeader {
	return fuse.InHeader{NodeId: ino}
}

// collectSink records directory entries up to capacity, like a reply
// buffer that fills up.
type collectSink struct {
	capacity int
	entries  []fuse.DirEntry
	outs     []*fuse.EntryOut
}

func (s *collectSink) full() bool {
	return s.capacity >= 0 && len(s.entries) >= s.capacity
}

func (s *collectSink) AddDirEntry(e fuse.DirEntry) bool {
	if s.full() {
		return false
	}
	s.entries = append(s.entries, e)
	return true
}

func (s *collectSink) AddDirLookupEntry(e fuse.DirEntry) *fuse.EntryOut {
	if s.full() {
		return nil
	}
	s.entries = append(s.entries, e)
	out := &fuse.EntryOut{}
	s.outs = append(s.outs, out)
	return out
}

func names(entries []fuse.DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func readBytes(t *testing.T, res fuse.ReadResult) []byte {
	t.Helper()

	require.NotNil(t, res)
	data, st := res.Bytes(nil)
	require.Equal(t, fuse.OK, st)
	return data
}
