package fuse

import (
	gotar "archive/tar"
	"bytes"
	"errors"
	"sync"
	"syscall"
	"testing"

	"github.com/brettbedarf/tarfs/config"
	"github.com/brettbedarf/tarfs/index"
	"github.com/brettbedarf/tarfs/internal/mocks"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	t.Parallel()

	raw, idx := newTestRaw(t, nil, append(scenarioRecs,
		testRec{name: "empty", typeflag: gotar.TypeReg},
		testRec{name: "link", typeflag: gotar.TypeSymlink, linkname: "c.txt"},
	)...)
	b := inoOf(t, idx, "a/b.txt")

	tests := []struct {
		name       string
		ino        uint64
		offset     uint64
		size       int
		want       string
		wantStatus fuse.Status
	}{
		{"whole file", b, 0, 4096, "0123456789", fuse.OK},
		{"middle", b, 3, 4, "3456", fuse.OK},
		{"clipped at end", b, 8, 100, "89", fuse.OK},
		{"at end", b, 10, 16, "", fuse.OK},
		{"zero length buffer", b, 0, 0, "", fuse.OK},
		{"other file", inoOf(t, idx, "c.txt"), 0, 4096, "hello", fuse.OK},
		{"empty file", inoOf(t, idx, "empty"), 0, 4096, "", fuse.OK},
		{"past end", b, 11, 16, "", fuse.ENOENT},
		{"directory", inoOf(t, idx, "a"), 0, 16, "", fuse.EISDIR},
		{"symlink", inoOf(t, idx, "link"), 0, 16, "", fuse.EINVAL},
		{"unknown inode", 9999, 0, 16, "", fuse.ENOENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			input := &fuse.ReadIn{InHeader: header(tt.ino), Offset: tt.offset, Size: uint32(tt.size)}
			res, st := raw.Read(nil, input, make([]byte, tt.size))
			require.Equal(t, tt.wantStatus, st)
			if !st.Ok() {
				assert.Nil(t, res)
				return
			}
			assert.Equal(t, tt.want, string(readBytes(t, res)))
		})
	}
}

func TestRead_Repeatable(t *testing.T) {
	t.Parallel()

	raw, idx := newTestRaw(t, nil, scenarioRecs...)
	input := &fuse.ReadIn{InHeader: header(inoOf(t, idx, "a/b.txt")), Offset: 2, Size: 5}

	first, st := raw.Read(nil, input, make([]byte, 5))
	require.Equal(t, fuse.OK, st)
	second, st := raw.Read(nil, input, make([]byte, 5))
	require.Equal(t, fuse.OK, st)
	assert.Equal(t, readBytes(t, first), readBytes(t, second))
	assert.Equal(t, int64(10), raw.bytesRead.Value())
}

func TestRead_ConcurrentHandles(t *testing.T) {
	t.Parallel()

	body := bytes.Repeat([]byte("abcdefghijklmnopqrstuvwxyz"), 64)
	raw, idx := newTestRaw(t, nil,
		testRec{name: "big", body: string(body), typeflag: gotar.TypeReg},
		testRec{name: "small", body: "tiny", typeflag: gotar.TypeReg},
	)
	big := inoOf(t, idx, "big")

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			var out fuse.OpenOut
			if st := raw.Open(nil, &fuse.OpenIn{InHeader: header(big)}, &out); !st.Ok() {
				t.Errorf("open: %v", st)
				return
			}
			defer raw.Release(nil, &fuse.ReleaseIn{InHeader: header(big), Fh: out.Fh})

			for off := w; off < len(body); off += 97 {
				buf := make([]byte, 13)
				res, st := raw.Read(nil, &fuse.ReadIn{InHeader: header(big), Fh: out.Fh, Offset: uint64(off), Size: 13}, buf)
				if !st.Ok() {
					t.Errorf("read at %d: %v", off, st)
					return
				}
				got, _ := res.Bytes(nil)
				want := body[off:min(off+13, len(body))]
				if !bytes.Equal(got, want) {
					t.Errorf("read at %d: got %q want %q", off, got, want)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, raw.files.Size(), "every handle released")
}

func TestRead_HandleForOtherInode(t *testing.T) {
	t.Parallel()

	raw, idx := newTestRaw(t, nil, scenarioRecs...)
	b := inoOf(t, idx, "a/b.txt")
	c := inoOf(t, idx, "c.txt")

	var out fuse.OpenOut
	require.Equal(t, fuse.OK, raw.Open(nil, &fuse.OpenIn{InHeader: header(b)}, &out))

	// a handle opened on b must not leak b's bytes into a read of c
	res, st := raw.Read(nil, &fuse.ReadIn{InHeader: header(c), Fh: out.Fh, Size: 64}, make([]byte, 64))
	require.Equal(t, fuse.OK, st)
	assert.Equal(t, "hello", string(readBytes(t, res)))
}

func TestRead_ArchiveErrors(t *testing.T) {
	t.Parallel()

	data := buildArchive(t, scenarioRecs...)
	idx, err := index.Build(bytes.NewReader(data))
	require.NoError(t, err)
	c, ok := idx.LookupPath("c.txt")
	require.True(t, ok)

	t.Run("device error is EIO", func(t *testing.T) {
		t.Parallel()

		archive := &mocks.MockReaderAt{}
		archive.On("ReadAt", mock.Anything, c.Payload.Offset+1).Return(0, errors.New("disk on fire"))
		raw := NewFuseRaw(idx, archive, config.NewDefaultConfig())

		res, st := raw.Read(nil, &fuse.ReadIn{InHeader: header(c.Ino), Offset: 1, Size: 4}, make([]byte, 4))
		assert.Equal(t, fuse.EIO, st)
		assert.Nil(t, res)
		archive.AssertExpectations(t)
	})

	t.Run("short archive is EIO", func(t *testing.T) {
		t.Parallel()

		archive := &mocks.MockReaderAt{}
		fill := func(p []byte, off int64) int { return copy(p, "he") }
		archive.On("ReadAt", mock.Anything, c.Payload.Offset).Return(fill, nil).Once()
		raw := NewFuseRaw(idx, archive, config.NewDefaultConfig())

		_, st := raw.Read(nil, &fuse.ReadIn{InHeader: header(c.Ino), Size: 5}, make([]byte, 5))
		assert.Equal(t, fuse.EIO, st)
	})

	t.Run("reads at the payload offset", func(t *testing.T) {
		t.Parallel()

		archive := &mocks.MockReaderAt{}
		fill := func(p []byte, off int64) int { return copy(p, "llo") }
		archive.On("ReadAt", mock.Anything, c.Payload.Offset+2).Return(fill, nil).Once()
		raw := NewFuseRaw(idx, archive, config.NewDefaultConfig())

		res, st := raw.Read(nil, &fuse.ReadIn{InHeader: header(c.Ino), Offset: 2, Size: 64}, make([]byte, 64))
		require.Equal(t, fuse.OK, st)
		assert.Equal(t, "llo", string(readBytes(t, res)))
		archive.AssertCalled(t, "ReadAt", mock.Anything, c.Payload.Offset+2)
	})
}

func TestOpen(t *testing.T) {
	t.Parallel()

	raw, idx := newTestRaw(t, nil, append(scenarioRecs,
		testRec{name: "link", typeflag: gotar.TypeSymlink, linkname: "c.txt"},
	)...)
	c := inoOf(t, idx, "c.txt")

	tests := []struct {
		name       string
		ino        uint64
		flags      uint32
		wantStatus fuse.Status
	}{
		{"read only", c, syscall.O_RDONLY, fuse.OK},
		{"write only", c, syscall.O_WRONLY, fuse.EROFS},
		{"read write", c, syscall.O_RDWR, fuse.EROFS},
		{"truncate", c, syscall.O_RDONLY | syscall.O_TRUNC, fuse.EROFS},
		{"directory", inoOf(t, idx, "a"), syscall.O_RDONLY, fuse.EISDIR},
		{"symlink", inoOf(t, idx, "link"), syscall.O_RDONLY, fuse.EINVAL},
		{"unknown", 9999, syscall.O_RDONLY, fuse.ENOENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var out fuse.OpenOut
			st := raw.Open(nil, &fuse.OpenIn{InHeader: header(tt.ino), Flags: tt.flags}, &out)
			require.Equal(t, tt.wantStatus, st)
			if st.Ok() {
				assert.NotZero(t, out.Fh)
				assert.NotZero(t, out.OpenFlags&fuse.FOPEN_KEEP_CACHE)
				raw.Release(nil, &fuse.ReleaseIn{InHeader: header(tt.ino), Fh: out.Fh})
			}
		})
	}
}

func TestOpen_DirectIO(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	cfg.DirectIO = true
	raw, idx := newTestRaw(t, cfg, scenarioRecs...)

	var out fuse.OpenOut
	require.Equal(t, fuse.OK, raw.Open(nil, &fuse.OpenIn{InHeader: header(inoOf(t, idx, "c.txt"))}, &out))
	assert.NotZero(t, out.OpenFlags&fuse.FOPEN_DIRECT_IO)
	assert.Zero(t, out.OpenFlags&fuse.FOPEN_KEEP_CACHE)
}

func TestOpen_HandleLimit(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefaultConfig()
	cfg.MaxFH = 3
	raw, idx := newTestRaw(t, cfg, scenarioRecs...)
	c := inoOf(t, idx, "c.txt")

	seen := map[uint64]bool{}
	for range 3 {
		var out fuse.OpenOut
		require.Equal(t, fuse.OK, raw.Open(nil, &fuse.OpenIn{InHeader: header(c)}, &out))
		assert.LessOrEqual(t, out.Fh, uint64(3))
		assert.False(t, seen[out.Fh], "handle %d reused while open", out.Fh)
		seen[out.Fh] = true
	}

	var out fuse.OpenOut
	assert.Equal(t, fuse.Status(syscall.EMFILE), raw.Open(nil, &fuse.OpenIn{InHeader: header(c)}, &out))

	raw.Release(nil, &fuse.ReleaseIn{InHeader: header(c), Fh: 2})
	require.Equal(t, fuse.OK, raw.Open(nil, &fuse.OpenIn{InHeader: header(c)}, &out))
	assert.Equal(t, uint64(2), out.Fh, "the only free handle is reused")
}
