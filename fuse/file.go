package fuse

import (
	"errors"
	"io"
	"syscall"

	"github.com/brettbedarf/tarfs"
	"github.com/brettbedarf/tarfs/index"
	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fileHandle is one open of a regular file. Each handle reads through its
// own section of the archive, so handles share no cursor.
type fileHandle struct {
	ino     uint64
	payload *io.SectionReader
}

func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	logger := util.GetLogger("Fuse.Open")

	n, ok := r.tree.Get(input.NodeId)
	if !ok {
		return fuse.ENOENT
	}
	if input.Flags&syscall.O_ACCMODE != syscall.O_RDONLY || input.Flags&syscall.O_TRUNC != 0 {
		return fuse.EROFS
	}
	switch n.Entry.Kind {
	case tarfs.KindRegular:
	case tarfs.KindDirectory:
		return fuse.EISDIR
	default:
		return fuse.EINVAL
	}

	fh, ok := r.openHandle(&fileHandle{ino: n.Ino, payload: r.section(n)})
	if !ok {
		logger.Warn().Int("maxFH", r.cfg.MaxFH).Msg("File handles exhausted")
		return fuse.Status(syscall.EMFILE)
	}
	out.Fh = fh
	if r.cfg.DirectIO {
		out.OpenFlags |= fuse.FOPEN_DIRECT_IO
	} else {
		out.OpenFlags |= fuse.FOPEN_KEEP_CACHE
	}
	logger.Trace().Uint64("ino", n.Ino).Uint64("fh", fh).Msg("Opened")
	return fuse.OK
}

// Read returns payload bytes of a regular file. A read starting at the end
// of the file returns no data; starting beyond it is reported as absent.
func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	logger := util.GetLogger("Fuse.Read")

	n, ok := r.tree.Get(input.NodeId)
	if !ok {
		return nil, fuse.ENOENT
	}
	switch n.Entry.Kind {
	case tarfs.KindRegular:
	case tarfs.KindDirectory:
		return nil, fuse.EISDIR
	default:
		return nil, fuse.EINVAL
	}

	payload := r.section(n)
	if h, ok := r.files.Load(input.Fh); ok && h.ino == n.Ino {
		payload = h.payload
	}

	data, err := readRange(payload, input.Offset, buf)
	switch {
	case errors.Is(err, errPastEOF):
		return nil, fuse.ENOENT
	case err != nil:
		logger.Error().Err(err).Uint64("ino", n.Ino).Uint64("offset", input.Offset).Msg("Archive read failed")
		return nil, fuse.EIO
	}
	r.bytesRead.Add(int64(len(data)))
	return fuse.ReadResultData(data), fuse.OK
}

var errPastEOF = errors.New("offset past end of file")

func readRange(payload *io.SectionReader, offset uint64, buf []byte) ([]byte, error) {
	size := uint64(payload.Size())
	if offset > size {
		return nil, errPastEOF
	}
	want := min(uint64(len(buf)), size-offset)
	got, err := payload.ReadAt(buf[:want], int64(offset))
	if err != nil && !(errors.Is(err, io.EOF) && uint64(got) == want) {
		return nil, err
	}
	if uint64(got) < want {
		return nil, io.ErrUnexpectedEOF
	}
	return buf[:got], nil
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	r.files.Delete(input.Fh)
}

func (r *FuseRaw) section(n *index.Node) *io.SectionReader {
	return io.NewSectionReader(r.archive, n.Payload.Offset, n.Payload.Length)
}

// openHandle stores h under a free handle number no larger than MaxFH.
func (r *FuseRaw) openHandle(h *fileHandle) (uint64, bool) {
	limit := uint64(r.cfg.MaxFH)
	if uint64(r.files.Size()) >= limit {
		return 0, false
	}
	for {
		fh := r.lastFH.Add(1)
		if fh > limit {
			r.lastFH.CompareAndSwap(fh, 0)
			continue
		}
		if _, loaded := r.files.LoadOrStore(fh, h); !loaded {
			return fh, true
		}
	}
}
