package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/brettbedarf/tarfs/config"
	tfuse "github.com/brettbedarf/tarfs/fuse"
	"github.com/brettbedarf/tarfs/index"
	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const buildBufferSize = 1 << 20

// ErrNotMounted is returned by Wait when Serve has not mounted anything.
var ErrNotMounted = errors.New("filesystem is not mounted")

// TarFs owns an open archive, its index and, once served, the FUSE server
// exposing it.
type TarFs struct {
	SessionID uuid.UUID

	cfg    *config.Config
	idx    *index.Index
	closer io.Closer
	raw    *tfuse.FuseRaw
	server *fuse.Server
}

// Open reads the archive at path once to build its index and keeps the
// file open to serve payload reads.
func Open(path string, cfg *config.Config) (*TarFs, error) {
	logger := util.GetLogger("Server.Open")

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: archive must be a regular file", path)
	}

	idx, err := index.Build(bufio.NewReaderSize(f, buildBufferSize), BuildOptions(cfg)...)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	fs := New(idx, f, cfg)
	fs.closer = f
	logger.Debug().Str("archive", path).Str("session", fs.SessionID.String()).Msg("Archive opened")
	return fs, nil
}

// New wraps an already built index. archive must hold the bytes idx was
// built from.
func New(idx *index.Index, archive io.ReaderAt, cfg *config.Config) *TarFs {
	return &TarFs{
		SessionID: uuid.New(),
		cfg:       cfg,
		idx:       idx,
		raw:       tfuse.NewFuseRaw(idx, archive, cfg),
	}
}

// BuildOptions maps cfg onto index build options. The root directory is
// owned by the mounting user.
func BuildOptions(cfg *config.Config) []index.Option {
	return []index.Option{
		index.WithStrictHeaders(cfg.StrictHeaders),
		index.WithRootOwner(uint32(os.Getuid()), uint32(os.Getgid())),
	}
}

// Index returns the archive index being served.
func (fs *TarFs) Index() *index.Index {
	return fs.idx
}

// MountOptions returns the go-fuse options Serve mounts with.
func (fs *TarFs) MountOptions() *fuse.MountOptions {
	logger := util.GetLogger("FuseServer").With().Str("session", fs.SessionID.String()).Logger()
	opts := fs.cfg.MountOptions
	return &fuse.MountOptions{
		Name:         opts.Name,
		FsName:       opts.FsName,
		AllowOther:   opts.AllowOther,
		Debug:        opts.Debug || fs.cfg.LogLvl == util.TraceLevel,
		MaxReadAhead: fs.cfg.MaxReadAhead,
		Options:      []string{"ro"},
		Logger:       util.NewLogLogger(logger, util.TraceLevel),
	}
}

// Serve mounts and serves the filesystem at the given mountPoint.
// It returns once the mount is ready.
func (fs *TarFs) Serve(mountPoint string) error {
	logger := util.GetLogger("Server.Serve")

	srv, err := fuse.NewServer(fs.raw, mountPoint, fs.MountOptions())
	if err != nil {
		return err
	}
	fs.server = srv

	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		return err
	}
	stats := fs.idx.Stats()
	logger.Info().
		Str("mountpoint", mountPoint).
		Str("session", fs.SessionID.String()).
		Int("nodes", stats.Nodes).
		Msg("Archive mounted")
	return nil
}

func (fs *TarFs) ServeAsync(mountPoint string) <-chan error {
	done := make(chan error, 1)

	go func() {
		done <- fs.Serve(mountPoint)
		close(done)
	}()

	return done
}

// Wait blocks until the filesystem is unmounted.
func (fs *TarFs) Wait() error {
	if fs.server == nil {
		return ErrNotMounted
	}
	fs.server.Wait()
	return nil
}

// Unmount cleanly unmounts the filesystem.
func (fs *TarFs) Unmount() error {
	if fs.server == nil {
		return nil
	}
	return fs.server.Unmount()
}

// Close releases the archive. Call it after Unmount.
func (fs *TarFs) Close() error {
	if fs.closer == nil {
		return nil
	}
	err := fs.closer.Close()
	fs.closer = nil
	return err
}
