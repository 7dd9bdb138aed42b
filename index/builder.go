package index

import (
	"errors"
	"fmt"
	"io"

	"github.com/brettbedarf/tarfs"
	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/vbatts/tar-split/archive/tar"
)

// Build reads the archive r once, front to back, and returns the resulting
// Index. Directories missing from the archive are synthesized when a
// descendant is found. Any error aborts the build; no partial Index is
// returned.
func Build(r io.Reader, opts ...Option) (*Index, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := &builder{
		idx:     newIndex(),
		opts:    o,
		nextIno: RootIno,
		logger:  util.GetLogger("Index.Build"),
	}
	if err := b.addRoot(); err != nil {
		return nil, err
	}
	if err := b.run(r); err != nil {
		return nil, err
	}

	b.idx.stats = b.idx.computeStats()
	b.idx.stats.ArchiveBytes = b.pos

	st := b.idx.stats
	b.logger.Info().
		Int("nodes", st.Nodes).
		Int("files", st.Files).
		Int("dirs", st.Dirs).
		Int("synthesized", st.Synthesized).
		Str("payload", humanize.IBytes(uint64(st.PayloadBytes))).
		Str("archive", humanize.IBytes(uint64(st.ArchiveBytes))).
		Msg("Index built")

	return b.idx, nil
}

type builder struct {
	idx     *Index
	opts    options
	nextIno uint64
	// archive bytes consumed so far; after Next it is the payload offset
	// of the current record
	pos          int64
	prevPhysical int64
	logger       zerolog.Logger
}

func (b *builder) addRoot() error {
	root := tarfs.Entry{
		Kind:    tarfs.KindDirectory,
		Perm:    b.opts.rootPerm,
		UID:     b.opts.rootUID,
		GID:     b.opts.rootGID,
		ModTime: b.opts.now(),
	}
	ino, err := b.insert(0, "", root, tarfs.Section{}, true)
	if err != nil {
		return err
	}
	b.idx.byPath[""] = ino
	return nil
}

func (b *builder) run(r io.Reader) error {
	tr := tar.NewReader(r)
	tr.RawAccounting = true

	for record := 0; ; record++ {
		hdr, err := tr.Next()
		raw := int64(len(tr.RawBytes()))
		b.pos += raw
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return &RecordError{Record: record, Err: classifyReadErr(err)}
		}

		headerBytes := raw - b.prevPhysical
		b.prevPhysical = physicalSize(hdr)

		if err := b.add(hdr, headerBytes); err != nil {
			return &RecordError{Record: record, Path: hdr.Name, Err: err}
		}
	}
}

func classifyReadErr(err error) error {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	case errors.Is(err, tar.ErrHeader), errors.Is(err, tar.ErrFieldTooLong):
		return fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	default:
		return fmt.Errorf("read archive: %w", err)
	}
}

func (b *builder) add(hdr *tar.Header, headerBytes int64) error {
	if b.opts.strict && headerBytes > blockSize {
		return fmt.Errorf("%w: extension header (%d header bytes)", ErrUnsupportedRecord, headerBytes)
	}
	entry, err := decodeEntry(hdr)
	if err != nil {
		return err
	}
	p, err := cleanPath(hdr.Name)
	if err != nil {
		return err
	}
	if p == "" {
		if !entry.IsDir() {
			return fmt.Errorf("%w: archive root recorded as %s", ErrPathConflict, entry.Kind)
		}
		b.logger.Debug().Str("path", hdr.Name).Msg("Skipping record for archive root")
		return nil
	}

	var payload tarfs.Section
	if entry.Kind == tarfs.KindRegular {
		payload = tarfs.Section{Offset: b.pos, Length: entry.Size}
	}

	if ino, ok := b.idx.byPath[p]; ok {
		return b.replace(ino, entry, payload)
	}

	parent, err := b.ensureDir(parentOf(p), &entry)
	if err != nil {
		return err
	}
	ino, err := b.insert(parent, p, entry, payload, false)
	if err != nil {
		return err
	}
	b.logger.Trace().
		Uint64("ino", ino).
		Uint64("parent", parent).
		Str("kind", entry.Kind.String()).
		Str("path", hdr.Name).
		Int64("offset", payload.Offset).
		Msg("Added record")
	return nil
}

// ensureDir returns the inode of directory p, creating it and any missing
// ancestors first. Synthesized directories take their owner and time from
// the record that caused them.
func (b *builder) ensureDir(p string, cause *tarfs.Entry) (uint64, error) {
	if ino, ok := b.idx.byPath[p]; ok {
		n, _ := b.idx.Get(ino)
		if !n.IsDir() {
			return 0, fmt.Errorf("%w: parent %q is a %s", ErrPathConflict, p, n.Entry.Kind)
		}
		return ino, nil
	}

	grand, err := b.ensureDir(parentOf(p), cause)
	if err != nil {
		return 0, err
	}
	entry := tarfs.Entry{
		Path:    p,
		Kind:    tarfs.KindDirectory,
		Perm:    0o755,
		UID:     cause.UID,
		GID:     cause.GID,
		ModTime: cause.ModTime,
	}
	ino, err := b.insert(grand, p, entry, tarfs.Section{}, true)
	if err != nil {
		return 0, err
	}
	b.logger.Debug().Uint64("ino", ino).Str("path", p).Msg("Synthesized directory")
	return ino, nil
}

// insert allocates the next inode for a node at cleaned path p and links
// it under parent. A parent of 0 is only valid for the root.
func (b *builder) insert(parent uint64, p string, entry tarfs.Entry, payload tarfs.Section, synthetic bool) (uint64, error) {
	ino := b.nextIno
	node := Node{
		Ino:       ino,
		Parent:    parent,
		Entry:     entry,
		Payload:   payload,
		Synthetic: synthetic,
	}
	if p != "" {
		node.name = baseName(p)
	}
	if err := b.idx.nodes.Insert(node, int(ino-1)); err != nil {
		return 0, err
	}
	b.nextIno++

	if parent != 0 {
		pn, ok := b.idx.nodes.GetMut(int(parent - 1))
		if !ok {
			return 0, fmt.Errorf("%w: parent inode %d missing", ErrPathConflict, parent)
		}
		pn.Children = append(pn.Children, ino)
		b.idx.byName[childKey{parent: parent, name: node.name}] = ino
		b.idx.byPath[p] = ino
	}
	return ino, nil
}

// replace applies a later record for an already known path. The inode and
// its place in the tree are kept.
func (b *builder) replace(ino uint64, entry tarfs.Entry, payload tarfs.Section) error {
	n, _ := b.idx.nodes.GetMut(int(ino - 1))
	if n.IsDir() && !entry.IsDir() && len(n.Children) > 0 {
		return fmt.Errorf("%w: %s would replace a non-empty directory", ErrPathConflict, entry.Kind)
	}

	logger := b.logger.Debug().Uint64("ino", ino).Str("path", entry.Path)
	if n.Synthetic && entry.IsDir() {
		logger.Msg("Directory record for synthesized directory")
	} else {
		logger.Str("was", n.Entry.Kind.String()).Msg("Record replaces earlier entry")
	}

	n.Entry = entry
	n.Payload = payload
	n.Synthetic = false
	return nil
}
