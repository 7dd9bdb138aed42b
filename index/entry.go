package index

import (
	"fmt"
	"path"
	"strings"

	"github.com/brettbedarf/tarfs"
	"github.com/vbatts/tar-split/archive/tar"
)

const blockSize = 512

// decodeEntry maps a record header onto an Entry. Record types that have
// no faithful representation in a read-only tree are rejected.
func decodeEntry(hdr *tar.Header) (tarfs.Entry, error) {
	entry := tarfs.Entry{
		Path:    hdr.Name,
		Perm:    uint32(hdr.Mode) & 0o7777,
		UID:     uint32(hdr.Uid),
		GID:     uint32(hdr.Gid),
		ModTime: hdr.ModTime,
	}

	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeCont:
		if isPAXSparse(hdr) {
			return entry, fmt.Errorf("%w: sparse file", ErrUnsupportedRecord)
		}
		entry.Kind = tarfs.KindRegular
		entry.Size = hdr.Size
	case tar.TypeDir:
		entry.Kind = tarfs.KindDirectory
	case tar.TypeSymlink:
		entry.Kind = tarfs.KindSymlink
		entry.Size = int64(len(hdr.Linkname))
	case tar.TypeChar:
		entry.Kind = tarfs.KindCharDevice
		entry.Devmajor, entry.Devminor = uint32(hdr.Devmajor), uint32(hdr.Devminor)
	case tar.TypeBlock:
		entry.Kind = tarfs.KindBlockDevice
		entry.Devmajor, entry.Devminor = uint32(hdr.Devmajor), uint32(hdr.Devminor)
	case tar.TypeFifo:
		entry.Kind = tarfs.KindFifo
	case tar.TypeLink:
		return entry, fmt.Errorf("%w: hard link to %q", ErrUnsupportedRecord, hdr.Linkname)
	case tar.TypeGNUSparse:
		return entry, fmt.Errorf("%w: sparse file", ErrUnsupportedRecord)
	case tar.TypeXGlobalHeader:
		return entry, fmt.Errorf("%w: global extended header", ErrUnsupportedRecord)
	default:
		return entry, fmt.Errorf("%w: type flag %q", ErrUnsupportedRecord, hdr.Typeflag)
	}

	if entry.Size < 0 {
		return entry, fmt.Errorf("%w: negative size %d", ErrMalformedHeader, entry.Size)
	}
	return entry, nil
}

func isPAXSparse(hdr *tar.Header) bool {
	for k := range hdr.PAXRecords {
		if strings.HasPrefix(k, "GNU.sparse.") {
			return true
		}
	}
	return false
}

// physicalSize is the number of archive bytes the record's payload occupies,
// padding included.
func physicalSize(hdr *tar.Header) int64 {
	switch hdr.Typeflag {
	case tar.TypeLink, tar.TypeSymlink, tar.TypeChar, tar.TypeBlock, tar.TypeDir, tar.TypeFifo:
		return 0
	}
	return (hdr.Size + blockSize - 1) &^ (blockSize - 1)
}

// cleanPath normalises an archive path into its slash separated form
// relative to the root. The root itself is "".
func cleanPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	p := path.Clean(strings.TrimLeft(name, "/"))
	switch {
	case p == ".":
		return "", nil
	case p == ".." || strings.HasPrefix(p, "../"):
		return "", fmt.Errorf("%w: %q escapes the archive root", ErrInvalidPath, name)
	}
	return p, nil
}

// parentOf returns the parent of a cleaned path, "" for top-level names.
func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}
