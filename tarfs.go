package tarfs

import (
	"fmt"
	"syscall"
	"time"
)

// EntryKind is the filesystem object type described by an archive record.
type EntryKind uint8

const (
	KindRegular EntryKind = iota + 1
	KindDirectory
	KindSymlink
	KindCharDevice
	KindBlockDevice
	KindFifo
)

func (k EntryKind) String() string {
	switch k {
	case KindRegular:
		return "file"
	case KindDirectory:
		return "dir"
	case KindSymlink:
		return "symlink"
	case KindCharDevice:
		return "chardev"
	case KindBlockDevice:
		return "blockdev"
	case KindFifo:
		return "fifo"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

// TypeBits returns the S_IFMT bits for the kind, or 0 for an unknown kind.
func (k EntryKind) TypeBits() uint32 {
	switch k {
	case KindRegular:
		return syscall.S_IFREG
	case KindDirectory:
		return syscall.S_IFDIR
	case KindSymlink:
		return syscall.S_IFLNK
	case KindCharDevice:
		return syscall.S_IFCHR
	case KindBlockDevice:
		return syscall.S_IFBLK
	case KindFifo:
		return syscall.S_IFIFO
	default:
		return 0
	}
}

// Entry is the metadata of one archive record.
// Path is kept exactly as stored in the archive.
type Entry struct {
	Path     string
	Size     int64
	Kind     EntryKind
	Perm     uint32 // permission bits only (07777)
	UID      uint32
	GID      uint32
	ModTime  time.Time
	Devmajor uint32
	Devminor uint32
}

// Mode returns the full st_mode of the entry.
func (e *Entry) Mode() uint32 {
	return e.Kind.TypeBits() | (e.Perm & 0o7777)
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// Section locates a record's payload inside the archive.
type Section struct {
	Offset int64
	Length int64
}

// End returns the offset one past the last payload byte.
func (s Section) End() int64 {
	return s.Offset + s.Length
}
