package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"time"

	"github.com/brettbedarf/tarfs"
	"github.com/brettbedarf/tarfs/config"
	"github.com/brettbedarf/tarfs/index"
	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewInspectCmd builds the index of an archive and prints it without
// mounting anything.
func NewInspectCmd() *cobra.Command {
	var (
		asJSON  bool
		strict  bool
		verbose int
	)

	cmd := &cobra.Command{
		Use:   "inspect ARCHIVE",
		Short: "Print the index of a tar archive",
		Long: `Index a tar archive exactly as mount would and print every node.

The text listing shows mode, owner, size, modification time and path.
With --json each node is printed as one JSON object per line, including
its inode and the location of its data in the archive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			util.InitializeLogger(config.VerboseToLogLevel(verbose))

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			idx, err := index.Build(bufio.NewReader(f), index.WithStrictHeaders(strict))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			out := bufio.NewWriter(cmd.OutOrStdout())
			if asJSON {
				err = writeJSONListing(out, idx)
			} else {
				err = writeListing(out, idx)
			}
			if err != nil {
				return err
			}
			return out.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per node")
	cmd.Flags().BoolVar(&strict, "strict", false, "Reject records that need PAX or GNU long name headers")
	cmd.Flags().IntVarP(&verbose, "verbose", "v", config.WarnVerbose,
		"Log verbosity between 1 (error) and 5 (trace)")
	return cmd
}

// nodeRecord is the JSON form of one node.
type nodeRecord struct {
	Ino       uint64    `json:"ino"`
	Parent    uint64    `json:"parent"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Mode      string    `json:"mode"`
	UID       uint32    `json:"uid"`
	GID       uint32    `json:"gid"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
	Offset    int64     `json:"offset,omitempty"`
	Length    int64     `json:"length,omitempty"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

func writeJSONListing(w io.Writer, idx *index.Index) error {
	enc := json.NewEncoder(w)
	var err error
	idx.Walk(func(n *index.Node, _ int) bool {
		err = enc.Encode(nodeRecord{
			Ino:       n.Ino,
			Parent:    n.Parent,
			Path:      displayPath(idx, n),
			Kind:      n.Entry.Kind.String(),
			Mode:      fileMode(&n.Entry).String(),
			UID:       n.Entry.UID,
			GID:       n.Entry.GID,
			Size:      n.Entry.Size,
			ModTime:   n.Entry.ModTime.UTC(),
			Offset:    n.Payload.Offset,
			Length:    n.Payload.Length,
			Synthetic: n.Synthetic,
		})
		return err == nil
	})
	return err
}

func writeListing(w io.Writer, idx *index.Index) error {
	var err error
	idx.Walk(func(n *index.Node, _ int) bool {
		e := &n.Entry
		name := displayPath(idx, n)
		if e.IsDir() && !n.IsRoot() {
			name += "/"
		}
		_, err = fmt.Fprintf(w, "%s %5d/%-5d %10d %s %s\n",
			fileMode(e), e.UID, e.GID, e.Size, e.ModTime.UTC().Format(time.DateTime), name)
		return err == nil
	})
	if err != nil {
		return err
	}

	st := idx.Stats()
	_, err = fmt.Fprintf(w,
		"\n%d nodes: %d files, %d dirs (%d synthesized), %d symlinks, %d devices, %d fifos; %s of data in %s of archive\n",
		st.Nodes, st.Files, st.Dirs, st.Synthesized, st.Symlinks, st.Devices, st.Fifos,
		humanize.IBytes(uint64(st.PayloadBytes)), humanize.IBytes(uint64(st.ArchiveBytes)))
	return err
}

func displayPath(idx *index.Index, n *index.Node) string {
	if n.IsRoot() {
		return "."
	}
	return idx.FullPath(n)
}

func fileMode(e *tarfs.Entry) iofs.FileMode {
	m := iofs.FileMode(e.Perm & 0o777)
	if e.Perm&0o4000 != 0 {
		m |= iofs.ModeSetuid
	}
	if e.Perm&0o2000 != 0 {
		m |= iofs.ModeSetgid
	}
	if e.Perm&0o1000 != 0 {
		m |= iofs.ModeSticky
	}
	switch e.Kind {
	case tarfs.KindDirectory:
		m |= iofs.ModeDir
	case tarfs.KindSymlink:
		m |= iofs.ModeSymlink
	case tarfs.KindCharDevice:
		m |= iofs.ModeDevice | iofs.ModeCharDevice
	case tarfs.KindBlockDevice:
		m |= iofs.ModeDevice
	case tarfs.KindFifo:
		m |= iofs.ModeNamedPipe
	}
	return m
}
