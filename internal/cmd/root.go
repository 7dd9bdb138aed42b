package cmd

import (
	"github.com/brettbedarf/tarfs/version"
	"github.com/spf13/cobra"
)

const (
	groupFilesystem = "filesystem"
	groupUtilities  = "utilities"
)

// NewRootCmd returns the tarfs root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tarfs",
		Short: "tarfs - mount a tar archive as a read-only filesystem",
		Long: `tarfs exposes the contents of an uncompressed tar archive as a read-only
FUSE filesystem. The archive is read once at mount time to build an index;
file reads are then served straight from the archive bytes.

Use subcommands to perform different operations:
  - mount: Mount an archive at a mountpoint
  - inspect: Print the index of an archive without mounting it
  - version: Print build information`,
		Version:       version.GetFullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: groupFilesystem, Title: "Filesystem Operations"},
		&cobra.Group{ID: groupUtilities, Title: "Utility Commands"},
	)

	mountCmd := NewMountCmd()
	inspectCmd := NewInspectCmd()
	versionCmd := NewVersionCmd()

	mountCmd.GroupID = groupFilesystem
	inspectCmd.GroupID = groupUtilities
	versionCmd.GroupID = groupUtilities

	rootCmd.AddCommand(mountCmd, inspectCmd, versionCmd)
	return rootCmd
}
