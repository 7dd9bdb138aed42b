package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/tarfs/config"
	"github.com/brettbedarf/tarfs/internal/util"
	"github.com/brettbedarf/tarfs/server"
	"github.com/brettbedarf/tarfs/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type mountFlags struct {
	configPath string
	verbose    int
	umount     bool
	allowOther bool
	debug      bool
	strict     bool
	directIO   bool
	fsName     string
}

// NewMountCmd mounts an archive and serves it until interrupted or
// unmounted externally.
func NewMountCmd() *cobra.Command {
	var f mountFlags

	cmd := &cobra.Command{
		Use:   "mount ARCHIVE MOUNTPOINT",
		Short: "Mount a tar archive",
		Long: `Mount a tar archive read-only at the specified mountpoint.

ARCHIVE is the path to an uncompressed tar file.
MOUNTPOINT is an existing directory where the filesystem will be mounted.

Settings are layered: defaults, then the config file (--config), then
TARFS_* environment variables, then flags given on the command line.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMount(cmd, args[0], args[1], &f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to a YAML or JSON config file")
	cmd.Flags().IntVarP(&f.verbose, "verbose", "v", config.InfoVerbose,
		"Log verbosity between 1 (error) and 5 (trace)")
	cmd.Flags().BoolVarP(&f.umount, "umount", "u", false,
		"Unmount the mountpoint first if needed. Useful for debuggers that don't exit properly.")
	cmd.Flags().BoolVar(&f.allowOther, "allow-other", false, "Let other users access the mount")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Log every FUSE request and reply")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "Reject records that need PAX or GNU long name headers")
	cmd.Flags().BoolVar(&f.directIO, "direct-io", false, "Bypass the kernel page cache for file reads")
	cmd.Flags().StringVar(&f.fsName, "fs-name", "", "Source name shown in the mount table (default \"tarfs\")")

	return cmd
}

// overrides returns only the flags set on the command line so that they
// do not mask file or environment settings.
func (f *mountFlags) overrides(flags *pflag.FlagSet) *config.ConfigOverride {
	var o config.ConfigOverride
	if flags.Changed("verbose") {
		o.LogLvl = util.Pointer(f.verbose)
	}
	if flags.Changed("allow-other") {
		o.AllowOther = util.Pointer(f.allowOther)
	}
	if flags.Changed("debug") {
		o.Debug = util.Pointer(f.debug)
	}
	if flags.Changed("strict") {
		o.StrictHeaders = util.Pointer(f.strict)
	}
	if flags.Changed("direct-io") {
		o.DirectIO = util.Pointer(f.directIO)
	}
	if flags.Changed("fs-name") {
		o.FsName = util.Pointer(f.fsName)
	}
	return &o
}

func runMount(cmd *cobra.Command, archive, mnt string, f *mountFlags) error {
	cfg, err := config.Resolve(f.configPath, f.overrides(cmd.Flags()))
	if err != nil {
		return err
	}
	util.InitializeLogger(cfg.LogLvl)
	logger := util.GetLogger("main")
	logger.Info().
		Str("version", version.GetFullVersion()).
		Str("archive", archive).
		Str("mnt", mnt).
		Str("level", util.LevelName(cfg.LogLvl)).
		Msg("tarfs initializing")

	if f.umount {
		// not being mounted is fine
		_ = exec.Command("fusermount", "-u", mnt).Run()
	}
	if err := validateMountArgs(archive, mnt); err != nil {
		return err
	}

	fs, err := server.Open(archive, cfg)
	if err != nil {
		return fmt.Errorf("failed to index archive: %w", err)
	}
	defer func() {
		if err := fs.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close archive")
		}
	}()

	if err := fs.Serve(mnt); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	unmounted := make(chan struct{})
	go func() {
		_ = fs.Wait()
		close(unmounted)
	}()

	select {
	case <-cmd.Context().Done():
		logger.Info().Msg("Received signal, unmounting filesystem")
		if err := fs.Unmount(); err != nil {
			logger.Error().Err(err).Msg("Failed to unmount filesystem")
			return err
		}
		<-unmounted
	case <-unmounted:
		logger.Info().Msg("Filesystem was unmounted externally")
	}
	logger.Info().Msg("Filesystem unmounted successfully")
	return nil
}

var (
	errArchiveNotFile    = errors.New("archive is not a regular file")
	errMountNotDir       = errors.New("mountpoint is not a directory")
	errArchiveUnderMount = errors.New("archive lies inside the mountpoint")
)

// validateMountArgs rejects argument pairs that cannot mount, before the
// archive is indexed.
func validateMountArgs(archive, mnt string) error {
	info, err := os.Stat(archive)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", errArchiveNotFile, archive)
	}

	info, err = os.Stat(mnt)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", errMountNotDir, mnt)
	}

	if pathWithin(archive, mnt) {
		return fmt.Errorf("%w: %s", errArchiveUnderMount, archive)
	}
	return nil
}

// pathWithin reports whether p is dir or lies below it.
func pathWithin(p, dir string) bool {
	absP, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absP)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
