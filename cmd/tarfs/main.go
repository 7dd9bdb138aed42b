package main

import (
	"context"
	"os"
	"syscall"

	"github.com/brettbedarf/tarfs/internal/cmd"
	"github.com/brettbedarf/tarfs/version"
	"github.com/charmbracelet/fang"
)

func main() {
	if err := fang.Execute(
		context.Background(),
		cmd.NewRootCmd(),
		fang.WithVersion(version.GetVersion()),
		fang.WithCommit(version.GetCommit()),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT),
	); err != nil {
		os.Exit(1)
	}
}
