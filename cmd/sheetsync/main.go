package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sheetsync/sheetsync/commands"
	"github.com/sheetsync/sheetsync/logging"
)

var cli = []commands.Command{
	&commands.VersionCmd,
	&commands.AuthoriseCmd,
	&commands.GetCmd,
	&commands.PutCmd,
	&commands.ReplicateCmd,
	&commands.RunCmd,
	&commands.StatusCmd,
}

var options = commands.Options{
	Debug: false,
}

func main() {
	root := &cobra.Command{
		Use:           commands.APP,
		Short:         "Replicates Google Sheets ranges and runs status tracked update pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&options.Debug, "debug", options.Debug, "Enable debugging information")
	root.PersistentFlags().StringVar(&options.Config, "config", options.Config, "Configuration file. Defaults to $SHEETSYNC_CONFIG, ./sheetsync.yaml or the system configuration")

	for _, c := range cli {
		root.AddCommand(c.Command(&options))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := root.ExecuteContext(ctx); err != nil {
		logging.Errorf("%v", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}
