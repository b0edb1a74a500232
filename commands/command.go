package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const APP = "sheetsync"

// Options are the global command line flags.
type Options struct {
	Debug  bool
	Config string
}

// Command is implemented by every sheetsync CLI command.
type Command interface {
	Command(options *Options) *cobra.Command
}

// command holds the flags shared by the commands that talk to Google Sheets. Empty values fall
// back to the configuration file.
type command struct {
	workdir     string
	credentials string
}

func (c *command) flags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.workdir, "workdir", c.workdir, "Directory for working files (tokens, revisions, etc). Defaults to google.workdir")
	cmd.Flags().StringVar(&c.credentials, "credentials", c.credentials, "Path for the 'credentials.json' file. Defaults to google.credentials")
}

func examples(lines ...string) string {
	var b strings.Builder

	for _, line := range lines {
		fmt.Fprintf(&b, "  %s %s\n", APP, line)
	}

	return strings.TrimRight(b.String(), "\n")
}
