package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sheetsync/sheetsync/config"
	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/logging"
)

var AuthoriseCmd = Authorise{}

// Authorise runs the installed application OAuth2 flow and stores the resulting token in the
// workdir. Service account credentials need no authorisation.
type Authorise struct {
	command
}

func (c *Authorise) Command(options *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "authorise",
		Aliases: []string{"authorize"},
		Short:   "Authorises sheetsync to access Google Sheets and Google Drive",
		Example: examples(
			`authorise --credentials "credentials.json"`,
		),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Execute(cmd.Context(), options)
		},
	}

	c.flags(cmd)

	return cmd
}

func (c *Authorise) Execute(ctx context.Context, options *Options) error {
	cfg, err := config.Load(options.Config)
	if err != nil {
		return err
	}

	logging.Init(cfg.Logging.Config(options.Debug))

	workdir := cfg.Google.Workdir
	if c.workdir != "" {
		workdir = c.workdir
	}

	credentials := cfg.Google.Credentials
	if c.credentials != "" {
		credentials = c.credentials
	}

	if err := os.MkdirAll(workdir, 0770); err != nil {
		return err
	}

	tokens := gsheets.TokenFile(workdir, credentials)
	if err := gsheets.Authorise(ctx, credentials, tokens, os.Stdout, gsheets.SHEETS, gsheets.DRIVE); err != nil {
		return fmt.Errorf("authorisation failed (%w)", err)
	}

	logging.Infof("Authorised %v, token saved to %v", APP, tokens)

	return nil
}
