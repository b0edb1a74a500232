package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/replica"
)

var ReplicateCmd = Replicate{}

// Replicate copies a configured job's source range to all of its destinations.
type Replicate struct {
	command
	job       string
	ifChanged bool
	force     bool
}

func (c *Replicate) Command(options *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replicate",
		Short: "Copies a source range to every destination spreadsheet of a job",
		Long: "Reads the job's source range, normalises the configured columns and writes the result to each destination " +
			"in turn. A destination that still fails after its retries fails the command.",
		Example: examples(
			`replicate --job carteira`,
			`--config sheetsync.yaml replicate --job ciclo --if-changed`,
		),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Execute(cmd.Context(), options)
		},
	}

	c.flags(cmd)

	cmd.Flags().StringVar(&c.job, "job", c.job, "Name of the job to run")
	cmd.Flags().BoolVar(&c.ifChanged, "if-changed", c.ifChanged, "Skips the job if the source has not changed since the last replication")
	cmd.Flags().BoolVar(&c.force, "force", c.force, "Replicates even if the source is unchanged")

	return cmd
}

func (c *Replicate) Execute(ctx context.Context, options *Options) error {
	if strings.TrimSpace(c.job) == "" {
		return fmt.Errorf("--job is a required option")
	}

	s, err := c.open(ctx, "replicate", options)
	if err != nil {
		return err
	}

	job, err := s.config.Job(c.job)
	if err != nil {
		return err
	}

	if c.ifChanged {
		job.IfChanged = true
	}

	r := replica.Replicator{
		Sheets:   s.client,
		Fanout:   s.config.Fanout.Fanout(),
		Workdir:  s.workdir,
		Location: s.location,
	}

	result, err := r.Replicate(ctx, job, c.force)

	detail := ""
	if err == nil {
		switch {
		case result.Skipped:
			detail = "nothing to do"
		default:
			detail = fmt.Sprintf("%v rows to %v destinations", result.Rows, result.Destinations)
		}

		logging.Infof("%v: %v", job.Name, detail)
	}

	return s.close(ctx, job.Name, detail, err)
}
