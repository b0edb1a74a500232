package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sheetsync/sheetsync/runner"
	"github.com/sheetsync/sheetsync/status"
	"github.com/sheetsync/sheetsync/transfer"
)

var StatusCmd = Status{}

// Status prints the control sheet status of every configured step.
type Status struct {
	command
}

func (c *Status) Command(options *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Displays the control sheet status of the pipeline steps",
		Example: examples(`status`),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Execute(cmd.Context(), options, cmd.OutOrStdout())
		},
	}

	c.flags(cmd)

	return cmd
}

func (c *Status) Execute(ctx context.Context, options *Options, out io.Writer) error {
	s, err := c.open(ctx, "status", options)
	if err != nil {
		return err
	}

	stages, err := s.config.Pipeline()
	if err != nil {
		return err
	}

	store, err := controlStore(s)
	if err != nil {
		return err
	} else if store == nil {
		return fmt.Errorf("no control sheet configured")
	}

	store.MaxPerCall = transfer.DefaultMaxPerCall

	keys := []status.Key{}
	for _, stage := range stages {
		for _, step := range stage.Steps {
			if step.Key > 0 {
				keys = append(keys, step.Key)
			}
		}
	}

	statuses, err := store.Statuses(ctx, keys)
	if err != nil {
		return err
	}

	printStatus(out, stages, statuses)

	return nil
}

func printStatus(out io.Writer, stages []runner.Stage, statuses map[status.Key]status.Status) {
	fmt.Fprintf(out, "%-12s %-24s %-4s %s\n", "STAGE", "STEP", "ROW", "STATUS")

	for _, stage := range stages {
		for _, step := range stage.Steps {
			if step.Key <= 0 {
				fmt.Fprintf(out, "%-12s %-24s %-4s %s\n", stage.Name, step, "-", "-")
				continue
			}

			fmt.Fprintf(out, "%-12s %-24s %-4d %s\n", stage.Name, step, int(step.Key), statuses[step.Key])
		}
	}
}
