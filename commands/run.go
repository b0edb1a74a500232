package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheetsync/sheetsync/config"
	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/runner"
	"github.com/sheetsync/sheetsync/status"
)

var RunCmd = Run{}

// Run executes the configured pipeline stages, tracking every step in the control sheet.
type Run struct {
	command
	stages []string
}

func (c *Run) Command(options *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the configured pipeline stages",
		Long: "Runs each stage's steps as child processes. Matrix stages record every step's status in the control sheet " +
			"and re-run the steps that did not finish OK, up to the stage's attempt limit. A stage that fails stops the pipeline.",
		Example: examples(
			`run`,
			`run --stage replicate`,
		),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Execute(cmd.Context(), options)
		},
	}

	c.flags(cmd)

	cmd.Flags().StringSliceVar(&c.stages, "stage", c.stages, "Runs only the named stage(s)")

	return cmd
}

func (c *Run) Execute(ctx context.Context, options *Options) error {
	s, err := c.open(ctx, "run", options)
	if err != nil {
		return err
	}

	stages, err := s.config.Pipeline(c.stages...)
	if err != nil {
		return err
	}

	store, err := controlStore(s)
	if err != nil {
		return err
	}

	env := []string{}
	if options.Config != "" {
		env = append(env, config.ConfigPathEnvVar+"="+options.Config)
	}

	r := runner.Runner{
		Executor: &runner.ProcessExecutor{
			RunID: s.runID,
			Env:   env,
		},
	}

	if store != nil {
		r.Store = store
	}

	reports, err := r.Run(ctx, stages)

	for _, report := range reports {
		for _, result := range report.Results {
			logging.Infof("%-12v %-24v %-8v attempts:%v", report.Stage, result.Step, result.Status, result.Attempts)
		}
	}

	detail := fmt.Sprintf("%v of %v stages completed", completed(reports), len(stages))

	return s.close(ctx, strings.Join(names(stages), ","), detail, err)
}

// controlStore returns the control sheet status store, or nil if no control sheet is configured.
func controlStore(s *session) (*status.SheetStore, error) {
	control := s.config.Control
	if control.Spreadsheet == "" {
		return nil, nil
	}

	id, err := gsheets.SpreadsheetID(control.Spreadsheet)
	if err != nil {
		return nil, err
	}

	store, err := status.NewSheetStore(s.client.Values(id), control.Sheet, control.StatusColumn, control.TimestampColumn, control.Labels)
	if err != nil {
		return nil, err
	}

	store.Location = s.location

	return store, nil
}

func completed(reports []runner.Report) int {
	count := 0
	for _, report := range reports {
		if report.OK() {
			count++
		}
	}

	return count
}

func names(stages []runner.Stage) []string {
	list := []string{}
	for _, stage := range stages {
		list = append(list, stage.Name)
	}

	return list
}
