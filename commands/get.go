package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/table"
)

var GetCmd = Get{
	area: "",
	file: time.Now().Format("2006-01-02T150405.tsv"),
}

// Get downloads a worksheet range to a TSV file.
type Get struct {
	command
	url  string
	area string
	file string
}

func (c *Get) Command(options *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Downloads a Google Sheets worksheet range to a TSV file",
		Example: examples(
			`--debug get --url "https://docs.google.com/spreadsheets/d/1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms" --range "Carteira!A1:S" --file "carteira.tsv"`,
		),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Execute(cmd.Context(), options)
		},
	}

	c.flags(cmd)

	cmd.Flags().StringVar(&c.url, "url", c.url, "Spreadsheet URL")
	cmd.Flags().StringVar(&c.area, "range", c.area, "Spreadsheet range e.g. 'Carteira!A1:S'")
	cmd.Flags().StringVar(&c.file, "file", c.file, "TSV file name. Defaults to '<yyyy-mm-ddTHHmmss>.tsv'")

	return cmd
}

func (c *Get) Execute(ctx context.Context, options *Options) error {
	// ... check parameters
	if strings.TrimSpace(c.url) == "" {
		return fmt.Errorf("--url is a required option")
	}

	if strings.TrimSpace(c.area) == "" {
		return fmt.Errorf("--range is a required option")
	}

	if strings.TrimSpace(c.file) == "" {
		return fmt.Errorf("--file is a required option")
	}

	spreadsheet, err := gsheets.SpreadsheetID(c.url)
	if err != nil {
		return err
	}

	s, err := c.open(ctx, "get", options)
	if err != nil {
		return err
	}

	logging.Debugf("Spreadsheet - ID:%s  range:%s", spreadsheet, c.area)

	return s.close(ctx, c.area, c.file, c.get(ctx, s.client, spreadsheet))
}

func (c *Get) get(ctx context.Context, client *gsheets.Client, spreadsheet string) error {
	values, err := client.Get(ctx, spreadsheet, c.area)
	if err != nil {
		return fmt.Errorf("unable to retrieve data from sheet (%w)", err)
	}

	if len(values) == 0 {
		return fmt.Errorf("no data in spreadsheet/range")
	}

	t, err := table.MakeTable(values)
	if err != nil {
		return fmt.Errorf("error creating TSV file (%w)", err)
	}

	if err := save(c.file, t); err != nil {
		return err
	}

	logging.Infof("Retrieved %v rows to file %s", len(t.Records), c.file)

	return nil
}

// save writes the table to a temporary file alongside the target and renames it into place.
func save(file string, t *table.Table) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0770); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sheetsync-*.tsv")
	if err != nil {
		return err
	}

	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := t.WriteTSV(tmp); err != nil {
		return fmt.Errorf("error creating TSV file (%w)", err)
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), file)
}
