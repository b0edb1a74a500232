package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sheetsync/sheetsync/grid"
	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/table"
	"github.com/sheetsync/sheetsync/transfer"
)

var PutCmd = Put{
	chunkRows: transfer.DefaultChunkRows,
}

// Put uploads a TSV file to a worksheet range, the header row first and then the records in chunks.
type Put struct {
	command
	url       string
	area      string
	file      string
	chunkRows int
}

func (c *Put) Command(options *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Uploads a TSV file to a Google Sheets worksheet",
		Example: examples(
			`--debug put --url "https://docs.google.com/spreadsheets/d/1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms" --range "Carteira!A1:S" --file "carteira.tsv"`,
		),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Execute(cmd.Context(), options)
		},
	}

	c.flags(cmd)

	cmd.Flags().StringVar(&c.url, "url", c.url, "Spreadsheet URL")
	cmd.Flags().StringVar(&c.area, "range", c.area, "Spreadsheet range e.g. 'Carteira!A1:S'")
	cmd.Flags().StringVar(&c.file, "file", c.file, "TSV file to upload")
	cmd.Flags().IntVar(&c.chunkRows, "chunk-rows", c.chunkRows, "Maximum number of rows per update")

	return cmd
}

func (c *Put) Execute(ctx context.Context, options *Options) error {
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

	area, err := grid.ParseRange(c.area)
	if err != nil {
		return err
	} else if area.Sheet == "" {
		return fmt.Errorf("range '%v' does not name a worksheet", c.area)
	}

	f, err := os.Open(c.file)
	if err != nil {
		return err
	}

	defer f.Close()

	t, err := table.ReadTSV(f)
	if err != nil {
		return fmt.Errorf("invalid TSV file (%w)", err)
	}

	s, err := c.open(ctx, "put", options)
	if err != nil {
		return err
	}

	logging.Debugf("Spreadsheet - ID:%s  range:%s", spreadsheet, area)

	return s.close(ctx, c.area, c.file, c.put(ctx, s.client, spreadsheet, area, t))
}

func (c *Put) put(ctx context.Context, client *gsheets.Client, spreadsheet string, area grid.Range, t *table.Table) error {
	header, rows := t.Values()

	width := max(len(header), area.Width())
	for _, row := range rows {
		width = max(width, len(row))
	}

	if _, err := client.EnsureSheet(ctx, spreadsheet, area.Sheet, area.Top+len(rows), area.Left+width-1); err != nil {
		return err
	}

	if err := client.Update(ctx, spreadsheet, area.Rows(0, 1).WithWidth(width).String(), [][]any{header}, false); err != nil {
		return fmt.Errorf("error writing header row (%w)", err)
	}

	opts := transfer.Options{
		ChunkRows: c.chunkRows,
		Pause:     transfer.DefaultPause,
	}

	body := area.Rows(1, len(rows)).WithWidth(width)
	if _, err := transfer.WriteChunked(ctx, client.Values(spreadsheet), body, rows, opts); err != nil {
		return err
	}

	logging.Infof("Uploaded TSV file %v (%v rows) to Google Sheets %v", c.file, len(rows), area)

	return nil
}
