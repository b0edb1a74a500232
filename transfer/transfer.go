// Package transfer splits large range reads and writes into API sized calls.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/sheetsync/sheetsync/grid"
	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/retry"
)

const (
	DefaultChunkRows  = 4000
	DefaultPause      = 120 * time.Millisecond
	DefaultMaxPerCall = 40
)

// Writer writes a block of rows to an A1 range. Implementations are expected to retry
// transient failures themselves.
type Writer interface {
	Update(ctx context.Context, area string, rows [][]any) error
}

// Reader reads one or more A1 ranges.
type Reader interface {
	Get(ctx context.Context, area string) ([][]any, error)
	BatchGet(ctx context.Context, areas []string) ([][][]any, error)
}

type Options struct {
	ChunkRows  int
	Pause      time.Duration
	MaxPerCall int
}

// Chunks partitions rows into consecutive slices of at most size elements. A size <= 0 yields a
// single chunk.
func Chunks[T any](rows []T, size int) [][]T {
	if len(rows) == 0 {
		return nil
	}

	if size <= 0 || size >= len(rows) {
		return [][]T{rows}
	}

	chunks := make([][]T, 0, (len(rows)+size-1)/size)
	for i := 0; i < len(rows); i += size {
		end := min(i+size, len(rows))
		chunks = append(chunks, rows[i:end])
	}

	return chunks
}

// WriteChunked writes rows starting at the top left corner of start, one Update per chunk. The
// range width comes from start if it is bounded on the right, otherwise from the widest row.
// The first chunk that fails aborts the transfer.
func WriteChunked(ctx context.Context, w Writer, start grid.Range, rows [][]any, opts Options) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	size := opts.ChunkRows
	if size <= 0 {
		size = DefaultChunkRows
	}

	width := start.Width()
	if width == 0 {
		for _, row := range rows {
			width = max(width, len(row))
		}
	}

	area := start.WithWidth(max(width, 1))
	chunks := Chunks(rows, size)
	offset := 0

	for i, chunk := range chunks {
		if i > 0 && opts.Pause > 0 {
			if err := retry.Sleep(ctx, opts.Pause); err != nil {
				return i, err
			}
		}

		target := area.Rows(offset, len(chunk)).String()

		logging.Debugf("writing %v rows to %v (chunk %v/%v)", len(chunk), target, i+1, len(chunks))

		if err := w.Update(ctx, target, chunk); err != nil {
			return i, fmt.Errorf("error writing chunk %v/%v to %v (%w)", i+1, len(chunks), target, err)
		}

		offset += len(chunk)
	}

	return len(chunks), nil
}

// ReadRanges reads many small ranges in batches of at most MaxPerCall. A batch that keeps failing
// with a transient error is retried one range at a time, and a single range that still fails falls
// back to a plain Get. A range that cannot be read at all yields an empty value.
func ReadRanges(ctx context.Context, r Reader, areas []string, opts Options) ([][][]any, error) {
	if len(areas) == 0 {
		return nil, nil
	}

	size := opts.MaxPerCall
	if size <= 0 {
		size = DefaultMaxPerCall
	}

	results := make([][][]any, 0, len(areas))

	for i := 0; i < len(areas); {
		end := min(i+size, len(areas))
		batch := areas[i:end]

		values, err := r.BatchGet(ctx, batch)
		if err == nil {
			for j := range batch {
				if j < len(values) {
					results = append(results, values[j])
				} else {
					results = append(results, nil)
				}
			}

			i = end
			continue
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if retry.Classify(err) == retry.Permanent {
			return nil, err
		}

		if size > 1 {
			logging.Warnf("batch read of %v ranges failed (%v) - retrying one range at a time", len(batch), err)
			size = 1
			continue
		}

		value, err := r.Get(ctx, batch[0])
		if err != nil {
			if retry.Classify(err) == retry.Permanent {
				return nil, err
			}

			logging.Warnf("read of %v failed (%v) - using empty value", batch[0], err)
			value = nil
		}

		results = append(results, value)
		i = end
	}

	return results, nil
}
