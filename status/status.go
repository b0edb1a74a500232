// Package status records the outcome of each step in a control sheet.
package status

import (
	"context"
	"strings"
	"time"
)

type Status int

const (
	Pending Status = iota
	Running
	OK
	Failed
)

// TimestampLayout is the layout used for status and stamp cells (dd/mm/yyyy HH:MM:SS).
const TimestampLayout = "02/01/2006 15:04:05"

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case OK:
		return "ok"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Labels are the cell values written for each status.
type Labels struct {
	Running string `koanf:"running"`
	OK      string `koanf:"ok"`
	Failed  string `koanf:"failed"`
}

func DefaultLabels() Labels {
	return Labels{
		Running: "Updating",
		OK:      "OK",
		Failed:  "Failed",
	}
}

func (l Labels) Label(s Status) string {
	switch s {
	case Running:
		return l.Running
	case OK:
		return l.OK
	case Failed:
		return l.Failed
	default:
		return ""
	}
}

// Parse maps a cell value back to a status. Only the OK label is OK; an empty cell is Pending and
// anything unrecognised is Failed.
func (l Labels) Parse(v string) Status {
	v = strings.TrimSpace(v)

	switch {
	case v == "":
		return Pending

	case strings.EqualFold(v, strings.TrimSpace(l.OK)):
		return OK

	case strings.EqualFold(v, strings.TrimSpace(l.Running)):
		return Running

	default:
		return Failed
	}
}

// Key identifies a step in a store, the step's row in the control sheet.
type Key int

type Store interface {
	Set(ctx context.Context, key Key, s Status) error
	Statuses(ctx context.Context, keys []Key) (map[Key]Status, error)
	Stamp(ctx context.Context, cell string, t time.Time) error
}
