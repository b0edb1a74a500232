package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/sheetsync/sheetsync/config"
	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/metrics"
	"github.com/sheetsync/sheetsync/runlog"
)

const RunIDEnvVar = "SHEETSYNC_RUN_ID"

// session is everything a Google Sheets command needs: the configuration, an authorised client and
// the run ID that ties together the logs, metrics and run log rows of one pipeline run.
type session struct {
	name     string
	config   *config.Config
	client   *gsheets.Client
	workdir  string
	location *time.Location
	runID    string
	started  time.Time
}

func (c *command) open(ctx context.Context, name string, options *Options) (*session, error) {
	cfg, err := config.Load(options.Config)
	if err != nil {
		return nil, err
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

	location, err := cfg.Google.Location()
	if err != nil {
		return nil, err
	}

	runID := os.Getenv(RunIDEnvVar)
	if runID == "" {
		runID = uuid.NewString()
	}

	logging.Debugf("%v: run %v, workdir %v, credentials %v", name, runID, workdir, credentials)

	tokens := gsheets.TokenFile(workdir, credentials)
	httpClient, err := gsheets.Authorize(ctx, credentials, tokens, gsheets.SHEETS, gsheets.DRIVE)
	if err != nil {
		return nil, fmt.Errorf("authentication/authorization error (%w)", err)
	}

	client, err := gsheets.New(ctx, cfg.Google.Client(), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create new Sheets client (%w)", err)
	}

	return &session{
		name:     name,
		config:   cfg,
		client:   client,
		workdir:  workdir,
		location: location,
		runID:    runID,
		started:  time.Now(),
	}, nil
}

// close records the outcome of the command in the metrics and the run log and returns err
// unchanged. Failures to record are only logged.
func (s *session) close(ctx context.Context, target, detail string, err error) error {
	outcome := "OK"
	if err != nil {
		outcome = "FAILED"
		detail = err.Error()
	}

	metrics.RecordRun(s.name, err == nil, time.Now())

	if cfg := s.config.RunLog; cfg.Spreadsheet != "" {
		id, _ := gsheets.SpreadsheetID(cfg.Spreadsheet)
		log := runlog.Log{
			Sheets:      s.client,
			Spreadsheet: id,
			Range:       cfg.Range,
			Retention:   cfg.Retention,
			Location:    s.location,
		}

		entry := runlog.Entry{
			Timestamp: s.started,
			RunID:     s.runID,
			Command:   s.name,
			Target:    target,
			Outcome:   outcome,
			Detail:    detail,
		}

		if err := log.Append(ctx, entry); err != nil {
			logging.Warnf("%v", err)
		} else if _, err := log.Prune(ctx, time.Now()); err != nil {
			logging.Warnf("error pruning log sheet (%v)", err)
		}
	}

	if url := s.config.Metrics.Pushgateway; url != "" {
		if err := metrics.Push(ctx, url, s.config.Metrics.Job, s.runID); err != nil {
			logging.Warnf("%v", err)
		}
	}

	return err
}
