// Package config loads the sheetsync configuration in layers: built-in defaults, then a YAML file,
// then SHEETSYNC_ environment variables.
//
// Environment variable names map to configuration keys by dropping the prefix, lowercasing, using
// a double underscore for nesting and a single underscore for a dash, e.g.
//
//	SHEETSYNC_GOOGLE__CALLS_PER_MINUTE=30  ->  google.calls-per-minute
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sheetsync/sheetsync/grid"
	"github.com/sheetsync/sheetsync/gsheets"
	"github.com/sheetsync/sheetsync/logging"
	"github.com/sheetsync/sheetsync/replica"
	"github.com/sheetsync/sheetsync/retry"
	"github.com/sheetsync/sheetsync/runner"
	"github.com/sheetsync/sheetsync/status"
)

const (
	ConfigPathEnvVar = "SHEETSYNC_CONFIG"
	envPrefix        = "SHEETSYNC_"

	DefaultHeaderRows = 1
	DefaultChunkRows  = 4000
	DefaultPause      = 120 * time.Millisecond
)

// DefaultConfigPaths lists the paths searched, in order, when no configuration file is given.
var DefaultConfigPaths = []string{
	"sheetsync.yaml",
	DEFAULT_CONFIG,
}

type Config struct {
	Logging Logging       `koanf:"logging"`
	Google  Google        `koanf:"google"`
	Control Control       `koanf:"control"`
	Stages  []Stage       `koanf:"stages"`
	Jobs    []replica.Job `koanf:"jobs"`
	Fanout  Fanout        `koanf:"fanout"`
	Metrics Metrics       `koanf:"metrics"`
	RunLog  RunLog        `koanf:"runlog"`
}

type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type Google struct {
	Credentials    string  `koanf:"credentials"`
	Workdir        string  `koanf:"workdir"`
	Timezone       string  `koanf:"timezone"`
	CallsPerMinute int     `koanf:"calls-per-minute"`
	Burst          int     `koanf:"burst"`
	Breaker        Breaker `koanf:"breaker"`
	Retry          Retry   `koanf:"retry"`
}

type Breaker struct {
	Failures uint32        `koanf:"failures"`
	Timeout  time.Duration `koanf:"timeout"`
}

type Retry struct {
	MaxAttempts  int           `koanf:"max-attempts"`
	Base         time.Duration `koanf:"base"`
	Cap          time.Duration `koanf:"cap"`
	Jitter       time.Duration `koanf:"jitter"`
	RetryUnknown bool          `koanf:"retry-unknown"`
}

// Control is the worksheet holding one status row per step.
type Control struct {
	Spreadsheet     string        `koanf:"spreadsheet"`
	Sheet           string        `koanf:"sheet"`
	StatusColumn    string        `koanf:"status-column"`
	TimestampColumn string        `koanf:"timestamp-column"`
	Labels          status.Labels `koanf:"labels"`
}

type Stage struct {
	Name          string  `koanf:"name"`
	Mode          string  `koanf:"mode"`
	MaxAttempts   int     `koanf:"max-attempts"`
	Backoff       Backoff `koanf:"backoff"`
	StopOnFailure bool    `koanf:"stop-on-failure"`
	SkipMissing   bool    `koanf:"skip-missing"`
	Stamp         string  `koanf:"stamp"`
	Steps         []Step  `koanf:"steps"`
}

type Backoff struct {
	Base time.Duration `koanf:"base"`
	Cap  time.Duration `koanf:"cap"`
}

// Step is one subprocess. Row is the step's row in the control sheet.
type Step struct {
	ID      string   `koanf:"id"`
	Name    string   `koanf:"name"`
	Command []string `koanf:"command"`
	Dir     string   `koanf:"dir"`
	Env     []string `koanf:"env"`
	Row     int      `koanf:"row"`
}

type Fanout struct {
	MaxAttempts int           `koanf:"max-attempts"`
	Base        time.Duration `koanf:"base"`
	Cap         time.Duration `koanf:"cap"`
	Concurrency int           `koanf:"concurrency"`
	Gap         time.Duration `koanf:"gap"`
}

type Metrics struct {
	Pushgateway string `koanf:"pushgateway"`
	Job         string `koanf:"job"`
}

// RunLog is the optional worksheet that gets a row per command run.
type RunLog struct {
	Spreadsheet string `koanf:"spreadsheet"`
	Range       string `koanf:"range"`
	Retention   int    `koanf:"retention"`
}

func defaultConfig() *Config {
	policy := retry.DefaultPolicy()
	client := gsheets.DefaultConfig()
	fanout := replica.DefaultPolicy()

	return &Config{
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
		Google: Google{
			Credentials:    DEFAULT_CREDENTIALS,
			Workdir:        DEFAULT_WORKDIR,
			Timezone:       "Local",
			CallsPerMinute: client.CallsPerMinute,
			Burst:          client.Burst,
			Breaker: Breaker{
				Failures: client.BreakerFailures,
				Timeout:  client.BreakerTimeout,
			},
			Retry: Retry{
				MaxAttempts: policy.MaxAttempts,
				Base:        policy.Base,
				Cap:         policy.Cap,
				Jitter:      policy.Jitter,
			},
		},
		Control: Control{
			StatusColumn:    "E",
			TimestampColumn: "D",
			Labels:          status.DefaultLabels(),
		},
		Fanout: Fanout{
			MaxAttempts: fanout.MaxAttempts,
			Base:        fanout.Base,
			Cap:         fanout.Cap,
			Concurrency: 1,
			Gap:         600 * time.Millisecond,
		},
		Metrics: Metrics{
			Job: "sheetsync",
		},
		RunLog: RunLog{
			Range:     "Log!A1:F",
			Retention: 30,
		},
	}
}

// Load reads the configuration from path or, if path is empty, from $SHEETSYNC_CONFIG or the
// first of DefaultConfigPaths that exists. A missing default file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults (%w)", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("configuration file %v (%w)", path, err)
	}

	if path != "" {
		logging.Debugf("loading configuration from %v", path)

		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load configuration file %v (%w)", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables (%w)", err)
	}

	cfg := Config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration (%w)", err)
	}

	for i, j := range k.Slices("jobs") {
		if i < len(cfg.Jobs) {
			jobDefaults(j, &cfg.Jobs[i])
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration (%w)", err)
	}

	return &cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// jobDefaults fills in the per job defaults that a structs provider cannot express for list items.
func jobDefaults(k *koanf.Koanf, job *replica.Job) {
	if !k.Exists("source.header-rows") {
		job.Source.HeaderRows = DefaultHeaderRows
	}

	if job.ChunkRows <= 0 {
		job.ChunkRows = DefaultChunkRows
	}

	if !k.Exists("pause") {
		job.Pause = DefaultPause
	}
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	key = strings.ReplaceAll(key, "__", ".")

	return strings.ReplaceAll(key, "_", "-")
}

func (c *Config) Validate() error {
	if c.Google.CallsPerMinute < 0 {
		return fmt.Errorf("google.calls-per-minute must not be negative")
	}

	if _, err := c.Google.Location(); err != nil {
		return err
	}

	stages := map[string]bool{}
	control := ""
	for _, s := range c.Stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stage is missing a name")
		}

		if stages[s.Name] {
			return fmt.Errorf("duplicate stage '%v'", s.Name)
		}

		stages[s.Name] = true

		stage, err := s.Build()
		if err != nil {
			return err
		}

		if control == "" {
			control = usesControlSheet(stage)
		}
	}

	if control != "" {
		if _, err := gsheets.SpreadsheetID(c.Control.Spreadsheet); err != nil {
			return fmt.Errorf("control.spreadsheet is required by %v (%v)", control, err)
		}

		if strings.TrimSpace(c.Control.Sheet) == "" {
			return fmt.Errorf("control.sheet is required by %v", control)
		}
	}

	jobs := map[string]bool{}
	for _, j := range c.Jobs {
		if err := j.Validate(); err != nil {
			return err
		}

		if jobs[j.Name] {
			return fmt.Errorf("duplicate job '%v'", j.Name)
		}

		jobs[j.Name] = true
	}

	if c.RunLog.Spreadsheet != "" {
		if _, err := gsheets.SpreadsheetID(c.RunLog.Spreadsheet); err != nil {
			return fmt.Errorf("runlog.spreadsheet (%v)", err)
		}

		if r, err := grid.ParseRange(c.RunLog.Range); err != nil {
			return fmt.Errorf("runlog.range (%v)", err)
		} else if r.Sheet == "" {
			return fmt.Errorf("runlog.range '%v' has no worksheet", c.RunLog.Range)
		}
	}

	return nil
}

// usesControlSheet describes why the stage needs a control sheet, or returns "" if it does not.
func usesControlSheet(stage runner.Stage) string {
	if stage.Mode == runner.Matrix {
		return fmt.Sprintf("matrix stage '%v'", stage.Name)
	}

	if stage.Stamp != "" {
		return fmt.Sprintf("stage '%v' stamp", stage.Name)
	}

	for _, step := range stage.Steps {
		if step.Key > 0 {
			return fmt.Sprintf("stage '%v' step '%v' row", stage.Name, step.ID)
		}
	}

	return ""
}

// Pipeline returns the named stages in configuration order, or every stage if no names are given.
func (c *Config) Pipeline(names ...string) ([]runner.Stage, error) {
	list := []runner.Stage{}

	for _, s := range c.Stages {
		if len(names) > 0 && !slices.Contains(names, s.Name) {
			continue
		}

		stage, err := s.Build()
		if err != nil {
			return nil, err
		}

		list = append(list, stage)
	}

	for _, name := range names {
		if !slices.ContainsFunc(c.Stages, func(s Stage) bool { return s.Name == name }) {
			return nil, fmt.Errorf("no stage named '%v'", name)
		}
	}

	return list, nil
}

func (c *Config) Job(name string) (replica.Job, error) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, nil
		}
	}

	return replica.Job{}, fmt.Errorf("no job named '%v'", name)
}

func (l Logging) Config(debug bool) logging.Config {
	cfg := logging.DefaultConfig()

	if l.Level != "" {
		cfg.Level = l.Level
	}

	if l.Format != "" {
		cfg.Format = l.Format
	}

	if debug {
		cfg.Level = "debug"
	}

	return cfg
}

func (g Google) Client() gsheets.Config {
	cfg := gsheets.DefaultConfig()

	cfg.CallsPerMinute = g.CallsPerMinute
	cfg.Burst = g.Burst
	cfg.BreakerFailures = g.Breaker.Failures
	cfg.BreakerTimeout = g.Breaker.Timeout

	if g.Retry.MaxAttempts > 0 {
		cfg.Policy.MaxAttempts = g.Retry.MaxAttempts
	}

	if g.Retry.Base > 0 {
		cfg.Policy.Base = g.Retry.Base
	}

	if g.Retry.Cap > 0 {
		cfg.Policy.Cap = g.Retry.Cap
	}

	cfg.Policy.Jitter = g.Retry.Jitter
	cfg.Policy.RetryUnknown = g.Retry.RetryUnknown

	return cfg
}

func (g Google) Location() (*time.Location, error) {
	if g.Timezone == "" {
		return time.Local, nil
	}

	location, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return nil, fmt.Errorf("google.timezone (%w)", err)
	}

	return location, nil
}

func (s Stage) Build() (runner.Stage, error) {
	mode, err := runner.ParseMode(s.Mode)
	if err != nil {
		return runner.Stage{}, fmt.Errorf("stage '%v': %w", s.Name, err)
	}

	stage := runner.Stage{
		Name:          s.Name,
		Mode:          mode,
		MaxAttempts:   s.MaxAttempts,
		StopOnFailure: s.StopOnFailure,
		SkipMissing:   s.SkipMissing,
		Stamp:         s.Stamp,
		Backoff: retry.Policy{
			Base:   5 * time.Second,
			Cap:    60 * time.Second,
			Spread: 0.2,
			Floor:  time.Second,
		},
	}

	if s.Backoff.Base > 0 {
		stage.Backoff.Base = s.Backoff.Base
	}

	if s.Backoff.Cap > 0 {
		stage.Backoff.Cap = s.Backoff.Cap
	}

	if len(s.Steps) == 0 {
		return runner.Stage{}, fmt.Errorf("stage '%v' has no steps", s.Name)
	}

	ids := map[string]bool{}
	rows := map[int]string{}
	for i, step := range s.Steps {
		id := step.ID
		if id == "" {
			id = fmt.Sprintf("%v-%v", s.Name, i+1)
		}

		if ids[id] {
			return runner.Stage{}, fmt.Errorf("stage '%v': duplicate step '%v'", s.Name, id)
		}

		if len(step.Command) == 0 {
			return runner.Stage{}, fmt.Errorf("stage '%v': step '%v' has no command", s.Name, id)
		}

		if mode == runner.Matrix {
			if step.Row <= 0 {
				return runner.Stage{}, fmt.Errorf("stage '%v': step '%v' requires a control sheet row", s.Name, id)
			}

			if other, ok := rows[step.Row]; ok {
				return runner.Stage{}, fmt.Errorf("stage '%v': steps '%v' and '%v' share control sheet row %v", s.Name, other, id, step.Row)
			}
		}

		ids[id] = true
		rows[step.Row] = id

		stage.Steps = append(stage.Steps, runner.Step{
			ID:      id,
			Name:    step.Name,
			Command: step.Command,
			Dir:     step.Dir,
			Env:     step.Env,
			Key:     status.Key(step.Row),
		})
	}

	return stage, nil
}

func (f Fanout) Fanout() replica.Fanout {
	policy := replica.DefaultPolicy()

	if f.MaxAttempts > 0 {
		policy.MaxAttempts = f.MaxAttempts
	}

	if f.Base > 0 {
		policy.Base = f.Base
	}

	if f.Cap > 0 {
		policy.Cap = f.Cap
	}

	return replica.Fanout{
		Policy:      policy,
		Concurrency: max(f.Concurrency, 1),
		Gap:         f.Gap,
	}
}
