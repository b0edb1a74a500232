// Package metrics holds the Prometheus collectors for API calls, step runs and replicas, and
// pushes them to a Pushgateway at the end of a batch run.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	apiCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetsync_api_calls_total",
		Help: "Total number of Google API calls by operation and outcome",
	}, []string{"op", "outcome"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetsync_api_retries_total",
		Help: "Total number of retried Google API calls by HTTP status code",
	}, []string{"code"})

	stepAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetsync_step_attempts_total",
		Help: "Total number of step executions by stage and outcome",
	}, []string{"stage", "outcome"})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sheetsync_step_duration_seconds",
		Help:    "Step execution time in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1h
	}, []string{"stage"})

	destinationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sheetsync_destination_attempts_total",
		Help: "Total number of replica destination attempts by replication job and outcome",
	}, []string{"replica", "outcome"})

	lastRun = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sheetsync_last_run_timestamp_seconds",
		Help: "Completion time of the last run by command and outcome",
	}, []string{"command", "outcome"})
)

func outcome(ok bool) string {
	if ok {
		return "ok"
	}

	return "failed"
}

func RecordAPICall(op string, ok bool) {
	apiCallsTotal.WithLabelValues(op, outcome(ok)).Inc()
}

// RecordAPIRetry counts a retried call. A code of 0 is reported as 'other'.
func RecordAPIRetry(code int) {
	label := "other"
	if code > 0 {
		label = strconv.Itoa(code)
	}

	apiRetriesTotal.WithLabelValues(label).Inc()
}

func RecordStepAttempt(stage string, ok bool, elapsed time.Duration) {
	stepAttemptsTotal.WithLabelValues(stage, outcome(ok)).Inc()
	stepDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordDestinationAttempt counts one destination write of a replication job. The job name is
// exported as the 'replica' label since the Pushgateway reserves 'job' for grouping.
func RecordDestinationAttempt(replica string, ok bool) {
	destinationAttemptsTotal.WithLabelValues(replica, outcome(ok)).Inc()
}

func RecordRun(command string, ok bool, at time.Time) {
	lastRun.WithLabelValues(command, outcome(ok)).Set(float64(at.Unix()))
}

// Push sends every registered collector to the Pushgateway at url, grouped by run ID.
func Push(ctx context.Context, url, job, runID string) error {
	pusher := push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("run", runID)

	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("error pushing metrics to %v (%w)", url, err)
	}

	return nil
}
