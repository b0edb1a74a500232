package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAPICall(t *testing.T) {
	before := testutil.ToFloat64(apiCallsTotal.WithLabelValues("values.get", "ok"))

	RecordAPICall("values.get", true)
	RecordAPICall("values.get", true)

	after := testutil.ToFloat64(apiCallsTotal.WithLabelValues("values.get", "ok"))
	assert.Equal(t, before+2, after)
}

func TestRecordAPIRetry(t *testing.T) {
	before503 := testutil.ToFloat64(apiRetriesTotal.WithLabelValues("503"))
	beforeOther := testutil.ToFloat64(apiRetriesTotal.WithLabelValues("other"))

	RecordAPIRetry(503)
	RecordAPIRetry(0)

	assert.Equal(t, before503+1, testutil.ToFloat64(apiRetriesTotal.WithLabelValues("503")))
	assert.Equal(t, beforeOther+1, testutil.ToFloat64(apiRetriesTotal.WithLabelValues("other")))
}

func TestRecordStepAttempt(t *testing.T) {
	before := testutil.ToFloat64(stepAttemptsTotal.WithLabelValues("update", "failed"))

	RecordStepAttempt("update", false, 3*time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(stepAttemptsTotal.WithLabelValues("update", "failed")))
}

func TestRecordRun(t *testing.T) {
	at := time.Date(2025, time.March, 1, 12, 30, 0, 0, time.UTC)

	RecordRun("replicate", true, at)

	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(lastRun.WithLabelValues("replicate", "ok")))
}

func TestRecordDestinationAttempt(t *testing.T) {
	before := testutil.ToFloat64(destinationAttemptsTotal.WithLabelValues("carteira", "failed"))

	RecordDestinationAttempt("carteira", false)

	assert.Equal(t, before+1, testutil.ToFloat64(destinationAttemptsTotal.WithLabelValues("carteira", "failed")))
}

// Labels named like the Pushgateway grouping keys make the whole push fail.
func TestNoGroupingLabels(t *testing.T) {
	RecordAPICall("values.get", true)
	RecordAPIRetry(429)
	RecordStepAttempt("update", true, time.Second)
	RecordDestinationAttempt("carteira", true)
	RecordRun("replicate", true, time.Now())

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), "sheetsync_") {
			continue
		}

		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "job" || label.GetName() == "run" {
					t.Errorf("Invalid label on %v\n   expected: no '%v' label\n   got:      %v", family.GetName(), label.GetName(), label)
				}
			}
		}
	}
}

func TestPush(t *testing.T) {
	var path atomic.Value
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	RecordDestinationAttempt("carteira", true)

	err := Push(context.Background(), srv.URL, "sheetsync", "b3c1")
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, strings.HasPrefix(path.Load().(string), "/metrics/job/sheetsync/run/b3c1"))
}

func TestPushWithUnreachableGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Push(context.Background(), srv.URL, "sheetsync", "b3c1")
	assert.Error(t, err)
}
