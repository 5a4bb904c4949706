package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/metrics/metricsTypes"
	"github.com/stretchr/testify/assert"
)

type recordedMetric struct {
	kind   string
	name   string
	value  float64
	labels []metricsTypes.MetricsLabel
}

type recordingClient struct {
	mu      sync.Mutex
	metrics []recordedMetric
	err     error
}

func (r *recordingClient) record(kind, name string, value float64, labels []metricsTypes.MetricsLabel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = append(r.metrics, recordedMetric{kind: kind, name: name, value: value, labels: labels})
	return r.err
}

func (r *recordingClient) Incr(name string, labels []metricsTypes.MetricsLabel, value float64) error {
	return r.record("incr", name, value, labels)
}

func (r *recordingClient) Gauge(name string, value float64, labels []metricsTypes.MetricsLabel) error {
	return r.record("gauge", name, value, labels)
}

func (r *recordingClient) Timing(name string, value time.Duration, labels []metricsTypes.MetricsLabel) error {
	return r.record("timing", name, float64(value.Milliseconds()), labels)
}

func Test_MetricsSink(t *testing.T) {
	t.Run("Should fan out to every client with default labels first", func(t *testing.T) {
		a := &recordingClient{}
		b := &recordingClient{}
		sink, err := NewMetricsSink(&MetricsSinkConfig{
			DefaultLabels: []metricsTypes.MetricsLabel{{Name: "env", Value: "test"}},
		}, []metricsTypes.IMetricsClient{a, b})
		assert.Nil(t, err)

		assert.Nil(t, sink.Incr(metricsTypes.Metric_Incr_EventProcessed, []metricsTypes.MetricsLabel{{Name: "chainId", Value: "130"}}, 1))
		assert.Nil(t, sink.Timing(metricsTypes.Metric_Timing_EventCommitDuration, 20*time.Millisecond, nil))

		for _, c := range []*recordingClient{a, b} {
			assert.Equal(t, 2, len(c.metrics))
			assert.Equal(t, "env", c.metrics[0].labels[0].Name)
			assert.Equal(t, "chainId", c.metrics[0].labels[1].Name)
			assert.Equal(t, float64(20), c.metrics[1].value)
		}
	})
	t.Run("Should surface client errors", func(t *testing.T) {
		sink, _ := NewMetricsSink(&MetricsSinkConfig{}, []metricsTypes.IMetricsClient{&recordingClient{err: errors.New("boom")}})
		assert.NotNil(t, sink.Gauge(metricsTypes.Metric_Gauge_LookaheadInFlight, 1, nil))
	})
	t.Run("Should accept metrics with no clients", func(t *testing.T) {
		sink := NewNoopMetricsSink()
		assert.Nil(t, sink.Incr(metricsTypes.Metric_Incr_EffectCall, nil, 1))
	})
}
