package metricsTypes

import "time"

type IMetricsClient interface {
	Incr(name string, labels []MetricsLabel, value float64) error
	Gauge(name string, value float64, labels []MetricsLabel) error
	Timing(name string, value time.Duration, labels []MetricsLabel) error
}

type MetricsLabel struct {
	Name  string
	Value string
}

type MetricsType string

var (
	MetricsType_Incr   MetricsType = "incr"
	MetricsType_Gauge  MetricsType = "gauge"
	MetricsType_Timing MetricsType = "timing"
)

type MetricsTypeConfig struct {
	Name   string
	Labels []string
}

var (
	Metric_Incr_EventProcessed   = "eventProcessed"
	Metric_Incr_EventRolledBack  = "eventRolledBack"
	Metric_Incr_EventFailed      = "eventFailed"
	Metric_Incr_ReorgHandled     = "reorgHandled"
	Metric_Incr_EffectCall       = "effectCall"
	Metric_Incr_EffectCacheHit   = "effectCacheHit"
	Metric_Incr_EffectInvocation = "effectInvocation"

	Metric_Gauge_LookaheadInFlight  = "lookaheadInFlight"
	Metric_Gauge_LastCommittedBlock = "lastCommittedBlock"

	Metric_Timing_EventLoadDuration   = "event.load.duration"
	Metric_Timing_EventHandleDuration = "event.handle.duration"
	Metric_Timing_EventCommitDuration = "event.commit.duration"
)

var MetricTypes = map[MetricsType][]MetricsTypeConfig{
	MetricsType_Incr: {
		MetricsTypeConfig{
			Name:   Metric_Incr_EventProcessed,
			Labels: []string{"chainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EventRolledBack,
			Labels: []string{"chainId", "reason"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EventFailed,
			Labels: []string{"chainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_ReorgHandled,
			Labels: []string{"chainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EffectCall,
			Labels: []string{"effectId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EffectCacheHit,
			Labels: []string{"effectId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Incr_EffectInvocation,
			Labels: []string{"effectId", "status"},
		},
	},
	MetricsType_Gauge: {
		MetricsTypeConfig{
			Name:   Metric_Gauge_LookaheadInFlight,
			Labels: []string{},
		},
		MetricsTypeConfig{
			Name:   Metric_Gauge_LastCommittedBlock,
			Labels: []string{"chainId"},
		},
	},
	MetricsType_Timing: {
		MetricsTypeConfig{
			Name:   Metric_Timing_EventLoadDuration,
			Labels: []string{"chainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_EventHandleDuration,
			Labels: []string{"chainId"},
		},
		MetricsTypeConfig{
			Name:   Metric_Timing_EventCommitDuration,
			Labels: []string{"chainId"},
		},
	},
}
