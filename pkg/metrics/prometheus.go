// Package metrics exports the engine's observer events as Prometheus
// metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/stepflow/pkg/api"
)

// PrometheusObserver is an api.Observer that records step transitions,
// out-of-sync rejections, resyncs, and errors. All metrics are namespaced
// "stepflow".
type PrometheusObserver struct {
	stepsAdvanced      *prometheus.CounterVec
	outOfSync          *prometheus.CounterVec
	resyncs            prometheus.Counter
	errors             prometheus.Counter
	transitionDuration prometheus.Histogram
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the engine metrics with registry and
// returns the observer. A nil registry uses the default registerer.
func NewPrometheusObserver(registry prometheus.Registerer) *PrometheusObserver {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusObserver{
		stepsAdvanced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "steps_advanced_total",
			Help:      "Completed step transitions, labeled by origin and destination step",
		}, []string{"from", "to"}),
		outOfSync: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "out_of_sync_total",
			Help:      "Submissions rejected because the transition token was stale",
		}, []string{"expected"}),
		resyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "resyncs_total",
			Help:      "Authoritative state snapshots served to recovering clients",
		}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "stepflow",
			Name:      "errors_total",
			Help:      "Engine-side failures while processing submissions",
		}),
		transitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stepflow",
			Name:      "transition_duration_seconds",
			Help:      "End-to-end duration of a successful step transition",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (o *PrometheusObserver) OnStepAdvanced(ctx context.Context, sess *api.Session, from, to api.StepID, d time.Duration) {
	o.stepsAdvanced.WithLabelValues(string(from), string(to)).Inc()
	o.transitionDuration.Observe(d.Seconds())
}

func (o *PrometheusObserver) OnOutOfSync(ctx context.Context, sess *api.Session, received api.SubmittedInstance) {
	o.outOfSync.WithLabelValues(string(sess.CurrentStep)).Inc()
}

func (o *PrometheusObserver) OnResync(ctx context.Context, sess *api.Session) {
	o.resyncs.Inc()
}

func (o *PrometheusObserver) OnError(ctx context.Context, userID string, err error) {
	o.errors.Inc()
}
