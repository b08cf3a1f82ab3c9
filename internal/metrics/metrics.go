// Package metrics provides Prometheus metrics for transforms and encodes.
package metrics

import (
	"time"

	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesTransformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaxform",
		Subsystem: "transform",
		Name:      "frames_total",
		Help:      "Frames passed through the transform engine",
	}, []string{"operation"})

	transformSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaxform",
		Subsystem: "transform",
		Name:      "frame_seconds",
		Help:      "Time spent transforming one frame",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"operation"})

	encodeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaxform",
		Subsystem: "encoder",
		Name:      "duration_seconds",
		Help:      "Wall time of one video encode",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"mode"})

	jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaxform",
		Name:      "jobs_total",
		Help:      "Finished jobs by media kind and outcome",
	}, []string{"media", "result"})
)

// ObserveFrame records one transformed frame.
func ObserveFrame(operation string, d time.Duration) {
	framesTransformed.WithLabelValues(operation).Inc()
	transformSeconds.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveEncode records one finished encode.
func ObserveEncode(mode string, d time.Duration) {
	encodeSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

// JobFinished counts a job under the error's kind, or "ok".
func JobFinished(media types.MediaKind, err error) {
	result := "ok"
	if err != nil {
		result = types.KindOf(err)
	}
	jobs.WithLabelValues(string(media), result).Inc()
}

// WriteTextfile dumps the default registry in the node exporter textfile
// format.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return errors.Wrapf(err, "writing metrics to %s", path)
	}
	return nil
}
