package metric

import (
	"log/slog"

	"github.com/deckhouse/deckhouse/pkg/log"
	metricsstorage "github.com/deckhouse/deckhouse/pkg/metrics-storage"
	"github.com/prometheus/client_golang/prometheus"

	klient "github.com/flant/kube-client/client"
	utils "github.com/flant/news-operator/pkg/utils/labels"
)

// MetricsAdapter lets kube-client report request metrics into the operator storage.
// klient.MetricStorage is deprecated upstream but still required by WithMetricStorage.
//
//nolint:staticcheck
var _ klient.MetricStorage = (*MetricsAdapter)(nil)

type MetricsAdapter struct {
	Storage metricsstorage.Storage
	Logger  *log.Logger
}

func NewMetricsAdapter(storage metricsstorage.Storage, logger *log.Logger) *MetricsAdapter {
	return &MetricsAdapter{Storage: storage, Logger: logger}
}

// RegisterCounter registers a counter with sorted label names. Vectors stay inside the storage,
// so nil is returned: kube-client only calls CounterAdd after registration.
func (a *MetricsAdapter) RegisterCounter(metric string, labels map[string]string) *prometheus.CounterVec {
	if _, err := a.Storage.RegisterCounter(metric, utils.LabelNames(labels)); err != nil {
		a.Logger.Warn("register kube-client counter", slog.String("metric", metric), log.Err(err))
	}
	return nil
}

func (a *MetricsAdapter) CounterAdd(metric string, value float64, labels map[string]string) {
	a.Storage.CounterAdd(metric, value, labels)
}

// RegisterHistogram is the same as RegisterCounter for request latency.
func (a *MetricsAdapter) RegisterHistogram(metric string, labels map[string]string, buckets []float64) *prometheus.HistogramVec {
	if _, err := a.Storage.RegisterHistogram(metric, utils.LabelNames(labels), buckets); err != nil {
		a.Logger.Warn("register kube-client histogram", slog.String("metric", metric), log.Err(err))
	}
	return nil
}

func (a *MetricsAdapter) HistogramObserve(metric string, value float64, labels map[string]string, buckets []float64) {
	a.Storage.HistogramObserve(metric, value, labels, buckets)
}
