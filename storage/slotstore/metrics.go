package slotstore

import (
	"errors"

	"github.com/forever-free1/SlotKV/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 收集 Store 的 Prometheus 指标
// nil 的 *Metrics 可以安全调用所有方法
type Metrics struct {
	operations   *prometheus.CounterVec
	bytesWritten prometheus.Counter
	relocations  prometheus.Counter
	coalesced    prometheus.Counter
	records      prometheus.Gauge
	regionBase   prometheus.Gauge
}

// NewMetrics 创建指标并注册到 reg
// reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slotkv",
			Name:      "operations_total",
			Help:      "Store operations by type and result.",
		}, []string{"op", "result"}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: "slotkv",
			Name:      "bytes_written_total",
			Help:      "Payload bytes written to the data file.",
		}),
		relocations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "slotkv",
			Name:      "relocations_total",
			Help:      "Updates that outgrew their slot and moved to end of file.",
		}),
		coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "slotkv",
			Name:      "coalesced_bytes_total",
			Help:      "Slot bytes released by deletes into a neighbour or the front of the data region.",
		}),
		records: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "slotkv",
			Name:      "records",
			Help:      "Live records in the index.",
		}),
		regionBase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "slotkv",
			Name:      "data_region_base_bytes",
			Help:      "Offset where the live data region begins.",
		}),
	}
}

// resultLabel 把错误归类为指标标签
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrKeyNotFound):
		return "not_found"
	case errors.Is(err, storage.ErrDuplicateKey):
		return "duplicate"
	case errors.Is(err, storage.ErrCodec):
		return "codec_error"
	default:
		return "error"
	}
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, resultLabel(err)).Inc()
}

func (m *Metrics) written(n int) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(n))
}

func (m *Metrics) relocated() {
	if m == nil {
		return
	}
	m.relocations.Inc()
}

func (m *Metrics) released(n int64) {
	if m == nil {
		return
	}
	m.coalesced.Add(float64(n))
}

func (m *Metrics) state(records int, base int64) {
	if m == nil {
		return
	}
	m.records.Set(float64(records))
	m.regionBase.Set(float64(base))
}
