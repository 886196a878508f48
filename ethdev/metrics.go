package ethdev

import (
	"github.com/rcrowley/go-metrics"
	"github.com/slackhq/ethdma/dma"
)

// Stats is a snapshot of the device counters.
type Stats struct {
	RxFrames uint64
	RxBytes  uint64
	// RxDropped counts malformed frames the device skipped.
	RxDropped uint64
	TxFrames  uint64
	TxBytes   uint64
	// TxFull counts transmit attempts that found the ring full.
	TxFull uint64
	// TxDiscarded counts transmit buffers given back without sending.
	TxDiscarded uint64
	Interrupts  uint64
}

type deviceMetrics struct {
	rxFrames    metrics.Counter
	rxBytes     metrics.Counter
	rxDropped   metrics.Counter
	txFrames    metrics.Counter
	txBytes     metrics.Counter
	txFull      metrics.Counter
	txDiscarded metrics.Counter
	interrupts  metrics.Counter
}

func newDeviceMetrics(r metrics.Registry) *deviceMetrics {
	if r == nil {
		r = metrics.DefaultRegistry
	}
	return &deviceMetrics{
		rxFrames:    metrics.GetOrRegisterCounter("ethdev.rx.frames", r),
		rxBytes:     metrics.GetOrRegisterCounter("ethdev.rx.bytes", r),
		rxDropped:   metrics.GetOrRegisterCounter("ethdev.rx.dropped", r),
		txFrames:    metrics.GetOrRegisterCounter("ethdev.tx.frames", r),
		txBytes:     metrics.GetOrRegisterCounter("ethdev.tx.bytes", r),
		txFull:      metrics.GetOrRegisterCounter("ethdev.tx.would_block", r),
		txDiscarded: metrics.GetOrRegisterCounter("ethdev.tx.discarded", r),
		interrupts:  metrics.GetOrRegisterCounter("ethdev.interrupts", r),
	}
}

func (m *deviceMetrics) snapshot(rx *dma.RxRing) Stats {
	return Stats{
		RxFrames:    uint64(m.rxFrames.Count()),
		RxBytes:     uint64(m.rxBytes.Count()),
		RxDropped:   rx.Dropped(),
		TxFrames:    uint64(m.txFrames.Count()),
		TxBytes:     uint64(m.txBytes.Count()),
		TxFull:      uint64(m.txFull.Count()),
		TxDiscarded: uint64(m.txDiscarded.Count()),
		Interrupts:  uint64(m.interrupts.Count()),
	}
}
