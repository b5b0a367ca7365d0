// Bridge-specific metrics definitions.
//
// Defines the counters and gauges exported for the SPI link between the
// host and the firmware: transfer outcomes, resync/reset events, and
// per-channel queue depth.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"
)

// BridgeMetrics holds all motionbridge metrics.
type BridgeMetrics struct {
	// Transfer metrics
	TransfersTotal      *Counter
	TransferLatency      *Histogram
	HeaderRetries        *Counter
	PayloadRetries       *Counter
	ReadyTimeouts        *Counter
	PeerResets           *Counter
	FatalTransfers       *Counter
	SequenceNumber       *Gauge
	TxBytesTotal         *Counter
	RxBytesTotal         *Counter

	// Channel metrics
	ChannelPendingDepth  *Gauge
	ChannelFlushWaiters  *Gauge
	ChannelLockWaiters   *Gauge
	ChannelFrameDepth    *Gauge
	ChannelAborts        *Counter
	CodesPushed          *Counter
	CodesReplied         *Counter
	CodesCancelled       *Counter

	// Processor budget metrics
	BudgetBytesUsed      *Histogram
	PacketsEncodedTotal  *Counter
	PacketsDecodedTotal  *Counter
	UnknownPacketsTotal  *Counter

	// System metrics
	HostUptime    *Counter
	GoGoroutines  *Gauge
	GoMemoryHeap  *Gauge
	GoGCCycles    *Counter

	startTime time.Time
	registry  *Registry
	mu        sync.RWMutex
}

// NewBridgeMetrics creates and registers all motionbridge metrics.
// Construct exactly once, from corectx, and pass the instance down —
// there is no package-level singleton (see DESIGN.md, §9 design note).
func NewBridgeMetrics() *BridgeMetrics {
	bm := &BridgeMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	bm.TransfersTotal = NewCounter("motionbridge_transfers_total",
		"Total SPI transfer attempts by outcome")
	bm.TransferLatency = NewHistogram("motionbridge_transfer_seconds",
		"Wall-clock time for a full four-step transfer", DefaultBuckets())
	bm.HeaderRetries = NewCounter("motionbridge_header_retries_total",
		"Header exchange retries due to a non-Success response code")
	bm.PayloadRetries = NewCounter("motionbridge_payload_retries_total",
		"Payload-only retries due to a non-Success response code")
	bm.ReadyTimeouts = NewCounter("motionbridge_ready_timeouts_total",
		"Times the transferReady GPIO line failed to assert before timeout")
	bm.PeerResets = NewCounter("motionbridge_peer_resets_total",
		"Firmware resets detected from sequence/version mismatch")
	bm.FatalTransfers = NewCounter("motionbridge_fatal_transfers_total",
		"Transfers that exhausted retries and were declared fatal")
	bm.SequenceNumber = NewGauge("motionbridge_sequence_number",
		"Last accepted rx sequence number")
	bm.TxBytesTotal = NewCounter("motionbridge_tx_bytes_total",
		"Total payload bytes sent to the firmware")
	bm.RxBytesTotal = NewCounter("motionbridge_rx_bytes_total",
		"Total payload bytes received from the firmware")

	bm.ChannelPendingDepth = NewGauge("motionbridge_channel_pending_depth",
		"Codes queued but not yet handed to the firmware, per channel")
	bm.ChannelFlushWaiters = NewGauge("motionbridge_channel_flush_waiters",
		"Outstanding flush waiters, per channel")
	bm.ChannelLockWaiters = NewGauge("motionbridge_channel_lock_waiters",
		"Outstanding lock/unlock waiters, per channel")
	bm.ChannelFrameDepth = NewGauge("motionbridge_channel_frame_depth",
		"Execution frame stack depth, per channel")
	bm.ChannelAborts = NewCounter("motionbridge_channel_aborts_total",
		"Channel aborts due to protocol violation or invalidation")
	bm.CodesPushed = NewCounter("motionbridge_codes_pushed_total",
		"Codes pushed onto a channel")
	bm.CodesReplied = NewCounter("motionbridge_codes_replied_total",
		"Codes that received a firmware reply")
	bm.CodesCancelled = NewCounter("motionbridge_codes_cancelled_total",
		"Codes cancelled before being handed to the firmware")

	bm.BudgetBytesUsed = NewHistogram("motionbridge_budget_bytes_used",
		"Payload bytes used per transfer cycle out of the byte budget",
		[]float64{64, 128, 256, 512, 1024, 1536, 2048})
	bm.PacketsEncodedTotal = NewCounter("motionbridge_packets_encoded_total",
		"Packets encoded into the tx payload")
	bm.PacketsDecodedTotal = NewCounter("motionbridge_packets_decoded_total",
		"Packets decoded from the rx payload")
	bm.UnknownPacketsTotal = NewCounter("motionbridge_unknown_packets_total",
		"Packets with an unrecognised kind, skipped during decode")

	bm.HostUptime = NewCounter("motionbridge_host_uptime_seconds_total",
		"Total host uptime in seconds")
	bm.GoGoroutines = NewGauge("motionbridge_go_goroutines",
		"Number of active goroutines")
	bm.GoMemoryHeap = NewGauge("motionbridge_go_memory_heap_bytes",
		"Go heap memory in use")
	bm.GoGCCycles = NewCounter("motionbridge_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	bm.registerAll()
	return bm
}

func (bm *BridgeMetrics) registerAll() {
	all := []Metric{
		bm.TransfersTotal, bm.TransferLatency, bm.HeaderRetries, bm.PayloadRetries,
		bm.ReadyTimeouts, bm.PeerResets, bm.FatalTransfers, bm.SequenceNumber,
		bm.TxBytesTotal, bm.RxBytesTotal,
		bm.ChannelPendingDepth, bm.ChannelFlushWaiters, bm.ChannelLockWaiters,
		bm.ChannelFrameDepth, bm.ChannelAborts, bm.CodesPushed, bm.CodesReplied,
		bm.CodesCancelled,
		bm.BudgetBytesUsed, bm.PacketsEncodedTotal, bm.PacketsDecodedTotal,
		bm.UnknownPacketsTotal,
		bm.HostUptime, bm.GoGoroutines, bm.GoMemoryHeap, bm.GoGCCycles,
	}
	for _, m := range all {
		bm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics refreshes the Go runtime gauges.
func (bm *BridgeMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	bm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	bm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	bm.GoGCCycles.Add(nil, uint64(m.NumGC)-bm.GoGCCycles.Get(nil))
	bm.HostUptime.Add(nil, uint64(time.Since(bm.startTime).Seconds())-bm.HostUptime.Get(nil))
}

// RecordTransfer records the outcome of one performFullTransfer call.
func (bm *BridgeMetrics) RecordTransfer(outcome string, d time.Duration) {
	bm.TransfersTotal.Inc(Labels{"outcome": outcome})
	bm.TransferLatency.Observe(nil, d.Seconds())
}

// SetChannelDepths updates the per-channel gauges.
func (bm *BridgeMetrics) SetChannelDepths(channel string, frameDepth, pending, flush, lock int) {
	bm.ChannelFrameDepth.Set(Labels{"channel": channel}, float64(frameDepth))
	bm.ChannelPendingDepth.Set(Labels{"channel": channel}, float64(pending))
	bm.ChannelFlushWaiters.Set(Labels{"channel": channel}, float64(flush))
	bm.ChannelLockWaiters.Set(Labels{"channel": channel}, float64(lock))
}

// Gather returns all metrics in Prometheus text format.
func (bm *BridgeMetrics) Gather() string {
	bm.UpdateSystemMetrics()
	return bm.registry.Gather()
}

// Registry returns the internal registry.
func (bm *BridgeMetrics) Registry() *Registry {
	return bm.registry
}
