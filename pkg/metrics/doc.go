/*
Package metrics exposes Prometheus instrumentation for the Prism broker:
dispatch latency and failure counters, reduce-stage throughput, cancel
accounting, and client-pool gauges.

All metrics are registered at package initialization and served through
Handler. The Timer helper times an operation and records it into a
histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchDuration)
*/
package metrics
