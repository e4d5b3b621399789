// Package util provides small building blocks shared by the accounting packages.
//
// The package contains:
//   - functions: seed generation and the FNV-1a hash used to turn textual request ids (trace ids,
//     query tags) into the uint64 logical-request ids the registry is keyed by
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer queue, used to hand eviction events
//     from the registry's eviction loop to a single consumer without blocking the loop
//   - statistics: summary statistics and a SizeHistogram for byte-size distributions (peak
//     consumption of evicted trackers, live consumption spread)
//
// Everything in this package is safe for concurrent use unless stated otherwise.
package util
