// Package scheduler runs periodic housekeeping for the market data backend:
// pair cache warmup, candle archive pruning and connection statistics.
//
// The jobs are defined in jobs.go.
package scheduler
