package scheduler

// Package scheduler provides scheduled maintenance jobs for the quote
// pipeline. It handles:
// - Periodic watch-list snapshots to disk
// - Mirroring the latest quotes to MongoDB
// - Daily archive pruning after market close
//
// The jobs are implemented in jobs.go
