// Package harness fills benchmark stores and times write transactions
// against them.
package harness

import "time"

// FillResult summarizes one fill phase.
type FillResult struct {
	NextKey      uint64        `json:"next_key"`
	Records      uint64        `json:"records"`
	Batches      uint64        `json:"batches"`
	BytesWritten uint64        `json:"bytes_written"`
	FileSize     uint64        `json:"file_size_bytes"`
	Elapsed      time.Duration `json:"elapsed_ns"`
}

// Result holds everything measured for one store configuration.
type Result struct {
	Label        string        `json:"label"`
	Path         string        `json:"path"`
	SyncFreelist bool          `json:"sync_freelist"`
	Fill         FillResult    `json:"fill"`
	Writes       Stats         `json:"writes"`
	BatchSize    int           `json:"batch_size,omitempty"`
	Batches      *Stats        `json:"batches,omitempty"`
	ReopenTime   time.Duration `json:"reopen_ns,omitempty"`
	Records      int           `json:"stored_records,omitempty"`
	DBSizeBytes  uint64        `json:"db_size_bytes"`
}
