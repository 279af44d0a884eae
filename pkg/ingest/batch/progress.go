// Package batch runs ingestion passes: for each authority it lists the
// provider's meetings, fetches captions on a bounded worker pool and writes
// the results in listing order.
package batch

import (
	"sync"
	"time"
)

// Progress statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Progress tracks one authority pass.
type Progress struct {
	mu sync.RWMutex

	JobID     string
	Authority string

	Total        int
	Processed    int
	Indexed      int
	MetadataOnly int
	Failed       int

	CurrentUID string
	Status     string

	StartedAt time.Time
	UpdatedAt time.Time

	onUpdate func(ProgressSnapshot)
}

// NewProgress creates a progress tracker for total meetings.
func NewProgress(jobID, authority string, total int) *Progress {
	now := time.Now()
	return &Progress{
		JobID:     jobID,
		Authority: authority,
		Total:     total,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// SetOnUpdate sets a callback run on each update. It receives a snapshot and
// runs on its own goroutine.
func (p *Progress) SetOnUpdate(fn func(ProgressSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

// Start marks the pass as running.
func (p *Progress) Start() {
	p.update(func() {
		p.Status = StatusRunning
		p.StartedAt = time.Now()
	})
}

// SetCurrent records the meeting being written.
func (p *Progress) SetCurrent(uid string) {
	p.update(func() { p.CurrentUID = uid })
}

// RecordIndexed counts a meeting stored with its transcript.
func (p *Progress) RecordIndexed() {
	p.update(func() {
		p.Indexed++
		p.Processed++
	})
}

// RecordMetadataOnly counts a meeting stored without a transcript.
func (p *Progress) RecordMetadataOnly() {
	p.update(func() {
		p.MetadataOnly++
		p.Processed++
	})
}

// RecordFailed counts a meeting that could not be stored.
func (p *Progress) RecordFailed() {
	p.update(func() {
		p.Failed++
		p.Processed++
	})
}

// Complete marks the pass as finished.
func (p *Progress) Complete(success bool) {
	p.update(func() {
		p.CurrentUID = ""
		if success {
			p.Status = StatusCompleted
		} else {
			p.Status = StatusFailed
		}
	})
}

// Cancel marks the pass as cancelled.
func (p *Progress) Cancel() {
	p.update(func() { p.Status = StatusCancelled })
}

func (p *Progress) update(fn func()) {
	p.mu.Lock()
	fn()
	p.UpdatedAt = time.Now()
	cb := p.onUpdate
	snap := p.snapshotLocked()
	p.mu.Unlock()

	if cb != nil {
		go cb(snap)
	}
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() ProgressSnapshot {
	elapsed := time.Since(p.StartedAt).Seconds()
	var remaining *float64
	if p.Processed > 0 && p.Status == StatusRunning {
		est := elapsed / float64(p.Processed) * float64(p.Total-p.Processed)
		remaining = &est
	}

	return ProgressSnapshot{
		JobID:                     p.JobID,
		Authority:                 p.Authority,
		Total:                     p.Total,
		Processed:                 p.Processed,
		Indexed:                   p.Indexed,
		MetadataOnly:              p.MetadataOnly,
		Failed:                    p.Failed,
		CurrentUID:                p.CurrentUID,
		Status:                    p.Status,
		StartedAt:                 p.StartedAt,
		ElapsedSeconds:            elapsed,
		EstimatedRemainingSeconds: remaining,
	}
}

// ProgressSnapshot is an immutable copy of progress state.
type ProgressSnapshot struct {
	JobID                     string    `json:"job_id" yaml:"job_id"`
	Authority                 string    `json:"authority" yaml:"authority"`
	Total                     int       `json:"total" yaml:"total"`
	Processed                 int       `json:"processed" yaml:"processed"`
	Indexed                   int       `json:"indexed" yaml:"indexed"`
	MetadataOnly              int       `json:"metadata_only" yaml:"metadata_only"`
	Failed                    int       `json:"failed" yaml:"failed"`
	CurrentUID                string    `json:"current_uid,omitempty" yaml:"current_uid,omitempty"`
	Status                    string    `json:"status" yaml:"status"`
	StartedAt                 time.Time `json:"started_at" yaml:"started_at"`
	ElapsedSeconds            float64   `json:"elapsed_seconds" yaml:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64  `json:"estimated_remaining_seconds,omitempty" yaml:"estimated_remaining_seconds,omitempty"`
}

// PercentComplete returns the percentage of meetings processed.
func (s ProgressSnapshot) PercentComplete() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total) * 100
}

// IsComplete reports whether every meeting has been processed.
func (s ProgressSnapshot) IsComplete() bool {
	return s.Processed >= s.Total
}

// IsSuccess reports whether the pass completed without failures.
func (s ProgressSnapshot) IsSuccess() bool {
	return s.Status == StatusCompleted && s.Failed == 0
}
