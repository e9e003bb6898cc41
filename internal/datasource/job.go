package datasource

import (
	"time"

	"quantbt/internal/store"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusPartial = "partial"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// FetchParams describes a requested candle range, timestamps in Unix ms.
type FetchParams struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Exchange  string `json:"exchange,omitempty"`
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
}

// FetchJob tracks one asynchronous gap-filling run.
type FetchJob struct {
	ID        string      `json:"id"`
	Status    string      `json:"status"`
	Params    FetchParams `json:"params"`
	Total     int64       `json:"total"`
	Completed int64       `json:"completed"`
	Missing   []store.Gap `json:"missing,omitempty"`
	Warnings  []string    `json:"warnings,omitempty"`
	Message   string      `json:"message,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (j *FetchJob) copy() FetchJob {
	out := *j
	out.Missing = append([]store.Gap{}, j.Missing...)
	out.Warnings = append([]string{}, j.Warnings...)
	return out
}
