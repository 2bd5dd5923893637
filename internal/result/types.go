package result

import (
	"time"
)

const (
	StatusOK             = "ok"
	StatusMetricNotFound = "metric_not_found"
	StatusToolFailed     = "tool_failed"
)

type Run struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Executor   string        `json:"executor"`
	Dataset    string        `json:"dataset"`
	Script     string        `json:"script"`
	Marker     string        `json:"marker"`
	TrainError string        `json:"train_error,omitempty"`
	Results    []*Evaluation `json:"results"`
	Cleanup    CleanupReport `json:"cleanup"`
}

// Evaluation is the outcome of evaluating one artifact.
type Evaluation struct {
	Artifact  string            `json:"artifact"`
	Marker    string            `json:"marker"`
	Raw       string            `json:"raw,omitempty"`
	Value     float64           `json:"value"`
	Numeric   bool              `json:"numeric"`
	Status    string            `json:"status"`
	ExitCode  int               `json:"exit_code"`
	TimedOut  bool              `json:"timed_out,omitempty"`
	Error     string            `json:"error,omitempty"`
	DurationS float64           `json:"duration_s"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

type Prediction struct {
	Artifact  string  `json:"artifact"`
	LogPath   string  `json:"log_path"`
	ExitCode  int     `json:"exit_code"`
	Error     string  `json:"error,omitempty"`
	DurationS float64 `json:"duration_s"`
}

type CleanupReport struct {
	Skipped bool     `json:"skipped,omitempty"`
	Removed int      `json:"removed"`
	Errors  []string `json:"errors,omitempty"`
}

type Summary struct {
	Total      int     `json:"total"`
	OK         int     `json:"ok"`
	NotFound   int     `json:"metric_not_found"`
	ToolFailed int     `json:"tool_failed"`
	Best       string  `json:"best,omitempty"`
	BestValue  float64 `json:"best_value"`
	MeanValue  float64 `json:"mean_value"`
}

// Summarize counts statuses and aggregates numeric metric values.
func (r *Run) Summarize() Summary {
	var s Summary
	var sum float64
	var numeric int
	for _, e := range r.Results {
		s.Total++
		switch e.Status {
		case StatusOK:
			s.OK++
		case StatusMetricNotFound:
			s.NotFound++
		case StatusToolFailed:
			s.ToolFailed++
		}
		if e.Status != StatusOK || !e.Numeric {
			continue
		}
		numeric++
		sum += e.Value
		if s.Best == "" || e.Value > s.BestValue {
			s.Best = e.Artifact
			s.BestValue = e.Value
		}
	}
	if numeric > 0 {
		s.MeanValue = sum / float64(numeric)
	}
	return s
}

// Failed reports whether the run hit a run-level failure.
func (r *Run) Failed() bool {
	return r.TrainError != ""
}
