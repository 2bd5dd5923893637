package result_test

import (
	"testing"

	"github.com/fugebench/fugebench/internal/result"
)

func TestSummarize(t *testing.T) {
	run := &result.Run{Results: []*result.Evaluation{
		{Artifact: "One.ffs", Status: result.StatusOK, Raw: "0.8", Value: 0.8, Numeric: true},
		{Artifact: "Two.ffs", Status: result.StatusOK, Raw: "0.9", Value: 0.9, Numeric: true},
		{Artifact: "Three.ffs", Status: result.StatusOK, Raw: "model:"},
		{Artifact: "Four.ffs", Status: result.StatusMetricNotFound},
		{Artifact: "Five.ffs", Status: result.StatusToolFailed, ExitCode: 3},
	}}
	s := run.Summarize()
	if s.Total != 5 || s.OK != 3 || s.NotFound != 1 || s.ToolFailed != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Best != "Two.ffs" || s.BestValue != 0.9 {
		t.Errorf("best: got %s=%v", s.Best, s.BestValue)
	}
	if d := s.MeanValue - 0.85; d > 1e-9 || d < -1e-9 {
		t.Errorf("mean: got %v, want 0.85", s.MeanValue)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := (&result.Run{}).Summarize()
	if s.Total != 0 || s.Best != "" || s.MeanValue != 0 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestFailed(t *testing.T) {
	if (&result.Run{}).Failed() {
		t.Error("empty run should not be failed")
	}
	if !(&result.Run{TrainError: "train invocation exited with code 1"}).Failed() {
		t.Error("train error should fail the run")
	}
}
