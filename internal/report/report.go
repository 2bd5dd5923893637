package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/fugebench/fugebench/internal/result"
)

// ErrUnknownFormat is returned for output formats other than table,
// markdown and json.
var ErrUnknownFormat = errors.New("unknown report format")

// CheckFormat validates a format name before any work is done with it.
// The empty string means table.
func CheckFormat(format string) error {
	switch format {
	case "", "table", "markdown", "json":
		return nil
	}
	return fmt.Errorf("%w %q (want table, markdown or json)", ErrUnknownFormat, format)
}

// Generate renders a run in the given format: table (default), markdown or json.
func Generate(run *result.Run, format string, w io.Writer) error {
	if err := CheckFormat(format); err != nil {
		return err
	}
	switch format {
	case "markdown":
		return writeMarkdown(run, w)
	case "json":
		return writeJSON(run, w)
	default:
		return writeTable(run, w)
	}
}

// Evaluations renders a bare list of results, as rescore produces them.
func Evaluations(results []*result.Evaluation, marker, format string, w io.Writer) error {
	return Generate(&result.Run{Marker: marker, Results: results}, format, w)
}

func value(ev *result.Evaluation) string {
	switch ev.Status {
	case result.StatusOK:
		return ev.Raw
	case result.StatusToolFailed:
		if ev.TimedOut {
			return "(timeout)"
		}
		return fmt.Sprintf("(exit %d)", ev.ExitCode)
	default:
		return "(not found)"
	}
}

func writeTable(run *result.Run, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ARTIFACT\t%s\tSTATUS\tDURATION\n", strings.ToUpper(markerOr(run)))
	fmt.Fprintln(tw, strings.Repeat("-", 60))
	for _, ev := range run.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fs\n", ev.Artifact, value(ev), ev.Status, ev.DurationS)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writeSummaryLine(run, w)
}

func writeSummaryLine(run *result.Run, w io.Writer) error {
	s := run.Summarize()
	_, err := fmt.Fprintf(w, "\n%d artifacts: %d ok, %d metric not found, %d tool failed", s.Total, s.OK, s.NotFound, s.ToolFailed)
	if err != nil {
		return err
	}
	if s.Best != "" {
		fmt.Fprintf(w, "; best %s=%g, mean %.4f", s.Best, s.BestValue, s.MeanValue)
	}
	if run.TrainError != "" {
		fmt.Fprintf(w, "\ntraining failed: %s", run.TrainError)
	}
	_, err = fmt.Fprintln(w)
	return err
}

func writeMarkdown(run *result.Run, w io.Writer) error {
	fmt.Fprintf(w, "| Artifact | %s | Status | Duration |\n", markerOr(run))
	fmt.Fprintln(w, "|---|---|---|---|")
	for _, ev := range run.Results {
		fmt.Fprintf(w, "| %s | %s | %s | %.1fs |\n", ev.Artifact, value(ev), ev.Status, ev.DurationS)
	}
	return writeSummaryLine(run, w)
}

func writeJSON(run *result.Run, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*result.Run
		Summary result.Summary `json:"summary"`
	}{run, run.Summarize()})
}

func markerOr(run *result.Run) string {
	if run.Marker == "" {
		return "Metric"
	}
	return run.Marker
}

// Compare renders both runs as sorted "artifact metric status" lines and
// returns their unified diff. An empty string means the runs agree.
func Compare(a, b *result.Run) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        compareLines(a),
		B:        compareLines(b),
		FromFile: "run " + a.ID,
		ToFile:   "run " + b.ID,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diffing runs: %w", err)
	}
	return text, nil
}

func compareLines(run *result.Run) []string {
	lines := make([]string, 0, len(run.Results))
	for _, ev := range run.Results {
		lines = append(lines, fmt.Sprintf("%s %s=%s %s\n", ev.Artifact, markerOr(run), value(ev), ev.Status))
	}
	sort.Strings(lines)
	return lines
}

// WriteCompare writes the diff of two runs, or a note that they agree.
func WriteCompare(a, b *result.Run, w io.Writer) error {
	text, err := Compare(a, b)
	if err != nil {
		return err
	}
	if text == "" {
		_, err = fmt.Fprintf(w, "runs %s and %s report identical metrics\n", a.ID, b.ID)
		return err
	}
	var buf bytes.Buffer
	buf.WriteString(text)
	_, err = buf.WriteTo(w)
	return err
}
