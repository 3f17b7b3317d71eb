package bench

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// CaseResult summarises one case of a run.
type CaseResult struct {
	Name         string        `db:"name"`
	Frames       int           `db:"frames"`
	Points       int           `db:"points"`
	Elapsed      time.Duration `db:"elapsed_ns"`
	FramesPerSec float64       `db:"frames_per_sec"`
	MeanFrame    time.Duration `db:"mean_frame_ns"`
	MaxFrame     time.Duration `db:"max_frame_ns"`
}

// Report is the outcome of Runner.Run.
type Report struct {
	RunID     string
	Workers   int
	StartedAt time.Time
	Elapsed   time.Duration
	Panicked  int64
	Cases     []CaseResult
}

// TotalFrames returns the number of frames integrated across all cases.
func (r Report) TotalFrames() int {
	total := 0
	for _, c := range r.Cases {
		total += c.Frames
	}
	return total
}

var (
	reportBold  = color.New(color.Bold)
	reportGreen = color.New(color.FgGreen)
	reportRed   = color.New(color.FgRed)
)

// Render writes the report as a table to w.
func (r Report) Render(w io.Writer) error {
	_, _ = reportBold.Fprintf(w, "\nRun %s (%d workers, %s)\n\n",
		r.RunID, r.Workers, r.Elapsed.Round(time.Millisecond))

	table := tablewriter.NewWriter(w)
	table.Header("Case", "Frames", "Points", "Time", "Frames/sec", "Mean frame", "Max frame")

	for _, c := range r.Cases {
		_ = table.Append(
			c.Name,
			fmt.Sprintf("%d", c.Frames),
			fmt.Sprintf("%d", c.Points),
			c.Elapsed.Round(time.Millisecond).String(),
			fmt.Sprintf("%.1f", c.FramesPerSec),
			c.MeanFrame.Round(time.Microsecond).String(),
			c.MaxFrame.Round(time.Microsecond).String(),
		)
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	fmt.Fprintln(w)
	if r.Panicked > 0 {
		_, _ = reportRed.Fprintf(w, "%d frames panicked\n", r.Panicked)
	} else {
		_, _ = reportGreen.Fprintf(w, "%d frames integrated\n", r.TotalFrames())
	}
	return nil
}
