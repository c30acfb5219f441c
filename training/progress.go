package training

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// ProgressBar provides PyTorch-style progress visualization for
// evaluation and long-running loops.
type ProgressBar struct {
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
	out         io.Writer
}

// NewProgressBar creates a new progress bar writing to stdout.
func NewProgressBar(description string, total int) *ProgressBar {
	return &ProgressBar{
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       30,
		metrics:     make(map[string]float64),
		out:         os.Stdout,
	}
}

// SetOutput redirects the bar, mainly for tests.
func (pb *ProgressBar) SetOutput(w io.Writer) {
	pb.out = w
}

// SetDescription replaces the label shown before the bar.
func (pb *ProgressBar) SetDescription(description string) {
	pb.description = description
}

// Update advances the progress bar.
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	pb.metrics = metrics
	pb.render()
}

// Finish completes the progress bar.
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out) // New line after completion
}

// render draws the progress bar.
func (pb *ProgressBar) render() {
	percentage := 0.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}

	filled := int(percentage * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		if percentage > 0 {
			totalTime := time.Duration(float64(elapsed) / percentage)
			eta = totalTime - elapsed
		}
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d",
		pb.description, percentage*100, bar, pb.current, pb.total)

	if eta > 0 {
		line += fmt.Sprintf(" [%s<%s", formatDuration(elapsed), formatDuration(eta))
	} else {
		line += fmt.Sprintf(" [%s<00:00", formatDuration(elapsed))
	}
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	// Sorted so successive renders keep metrics in a stable order.
	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(", %s=%.4f", k, pb.metrics[k])
	}
	line += "]"

	fmt.Fprint(pb.out, line)
}

// formatDuration formats duration as MM:SS.
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
