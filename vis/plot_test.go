package vis

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSavePlot(t *testing.T) {
	dir := t.TempDir()

	t.Run("loss curve", func(t *testing.T) {
		path := filepath.Join(dir, "loss.png")
		if err := SavePlot(path, []float64{3.2, 2.1, 1.7, 1.5}, "Total Loss", false); err != nil {
			t.Fatalf("SavePlot: %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat plot: %v", err)
		}
		if info.Size() == 0 {
			t.Error("plot file is empty")
		}
	})

	t.Run("error curve with minimum", func(t *testing.T) {
		path := filepath.Join(dir, "mpjpe.png")
		if err := SavePlot(path, []float64{90, 82.5, 85}, "MPJPE", true); err != nil {
			t.Fatalf("SavePlot: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("stat plot: %v", err)
		}
	})

	t.Run("single epoch", func(t *testing.T) {
		path := filepath.Join(dir, "one.png")
		if err := SavePlot(path, []float64{1.25}, "Prior Loss", true); err != nil {
			t.Fatalf("SavePlot: %v", err)
		}
	})

	t.Run("empty series", func(t *testing.T) {
		if err := SavePlot(filepath.Join(dir, "none.png"), nil, "MPVPE", false); err == nil {
			t.Error("expected error for an empty series")
		}
	})
}
