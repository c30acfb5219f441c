package vis

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSavePose(t *testing.T) {
	dir := t.TempDir()
	joints := []float64{
		0, -1, 0.5,
		0.3, 0, 0.5,
		-0.3, 1, 0.5,
	}
	skeleton := [][2]int{{0, 1}, {1, 2}}

	path := filepath.Join(dir, "pose.png")
	if err := SavePose(path, joints, 3, skeleton); err != nil {
		t.Fatalf("SavePose: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat pose: %v", err)
	}
	if info.Size() == 0 {
		t.Error("pose file is empty")
	}
}

func TestSavePoseErrors(t *testing.T) {
	dir := t.TempDir()
	joints := []float64{0, 0, 0, 1, 1, 1}

	t.Run("short buffer", func(t *testing.T) {
		if err := SavePose(filepath.Join(dir, "a.png"), joints, 3, nil); err == nil {
			t.Error("expected error for a short joint buffer")
		}
	})
	t.Run("edge out of range", func(t *testing.T) {
		path := filepath.Join(dir, "b.png")
		if err := SavePose(path, joints, 2, [][2]int{{0, 5}}); err == nil {
			t.Error("expected error for an edge past the last joint")
		}
		if _, err := os.Stat(path); err == nil {
			t.Error("rejected pose still wrote a file")
		}
	})
}
