package training

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestProgressBarRender(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar("Epoch1/3", 4)
	pb.SetOutput(&buf)

	pb.Update(2, map[string]float64{"joint": 0.1234, "pose": 2.5})
	out := buf.String()

	if !strings.Contains(out, "Epoch1/3:") {
		t.Errorf("render missing description: %q", out)
	}
	if !strings.Contains(out, " 50%") {
		t.Errorf("render missing percentage: %q", out)
	}
	if !strings.Contains(out, "2/4") {
		t.Errorf("render missing counter: %q", out)
	}
	if !strings.Contains(out, "joint=0.1234") || !strings.Contains(out, "pose=2.5000") {
		t.Errorf("render missing metrics: %q", out)
	}
	// metrics print in sorted key order
	if strings.Index(out, "joint=") > strings.Index(out, "pose=") {
		t.Errorf("metrics out of order: %q", out)
	}
}

func TestProgressBarFinish(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar("Eval", 3)
	pb.SetOutput(&buf)

	pb.Update(1, nil)
	pb.Finish()
	out := buf.String()

	if !strings.Contains(out, "100%") {
		t.Errorf("Finish did not reach 100%%: %q", out)
	}
	if !strings.Contains(out, "3/3") {
		t.Errorf("Finish did not complete the counter: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("Finish did not end the line: %q", out)
	}
}

func TestProgressBarZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar("Empty", 0)
	pb.SetOutput(&buf)

	// must not panic or divide by zero
	pb.Update(0, nil)
	pb.Finish()
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{61 * time.Second, "01:01"},
		{3725 * time.Second, "62:05"},
	}
	for _, c := range cases {
		if got := formatDuration(c.d); got != c.want {
			t.Errorf("formatDuration(%v) = %q, want %q", c.d, got, c.want)
		}
	}
}
