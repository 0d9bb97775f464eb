package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

func TestConsole_Recognized(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Recognized(types.Recognition{
		EmployeeName:      "Ada Lovelace",
		Department:        "R&D",
		Action:            "check_out",
		Time:              "17:02:11",
		ConfidencePercent: 72,
		LowConfidence:     true,
	})

	out := buf.String()
	for _, want := range []string{"Ada Lovelace", "R&D", "Checked out at 17:02:11", "72% (low)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestConsole_HintPrintsOnlyOnEdges(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	box := &types.Box{X: 1, Y: 2, Width: 30, Height: 40}

	c.Hint(box)
	c.Hint(box)
	c.Hint(nil)
	c.Hint(box)

	if n := strings.Count(buf.String(), "Face located"); n != 2 {
		t.Errorf("expected 2 hint lines, got %d:\n%s", n, buf.String())
	}
}

func TestConsole_ProgressThenStatus(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	for i := 1; i <= 3; i++ {
		c.Progress(i, 3)
	}
	if c.bar != nil {
		t.Error("expected bar to be finished once all samples are captured")
	}
	c.Status("Enrollment complete", types.SeveritySuccess)
	if !strings.Contains(buf.String(), "✅ Enrollment complete") {
		t.Errorf("missing status line:\n%s", buf.String())
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Status("a", types.SeverityInfo)
	r.Status("b", types.SeverityError)

	if r.Last().Message != "b" {
		t.Errorf("Last() = %+v", r.Last())
	}
	if !r.HasSeverity(types.SeverityError) || r.HasSeverity(types.SeveritySuccess) {
		t.Error("HasSeverity mismatch")
	}

	box := &types.Box{Width: 5}
	r.Hint(box)
	box.Width = 9
	if got := r.Hints()[0].Width; got != 5 {
		t.Errorf("expected hint to be copied, got width %d", got)
	}
}
