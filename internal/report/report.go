// Package report delivers status and recognition results to whoever operates the kiosk.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// Reporter receives every state transition of the enrollment and verification screens.
type Reporter interface {
	Status(msg string, severity types.Severity)
	// Recognized is called once attendance was recorded for a recognized employee.
	Recognized(r types.Recognition)
	Progress(captured, required int)
	// Hint marks the located face; nil clears it.
	Hint(box *types.Box)
	Stats(s types.KioskStats)
}

var severityIcons = map[types.Severity]string{
	types.SeverityReady:   "🟢",
	types.SeverityInfo:    "ℹ️ ",
	types.SeveritySuccess: "✅",
	types.SeverityWarning: "⚠️ ",
	types.SeverityError:   "🚨",
}

// Console prints status lines and an enrollment progress bar to a terminal.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	bar     *progressbar.ProgressBar
	hinting bool
}

// NewConsole writes to w, normally os.Stderr.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Status(msg string, severity types.Severity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishBar()
	fmt.Fprintf(c.w, "%s %s\n", severityIcons[severity], msg)
}

func (c *Console) Recognized(r types.Recognition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishBar()

	verb := "Checked in"
	if r.Action == "check_out" {
		verb = "Checked out"
	}
	fmt.Fprintf(c.w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(c.w, "👤 %s\n", r.EmployeeName)
	if r.Department != "" {
		fmt.Fprintf(c.w, "   %s\n", r.Department)
	}
	fmt.Fprintf(c.w, "🕒 %s at %s\n", verb, r.Time)
	lowNote := ""
	if r.LowConfidence {
		lowNote = " (low)"
	}
	fmt.Fprintf(c.w, "🎯 Confidence: %d%%%s\n", r.ConfidencePercent, lowNote)
	fmt.Fprintf(c.w, "---------------------------------------------------------\n")
}

func (c *Console) Progress(captured, required int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bar == nil {
		c.bar = progressbar.NewOptions(required,
			progressbar.OptionSetDescription("📸 Capturing samples"),
			progressbar.OptionSetWriter(c.w),
			progressbar.OptionShowCount(),
		)
	}
	c.bar.Set(captured)
	if captured >= required {
		c.finishBar()
	}
}

func (c *Console) Hint(box *types.Box) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Only print on edges; the loop calls this every tick.
	if box != nil && !c.hinting {
		fmt.Fprintf(c.w, "🙂 Face located at (%d,%d) %dx%d\n", box.X, box.Y, box.Width, box.Height)
	}
	c.hinting = box != nil
}

func (c *Console) Stats(s types.KioskStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "📊 Today: %d attendances, %d employees, avg confidence %.0f%%\n",
		s.TodayAttendances, s.UniqueEmployees, s.AvgConfidence*100)
}

func (c *Console) finishBar() {
	if c.bar == nil {
		return
	}
	c.bar.Finish()
	fmt.Fprintln(c.w)
	c.bar = nil
}

// Nop discards everything.
type Nop struct{}

// Status discards the message.
func (Nop) Status(string, types.Severity) {}

// Recognized discards the recognition.
func (Nop) Recognized(types.Recognition) {}

// Progress discards the progress update.
func (Nop) Progress(int, int) {}

// Hint discards the face hint.
func (Nop) Hint(*types.Box) {}

// Stats discards the statistics.
func (Nop) Stats(types.KioskStats) {}

// StatusEvent is one recorded Status call.
type StatusEvent struct {
	Message  string
	Severity types.Severity
}

// Recorder keeps every report in memory. It is safe for concurrent use.
type Recorder struct {
	mu           sync.Mutex
	statuses     []StatusEvent
	recognitions []types.Recognition
	progress     [][2]int
	hints        []*types.Box
	stats        []types.KioskStats
}

func (r *Recorder) Status(msg string, severity types.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, StatusEvent{Message: msg, Severity: severity})
}

func (r *Recorder) Recognized(rec types.Recognition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognitions = append(r.recognitions, rec)
}

func (r *Recorder) Progress(captured, required int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, [2]int{captured, required})
}

func (r *Recorder) Hint(box *types.Box) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if box != nil {
		b := *box
		box = &b
	}
	r.hints = append(r.hints, box)
}

func (r *Recorder) Stats(s types.KioskStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
}

func (r *Recorder) Statuses() []StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusEvent(nil), r.statuses...)
}

// Last returns the most recent status, or a zero event.
func (r *Recorder) Last() StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return StatusEvent{}
	}
	return r.statuses[len(r.statuses)-1]
}

// HasSeverity reports whether any status with the given severity was recorded.
func (r *Recorder) HasSeverity(s types.Severity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.statuses {
		if ev.Severity == s {
			return true
		}
	}
	return false
}

func (r *Recorder) Recognitions() []types.Recognition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Recognition(nil), r.recognitions...)
}

func (r *Recorder) ProgressEvents() [][2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int(nil), r.progress...)
}

func (r *Recorder) Hints() []*types.Box {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*types.Box(nil), r.hints...)
}

func (r *Recorder) StatsEvents() []types.KioskStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.KioskStats(nil), r.stats...)
}
