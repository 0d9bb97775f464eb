package server

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"

	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/store"
	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// memStore is an in-memory TemplateStore using the same cosine similarity as pgvector.
type memStore struct {
	mu          sync.Mutex
	templates   map[int][]float64
	photos      map[int]string
	open        map[int]int64
	attendances []store.Attendance
}

func newMemStore() *memStore {
	return &memStore{templates: map[int][]float64{}, photos: map[int]string{}, open: map[int]int64{}}
}

func (m *memStore) RegisterTemplate(_ context.Context, id int, vec []float64, photo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[id] = append([]float64(nil), vec...)
	m.photos[id] = photo
	return nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *memStore) FindClosestTemplate(_ context.Context, vec []float64, min float64) (int, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best, bestSim := -1, -2.0
	for id, t := range m.templates {
		if sim := cosine(vec, t); sim > bestSim {
			best, bestSim = id, sim
		}
	}
	if best == -1 || bestSim < min {
		return -1, bestSim, nil
	}
	return best, bestSim, nil
}

func (m *memStore) TemplatePhoto(_ context.Context, id int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.photos[id], nil
}

func (m *memStore) RecordAttendance(_ context.Context, id int, conf float64, _ string, at time.Time) (store.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := store.Attendance{EmployeeID: id, At: at, Confidence: conf}
	if open, ok := m.open[id]; ok {
		delete(m.open, id)
		rec.ID = open
		rec.Action = store.ActionCheckOut
		return rec, nil
	}
	rec.ID = int64(len(m.attendances) + 1)
	rec.Action = store.ActionCheckIn
	m.open[id] = rec.ID
	m.attendances = append(m.attendances, rec)
	return rec, nil
}

func (m *memStore) Stats(_ context.Context, since time.Time) (types.KioskStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st types.KioskStats
	seen := map[int]bool{}
	var sum float64
	for _, a := range m.attendances {
		if a.At.Before(since) {
			continue
		}
		st.TodayAttendances++
		seen[a.EmployeeID] = true
		sum += a.Confidence
	}
	st.UniqueEmployees = len(seen)
	if st.TodayAttendances > 0 {
		st.AvgConfidence = sum / float64(st.TodayAttendances)
	}
	return st, nil
}

const testRoster = `
employees:
  - id: 42
    name: Ada Lovelace
    department: R&D
    job_position: Engineer
  - id: 7
    name: Grace Hopper
    job_position: Admiral
    employee_number: E-007
`

func newTestServer(t *testing.T) (*httptest.Server, *memStore, *clock.Mock) {
	t.Helper()
	roster, err := ParseRoster([]byte(testRoster))
	if err != nil {
		t.Fatalf("ParseRoster failed: %v", err)
	}
	st := newMemStore()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))

	s := New(":0", 0.85, st, roster, clk, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, st, clk
}

func signature(axis int) types.FaceSignature {
	var sig types.FaceSignature
	sig[axis] = 1
	sig[(axis+1)%types.SignatureDim] = 0.1
	return sig
}

func TestServer_EnrollThenRecognize(t *testing.T) {
	srv, _, clk := newTestServer(t)
	client := rpc.NewClient(srv.URL, time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	if out := client.RegisterFace(ctx, 42, signature(0), "data:image/jpeg;base64,AA=="); !out.Success {
		t.Fatalf("RegisterFace failed: %+v", out)
	}
	if out := client.RegisterFace(ctx, 7, signature(5), ""); !out.Success {
		t.Fatalf("RegisterFace failed: %+v", out)
	}

	v := client.VerifySignature(ctx, signature(0))
	if !v.Success || v.EmployeeID != 42 {
		t.Fatalf("expected employee 42, got %+v", v)
	}
	if math.Abs(v.Confidence-1) > 1e-9 {
		t.Errorf("expected confidence ~1, got %f", v.Confidence)
	}

	res := client.Recognize(ctx, signature(0), "{}")
	if !res.Success || res.Attendance.Action != rpc.ActionCheckIn {
		t.Fatalf("expected check_in, got %+v", res)
	}
	if res.Employee.Department != "R&D" {
		t.Errorf("department = %q", res.Employee.Department)
	}
	if res.Employee.Image != "data:image/jpeg;base64,AA==" {
		t.Errorf("expected enrollment photo as image fallback, got %q", res.Employee.Image)
	}

	clk.Add(8 * time.Hour)
	res = client.Recognize(ctx, signature(0), "{}")
	if !res.Success || res.Attendance.Action != rpc.ActionCheckOut {
		t.Fatalf("expected check_out, got %+v", res)
	}

	stats := client.KioskStats(ctx)
	if !stats.Success || stats.TodayAttendances != 1 || stats.UniqueEmployees != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestServer_NoMatchBelowThreshold(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := rpc.NewClient(srv.URL, time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	client.RegisterFace(ctx, 42, signature(0), "")
	v := client.VerifySignature(ctx, signature(64))
	if v.Success || v.Transport() {
		t.Fatalf("expected a server-side no-match, got %+v", v)
	}
	if v.Message != "Face not recognized" {
		t.Errorf("message = %q", v.Message)
	}
}

func TestServer_DepartmentFallsBackToJobPosition(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := rpc.NewClient(srv.URL, time.Second, zaptest.NewLogger(t).Sugar())

	e := client.FetchEmployeeInfo(context.Background(), 7)
	if !e.Success || e.Department != "Admiral" || e.EmployeeNumber != "E-007" {
		t.Errorf("unexpected employee %+v", e)
	}
}

func TestServer_Validation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := rpc.NewClient(srv.URL, time.Second, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	if out := client.RegisterFace(ctx, 999, signature(0), ""); out.Success || out.Message != "Employee not found" {
		t.Errorf("expected unknown employee rejection, got %+v", out)
	}
	if e := client.FetchEmployeeInfo(ctx, 999); e.Success {
		t.Error("expected unknown employee lookup to fail")
	}
	if a := client.RecordAttendance(ctx, 999, 0.9, "{}"); a.Success {
		t.Error("expected attendance for unknown employee to fail")
	}
}

func TestServer_RawEnvelope(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"short face data", `{"jsonrpc":"2.0","method":"call","params":{"face_data":[0.1,0.2]}}`, `"success":false`},
		{"malformed json", `{"jsonrpc":`, `"error"`},
		{"numeric id echoed", `{"jsonrpc":"2.0","method":"call","id":7,"params":{"face_data":[0.1]}}`, `"id":7`},
		{"string id echoed", `{"jsonrpc":"2.0","method":"call","id":"abc","params":{"face_data":[0.1]}}`, `"id":"abc"`},
		{"wrong param types", `{"jsonrpc":"2.0","method":"call","params":{"face_data":"x"}}`, `"code":-32602`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+rpc.PathVerifyFace, "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("status = %d", resp.StatusCode)
			}
			buf := new(strings.Builder)
			if _, err := io.Copy(buf, resp.Body); err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %s in %s", tt.want, buf.String())
			}
		})
	}
}

func TestParseRoster_Errors(t *testing.T) {
	tests := map[string]string{
		"missing name": "employees:\n  - id: 1\n",
		"duplicate id": "employees:\n  - id: 1\n    name: A\n  - id: 1\n    name: B\n",
		"bad yaml":     "employees: [",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRoster([]byte(data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
