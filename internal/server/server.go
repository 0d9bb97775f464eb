// Package server is a reference implementation of the verification service kiosks talk to.
// Templates and attendances live in PostgreSQL; employee display data comes from a roster.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/andresmejia3/sentinel-kiosk/internal/rpc"
	"github.com/andresmejia3/sentinel-kiosk/internal/store"
	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// TemplateStore is the persistence the server needs. *store.Store satisfies it.
type TemplateStore interface {
	RegisterTemplate(ctx context.Context, employeeID int, vec []float64, photo string) error
	FindClosestTemplate(ctx context.Context, vec []float64, minConfidence float64) (int, float64, error)
	TemplatePhoto(ctx context.Context, employeeID int) (string, error)
	RecordAttendance(ctx context.Context, employeeID int, confidence float64, deviceInfo string, at time.Time) (store.Attendance, error)
	Stats(ctx context.Context, since time.Time) (types.KioskStats, error)
}

// Server answers the kiosk JSON-RPC endpoints.
type Server struct {
	store     TemplateStore
	roster    *Roster
	threshold float64
	clock     clock.Clock
	logger    *zap.SugaredLogger

	router     *chi.Mux
	httpServer *http.Server
}

// New creates a server listening on addr. Matches need a cosine similarity of at least
// threshold.
func New(addr string, threshold float64, st TemplateStore, roster *Roster, clk clock.Clock, logger *zap.SugaredLogger) *Server {
	if clk == nil {
		clk = clock.New()
	}
	r := chi.NewRouter()
	s := &Server{
		store:     st,
		roster:    roster,
		threshold: threshold,
		clock:     clk,
		logger:    logger,
		router:    r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(rpc.PathRegisterFace, handle(s, "register_face", s.registerFace))
	r.Post(rpc.PathVerifyFace, handle(s, "verify_face", s.verifyFace))
	r.Post(rpc.PathEmployeeInfo, handle(s, "employee_info", s.employeeInfo))
	r.Post(rpc.PathAttendance, handle(s, "attendance", s.attendance))
	r.Post(rpc.PathStats, handle(s, "stats", s.stats))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router returns the chi router for testing
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Infow("starting verification server", "addr", s.httpServer.Addr, "employees", s.roster.Len(), "threshold", s.threshold)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("shutting down verification server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()))
	})
}

// inbound is the request envelope with params kept raw until the handler's type is known.
type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// handle adapts a typed operation to an HTTP handler speaking the envelope.
func handle[P any, R any](s *Server, op string, fn func(ctx context.Context, p P) (R, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req inbound
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondRPCError(w, nil, -32700, "invalid request body")
			return
		}
		var params P
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				respondRPCError(w, req.ID, -32602, "invalid params: "+err.Error())
				return
			}
		}

		result, err := fn(r.Context(), params)
		if err != nil {
			s.logger.Errorw("operation failed", "op", op, "error", err)
			respondRPCError(w, req.ID, 200, "internal server error")
			return
		}

		raw, err := json.Marshal(result)
		if err != nil {
			respondRPCError(w, req.ID, -32603, "could not encode result")
			return
		}
		respondJSON(w, http.StatusOK, rpc.Response{JSONRPC: rpc.Version, ID: req.ID, Result: raw})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	respondJSON(w, http.StatusOK, rpc.Response{
		JSONRPC: rpc.Version,
		ID:      id,
		Error:   &rpc.Error{Code: code, Message: message},
	})
}

func validSignature(v []float64) bool {
	return len(v) == types.SignatureDim
}

var errBadSignature = fmt.Sprintf("face_data must contain %d values", types.SignatureDim)

func (s *Server) registerFace(ctx context.Context, p rpc.RegisterFaceParams) (rpc.RegisterFaceResult, error) {
	if p.EmployeeID <= 0 || len(p.FaceData) == 0 {
		return rpc.RegisterFaceResult{Message: "Incomplete data"}, nil
	}
	if !validSignature(p.FaceData) {
		return rpc.RegisterFaceResult{Message: errBadSignature}, nil
	}
	if _, ok := s.roster.Lookup(p.EmployeeID); !ok {
		return rpc.RegisterFaceResult{Message: "Employee not found"}, nil
	}
	if err := s.store.RegisterTemplate(ctx, p.EmployeeID, p.FaceData, p.PhotoData); err != nil {
		return rpc.RegisterFaceResult{}, fmt.Errorf("register template for %d: %w", p.EmployeeID, err)
	}
	s.logger.Infow("face registered", "employee_id", p.EmployeeID, "photo", p.PhotoData != "")
	return rpc.RegisterFaceResult{Success: true, Message: "Face registered"}, nil
}

func (s *Server) verifyFace(ctx context.Context, p rpc.VerifyFaceParams) (rpc.VerifyFaceResult, error) {
	if len(p.FaceData) == 0 {
		return rpc.VerifyFaceResult{Message: "Face data required"}, nil
	}
	if !validSignature(p.FaceData) {
		return rpc.VerifyFaceResult{Message: errBadSignature}, nil
	}

	id, confidence, err := s.store.FindClosestTemplate(ctx, p.FaceData, s.threshold)
	if err != nil {
		return rpc.VerifyFaceResult{}, fmt.Errorf("find closest template: %w", err)
	}
	if id == -1 {
		s.logger.Debugw("no match", "best_confidence", confidence)
		return rpc.VerifyFaceResult{Message: "Face not recognized"}, nil
	}

	res := rpc.VerifyFaceResult{Success: true, EmployeeID: id, Confidence: confidence}
	if e, ok := s.roster.Lookup(id); ok {
		res.EmployeeName = e.Name
	}
	return res, nil
}

func (s *Server) employeeInfo(ctx context.Context, p rpc.EmployeeInfoParams) (rpc.EmployeeInfoResult, error) {
	e, ok := s.roster.Lookup(p.EmployeeID)
	if !ok {
		return rpc.EmployeeInfoResult{Message: "Employee not found"}, nil
	}

	image := e.Image
	if image == "" {
		photo, err := s.store.TemplatePhoto(ctx, e.ID)
		if err != nil {
			s.logger.Warnw("reference photo lookup failed", "employee_id", e.ID, "error", err)
		}
		image = photo
	}
	number := e.EmployeeNumber
	if number == "" {
		number = strconv.Itoa(e.ID)
	}

	return rpc.EmployeeInfoResult{
		Success: true,
		Employee: &rpc.EmployeeRecord{
			ID:             e.ID,
			Name:           e.Name,
			Department:     rpc.Text(e.Department),
			JobPosition:    rpc.Text(e.JobPosition),
			Image:          rpc.Text(image),
			EmployeeNumber: rpc.Text(number),
		},
	}, nil
}

func (s *Server) attendance(ctx context.Context, p rpc.AttendanceParams) (rpc.AttendanceResult, error) {
	if p.EmployeeID <= 0 {
		return rpc.AttendanceResult{Message: "Employee id required"}, nil
	}
	e, ok := s.roster.Lookup(p.EmployeeID)
	if !ok {
		return rpc.AttendanceResult{Message: "Employee not found"}, nil
	}

	rec, err := s.store.RecordAttendance(ctx, p.EmployeeID, p.Confidence, p.DeviceInfo, s.clock.Now())
	if err != nil {
		return rpc.AttendanceResult{}, fmt.Errorf("record attendance for %d: %w", p.EmployeeID, err)
	}
	s.logger.Infow("attendance recorded", "employee_id", p.EmployeeID, "action", rec.Action, "confidence", p.Confidence)

	return rpc.AttendanceResult{
		Success:      true,
		AttendanceID: int(rec.ID),
		Action:       rec.Action,
		EmployeeName: e.Name,
		Time:         rec.At.Local().Format(time.DateTime),
	}, nil
}

func (s *Server) stats(ctx context.Context, _ struct{}) (types.KioskStats, error) {
	now := s.clock.Now().Local()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.store.Stats(ctx, midnight)
}
