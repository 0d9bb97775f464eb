package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andresmejia3/sentinel-kiosk/internal/types"
)

// ConnectionErrorMessage is reported to the operator for every transport failure.
const ConnectionErrorMessage = "connection error"

// TransportError is a network or protocol failure talking to the service.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Outcome is the normalized shape of every call. Calls never return a Go error; failures
// land here with Success=false.
type Outcome struct {
	Success bool
	Message string
	Err     error
}

// Transport reports whether the call failed before the service could answer it.
func (o Outcome) Transport() bool {
	var te *TransportError
	return errors.As(o.Err, &te)
}

func transportFailure(err error) Outcome {
	return Outcome{Message: ConnectionErrorMessage, Err: err}
}

func serverFailure(msg, fallback string) Outcome {
	if msg == "" {
		msg = fallback
	}
	return Outcome{Message: msg, Err: errors.New(msg)}
}

// Verification is the result of verifySignature.
type Verification struct {
	Outcome
	EmployeeID int
	Confidence float64
}

// Employee is the display data of a recognized employee.
type Employee struct {
	Outcome
	ID             int
	Name           string
	Department     string
	Image          string
	EmployeeNumber string
}

// Attendance is the recorded check-in or check-out.
type Attendance struct {
	Outcome
	ID     int
	Action string
	Time   string
}

// Stats is the kiosk statistics result.
type Stats struct {
	Outcome
	types.KioskStats
}

// Client calls the verification service. Each call is bounded by the configured timeout.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// call posts params inside the envelope and decodes the unwrapped result into T.
// Service-side faults come back as *Error; everything else is a *TransportError.
func call[T any](ctx context.Context, c *Client, op, path string, params any) (*T, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	body, err := c.post(ctx, path, Request{
		JSONRPC: Version,
		Method:  MethodCall,
		Params:  params,
		ID:      uuid.NewString(),
	})
	c.logger.Debugw("rpc call", "op", op, "elapsed", time.Since(start), "error", err)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	raw, rpcErr, err := unwrap(body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("could not unmarshal response: %w", err)}
	}
	if rpcErr != nil {
		return nil, rpcErr
	}

	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("could not unmarshal result: %w", err)}
	}
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, envelope Request) ([]byte, error) {
	jsonBody, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}
	return body, nil
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return "(unreadable body)"
	}
	return strings.TrimSpace(string(b))
}

// failure normalizes a call error into an Outcome.
func failure(err error, fallback string) Outcome {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return serverFailure(rpcErr.Error(), fallback)
	}
	return transportFailure(err)
}

// VerifySignature asks the service who the signature belongs to.
func (c *Client) VerifySignature(ctx context.Context, sig types.FaceSignature) Verification {
	res, err := call[VerifyFaceResult](ctx, c, "verify_face", PathVerifyFace, VerifyFaceParams{FaceData: sig[:]})
	if err != nil {
		return Verification{Outcome: failure(err, "Face not recognized")}
	}
	if !res.Success {
		return Verification{Outcome: serverFailure(res.Message, "Face not recognized")}
	}
	return Verification{
		Outcome:    Outcome{Success: true},
		EmployeeID: res.EmployeeID,
		Confidence: res.Confidence,
	}
}

// FetchEmployeeInfo loads display data. Department falls back to the job position.
func (c *Client) FetchEmployeeInfo(ctx context.Context, employeeID int) Employee {
	res, err := call[EmployeeInfoResult](ctx, c, "employee_info", PathEmployeeInfo, EmployeeInfoParams{EmployeeID: employeeID})
	if err != nil {
		return Employee{Outcome: failure(err, "Employee not found")}
	}
	if res.Employee == nil {
		return Employee{Outcome: serverFailure(res.Message, "Employee not found")}
	}
	e := res.Employee
	dept := string(e.Department)
	if dept == "" {
		dept = string(e.JobPosition)
	}
	id := e.ID
	if id == 0 {
		id = employeeID
	}
	return Employee{
		Outcome:        Outcome{Success: true},
		ID:             id,
		Name:           e.Name,
		Department:     dept,
		Image:          string(e.Image),
		EmployeeNumber: string(e.EmployeeNumber),
	}
}

// RecordAttendance records a check-in or check-out for the employee.
func (c *Client) RecordAttendance(ctx context.Context, employeeID int, confidence float64, deviceInfo string) Attendance {
	res, err := call[AttendanceResult](ctx, c, "attendance", PathAttendance, AttendanceParams{
		EmployeeID: employeeID,
		Confidence: confidence,
		DeviceInfo: deviceInfo,
	})
	if err != nil {
		return Attendance{Outcome: failure(err, "Attendance not recorded")}
	}
	if !res.Success {
		return Attendance{Outcome: serverFailure(res.Message, "Attendance not recorded")}
	}
	return Attendance{
		Outcome: Outcome{Success: true},
		ID:      res.AttendanceID,
		Action:  res.Action,
		Time:    res.Time,
	}
}

// RegisterFace stores the enrolled signature and reference photo for an employee.
func (c *Client) RegisterFace(ctx context.Context, employeeID int, sig types.FaceSignature, photo string) Outcome {
	res, err := call[RegisterFaceResult](ctx, c, "register_face", PathRegisterFace, RegisterFaceParams{
		EmployeeID: employeeID,
		FaceData:   sig[:],
		PhotoData:  photo,
	})
	if err != nil {
		return failure(err, "Registration failed")
	}
	if !res.Success {
		return serverFailure(res.Message, "Registration failed")
	}
	return Outcome{Success: true, Message: res.Message}
}

// KioskStats fetches today's attendance statistics.
func (c *Client) KioskStats(ctx context.Context) Stats {
	res, err := call[types.KioskStats](ctx, c, "stats", PathStats, struct{}{})
	if err != nil {
		return Stats{Outcome: failure(err, "Statistics unavailable")}
	}
	return Stats{Outcome: Outcome{Success: true}, KioskStats: *res}
}

// Result is the outcome of the full recognition pipeline.
type Result struct {
	Outcome
	// Matched is true once the service recognized the signature, even when a later
	// step failed.
	Matched    bool
	EmployeeID int
	Confidence float64
	Employee   Employee
	Attendance Attendance
}

// Recognize verifies the signature and, on a match, fetches the employee and records
// attendance, in that order. Any failed step fails the whole attempt.
func (c *Client) Recognize(ctx context.Context, sig types.FaceSignature, deviceInfo string) Result {
	v := c.VerifySignature(ctx, sig)
	if !v.Success {
		return Result{Outcome: v.Outcome}
	}
	res := Result{Matched: true, EmployeeID: v.EmployeeID, Confidence: v.Confidence}

	res.Employee = c.FetchEmployeeInfo(ctx, v.EmployeeID)
	if !res.Employee.Success {
		res.Outcome = res.Employee.Outcome
		return res
	}

	res.Attendance = c.RecordAttendance(ctx, v.EmployeeID, v.Confidence, deviceInfo)
	if !res.Attendance.Success {
		res.Outcome = res.Attendance.Outcome
		return res
	}
	res.Outcome = Outcome{Success: true}
	return res
}
