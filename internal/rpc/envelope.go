// Package rpc speaks the kiosk's JSON-RPC style protocol with the verification service.
package rpc

import (
	"bytes"
	"encoding/json"
)

// Endpoint paths, relative to the service base URL.
const (
	PathRegisterFace = "/kiosk/api/register_face"
	PathVerifyFace   = "/kiosk/api/verify_face"
	PathEmployeeInfo = "/kiosk/api/employee_info"
	PathAttendance   = "/kiosk/api/attendance"
	PathStats        = "/kiosk/api/stats"
)

const (
	Version = "2.0"
	// MethodCall is the only method name the service dispatches on; the endpoint path
	// selects the operation.
	MethodCall = "call"
)

// Request is the envelope wrapped around every call's params.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      string `json:"id,omitempty"`
}

// Response is the envelope the service may wrap results in. Services are also allowed to
// answer with the bare result object. The id may be a string or a number and is kept raw.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a server-side fault returned in place of a result.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Message string `json:"message"`
	} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil && e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

// unwrap returns the result payload: the "result" field when present, else the body itself.
func unwrap(body []byte) (json.RawMessage, *Error, error) {
	var env Response
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, err
	}
	if env.Error != nil {
		return nil, env.Error, nil
	}
	if len(env.Result) > 0 && !bytes.Equal(env.Result, []byte("null")) {
		return env.Result, nil, nil
	}
	return body, nil, nil
}

// Text decodes a display field that some services send as false when unset, or as a
// number (an employee number falling back to the record id).
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "false", "null":
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*t = Text(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = Text(s)
	return nil
}

// --- Wire payloads, shared with the reference server ---

type RegisterFaceParams struct {
	EmployeeID int       `json:"employee_id"`
	FaceData   []float64 `json:"face_data"`
	PhotoData  string    `json:"photo_data,omitempty"`
}

type RegisterFaceResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type VerifyFaceParams struct {
	FaceData []float64 `json:"face_data"`
}

type VerifyFaceResult struct {
	Success      bool    `json:"success"`
	EmployeeID   int     `json:"employee_id,omitempty"`
	EmployeeName string  `json:"employee_name,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
	Message      string  `json:"message,omitempty"`
}

type EmployeeInfoParams struct {
	EmployeeID int `json:"employee_id"`
}

// EmployeeRecord is the employee display data. Department and image are optional.
type EmployeeRecord struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Department     Text   `json:"department,omitempty"`
	JobPosition    Text   `json:"job_position,omitempty"`
	Image          Text   `json:"image,omitempty"`
	EmployeeNumber Text   `json:"employee_number,omitempty"`
}

type EmployeeInfoResult struct {
	Success  bool            `json:"success"`
	Employee *EmployeeRecord `json:"employee,omitempty"`
	Message  string          `json:"message,omitempty"`
}

type AttendanceParams struct {
	EmployeeID int     `json:"employee_id"`
	Confidence float64 `json:"confidence"`
	DeviceInfo string  `json:"device_info"`
}

type AttendanceResult struct {
	Success      bool   `json:"success"`
	AttendanceID int    `json:"attendance_id,omitempty"`
	Action       string `json:"action,omitempty"`
	EmployeeName string `json:"employee_name,omitempty"`
	Time         string `json:"time,omitempty"`
	Message      string `json:"message,omitempty"`
}

const (
	ActionCheckIn  = "check_in"
	ActionCheckOut = "check_out"
)
