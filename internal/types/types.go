package types

import "time"

// SignatureDim is the length of every face signature produced by the extractor.
const SignatureDim = 128

// FaceSignature is a 128-d face encoding. It is an array so copies never alias.
type FaceSignature [SignatureDim]float64

// Box is a detected face region in frame pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area, used to pick the dominant face.
func (b Box) Area() int {
	return b.Width * b.Height
}

// Detection is what the extractor yields for a frame that contains a face.
type Detection struct {
	Box       Box
	Signature FaceSignature
}

// Severity classifies a status message for the reporter.
type Severity string

const (
	SeverityReady   Severity = "ready"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Step is the current step of an enrollment session.
type Step string

const (
	StepPreparing  Step = "preparing"
	StepCapturing  Step = "capturing"
	StepProcessing Step = "processing"
	StepComplete   Step = "complete"
	StepFailed     Step = "failed"
)

// AttemptResult is the outcome kind of one verification attempt.
type AttemptResult string

const (
	ResultMatch          AttemptResult = "match"
	ResultNoMatch        AttemptResult = "no-match"
	ResultNoFace         AttemptResult = "no-face"
	ResultTransportError AttemptResult = "transport-error"
)

// VerificationAttempt is a single live recognition attempt. It is never persisted here.
type VerificationAttempt struct {
	ID         string
	Signature  FaceSignature
	At         time.Time
	Result     AttemptResult
	EmployeeID int
	Confidence float64
	Message    string
}

// Recognition is the payload handed to the reporter after attendance was recorded.
type Recognition struct {
	EmployeeName      string
	Department        string
	Photo             string
	Action            string // "check_in" or "check_out"
	Time              string
	Confidence        float64
	ConfidencePercent int
	LowConfidence     bool
}

// KioskStats summarizes today's biometric attendances as reported by the server.
type KioskStats struct {
	TodayAttendances int     `json:"today_attendances"`
	UniqueEmployees  int     `json:"unique_employees"`
	AvgConfidence    float64 `json:"avg_confidence"`
	LastAttendance   string  `json:"last_attendance,omitempty"`
}
