package schemas

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chicogong/slot-compositor/pkg/geometry"
)

var (
	// ErrInvalidGeometry is returned for non-positive sizes and malformed
	// duplicate references. It is never coerced.
	ErrInvalidGeometry = geometry.ErrInvalidGeometry

	// ErrInvalidRequest wraps malformed requests that are not geometry
	// problems, e.g. a bad filter or a forbidden source URI
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMissingAsset marks a slot without resolvable media
	ErrMissingAsset = errors.New("missing asset")

	// ErrNoContent is returned when every slot is missing its media
	ErrNoContent = errors.New("no content: no slot has resolvable media")

	// ErrPipelineExecution is returned when the processing engine fails
	ErrPipelineExecution = errors.New("pipeline execution failed")

	// ErrResourceExhausted is returned when the concurrency ceiling or the
	// scratch space is exhausted
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrCameraUnavailable is returned by capture providers
	ErrCameraUnavailable = errors.New("camera unavailable")

	// ErrUpload is returned by storage providers
	ErrUpload = errors.New("upload failed")

	// ErrPrint is returned by print providers
	ErrPrint = errors.New("print failed")
)

// GeometryError describes why a slot or canvas was rejected
type GeometryError struct {
	SlotID string
	Field  string
	Reason string
}

func (e *GeometryError) Error() string {
	if e.SlotID == "" {
		return fmt.Sprintf("invalid geometry: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid geometry: slot %q: %s: %s", e.SlotID, e.Field, e.Reason)
}

func (e *GeometryError) Unwrap() error {
	return ErrInvalidGeometry
}

// PipelineError carries the engine's diagnostic output
type PipelineError struct {
	Stderr   string
	ExitCode int
	Err      error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("pipeline execution failed (exit %d)", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if line := lastLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPipelineExecution}
	}
	return []error{ErrPipelineExecution, e.Err}
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\r\n ")
	if i := strings.LastIndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return strings.TrimSpace(s)
}

// ErrorCode maps an error to the code reported in ErrorInfo
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidGeometry):
		return "INVALID_GEOMETRY"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrNoContent):
		return "NO_CONTENT"
	case errors.Is(err, ErrResourceExhausted):
		return "RESOURCE_EXHAUSTED"
	case errors.Is(err, ErrPipelineExecution):
		return "PIPELINE_ERROR"
	case errors.Is(err, ErrUpload):
		return "UPLOAD_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// NewErrorInfo converts err to the reported error shape
func NewErrorInfo(err error) *ErrorInfo {
	info := &ErrorInfo{
		Code:      ErrorCode(err),
		Message:   err.Error(),
		Retryable: errors.Is(err, ErrResourceExhausted) || errors.Is(err, ErrPipelineExecution),
	}

	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		info.FFmpegStderr = pipeErr.Stderr
		info.FFmpegExitCode = pipeErr.ExitCode
	}
	return info
}
