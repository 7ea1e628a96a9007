package pipeline

import (
	"errors"
	"fmt"

	"github.com/zombor/ecologic/internal/analysis"
	"github.com/zombor/ecologic/internal/scanning"
)

var (
	// ErrBusy is returned by Start while another scan is running
	ErrBusy = errors.New("a scan is already running")
	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("pipeline closed")
)

// Reason says why a scan failed
type Reason string

const (
	ReasonCaptureFailed      Reason = "capture_failed"
	ReasonInvalidImage       Reason = "invalid_image"
	ReasonBackendUnreachable Reason = "backend_unreachable"
	ReasonServerRejected     Reason = "server_rejected"
	ReasonUnreachable        Reason = "unreachable"
	ReasonMalformedResponse  Reason = "malformed_response"
	ReasonPersistFailed      Reason = "persist_failed"
)

// Failure is the terminal error of a failed scan
type Failure struct {
	Reason Reason
	Status int    // ServerRejected only
	Body   string // ServerRejected only
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Reason, f.Err)
	}
	return string(f.Reason)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Message is the short text shown to the user
func (f *Failure) Message() string {
	switch f.Reason {
	case ReasonCaptureFailed:
		return "Could not get a bill image. Please try again."
	case ReasonInvalidImage:
		return "The bill image is empty or unreadable."
	case ReasonBackendUnreachable, ReasonUnreachable:
		return "Could not reach the analysis service. Check your connection and settings."
	case ReasonServerRejected:
		return fmt.Sprintf("The analysis service rejected the bill (status %d).", f.Status)
	case ReasonMalformedResponse:
		return "The analysis service sent a response that could not be read."
	case ReasonPersistFailed:
		return "The analysis could not be saved."
	default:
		return "The scan failed."
	}
}

func captureFailure(err error) *Failure {
	if errors.Is(err, scanning.ErrInvalidImage) {
		return &Failure{Reason: ReasonInvalidImage, Err: err}
	}
	return &Failure{Reason: ReasonCaptureFailed, Err: err}
}

// uploadFailure classifies an error from an analyzer call. Timeouts and transport
// errors are the same thing to the pipeline.
func uploadFailure(err error) *Failure {
	var rejected *analysis.RejectedError
	switch {
	case errors.As(err, &rejected):
		return &Failure{Reason: ReasonServerRejected, Status: rejected.Status, Body: rejected.Body, Err: err}
	case errors.Is(err, analysis.ErrMalformedResponse):
		return &Failure{Reason: ReasonMalformedResponse, Err: err}
	default:
		return &Failure{Reason: ReasonUnreachable, Err: err}
	}
}
