package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/zombor/ecologic/internal/account"
	"github.com/zombor/ecologic/internal/analysis"
	"github.com/zombor/ecologic/internal/ledger"
	"github.com/zombor/ecologic/internal/pipeline"
	"github.com/zombor/ecologic/internal/scanning"
)

// billResponse is a ledger record as shown in list views. IDs exist only on records
// read back from the ledger, so a freshly saved bill has none.
type billResponse struct {
	ID        string      `json:"id,omitempty"`
	Timestamp string      `json:"timestamp"`
	Summary   string      `json:"summary"`
	Headline  string      `json:"headline"`
	Kind      ledger.Kind `json:"kind"`
}

func newBillResponse(r ledger.Record) billResponse {
	return billResponse{
		ID:        r.ID,
		Timestamp: r.Timestamp,
		Summary:   r.Summary,
		Headline:  r.Headline(),
		Kind:      r.Kind(),
	}
}

type scanResponse struct {
	State   string           `json:"state"`
	Status  string           `json:"status"`
	Bill    *billResponse    `json:"bill,omitempty"`
	Result  *analysis.Result `json:"result,omitempty"`
	History []string         `json:"history"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeJSON writes v with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string, reason string) {
	s.writeJSON(w, code, errorResponse{Error: message, Reason: reason})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStartScan runs one scan from a picked file or the camera and waits for it
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	src, ok := s.scanSource(w, r)
	if !ok {
		return
	}

	run, err := s.scanner.Start(r.Context(), src)
	if err != nil {
		// Start never took ownership of the source
		_ = src.Close()
		if errors.Is(err, pipeline.ErrBusy) {
			s.writeError(w, http.StatusConflict, "A scan is already in progress.", "busy")
			return
		}
		s.logger.Error("Error starting scan", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "Scanning is unavailable.", "closed")
		return
	}

	outcome := run.Wait()
	s.logger.Info("Scan finished",
		"user", SessionFrom(r.Context()).CurrentUsername(),
		"state", outcome.State.String(),
	)

	switch outcome.State {
	case pipeline.Persisted:
		bill := newBillResponse(*outcome.Record)
		s.writeJSON(w, http.StatusCreated, scanResponse{
			State:   outcome.State.String(),
			Status:  "Analysis complete!",
			Bill:    &bill,
			Result:  outcome.Result,
			History: historyNames(outcome.History),
		})
	case pipeline.Cancelled:
		s.writeError(w, http.StatusConflict, "The scan was cancelled.", "cancelled")
	case pipeline.Failed:
		f := outcome.Failure
		s.writeError(w, failureStatus(f.Reason), f.Message(), string(f.Reason))
	default:
		s.logger.Error("Scan ended in a non-terminal state", "state", outcome.State.String())
		s.writeError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

// scanSource picks the source for a scan request. It writes the error response itself.
func (s *Server) scanSource(w http.ResponseWriter, r *http.Request) (scanning.Source, bool) {
	if r.URL.Query().Get("source") == "camera" {
		if s.camera == nil {
			s.writeError(w, http.StatusBadRequest, "No camera is configured.", string(pipeline.ReasonCaptureFailed))
			return nil, false
		}
		return s.camera(), true
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.logger.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "File is too large. Please compress or resize your image."
		}
		s.writeError(w, http.StatusBadRequest, msg, "")
		return nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		s.logger.Error("Error getting file from form", "error", err)
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose a bill image to upload."
		}
		s.writeError(w, http.StatusBadRequest, msg, "")
		return nil, false
	}
	defer f.Close()

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	src, err := scanning.NewUploadSource(header.Filename, contentType, f, s.maxUpload)
	if err != nil {
		s.logger.Error("Error reading file data", "error", err, "filename", header.Filename)
		s.writeError(w, http.StatusBadRequest, "File is too large or unreadable.", string(pipeline.ReasonCaptureFailed))
		return nil, false
	}
	return src, true
}

func failureStatus(reason pipeline.Reason) int {
	switch reason {
	case pipeline.ReasonCaptureFailed, pipeline.ReasonInvalidImage:
		return http.StatusUnprocessableEntity
	case pipeline.ReasonBackendUnreachable, pipeline.ReasonUnreachable:
		return http.StatusGatewayTimeout
	case pipeline.ReasonServerRejected, pipeline.ReasonMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func historyNames(states []pipeline.State) []string {
	names := make([]string, 0, len(states))
	for _, st := range states {
		names = append(names, st.String())
	}
	return names
}

// handleCancelScan cancels the running scan
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if !s.scanner.Cancel() {
		s.writeError(w, http.StatusNotFound, "No scan is running.", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListBills returns every saved bill, most recent first
func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	records, err := s.bills.ListAll()
	if err != nil {
		s.logger.Error("Error listing bills", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	bills := make([]billResponse, 0, len(records))
	for _, rec := range records {
		bills = append(bills, newBillResponse(rec))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"bills":      bills,
		"no_history": len(bills) == 0,
	})
}

// handlePasswordReset asks the account backend to send a reset email
func (s *Server) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	msg, err := s.reset.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, account.ErrInvalidEmail) {
			s.writeError(w, http.StatusBadRequest, err.Error(), "invalid_email")
			return
		}
		s.logger.Error("Password reset failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error(), "")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}
