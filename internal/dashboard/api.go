package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/auraa-fs/cropscan/internal/inference"
	"github.com/auraa-fs/cropscan/internal/pipeline"
	"github.com/auraa-fs/cropscan/internal/source"
)

// multipart envelope allowance on top of the file itself
const uploadOverhead = 1 << 20

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, http.StatusOK, payload)
}

func writeJSONWithStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn("Failed to write JSON response: %v", err)
	}
}

// errorStatus maps pipeline and backend errors onto HTTP statuses.
func errorStatus(err error) int {
	var (
		uploadErr    *inference.UploadError
		acqErr       *source.AcquisitionError
		transportErr *inference.TransportError
	)
	switch {
	case errors.As(err, &uploadErr):
		return http.StatusBadRequest
	case errors.As(err, &acqErr), errors.As(err, &transportErr):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrSessionNotIdle),
		errors.Is(err, pipeline.ErrSessionStopped),
		errors.Is(err, pipeline.ErrSessionNotStarted),
		errors.Is(err, errNoSession):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("%v", err)
	} else {
		log.Warn("%v", err)
	}
	writeJSONWithStatus(w, status, map[string]any{"error": err.Error()})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, inference.MaxUploadBytes+uploadOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, &inference.UploadError{Filename: "upload", Err: inference.ErrFileTooLarge})
			return
		}
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": "No file provided"})
		return
	}
	defer file.Close()

	if err := inference.ValidateUpload(header.Filename, header.Size); err != nil {
		writeError(w, err)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	result, err := s.client.Predict(r.Context(), header.Filename, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

type switchRequest struct {
	ModelID string `json:"model_id"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.client.ListModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "models": models})
}

func (s *Server) handleListLLMModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.client.ListLLMModels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "models": models})
}

func (s *Server) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	s.handleSwitch(w, r, s.client.SwitchModel)
}

func (s *Server) handleSwitchLLM(w http.ResponseWriter, r *http.Request) {
	s.handleSwitch(w, r, s.client.SwitchLLM)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request, switchFn func(ctx context.Context, id string) (string, error)) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModelID == "" {
		writeJSONWithStatus(w, http.StatusBadRequest, map[string]any{"error": "model_id is required"})
		return
	}
	active, err := switchFn(r.Context(), req.ModelID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": true, "active_model": active})
}
