package inference

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/auraa-fs/cropscan/pkg/types"
)

// MaxUploadBytes is the largest file accepted by Predict.
const MaxUploadBytes = 10 << 20

var uploadExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

// PredictResult is the backend's single-image diagnosis.
type PredictResult struct {
	Success        bool                 `json:"success"`
	Source         string               `json:"source,omitempty"`
	Disease        string               `json:"disease"`
	Confidence     float64              `json:"confidence"`
	Description    string               `json:"description,omitempty"`
	Treatment      string               `json:"treatment,omitempty"`
	SeverityStatus string               `json:"severity_status,omitempty"`
	Medicines      []string             `json:"medicines,omitempty"`
	Boxes          []types.DetectionBox `json:"boxes,omitempty"`
	Timestamp      string               `json:"timestamp,omitempty"`
}

type predictResponse struct {
	Success        *bool          `json:"success"`
	Source         string         `json:"source"`
	Disease        string         `json:"disease"`
	Confidence     flexFloat      `json:"confidence"`
	Description    string         `json:"description"`
	Treatment      string         `json:"treatment"`
	SeverityStatus string         `json:"severity_status"`
	Medicines      []string       `json:"medicines"`
	Boxes          []RawDetection `json:"boxes"`
	Timestamp      string         `json:"timestamp"`
	Error          string         `json:"error"`
}

// ValidateUpload rejects files the backend would refuse, before any network call.
func ValidateUpload(filename string, size int64) error {
	switch {
	case size <= 0:
		return &UploadError{Filename: filename, Err: ErrEmptyFile}
	case size > MaxUploadBytes:
		return &UploadError{Filename: filename, Err: fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, size, MaxUploadBytes)}
	case !uploadExtensions[strings.ToLower(filepath.Ext(filename))]:
		return &UploadError{Filename: filename, Err: fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(filename))}
	}
	return nil
}

// Predict uploads one image to /predict as multipart field "file".
func (c *Client) Predict(ctx context.Context, filename string, data []byte) (*PredictResult, error) {
	if err := ValidateUpload(filename, int64(len(data))); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", &body)
	if err != nil {
		return nil, &TransportError{Op: "predict", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var resp predictResponse
	if err := c.do(req, "predict", &resp); err != nil {
		return nil, err
	}
	if (resp.Success != nil && !*resp.Success) || resp.Error != "" {
		return nil, &TransportError{Op: "predict", Err: backendError(resp.Error)}
	}

	// /predict boxes are already normalized; no frame size is needed.
	return &PredictResult{
		Success:        true,
		Source:         resp.Source,
		Disease:        resp.Disease,
		Confidence:     clamp(resp.Confidence.v, 0, 100),
		Description:    resp.Description,
		Treatment:      resp.Treatment,
		SeverityStatus: resp.SeverityStatus,
		Medicines:      resp.Medicines,
		Boxes:          Normalize(resp.Boxes, 0, 0),
		Timestamp:      resp.Timestamp,
	}, nil
}
