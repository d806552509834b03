package inference

import (
	"context"
	"fmt"
	"net/http"

	"github.com/auraa-fs/cropscan/pkg/types"
)

// ModelInfo describes a detection model or an LLM engine registered in the backend.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Version     string `json:"version,omitempty"`
	Model       string `json:"model,omitempty"`
	Description string `json:"description,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	Active      bool   `json:"active"`
}

type modelsResponse struct {
	Success *bool       `json:"success"`
	Models  []ModelInfo `json:"models"`
	Error   string      `json:"error"`
}

type switchRequest struct {
	ModelID string `json:"model_id"`
}

type switchResponse struct {
	Success     *bool  `json:"success"`
	Message     string `json:"message"`
	ActiveModel string `json:"active_model"`
	Error       string `json:"error"`
}

// ListModels returns the detection models known to the backend.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return c.listModels(ctx, "list models", "/models")
}

// SwitchModel activates a detection model and returns the active id.
func (c *Client) SwitchModel(ctx context.Context, modelID string) (string, error) {
	return c.switchModel(ctx, "switch model", "/models/switch", modelID)
}

// ListLLMModels returns the report-generation engines known to the backend.
func (c *Client) ListLLMModels(ctx context.Context) ([]ModelInfo, error) {
	return c.listModels(ctx, "list llm models", "/llm/models")
}

// SwitchLLM activates a report-generation engine and returns the active id.
func (c *Client) SwitchLLM(ctx context.Context, modelID string) (string, error) {
	return c.switchModel(ctx, "switch llm", "/llm/switch", modelID)
}

func (c *Client) listModels(ctx context.Context, op, path string) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var resp modelsResponse
	if err := c.doJSON(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, &TransportError{Op: op, Err: backendError(resp.Error)}
	}
	return resp.Models, nil
}

func (c *Client) switchModel(ctx context.Context, op, path, modelID string) (string, error) {
	if modelID == "" {
		return "", fmt.Errorf("%s: model_id is required", op)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var resp switchResponse
	if err := c.doJSON(ctx, op, http.MethodPost, path, switchRequest{ModelID: modelID}, &resp); err != nil {
		return "", err
	}
	if resp.Success != nil && !*resp.Success {
		return "", &TransportError{Op: op, Err: backendError(resp.Error)}
	}
	if resp.ActiveModel == "" {
		resp.ActiveModel = modelID
	}
	log.Info("%s: %s", op, resp.ActiveModel)
	return resp.ActiveModel, nil
}

// LLMReport is the structured narrative produced from a session Report.
type LLMReport struct {
	ReportOverview string      `json:"report_overview"`
	Treatments     []Treatment `json:"treatments"`
	RiskAnalysis   []RiskItem  `json:"risk_analysis"`
}

type Treatment struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// RiskItem value is a percentage in practice but arrives as number or string.
type RiskItem struct {
	Label    string `json:"label"`
	Value    any    `json:"value"`
	Severity string `json:"severity"`
}

type reportRequest struct {
	AnalysisData types.Report `json:"analysis_data"`
}

type reportResponse struct {
	Success *bool      `json:"success"`
	Report  *LLMReport `json:"report"`
	Error   string     `json:"error"`
}

// GenerateReport posts a session report to /llm/generate_report.
func (c *Client) GenerateReport(ctx context.Context, report types.Report) (*LLMReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var resp reportResponse
	if err := c.doJSON(ctx, "generate report", http.MethodPost, "/llm/generate_report", reportRequest{AnalysisData: report}, &resp); err != nil {
		return nil, err
	}
	if (resp.Success != nil && !*resp.Success) || resp.Report == nil {
		return nil, &TransportError{Op: "generate report", Err: backendError(resp.Error)}
	}
	return resp.Report, nil
}
