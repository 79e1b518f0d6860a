package handler

import (
	"strings"

	"kycops/internal/registry/models"
)

// SubmitResponse acknowledges a stored submission.
type SubmitResponse struct {
	Success       bool   `json:"success"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	ApplicationID string `json:"applicationId"`
}

// DecisionResponse acknowledges an approval or rejection. AgentID is only
// set on approval.
type DecisionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	AgentID string `json:"agentId,omitempty"`
}

func toSubmitResponse(rec *models.Record) SubmitResponse {
	return SubmitResponse{
		Success:       true,
		Status:        strings.ToUpper(string(rec.Status)),
		Message:       "Application submitted successfully",
		ApplicationID: rec.ID,
	}
}
