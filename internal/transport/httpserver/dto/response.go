package dto

import (
	"time"

	"product-data-service/internal/domain"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// JobResponse represents a queue job.
type JobResponse struct {
	ID           int64          `json:"id"`
	Action       string         `json:"action"`
	Payload      map[string]any `json:"payload,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	BatchID      string         `json:"batch_id,omitempty"`
	Priority     int            `json:"priority"`
	Status       string         `json:"status"`
	Attempts     int            `json:"attempts"`
	MaxRetries   int            `json:"max_retries"`
	ScheduledAt  string         `json:"scheduled_at"`
	StartedAt    string         `json:"started_at,omitempty"`
	CompletedAt  string         `json:"completed_at,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// FromJob converts domain.Job to JobResponse.
func FromJob(j *domain.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		Action:       j.Action,
		Payload:      j.Payload,
		Provider:     j.Provider,
		BatchID:      j.BatchID,
		Priority:     j.Priority,
		Status:       string(j.Status),
		Attempts:     j.Attempts,
		MaxRetries:   j.MaxRetries,
		ScheduledAt:  j.ScheduledAt.Format(time.RFC3339),
		Result:       j.Result,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if j.CompletedAt != nil {
		resp.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}

	return resp
}

// FromJobs converts a job slice.
func FromJobs(jobs []*domain.Job) []JobResponse {
	out := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = FromJob(j)
	}

	return out
}

// EnqueueResponse is the result of enqueueing one job.
type EnqueueResponse struct {
	Job JobResponse `json:"job"`
}

// BulkEnqueueResponse is the result of enqueueing a batch.
type BulkEnqueueResponse struct {
	BatchID string        `json:"batch_id"`
	Jobs    []JobResponse `json:"jobs"`
}

// ProviderResponse describes one registered provider.
type ProviderResponse struct {
	Key          string                `json:"key"`
	Capabilities []string              `json:"capabilities"`
	BulkLimit    int                   `json:"bulk_limit"`
	Marketplaces []domain.Marketplace  `json:"marketplaces"`
	Stats        *ProviderStatsPayload `json:"stats,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
}

// ProviderStatsPayload carries a provider's advisory counters.
type ProviderStatsPayload struct {
	TotalRequests   int64   `json:"total_requests"`
	Successes       int64   `json:"successes"`
	Failures        int64   `json:"failures"`
	AvgResponseMs   int64   `json:"avg_response_ms"`
	SuccessRate     float64 `json:"success_rate"`
	LastUsed        string  `json:"last_used,omitempty"`
}

// FromProviderStats converts domain.ProviderStats.
func FromProviderStats(s domain.ProviderStats) *ProviderStatsPayload {
	payload := &ProviderStatsPayload{
		TotalRequests: s.TotalRequests,
		Successes:     s.Successes,
		Failures:      s.Failures,
		AvgResponseMs: s.AvgResponseTime().Milliseconds(),
	}
	if s.TotalRequests > 0 {
		payload.SuccessRate = float64(s.Successes) / float64(s.TotalRequests) * 100
	}
	if !s.LastUsed.IsZero() {
		payload.LastUsed = s.LastUsed.Format(time.RFC3339)
	}

	return payload
}

// CacheStatsResponse reports cache effectiveness.
type CacheStatsResponse struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Writes  int64   `json:"writes"`
	Deletes int64   `json:"deletes"`
	HitRate float64 `json:"hit_rate"`
}

// FromCacheStats converts domain.CacheStats.
func FromCacheStats(s domain.CacheStats) CacheStatsResponse {
	return CacheStatsResponse{
		Hits:    s.Hits,
		Misses:  s.Misses,
		Writes:  s.Writes,
		Deletes: s.Deletes,
		HitRate: s.HitRate(),
	}
}

// RequestLogResponse is one upstream request record.
type RequestLogResponse struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	Endpoint        string `json:"endpoint"`
	Method          string `json:"method"`
	ResponseCode    int    `json:"response_code"`
	ResponseMessage string `json:"response_message,omitempty"`
	CreditsUsed     int    `json:"credits_used"`
	ExecutionMs     int64  `json:"execution_ms"`
	CreatedAt       string `json:"created_at"`
}

// FromRequestLogs converts a request log slice.
func FromRequestLogs(logs []*domain.RequestLog) []RequestLogResponse {
	out := make([]RequestLogResponse, len(logs))
	for i, l := range logs {
		out[i] = RequestLogResponse{
			ID:              l.ID,
			Provider:        l.Provider,
			Endpoint:        l.Endpoint,
			Method:          l.Method,
			ResponseCode:    l.ResponseCode,
			ResponseMessage: l.ResponseMessage,
			CreditsUsed:     l.CreditsUsed,
			ExecutionMs:     l.ExecutionTime.Milliseconds(),
			CreatedAt:       l.CreatedAt.Format(time.RFC3339),
		}
	}

	return out
}
