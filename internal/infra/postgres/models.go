package postgres

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"product-data-service/internal/domain"
)

// JobModel is the GORM model for the api_queue_jobs table.
type JobModel struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Action   string `gorm:"type:varchar(100);not null"`
	Payload  string `gorm:"type:jsonb;not null;default:'{}'"`
	Provider string `gorm:"type:varchar(50)"`
	BatchID  string `gorm:"type:varchar(64);index"`
	Priority int    `gorm:"not null;default:50"`
	Status   string `gorm:"type:varchar(20);not null;index:idx_jobs_status_scheduled"`

	Attempts   int `gorm:"not null;default:0"`
	MaxRetries int `gorm:"not null;default:3"`

	ScheduledAt  time.Time `gorm:"not null;index:idx_jobs_status_scheduled"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Result       string    `gorm:"type:jsonb"`
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for JobModel.
func (JobModel) TableName() string {
	return "api_queue_jobs"
}

// ToDomain converts JobModel to domain.Job.
func (m *JobModel) ToDomain() *domain.Job {
	job := &domain.Job{
		ID:           m.ID,
		Action:       m.Action,
		Provider:     m.Provider,
		BatchID:      m.BatchID,
		Priority:     m.Priority,
		Status:       domain.JobStatus(m.Status),
		Attempts:     m.Attempts,
		MaxRetries:   m.MaxRetries,
		ScheduledAt:  m.ScheduledAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}

	if m.Payload != "" {
		_ = json.Unmarshal([]byte(m.Payload), &job.Payload)
	}
	if m.Result != "" {
		_ = json.Unmarshal([]byte(m.Result), &job.Result)
	}

	return job
}

// JobFromDomain creates a JobModel from domain.Job.
func JobFromDomain(j *domain.Job) *JobModel {
	payload := "{}"
	if j.Payload != nil {
		if raw, err := json.Marshal(j.Payload); err == nil {
			payload = string(raw)
		}
	}

	result := ""
	if j.Result != nil {
		if raw, err := json.Marshal(j.Result); err == nil {
			result = string(raw)
		}
	}

	return &JobModel{
		ID:           j.ID,
		Action:       j.Action,
		Payload:      payload,
		Provider:     j.Provider,
		BatchID:      j.BatchID,
		Priority:     j.Priority,
		Status:       string(j.Status),
		Attempts:     j.Attempts,
		MaxRetries:   j.MaxRetries,
		ScheduledAt:  j.ScheduledAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
		Result:       result,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
	}
}

// RequestLogModel is the GORM model for the api_request_logs table.
type RequestLogModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	Provider        string `gorm:"type:varchar(50);not null;index"`
	Endpoint        string `gorm:"type:varchar(255);not null"`
	Method          string `gorm:"type:varchar(10);not null"`
	Params          string `gorm:"type:jsonb"`
	ResponseCode    int    `gorm:"default:0"`
	ResponseMessage string `gorm:"type:text"`
	CreditsUsed     int    `gorm:"not null;default:0"`
	ExecutionTimeMs int64  `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// TableName returns the table name for RequestLogModel.
func (RequestLogModel) TableName() string {
	return "api_request_logs"
}

// ToDomain converts RequestLogModel to domain.RequestLog.
func (m *RequestLogModel) ToDomain() *domain.RequestLog {
	return &domain.RequestLog{
		ID:              m.ID,
		Provider:        m.Provider,
		Endpoint:        m.Endpoint,
		Method:          m.Method,
		Params:          m.Params,
		ResponseCode:    m.ResponseCode,
		ResponseMessage: m.ResponseMessage,
		CreditsUsed:     m.CreditsUsed,
		ExecutionTime:   time.Duration(m.ExecutionTimeMs) * time.Millisecond,
		CreatedAt:       m.CreatedAt,
	}
}

// LogFromDomain creates a RequestLogModel from domain.RequestLog.
func LogFromDomain(l *domain.RequestLog) *RequestLogModel {
	return &RequestLogModel{
		ID:              l.ID,
		Provider:        l.Provider,
		Endpoint:        l.Endpoint,
		Method:          l.Method,
		Params:          l.Params,
		ResponseCode:    l.ResponseCode,
		ResponseMessage: l.ResponseMessage,
		CreditsUsed:     l.CreditsUsed,
		ExecutionTimeMs: l.ExecutionTime.Milliseconds(),
		CreatedAt:       l.CreatedAt,
	}
}

// ProviderStatsModel is the GORM model for the api_provider_stats table.
type ProviderStatsModel struct {
	Provider            string         `gorm:"type:varchar(50);primaryKey"`
	Capabilities        pq.StringArray `gorm:"type:text[]"`
	TotalRequests       int64          `gorm:"not null;default:0"`
	Successes           int64          `gorm:"not null;default:0"`
	Failures            int64          `gorm:"not null;default:0"`
	TotalResponseTimeMs int64          `gorm:"not null;default:0"`
	LastUsed            *time.Time
	UpdatedAt           time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for ProviderStatsModel.
func (ProviderStatsModel) TableName() string {
	return "api_provider_stats"
}

// ToDomain converts ProviderStatsModel to domain.ProviderStats.
func (m *ProviderStatsModel) ToDomain() *domain.ProviderStats {
	stats := &domain.ProviderStats{
		Provider:          m.Provider,
		TotalRequests:     m.TotalRequests,
		Successes:         m.Successes,
		Failures:          m.Failures,
		TotalResponseTime: time.Duration(m.TotalResponseTimeMs) * time.Millisecond,
	}
	if m.LastUsed != nil {
		stats.LastUsed = *m.LastUsed
	}

	return stats
}

// StatsFromDomain creates a ProviderStatsModel from domain.ProviderStats.
func StatsFromDomain(s *domain.ProviderStats, capabilities []string) *ProviderStatsModel {
	model := &ProviderStatsModel{
		Provider:            s.Provider,
		Capabilities:        capabilities,
		TotalRequests:       s.TotalRequests,
		Successes:           s.Successes,
		Failures:            s.Failures,
		TotalResponseTimeMs: s.TotalResponseTime.Milliseconds(),
	}
	if !s.LastUsed.IsZero() {
		lastUsed := s.LastUsed
		model.LastUsed = &lastUsed
	}

	return model
}
