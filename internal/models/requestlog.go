package models

import (
	"time"

	"github.com/google/uuid"
)

// Represents a logged gateway request, including how the limit gates ruled
type RequestLog struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time  `gorm:"index" json:"timestamp"`
	APIKeyID       *uuid.UUID `gorm:"index" json:"api_key_id,omitempty"`
	UserID         string     `gorm:"index" json:"user_id,omitempty"`
	Method         string     `json:"method"`
	Path           string     `gorm:"index" json:"path"`
	StatusCode     int        `gorm:"index" json:"status_code"`
	ResponseTimeMs int        `json:"response_time_ms"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	RateLimited    bool       `json:"rate_limited"`
	QuotaDenied    bool       `json:"quota_denied"`
	UpstreamTarget string     `json:"upstream_target,omitempty"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
