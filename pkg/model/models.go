package model

import (
	"time"
)

// SessionType classifies how a monitoring session is run
type SessionType string

const (
	SessionTypeContinuous SessionType = "continuous"
	SessionTypeScheduled  SessionType = "scheduled"
	SessionTypeEmergency  SessionType = "emergency"
)

// Valid reports whether t is a known session type
func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeContinuous, SessionTypeScheduled, SessionTypeEmergency:
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of a monitoring session
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusTerminated SessionStatus = "terminated"
)

// Terminal reports whether no further transitions are allowed from s
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusTerminated
}

// MonitoringSession represents a bounded period of remote monitoring for a user
type MonitoringSession struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	ProviderID *string                `json:"provider_id,omitempty"`
	Type       SessionType            `json:"session_type"`
	Status     SessionStatus          `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	EndedAt    *time.Time             `json:"ended_at,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Thresholds ThresholdConfig        `json:"alert_thresholds,omitempty"`
	Notes      *string                `json:"notes,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// IsActive reports whether measurements are currently evaluated against this session
func (s *MonitoringSession) IsActive() bool {
	return s != nil && s.Status == SessionStatusActive
}

// MeasurementPoint is one timestamped health reading
type MeasurementPoint struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	SessionID    *string          `json:"session_id,omitempty"`
	DataType     string           `json:"data_type"`
	Value        MeasurementValue `json:"value"`
	Unit         *string          `json:"unit,omitempty"`
	DeviceSource *string          `json:"device_source,omitempty"`
	IsCritical   bool             `json:"is_critical"`
	MeasuredAt   time.Time        `json:"measured_at"`
	ProcessedAt  time.Time        `json:"processed_at"`
}

// MeasurementFilter narrows a measurement query
type MeasurementFilter struct {
	UserID    string
	SessionID *string
	DataTypes []string
	Since     *time.Time
	Limit     int
}

// AlertType identifies what raised an alert
type AlertType string

const (
	AlertTypeThresholdExceeded AlertType = "threshold_exceeded"
	AlertTypeManual            AlertType = "manual"
)

// Severity of an alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from least to most severe. Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Alert records that a measurement crossed its threshold
type Alert struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	SessionID      *string    `json:"session_id,omitempty"`
	Type           AlertType  `json:"alert_type"`
	Severity       Severity   `json:"severity"`
	Title          string     `json:"title"`
	Message        string     `json:"message"`
	DataType       string     `json:"data_type,omitempty"`
	DataReference  *string    `json:"data_reference,omitempty"`
	Acknowledged   bool       `json:"is_acknowledged"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Resolved       bool       `json:"is_resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AlertFilter narrows an unacknowledged alert listing
type AlertFilter struct {
	UserID    string
	SessionID *string
}

// AccessLevel of a data share
type AccessLevel string

const (
	AccessReadOnly  AccessLevel = "read_only"
	AccessReadWrite AccessLevel = "read_write"
)

// Valid reports whether a is a known access level
func (a AccessLevel) Valid() bool {
	return a == AccessReadOnly || a == AccessReadWrite
}

// DataShare grants a healthcare provider time-bounded read access to a user's measurements
type DataShare struct {
	ID              string      `json:"id"`
	UserID          string      `json:"user_id"`
	ProviderAddress string      `json:"provider_address"`
	DataTypes       []string    `json:"data_types"`
	AccessLevel     AccessLevel `json:"access_level"`
	StartDate       time.Time   `json:"start_date"`
	EndDate         *time.Time  `json:"end_date,omitempty"`
	Active          bool        `json:"is_active"`
	TokenHash       string      `json:"-"`
	LastAccessedAt  *time.Time  `json:"last_accessed_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// IsValid reports whether the share grants access at now
func (s *DataShare) IsValid(now time.Time) bool {
	if s == nil || !s.Active {
		return false
	}
	if now.Before(s.StartDate) {
		return false
	}
	return s.EndDate == nil || !now.After(*s.EndDate)
}

// Covers reports whether the share includes dataType
func (s *DataShare) Covers(dataType string) bool {
	for _, dt := range s.DataTypes {
		if dt == dataType {
			return true
		}
	}
	return false
}

// Notification is an in-app message produced for a dispatched alert
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	AlertID   string    `json:"alert_id"`
	Severity  Severity  `json:"severity"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// Report represents a generated session report
type Report struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	FileURL     string    `json:"file_url"`
	GeneratedAt time.Time `json:"generated_at"`
}
