// Package audit records who touched which monitoring resource.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Operation is the kind of access being recorded
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationRead   Operation = "READ"
)

// Resource names the audited entity kind
type Resource string

const (
	ResourceMonitoringSession Resource = "monitoring_session"
	ResourceAlert             Resource = "alert"
	ResourceDataShare         Resource = "data_share"
	ResourceMeasurement       Resource = "measurement_point"
	ResourceReport            Resource = "session_report"
)

// Entry is one audit record. Actor is the user or provider acting, not necessarily the data owner.
type Entry struct {
	Actor      string                 `json:"actor"`
	Operation  Operation              `json:"operation"`
	Resource   Resource               `json:"resource"`
	ResourceID string                 `json:"resource_id"`
	At         time.Time              `json:"at"`
	ClientIP   string                 `json:"client_ip,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Query narrows History
type Query struct {
	Actor      string
	Resource   Resource
	ResourceID string
	Limit      int
}

// Client describes the HTTP caller behind an operation
type Client struct {
	IP        string
	UserAgent string
	RequestID string
}

type clientKey struct{}

// WithClient attaches the caller to ctx so later entries carry it
func WithClient(ctx context.Context, client Client) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

// ClientFrom returns the caller attached by WithClient
func ClientFrom(ctx context.Context) (Client, bool) {
	client, ok := ctx.Value(clientKey{}).(Client)
	return client, ok
}

// Logger writes audit entries to the structured log and, when a pool is set, to audit_logs.
// A nil *Logger discards entries.
type Logger struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

// NewLogger creates a new audit logger. db may be nil.
func NewLogger(db *pgxpool.Pool, logger *zap.Logger) *Logger {
	return &Logger{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Record stores entry, filling the time and caller from ctx when unset
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.At.IsZero() {
		entry.At = l.now().UTC()
	}
	if client, ok := ClientFrom(ctx); ok {
		if entry.ClientIP == "" {
			entry.ClientIP = client.IP
		}
		if entry.UserAgent == "" {
			entry.UserAgent = client.UserAgent
		}
		if entry.RequestID == "" {
			entry.RequestID = client.RequestID
		}
	}

	l.logger.Info("Audit log entry",
		zap.String("actor", entry.Actor),
		zap.String("operation", string(entry.Operation)),
		zap.String("resource", string(entry.Resource)),
		zap.String("resource_id", entry.ResourceID),
		zap.String("client_ip", entry.ClientIP),
		zap.String("request_id", entry.RequestID),
	)

	if l.db == nil {
		return nil
	}

	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	if entry.RequestID != "" {
		details["request_id"] = entry.RequestID
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO audit_logs (
			user_id, operation_type, resource_type, resource_id,
			timestamp, ip_address, user_agent, additional_data
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
	`,
		entry.Actor,
		entry.Operation,
		entry.Resource,
		entry.ResourceID,
		entry.At,
		entry.ClientIP,
		entry.UserAgent,
		details,
	)
	if err != nil {
		l.logger.Error("Failed to write audit log to database",
			zap.Error(err),
			zap.String("actor", entry.Actor),
			zap.String("resource", string(entry.Resource)),
			zap.String("resource_id", entry.ResourceID),
		)
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}

// History lists stored entries matching q, newest first. Without a database it returns nothing.
func (l *Logger) History(ctx context.Context, q Query) ([]Entry, error) {
	if l == nil || l.db == nil {
		return []Entry{}, nil
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}

	rows, err := l.db.Query(ctx, `
		SELECT user_id, operation_type, resource_type, resource_id, timestamp,
		       COALESCE(ip_address, ''), COALESCE(user_agent, ''), additional_data
		FROM audit_logs
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR resource_type = $2)
		  AND ($3 = '' OR resource_id = $3)
		ORDER BY timestamp DESC, id DESC
		LIMIT $4
	`, q.Actor, string(q.Resource), q.ResourceID, q.Limit)
	if err != nil {
		l.logger.Error("Failed to query audit history", zap.Error(err))
		return nil, fmt.Errorf("failed to query audit history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Actor, &e.Operation, &e.Resource, &e.ResourceID, &e.At,
			&e.ClientIP, &e.UserAgent, &e.Details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if id, ok := e.Details["request_id"].(string); ok {
			e.RequestID = id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit history: %w", err)
	}
	return entries, nil
}
