package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hobbong21/khub-personal-healthdata-sub007/pkg/model"
)

// MemoryStore is an in-process implementation of every repository, used for
// local development (storage.driver=memory) and tests. Writes made inside
// WithinTx are journaled and undone when the transaction function fails.
type MemoryStore struct {
	mu           sync.RWMutex
	seq          int64
	sessions     map[string]model.MonitoringSession
	measurements []model.MeasurementPoint
	alerts       map[string]memAlert
	shares       map[string]model.DataShare
	reports      map[string]model.Report
}

type memAlert struct {
	alert model.Alert
	seq   int64
}

// memTx journals undo steps for one transaction level
type memTx struct {
	undo []func()
}

type memTxKey struct{}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]model.MonitoringSession),
		alerts:   make(map[string]memAlert),
		shares:   make(map[string]model.DataShare),
		reports:  make(map[string]model.Report),
	}
}

// WithinTx runs fn with a journal. Nested calls behave like savepoints.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	parent, _ := ctx.Value(memTxKey{}).(*memTx)
	tx := &memTx{}

	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
		return err
	}

	if parent != nil {
		s.mu.Lock()
		parent.undo = append(parent.undo, tx.undo...)
		s.mu.Unlock()
	}
	return nil
}

// journal records an undo step; callers hold s.mu
func (s *MemoryStore) journal(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

// Sessions returns the session repository view
func (s *MemoryStore) Sessions() *MemorySessionRepository {
	return &MemorySessionRepository{store: s}
}

// Measurements returns the measurement repository view
func (s *MemoryStore) Measurements() *MemoryMeasurementRepository {
	return &MemoryMeasurementRepository{store: s}
}

// Alerts returns the alert repository view
func (s *MemoryStore) Alerts() *MemoryAlertRepository {
	return &MemoryAlertRepository{store: s}
}

// Shares returns the data share repository view
func (s *MemoryStore) Shares() *MemoryShareRepository {
	return &MemoryShareRepository{store: s}
}

// Reports returns the report repository view
func (s *MemoryStore) Reports() *MemoryReportRepository {
	return &MemoryReportRepository{store: s}
}

// MemorySessionRepository stores sessions in a MemoryStore
type MemorySessionRepository struct {
	store *MemoryStore
}

// Create inserts a session, rejecting a second active session per user
func (r *MemorySessionRepository) Create(ctx context.Context, session *model.MonitoringSession) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return model.ErrConflict
	}
	if session.Status == model.SessionStatusActive {
		for _, existing := range s.sessions {
			if existing.UserID == session.UserID && existing.Status == model.SessionStatusActive {
				return model.ErrConflict
			}
		}
	}

	s.sessions[session.ID] = *session
	id := session.ID
	s.journal(ctx, func() { delete(s.sessions, id) })
	return nil
}

// GetByID retrieves a session by ID
func (r *MemorySessionRepository) GetByID(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	session, ok := r.store.sessions[sessionID]
	if !ok {
		return nil, model.NotFound("monitoring session", sessionID)
	}
	return &session, nil
}

// LockByID reads a session. The memory store has no row locks; each write is atomic on its own.
func (r *MemorySessionRepository) LockByID(ctx context.Context, sessionID string) (*model.MonitoringSession, error) {
	return r.GetByID(ctx, sessionID)
}

// GetActiveByUserID returns the most recent active session or nil
func (r *MemorySessionRepository) GetActiveByUserID(ctx context.Context, userID string) (*model.MonitoringSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var active *model.MonitoringSession
	for _, session := range r.store.sessions {
		if session.UserID != userID || session.Status != model.SessionStatusActive {
			continue
		}
		if active == nil || session.CreatedAt.After(active.CreatedAt) {
			s := session
			active = &s
		}
	}
	return active, nil
}

// ListByUserID lists a user's sessions, newest first
func (r *MemorySessionRepository) ListByUserID(ctx context.Context, userID string) ([]model.MonitoringSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	sessions := []model.MonitoringSession{}
	for _, session := range r.store.sessions {
		if session.UserID == userID {
			sessions = append(sessions, session)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// UpdateStatus sets the session status and end time
func (r *MemorySessionRepository) UpdateStatus(ctx context.Context, sessionID string, status model.SessionStatus, endedAt *time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return model.NotFound("monitoring session", sessionID)
	}
	if status == model.SessionStatusActive && session.Status != model.SessionStatusActive {
		for _, existing := range s.sessions {
			if existing.UserID == session.UserID && existing.Status == model.SessionStatusActive {
				return model.ErrConflict
			}
		}
	}

	prev := session
	session.Status = status
	session.EndedAt = endedAt
	session.UpdatedAt = time.Now()
	s.sessions[sessionID] = session
	s.journal(ctx, func() { s.sessions[sessionID] = prev })
	return nil
}

// UpdateThresholds replaces the session's threshold configuration
func (r *MemorySessionRepository) UpdateThresholds(ctx context.Context, sessionID string, thresholds model.ThresholdConfig) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return model.NotFound("monitoring session", sessionID)
	}

	prev := session
	session.Thresholds = thresholds
	session.UpdatedAt = time.Now()
	s.sessions[sessionID] = session
	s.journal(ctx, func() { s.sessions[sessionID] = prev })
	return nil
}

// MemoryMeasurementRepository stores measurements in a MemoryStore
type MemoryMeasurementRepository struct {
	store *MemoryStore
}

// Save appends a measurement point
func (r *MemoryMeasurementRepository) Save(ctx context.Context, point *model.MeasurementPoint) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.measurements = append(s.measurements, *point)
	id := point.ID
	s.journal(ctx, func() {
		for i := len(s.measurements) - 1; i >= 0; i-- {
			if s.measurements[i].ID == id {
				s.measurements = append(s.measurements[:i], s.measurements[i+1:]...)
				return
			}
		}
	})
	return nil
}

// List returns measurements matching filter, newest first by measured_at
func (r *MemoryMeasurementRepository) List(ctx context.Context, filter model.MeasurementFilter) ([]model.MeasurementPoint, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	points := []model.MeasurementPoint{}
	for i := len(r.store.measurements) - 1; i >= 0; i-- {
		p := r.store.measurements[i]
		if p.UserID != filter.UserID {
			continue
		}
		if filter.SessionID != nil && (p.SessionID == nil || *p.SessionID != *filter.SessionID) {
			continue
		}
		if len(filter.DataTypes) > 0 && !containsString(filter.DataTypes, p.DataType) {
			continue
		}
		if filter.Since != nil && p.MeasuredAt.Before(*filter.Since) {
			continue
		}
		points = append(points, p)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].MeasuredAt.After(points[j].MeasuredAt)
	})
	if filter.Limit > 0 && len(points) > filter.Limit {
		points = points[:filter.Limit]
	}
	return points, nil
}

// MemoryAlertRepository stores alerts in a MemoryStore
type MemoryAlertRepository struct {
	store *MemoryStore
}

// Create inserts an alert
func (r *MemoryAlertRepository) Create(ctx context.Context, alert *model.Alert) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.ID]; exists {
		return model.ErrConflict
	}
	s.seq++
	s.alerts[alert.ID] = memAlert{alert: *alert, seq: s.seq}
	id := alert.ID
	s.journal(ctx, func() { delete(s.alerts, id) })
	return nil
}

// GetByID retrieves an alert by ID
func (r *MemoryAlertRepository) GetByID(ctx context.Context, alertID string) (*model.Alert, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entry, ok := r.store.alerts[alertID]
	if !ok {
		return nil, model.NotFound("alert", alertID)
	}
	alert := entry.alert
	return &alert, nil
}

// Acknowledge marks an alert acknowledged
func (r *MemoryAlertRepository) Acknowledge(ctx context.Context, alertID, acknowledgedBy string, at time.Time) (*model.Alert, error) {
	return r.update(ctx, alertID, func(a *model.Alert) {
		by := acknowledgedBy
		ts := at
		a.Acknowledged = true
		a.AcknowledgedBy = &by
		a.AcknowledgedAt = &ts
	})
}

// Resolve marks an alert resolved
func (r *MemoryAlertRepository) Resolve(ctx context.Context, alertID string, at time.Time) (*model.Alert, error) {
	return r.update(ctx, alertID, func(a *model.Alert) {
		ts := at
		a.Resolved = true
		a.ResolvedAt = &ts
	})
}

func (r *MemoryAlertRepository) update(ctx context.Context, alertID string, mutate func(*model.Alert)) (*model.Alert, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.alerts[alertID]
	if !ok {
		return nil, model.NotFound("alert", alertID)
	}
	prev := entry
	mutate(&entry.alert)
	s.alerts[alertID] = entry
	s.journal(ctx, func() { s.alerts[alertID] = prev })

	alert := entry.alert
	return &alert, nil
}

// ListUnacknowledged lists unacknowledged alerts, most severe first, then newest first
func (r *MemoryAlertRepository) ListUnacknowledged(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries := []memAlert{}
	for _, entry := range r.store.alerts {
		a := entry.alert
		if a.UserID != filter.UserID || a.Acknowledged {
			continue
		}
		if filter.SessionID != nil && (a.SessionID == nil || *a.SessionID != *filter.SessionID) {
			continue
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		ri, rj := entries[i].alert.Severity.Rank(), entries[j].alert.Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		if !entries[i].alert.CreatedAt.Equal(entries[j].alert.CreatedAt) {
			return entries[i].alert.CreatedAt.After(entries[j].alert.CreatedAt)
		}
		return entries[i].seq > entries[j].seq
	})

	alerts := make([]model.Alert, 0, len(entries))
	for _, entry := range entries {
		alerts = append(alerts, entry.alert)
	}
	return alerts, nil
}

// ListBySession lists every alert raised in a session, newest first
func (r *MemoryAlertRepository) ListBySession(ctx context.Context, sessionID string) ([]model.Alert, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries := []memAlert{}
	for _, entry := range r.store.alerts {
		if entry.alert.SessionID != nil && *entry.alert.SessionID == sessionID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })

	alerts := make([]model.Alert, 0, len(entries))
	for _, entry := range entries {
		alerts = append(alerts, entry.alert)
	}
	return alerts, nil
}

// MemoryShareRepository stores data shares in a MemoryStore
type MemoryShareRepository struct {
	store *MemoryStore
}

// Create inserts a data share
func (r *MemoryShareRepository) Create(ctx context.Context, share *model.DataShare) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shares {
		if existing.TokenHash == share.TokenHash {
			return model.ErrConflict
		}
	}
	s.shares[share.ID] = *share
	id := share.ID
	s.journal(ctx, func() { delete(s.shares, id) })
	return nil
}

// GetByID retrieves a share by ID
func (r *MemoryShareRepository) GetByID(ctx context.Context, shareID string) (*model.DataShare, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	share, ok := r.store.shares[shareID]
	if !ok {
		return nil, model.NotFound("data share", shareID)
	}
	return &share, nil
}

// GetByTokenHash retrieves a share by its token hash
func (r *MemoryShareRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*model.DataShare, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, share := range r.store.shares {
		if share.TokenHash == tokenHash {
			s := share
			return &s, nil
		}
	}
	return nil, model.NotFound("data share", "for token")
}

// ListByUserID lists a user's shares, newest first
func (r *MemoryShareRepository) ListByUserID(ctx context.Context, userID string) ([]model.DataShare, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	shares := []model.DataShare{}
	for _, share := range r.store.shares {
		if share.UserID == userID {
			shares = append(shares, share)
		}
	}
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].CreatedAt.After(shares[j].CreatedAt)
	})
	return shares, nil
}

// Deactivate clears the active flag
func (r *MemoryShareRepository) Deactivate(ctx context.Context, shareID string) error {
	return r.update(ctx, shareID, func(share *model.DataShare) {
		share.Active = false
		share.UpdatedAt = time.Now()
	})
}

// TouchAccess records when the share was last used
func (r *MemoryShareRepository) TouchAccess(ctx context.Context, shareID string, at time.Time) error {
	return r.update(ctx, shareID, func(share *model.DataShare) {
		ts := at
		share.LastAccessedAt = &ts
	})
}

func (r *MemoryShareRepository) update(ctx context.Context, shareID string, mutate func(*model.DataShare)) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	share, ok := s.shares[shareID]
	if !ok {
		return model.NotFound("data share", shareID)
	}
	prev := share
	mutate(&share)
	s.shares[shareID] = share
	s.journal(ctx, func() { s.shares[shareID] = prev })
	return nil
}

// MemoryReportRepository stores report metadata in a MemoryStore
type MemoryReportRepository struct {
	store *MemoryStore
}

// Save inserts report metadata
func (r *MemoryReportRepository) Save(ctx context.Context, report *model.Report) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reports[report.ID] = *report
	id := report.ID
	s.journal(ctx, func() { delete(s.reports, id) })
	return nil
}

// GetByID retrieves report metadata by ID
func (r *MemoryReportRepository) GetByID(ctx context.Context, reportID string) (*model.Report, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	report, ok := r.store.reports[reportID]
	if !ok {
		return nil, model.NotFound("report", reportID)
	}
	return &report, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
