package accesskit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// logAudit creates an audit entry. Best effort: an audit write failure never
// blocks the operation it describes.
func (s *Service) logAudit(ctx context.Context, actorID, clinicID uuid.UUID, action, target string, success bool, details string) {
	if !s.auditEnabled || s.db == nil {
		return
	}
	audit := &AccessAudit{
		ActorID:   actorID,
		ClinicID:  clinicID,
		Action:    action,
		Target:    target,
		Success:   success,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(audit).Error; err != nil {
		s.log.Warnw("audit write failed", "action", action, "error", err)
	}
}

// GetAuditLog retrieves an audit entry by ID.
func (s *Service) GetAuditLog(ctx context.Context, id uint) (*AccessAudit, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}

	var audit AccessAudit
	if err := s.db.WithContext(ctx).First(&audit, id).Error; err != nil {
		return nil, ErrNotFound
	}
	return &audit, nil
}

// ListAuditLogs retrieves audit entries, optionally filtered by actor,
// action or time range, newest first.
func (s *Service) ListAuditLogs(ctx context.Context, actorID *uuid.UUID, action *string, since, until *time.Time) ([]AccessAudit, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if actorID != nil {
		query = query.Where("actor_id = ?", *actorID)
	}
	if action != nil {
		query = query.Where("action = ?", *action)
	}
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	if until != nil {
		query = query.Where("created_at <= ?", *until)
	}

	var audits []AccessAudit
	if err := query.Find(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}
