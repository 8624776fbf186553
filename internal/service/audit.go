package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/config"
	"meditrack/m/internal/store"
)

const auditColumns = `id, COALESCE(user_id, '') AS user_id, action, entity, entity_id, changes, timestamp`

// AuditLogs is the append-only audit trail.
type AuditLogs struct {
	q      store.Queryer
	logger *logrus.Logger
	now    func() time.Time
}

func NewAuditLogs(q store.Queryer, logger *logrus.Logger) *AuditLogs {
	return &AuditLogs{q: q, logger: logger, now: time.Now}
}

func (s *AuditLogs) WithTx(q store.Queryer) *AuditLogs {
	c := *s
	c.q = q
	return &c
}

// Log appends an entry for the actor carried by ctx. Without an actor nothing
// is written and Log returns nil, nil.
func (s *AuditLogs) Log(ctx context.Context, action domain.AuditAction, entity, entityID string, changes domain.Changes) (*domain.AuditLog, error) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		return nil, nil
	}
	entry := &domain.AuditLog{
		ID:        uuid.NewString(),
		UserID:    actor,
		Action:    action,
		Entity:    entity,
		EntityID:  entityID,
		Changes:   changes,
		Timestamp: domain.FormatTime(s.now()),
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, action, entity, entity_id, changes, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Action, entry.Entity, entry.EntityID, entry.Changes, entry.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("append audit log: %w", err)
	}
	return entry, nil
}

// record is the best-effort form of Log used by the other services: a failed
// write is logged and otherwise ignored.
func (s *AuditLogs) record(ctx context.Context, action domain.AuditAction, entity, entityID string, changes domain.Changes) {
	if _, err := s.Log(ctx, action, entity, entityID, changes); err != nil {
		config.LogError(s.logger, "service", "AuditLogs.record", string(action)+" "+entity, entityID, err)
	}
}

// List returns the newest entries first. A non-positive limit returns all.
func (s *AuditLogs) List(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := s.q.SelectContext(ctx, &logs,
		`SELECT `+auditColumns+` FROM audit_logs ORDER BY timestamp DESC, id LIMIT ?`, limitArg(limit))
	return logs, err
}

func (s *AuditLogs) ByUser(ctx context.Context, userID string, limit int) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := s.q.SelectContext(ctx, &logs,
		`SELECT `+auditColumns+` FROM audit_logs WHERE user_id = ? ORDER BY timestamp DESC, id LIMIT ?`, userID, limitArg(limit))
	return logs, err
}

func (s *AuditLogs) ByEntity(ctx context.Context, entity, entityID string) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := s.q.SelectContext(ctx, &logs,
		`SELECT `+auditColumns+` FROM audit_logs WHERE entity = ? AND entity_id = ? ORDER BY timestamp DESC, id`, entity, entityID)
	return logs, err
}

// ByDateRange returns entries with from <= timestamp <= to.
func (s *AuditLogs) ByDateRange(ctx context.Context, from, to time.Time) ([]domain.AuditLog, error) {
	var logs []domain.AuditLog
	err := s.q.SelectContext(ctx, &logs,
		`SELECT `+auditColumns+` FROM audit_logs WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp DESC, id`,
		domain.FormatTime(from), domain.FormatTime(to))
	return logs, err
}

// Trim deletes entries older than days and returns how many were removed.
func (s *AuditLogs) Trim(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, invalid("days", "gt")
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	res, err := s.q.ExecContext(ctx, `DELETE FROM audit_logs WHERE timestamp < ?`, domain.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("trim audit logs: %w", err)
	}
	n := rowsChanged(res)
	if n > 0 {
		s.logger.WithFields(logrus.Fields{"deleted": n, "days": days}).Info("trimmed audit logs")
	}
	return n, nil
}

// diff compares the JSON form of two records field by field. Either side may
// be nil, which records a creation or a deletion.
func diff(before, after any) domain.Changes {
	old, cur := jsonFields(before), jsonFields(after)
	changes := domain.Changes{}
	for k, v := range cur {
		if k == "updated_at" || k == "created_at" {
			continue
		}
		if old[k] != v {
			changes[k] = domain.FieldChange{Old: old[k], New: v}
		}
	}
	for k, v := range old {
		if _, ok := cur[k]; !ok && k != "updated_at" && k != "created_at" {
			changes[k] = domain.FieldChange{Old: v}
		}
	}
	return changes
}

func jsonFields(v any) map[string]string {
	out := map[string]string{}
	if v == nil {
		return out
	}
	b, err := json.Marshal(v)
	if err != nil {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return out
	}
	for k, val := range m {
		switch t := val.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			raw, _ := json.Marshal(t)
			out[k] = string(raw)
		}
	}
	return out
}
