package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

// Settings is the application-wide key/value configuration.
type Settings struct {
	q      store.Queryer
	audit  *AuditLogs
	logger *logrus.Logger
	now    func() time.Time
}

func NewSettings(q store.Queryer, audit *AuditLogs, logger *logrus.Logger) *Settings {
	return &Settings{q: q, audit: audit, logger: logger, now: time.Now}
}

func (s *Settings) WithTx(q store.Queryer) *Settings {
	c := *s
	c.q = q
	c.audit = s.audit.WithTx(q)
	return &c
}

// Set inserts or replaces the value stored under key.
func (s *Settings) Set(ctx context.Context, key string, v domain.SettingValue) (*domain.Setting, error) {
	if key == "" {
		return nil, invalid("key", "required")
	}
	if v == nil {
		return nil, invalid("value", "required")
	}
	raw, err := v.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	var saved *domain.Setting
	err = store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		id := uuid.NewString()
		if before != nil {
			id = before.ID
		}
		saved = &domain.Setting{ID: id, Key: key, Value: raw, Type: v.Type(), UpdatedAt: domain.FormatTime(s.now())}
		_, err = q.ExecContext(ctx,
			`INSERT INTO settings (id, key, value, type, updated_at) VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(key) DO UPDATE SET value = excluded.value, type = excluded.type, updated_at = excluded.updated_at`,
			saved.ID, saved.Key, saved.Value, saved.Type, saved.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save setting %s: %w", key, err)
		}
		action := domain.AuditUpdate
		if before == nil {
			action = domain.AuditCreate
		}
		tx.audit.record(ctx, action, domain.EntitySetting, key, diff(before, saved))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Settings) Get(ctx context.Context, key string) (*domain.Setting, error) {
	var st domain.Setting
	err := s.q.GetContext(ctx, &st, `SELECT id, key, value, type, updated_at FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("setting", key)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Value returns the typed value stored under key.
func (s *Settings) Value(ctx context.Context, key string) (domain.SettingValue, error) {
	st, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return domain.DecodeSettingValue(st.Type, st.Value)
}

// lookup returns the value under key, or nil when it is missing or cannot be
// decoded.
func (s *Settings) lookup(ctx context.Context, key string) domain.SettingValue {
	v, err := s.Value(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WithField("key", key).Warn("unreadable setting, using default: " + err.Error())
		}
		return nil
	}
	return v
}

// String returns a string setting, or def when the key is missing or holds
// another type.
func (s *Settings) String(ctx context.Context, key, def string) string {
	if v, ok := s.lookup(ctx, key).(domain.StringValue); ok {
		return string(v)
	}
	return def
}

func (s *Settings) Number(ctx context.Context, key string, def float64) float64 {
	if v, ok := s.lookup(ctx, key).(domain.NumberValue); ok {
		return float64(v)
	}
	return def
}

func (s *Settings) Bool(ctx context.Context, key string, def bool) bool {
	if v, ok := s.lookup(ctx, key).(domain.BoolValue); ok {
		return bool(v)
	}
	return def
}

// JSON decodes a json setting into dest and reports whether it did. dest is
// left untouched otherwise.
func (s *Settings) JSON(ctx context.Context, key string, dest any) bool {
	v, ok := s.lookup(ctx, key).(domain.JSONValue)
	if !ok {
		return false
	}
	if err := json.Unmarshal(v, dest); err != nil {
		s.logger.WithField("key", key).Warn("setting does not fit destination: " + err.Error())
		return false
	}
	return true
}

// List returns every setting ordered by key.
func (s *Settings) List(ctx context.Context) ([]domain.Setting, error) {
	var out []domain.Setting
	err := s.q.SelectContext(ctx, &out, `SELECT id, key, value, type, updated_at FROM settings ORDER BY key ASC`)
	return out, err
}

func (s *Settings) Delete(ctx context.Context, key string) error {
	return store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete setting %s: %w", key, err)
		}
		tx.audit.record(ctx, domain.AuditDelete, domain.EntitySetting, key, diff(before, nil))
		return nil
	})
}
