package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
	AuditLogin  AuditAction = "LOGIN"
)

// Audited entity names.
const (
	EntityMedicine    = "Medicine"
	EntityTransaction = "Transaction"
	EntityUser        = "User"
	EntityRole        = "Role"
	EntityCustomer    = "Customer"
	EntitySetting     = "Setting"
	EntityReport      = "Report"
)

type AuditLog struct {
	ID        string      `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"user_id"`
	Action    AuditAction `db:"action" json:"action"`
	Entity    string      `db:"entity" json:"entity"`
	EntityID  string      `db:"entity_id" json:"entity_id"`
	Changes   Changes     `db:"changes" json:"changes,omitempty"`
	Timestamp string      `db:"timestamp" json:"timestamp"`
}

// FieldChange records one field's value before and after a mutation. Old is
// empty for creations and New is empty for deletions.
type FieldChange struct {
	Old string `json:"old,omitempty"`
	New string `json:"new,omitempty"`
}

// Changes maps field names to their change. Stored as a JSON object; nil is NULL.
type Changes map[string]FieldChange

func (c Changes) Value() (driver.Value, error) {
	if len(c) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]FieldChange(c))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *Changes) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*c = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("changes: unsupported source %T", src)
	}
	if len(raw) == 0 {
		*c = nil
		return nil
	}
	m := map[string]FieldChange{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("changes: %w", err)
	}
	*c = m
	return nil
}
