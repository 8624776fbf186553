package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
)

type UserStatus string

const (
	UserActive   UserStatus = "active"
	UserInactive UserStatus = "inactive"
)

// PermissionAll grants every permission.
const PermissionAll = "all"

// Seeded identities.
const (
	RoleAdminID   = "role-admin"
	RoleManagerID = "role-manager"
	RoleCashierID = "role-cashier"
	RoleViewerID  = "role-viewer"
	AdminUserID   = "user-admin"
)

type User struct {
	ID        string     `db:"id" json:"id"`
	Username  string     `db:"username" json:"username"`
	Email     string     `db:"email" json:"email"`
	Password  string     `db:"password" json:"-"`
	FirstName string     `db:"first_name" json:"first_name"`
	LastName  string     `db:"last_name" json:"last_name"`
	RoleID    string     `db:"role_id" json:"role_id"`
	Status    UserStatus `db:"status" json:"status"`
	LastLogin string     `db:"last_login" json:"last_login,omitempty"`
	CreatedAt string     `db:"created_at" json:"created_at"`
	UpdatedAt string     `db:"updated_at" json:"updated_at"`
}

type Role struct {
	ID          string      `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Description string      `db:"description" json:"description"`
	Permissions Permissions `db:"permissions" json:"permissions"`
	CreatedAt   string      `db:"created_at" json:"created_at"`
}

// Permissions is an ordered permission list stored as a JSON array.
type Permissions []string

// Allows reports whether the list contains perm or the wildcard.
func (p Permissions) Allows(perm string) bool {
	return slices.Contains(p, PermissionAll) || slices.Contains(p, perm)
}

func (p Permissions) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(p))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (p *Permissions) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = Permissions{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("permissions: unsupported source %T", src)
	}
	if len(raw) == 0 {
		*p = Permissions{}
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("permissions: %w", err)
	}
	*p = list
	return nil
}
