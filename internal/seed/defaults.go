package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

// Default administrator credentials created on first run.
const (
	AdminUsername = "admin"
	AdminPassword = "admin123"
	AdminEmail    = "admin@meditrack.local"
)

var defaultRoles = []domain.Role{
	{
		ID:          domain.RoleAdminID,
		Name:        "Admin",
		Description: "Full system access",
		Permissions: domain.Permissions{domain.PermissionAll},
	},
	{
		ID:          domain.RoleManagerID,
		Name:        "Manager",
		Description: "Inventory, sales and reporting",
		Permissions: domain.Permissions{
			"inventory.view", "inventory.edit",
			"sales.view", "sales.edit",
			"transactions.view",
			"customers.view", "customers.edit",
			"reports.view",
		},
	},
	{
		ID:          domain.RoleCashierID,
		Name:        "Cashier",
		Description: "Point of sale",
		Permissions: domain.Permissions{
			"sales.view", "sales.edit",
			"transactions.view",
			"customers.view", "customers.edit",
		},
	},
	{
		ID:          domain.RoleViewerID,
		Name:        "Viewer",
		Description: "Read-only access",
		Permissions: domain.Permissions{
			"inventory.view",
			"sales.view",
			"transactions.view",
			"reports.view",
		},
	},
}

// Defaults seeds the fixed roles and the administrator account. Nothing is
// written unless the roles table is empty. The check is not guarded against a
// concurrent initializer; there is only ever one writer.
func Defaults(ctx context.Context, st store.Store, logger *logrus.Logger) error {
	var count int
	if err := st.GetContext(ctx, &count, `SELECT COUNT(*) FROM roles`); err != nil {
		return fmt.Errorf("count roles: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	now := domain.FormatTime(time.Now())

	err = st.WithTx(ctx, func(q store.Queryer) error {
		for _, r := range defaultRoles {
			if _, err := q.ExecContext(ctx,
				`INSERT INTO roles (id, name, description, permissions, created_at) VALUES (?, ?, ?, ?, ?)`,
				r.ID, r.Name, r.Description, r.Permissions, now,
			); err != nil {
				return fmt.Errorf("insert role %s: %w", r.Name, err)
			}
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO users (id, username, email, password, first_name, last_name, role_id, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			domain.AdminUserID, AdminUsername, AdminEmail, string(hash), "System", "Administrator",
			domain.RoleAdminID, domain.UserActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("insert admin user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.WithField("roles", len(defaultRoles)).Info("seeded default roles and admin user")
	return nil
}
