package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

const (
	userColumns = `id, username, email, password, COALESCE(first_name, '') AS first_name,
    COALESCE(last_name, '') AS last_name, role_id, status, COALESCE(last_login, '') AS last_login, created_at, updated_at`
	roleColumns = `id, name, COALESCE(description, '') AS description, permissions, created_at`

	minPasswordLength = 6
)

type NewUser struct {
	Username  string            `json:"username" validate:"required,min=3"`
	Email     string            `json:"email" validate:"required,email"`
	FirstName string            `json:"first_name"`
	LastName  string            `json:"last_name"`
	RoleID    string            `json:"role_id" validate:"required"`
	Status    domain.UserStatus `json:"status" validate:"omitempty,oneof=active inactive"`
}

type UserUpdate struct {
	Username  *string            `json:"username" validate:"omitempty,min=3"`
	Email     *string            `json:"email" validate:"omitempty,email"`
	FirstName *string            `json:"first_name"`
	LastName  *string            `json:"last_name"`
	RoleID    *string            `json:"role_id" validate:"omitempty,min=1"`
	Status    *domain.UserStatus `json:"status" validate:"omitempty,oneof=active inactive"`
}

type NewRole struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type RoleUpdate struct {
	Name        *string  `json:"name" validate:"omitempty,min=1"`
	Description *string  `json:"description"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required"`
}

// Users manages accounts and roles.
type Users struct {
	q     store.Queryer
	audit *AuditLogs
	now   func() time.Time
	cost  int
}

func NewUsers(q store.Queryer, audit *AuditLogs) *Users {
	return &Users{q: q, audit: audit, now: time.Now, cost: bcrypt.DefaultCost}
}

func (s *Users) WithTx(q store.Queryer) *Users {
	c := *s
	c.q = q
	c.audit = s.audit.WithTx(q)
	return &c
}

// Login checks the credentials of an active user. Unknown users, inactive
// users and wrong passwords all yield nil, nil.
func (s *Users) Login(ctx context.Context, username, password string) (*domain.User, error) {
	u, err := s.GetByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if u.Status != domain.UserActive {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return nil, nil
	}

	u.LastLogin = domain.FormatTime(s.now())
	if _, err := s.q.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, u.LastLogin, u.ID); err != nil {
		return nil, fmt.Errorf("record login: %w", err)
	}
	s.audit.record(WithActor(ctx, u.ID), domain.AuditLogin, domain.EntityUser, u.ID, nil)
	return u, nil
}

func (s *Users) hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", invalid("password", fmt.Sprintf("min=%d", minPasswordLength))
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func (s *Users) Create(ctx context.Context, input NewUser, password string) (*domain.User, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	if input.Status == "" {
		input.Status = domain.UserActive
	}

	var u *domain.User
	err = store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		if _, err := tx.GetRole(ctx, input.RoleID); err != nil {
			return err
		}
		now := domain.FormatTime(s.now())
		u = &domain.User{
			ID:        uuid.NewString(),
			Username:  input.Username,
			Email:     input.Email,
			Password:  hash,
			FirstName: input.FirstName,
			LastName:  input.LastName,
			RoleID:    input.RoleID,
			Status:    input.Status,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO users (id, username, email, password, first_name, last_name, role_id, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Username, u.Email, u.Password, u.FirstName, u.LastName, u.RoleID, u.Status, u.CreatedAt, u.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		tx.audit.record(ctx, domain.AuditCreate, domain.EntityUser, u.ID, diff(nil, u))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Users) Get(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.q.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Users) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	var u domain.User
	err := s.q.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", username)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// List returns all users, newest first.
func (s *Users) List(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	err := s.q.SelectContext(ctx, &out, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id`)
	return out, err
}

func (s *Users) Update(ctx context.Context, id string, input UserUpdate) (*domain.User, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	var updated *domain.User
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if input.RoleID != nil && *input.RoleID != before.RoleID {
			if _, err := tx.GetRole(ctx, *input.RoleID); err != nil {
				return err
			}
		}
		u := *before
		setIf(&u.Username, input.Username)
		setIf(&u.Email, input.Email)
		setIf(&u.FirstName, input.FirstName)
		setIf(&u.LastName, input.LastName)
		setIf(&u.RoleID, input.RoleID)
		setIf(&u.Status, input.Status)
		u.UpdatedAt = domain.FormatTime(s.now())

		_, err = q.ExecContext(ctx,
			`UPDATE users SET username = ?, email = ?, first_name = ?, last_name = ?, role_id = ?, status = ?, updated_at = ?
             WHERE id = ?`,
			u.Username, u.Email, u.FirstName, u.LastName, u.RoleID, u.Status, u.UpdatedAt, id,
		)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		tx.audit.record(ctx, domain.AuditUpdate, domain.EntityUser, id, diff(before, &u))
		updated = &u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the user. Audit entries written by the user are kept with
// their user reference cleared.
func (s *Users) Delete(ctx context.Context, id string) error {
	return store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `UPDATE audit_logs SET user_id = NULL WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("detach audit logs: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		tx.audit.record(ctx, domain.AuditDelete, domain.EntityUser, id, diff(before, nil))
		return nil
	})
}

// ChangePassword replaces the password when current matches. It returns false
// without changing anything when it does not.
func (s *Users) ChangePassword(ctx context.Context, id, current, next string) (bool, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(current)) != nil {
		return false, nil
	}
	if err := s.setPassword(ctx, id, next); err != nil {
		return false, err
	}
	return true, nil
}

// ResetPassword sets a new password without checking the old one.
func (s *Users) ResetPassword(ctx context.Context, id, password string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.setPassword(ctx, id, password)
}

func (s *Users) setPassword(ctx context.Context, id, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `UPDATE users SET password = ?, updated_at = ? WHERE id = ?`,
		hash, domain.FormatTime(s.now()), id); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	s.audit.record(ctx, domain.AuditUpdate, domain.EntityUser, id, domain.Changes{"password": {New: "changed"}})
	return nil
}

// HasPermission reports whether the user's role grants perm, either literally
// or through the "all" wildcard. Unknown and inactive users have no
// permissions.
func (s *Users) HasPermission(ctx context.Context, userID, perm string) (bool, error) {
	var row struct {
		Status      domain.UserStatus  `db:"status"`
		Permissions domain.Permissions `db:"permissions"`
	}
	err := s.q.GetContext(ctx, &row,
		`SELECT u.status, r.permissions FROM users u JOIN roles r ON r.id = u.role_id WHERE u.id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.Status == domain.UserActive && row.Permissions.Allows(perm), nil
}

func (s *Users) CreateRole(ctx context.Context, input NewRole) (*domain.Role, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	r := &domain.Role{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		Permissions: domain.Permissions(input.Permissions),
		CreatedAt:   domain.FormatTime(s.now()),
	}
	if r.Permissions == nil {
		r.Permissions = domain.Permissions{}
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO roles (id, name, description, permissions, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Description, r.Permissions, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	s.audit.record(ctx, domain.AuditCreate, domain.EntityRole, r.ID, diff(nil, r))
	return r, nil
}

func (s *Users) GetRole(ctx context.Context, id string) (*domain.Role, error) {
	var r domain.Role
	err := s.q.GetContext(ctx, &r, `SELECT `+roleColumns+` FROM roles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("role", id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Users) ListRoles(ctx context.Context) ([]domain.Role, error) {
	var out []domain.Role
	err := s.q.SelectContext(ctx, &out, `SELECT `+roleColumns+` FROM roles ORDER BY name ASC`)
	return out, err
}

func (s *Users) UpdateRole(ctx context.Context, id string, input RoleUpdate) (*domain.Role, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	var updated *domain.Role
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		r := *before
		setIf(&r.Name, input.Name)
		setIf(&r.Description, input.Description)
		if input.Permissions != nil {
			r.Permissions = domain.Permissions(input.Permissions)
		}
		_, err = q.ExecContext(ctx, `UPDATE roles SET name = ?, description = ?, permissions = ? WHERE id = ?`,
			r.Name, r.Description, r.Permissions, id)
		if err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		tx.audit.record(ctx, domain.AuditUpdate, domain.EntityRole, id, diff(before, &r))
		updated = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRole removes a role that no user holds.
func (s *Users) DeleteRole(ctx context.Context, id string) error {
	return store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		var holders int
		if err := q.GetContext(ctx, &holders, `SELECT COUNT(*) FROM users WHERE role_id = ?`, id); err != nil {
			return err
		}
		if holders > 0 {
			return fmt.Errorf("role %s is held by %d users: %w", before.Name, holders, domain.ErrInUse)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete role: %w", err)
		}
		tx.audit.record(ctx, domain.AuditDelete, domain.EntityRole, id, diff(before, nil))
		return nil
	})
}
