package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"meditrack/m/domain"
)

func TestLoginAdmin(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	u, err := svc.Users.Login(ctx, "admin", "admin123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u == nil || u.RoleID != domain.RoleAdminID {
		t.Fatalf("expected admin user, got %+v", u)
	}
	if u.LastLogin == "" {
		t.Fatalf("expected last login to be recorded")
	}

	logs, err := svc.AuditLogs.ByUser(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("ByUser: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != domain.AuditLogin {
		t.Fatalf("expected one LOGIN entry, got %+v", logs)
	}
}

func TestLoginFailuresReturnNil(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	cases := []struct{ username, password string }{
		{"admin", "wrong"},
		{"nobody", "admin123"},
		{"", ""},
	}
	for _, tc := range cases {
		u, err := svc.Users.Login(ctx, tc.username, tc.password)
		if err != nil || u != nil {
			t.Fatalf("Login(%q, %q): expected nil, nil, got %+v, %v", tc.username, tc.password, u, err)
		}
	}
}

func TestLoginInactiveUser(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	u, err := svc.Users.Create(ctx, NewUser{
		Username: "cashier1", Email: "c1@example.com", RoleID: domain.RoleCashierID, Status: domain.UserInactive,
	}, "secret1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, err := svc.Users.Login(ctx, "cashier1", "secret1"); err != nil || got != nil {
		t.Fatalf("expected inactive user to be refused, got %+v, %v", got, err)
	}

	active := domain.UserActive
	if _, err := svc.Users.Update(ctx, u.ID, UserUpdate{Status: &active}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got, err := svc.Users.Login(ctx, "cashier1", "secret1"); err != nil || got == nil {
		t.Fatalf("expected active user to log in, got %+v, %v", got, err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	_, err := svc.Users.Create(ctx, NewUser{Username: "x", Email: "bad", RoleID: domain.RoleViewerID}, "secret1")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = svc.Users.Create(ctx, NewUser{Username: "viewer", Email: "v@example.com", RoleID: domain.RoleViewerID}, "123")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected short password to fail, got %v", err)
	}
	_, err = svc.Users.Create(ctx, NewUser{Username: "viewer", Email: "v@example.com", RoleID: "role-ghost"}, "secret1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown role to fail, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	cashier, err := svc.Users.Create(ctx, NewUser{
		Username: "cashier1", Email: "c1@example.com", RoleID: domain.RoleCashierID,
	}, "secret1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cases := []struct {
		user string
		perm string
		want bool
	}{
		{domain.AdminUserID, "reports.view", true},
		{domain.AdminUserID, "anything", true},
		{cashier.ID, "sales.edit", true},
		{cashier.ID, "inventory.edit", false},
		{"ghost", "sales.view", false},
	}
	for _, tc := range cases {
		got, err := svc.Users.HasPermission(ctx, tc.user, tc.perm)
		if err != nil {
			t.Fatalf("HasPermission: %v", err)
		}
		if got != tc.want {
			t.Fatalf("HasPermission(%s, %s) = %v, want %v", tc.user, tc.perm, got, tc.want)
		}
	}
}

func TestChangeAndResetPassword(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	ok, err := svc.Users.ChangePassword(ctx, domain.AdminUserID, "wrong", "newpass1")
	if err != nil || ok {
		t.Fatalf("expected wrong current password to be refused, got %v, %v", ok, err)
	}
	ok, err = svc.Users.ChangePassword(ctx, domain.AdminUserID, "admin123", "newpass1")
	if err != nil || !ok {
		t.Fatalf("ChangePassword: %v, %v", ok, err)
	}
	if u, _ := svc.Users.Login(ctx, "admin", "newpass1"); u == nil {
		t.Fatalf("expected new password to work")
	}
	if err := svc.Users.ResetPassword(ctx, domain.AdminUserID, "admin123"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if u, _ := svc.Users.Login(ctx, "admin", "admin123"); u == nil {
		t.Fatalf("expected reset password to work")
	}
}

func TestRoles(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	roles, err := svc.Users.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 4 || roles[0].Name != "Admin" {
		t.Fatalf("expected four seeded roles in name order, got %+v", roles)
	}

	r, err := svc.Users.CreateRole(ctx, NewRole{Name: "Auditor", Permissions: []string{"reports.view"}})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	name := "Senior Auditor"
	updated, err := svc.Users.UpdateRole(ctx, r.ID, RoleUpdate{Name: &name, Permissions: []string{"reports.view", "transactions.view"}})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if updated.Name != name || !updated.Permissions.Allows("transactions.view") {
		t.Fatalf("unexpected role %+v", updated)
	}
	stored, err := svc.Users.GetRole(ctx, r.ID)
	if err != nil || len(stored.Permissions) != 2 {
		t.Fatalf("GetRole: %+v, %v", stored, err)
	}

	if err := svc.Users.DeleteRole(ctx, domain.RoleAdminID); !errors.Is(err, domain.ErrInUse) {
		t.Fatalf("expected held role deletion to fail, got %v", err)
	}
	if err := svc.Users.DeleteRole(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, err := svc.Users.GetRole(ctx, r.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted role to be gone, got %v", err)
	}
}

func TestDeleteUserKeepsAuditTrail(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	u, err := svc.Users.Create(ctx, NewUser{Username: "temp", Email: "t@example.com", RoleID: domain.RoleViewerID}, "secret1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, _ := svc.Users.Login(ctx, "temp", "secret1"); got == nil {
		t.Fatalf("expected login")
	}
	if err := svc.Users.Delete(adminCtx(), u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Users.Get(ctx, u.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	logs, err := svc.AuditLogs.ByEntity(ctx, domain.EntityUser, u.ID)
	if err != nil {
		t.Fatalf("ByEntity: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected login and delete entries, got %+v", logs)
	}
}

func TestListUsersNewestFirst(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()
	setClock(svc, fixedClock(time.Now().Add(time.Hour)))
	if _, err := svc.Users.Create(ctx, NewUser{Username: "later", Email: "l@example.com", RoleID: domain.RoleViewerID}, "secret1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	users, err := svc.Users.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(users) != 2 || users[0].Username != "later" {
		t.Fatalf("expected newest user first, got %+v", users)
	}
}
