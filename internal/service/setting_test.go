package service

import (
	"context"
	"errors"
	"testing"

	"meditrack/m/domain"
)

func TestSettingsTypedAccess(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	if got := svc.Settings.String(ctx, domain.KeyStoreName, "x"); got != "MediTrack Pharmacy" {
		t.Fatalf("expected seeded store name, got %q", got)
	}
	if got := svc.Settings.Number(ctx, domain.KeyTaxRate, 0); got != 18 {
		t.Fatalf("expected seeded tax rate, got %v", got)
	}

	cases := []struct {
		key   string
		value domain.SettingValue
	}{
		{"ui.compact", domain.BoolValue(true)},
		{"ui.pageSize", domain.NumberValue(25.5)},
		{"ui.theme", domain.StringValue("dark")},
		{"ui.columns", domain.JSONValue(`["name","quantity"]`)},
	}
	for _, tc := range cases {
		if _, err := svc.Settings.Set(ctx, tc.key, tc.value); err != nil {
			t.Fatalf("Set %s: %v", tc.key, err)
		}
		got, err := svc.Settings.Value(ctx, tc.key)
		if err != nil {
			t.Fatalf("Value %s: %v", tc.key, err)
		}
		if got.Type() != tc.value.Type() {
			t.Fatalf("%s: expected type %s, got %s", tc.key, tc.value.Type(), got.Type())
		}
	}

	if !svc.Settings.Bool(ctx, "ui.compact", false) {
		t.Fatalf("expected stored boolean")
	}
	if got := svc.Settings.Number(ctx, "ui.pageSize", 0); got != 25.5 {
		t.Fatalf("expected 25.5, got %v", got)
	}
	var columns []string
	if !svc.Settings.JSON(ctx, "ui.columns", &columns) || len(columns) != 2 {
		t.Fatalf("expected json columns, got %v", columns)
	}
}

func TestSettingsDefaults(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	if got := svc.Settings.Number(ctx, "missing.key", 7); got != 7 {
		t.Fatalf("expected default for missing key, got %v", got)
	}
	// A string stored where a number is expected falls back to the default.
	if got := svc.Settings.Number(ctx, domain.KeyStoreName, 3); got != 3 {
		t.Fatalf("expected default on type mismatch, got %v", got)
	}
	var dest map[string]any
	if svc.Settings.JSON(ctx, domain.KeyStoreName, &dest) || dest != nil {
		t.Fatalf("expected JSON on a string setting to be refused")
	}
	if _, err := svc.Settings.Value(ctx, "missing.key"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSettingsUpsertKeepsID(t *testing.T) {
	svc := newServices(t)
	ctx := adminCtx()

	first, err := svc.Settings.Set(ctx, "store.phone", domain.StringValue("111"))
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	second, err := svc.Settings.Set(ctx, "store.phone", domain.StringValue("222"))
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected upsert to keep the id, got %s and %s", first.ID, second.ID)
	}
	if got := svc.Settings.String(ctx, "store.phone", ""); got != "222" {
		t.Fatalf("expected latest value, got %q", got)
	}

	logs, err := svc.AuditLogs.ByEntity(ctx, domain.EntitySetting, "store.phone")
	if err != nil {
		t.Fatalf("ByEntity: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(logs))
	}
	for _, l := range logs {
		if l.Action != domain.AuditUpdate {
			t.Fatalf("expected UPDATE of a seeded key, got %s", l.Action)
		}
	}
}

func TestSettingsValidationAndDelete(t *testing.T) {
	svc := newServices(t)
	ctx := context.Background()

	if _, err := svc.Settings.Set(ctx, "", domain.StringValue("x")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected empty key to fail, got %v", err)
	}
	if _, err := svc.Settings.Set(ctx, "bad.json", domain.JSONValue(`{"open":`)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected invalid json to fail, got %v", err)
	}

	before, err := svc.Settings.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i := 1; i < len(before); i++ {
		if before[i-1].Key > before[i].Key {
			t.Fatalf("settings not ordered by key: %s before %s", before[i-1].Key, before[i].Key)
		}
	}

	if err := svc.Settings.Delete(ctx, domain.KeyReceiptFooter); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := svc.Settings.Delete(ctx, domain.KeyReceiptFooter); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
	after, _ := svc.Settings.List(ctx)
	if len(after) != len(before)-1 {
		t.Fatalf("expected one setting fewer, got %d and %d", len(before), len(after))
	}
}
