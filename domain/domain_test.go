package domain

import (
	"testing"
	"time"
)

func TestPermissionsAllows(t *testing.T) {
	cases := []struct {
		perms Permissions
		perm  string
		want  bool
	}{
		{Permissions{PermissionAll}, "reports.view", true},
		{Permissions{"sales.view", "sales.edit"}, "sales.edit", true},
		{Permissions{"sales.view"}, "sales.edit", false},
		{nil, "sales.view", false},
	}
	for _, tc := range cases {
		if got := tc.perms.Allows(tc.perm); got != tc.want {
			t.Fatalf("%v.Allows(%q) = %v, want %v", tc.perms, tc.perm, got, tc.want)
		}
	}
}

func TestPermissionsScan(t *testing.T) {
	var p Permissions
	if err := p.Scan(`["a","b"]`); err != nil || len(p) != 2 {
		t.Fatalf("Scan: %v, %v", p, err)
	}
	if err := p.Scan(nil); err != nil || p == nil || len(p) != 0 {
		t.Fatalf("expected empty list for NULL, got %#v, %v", p, err)
	}
	if err := p.Scan("not json"); err == nil {
		t.Fatalf("expected malformed permissions to fail")
	}
	v, err := Permissions(nil).Value()
	if err != nil || v != "[]" {
		t.Fatalf("expected nil permissions stored as [], got %v, %v", v, err)
	}
}

func TestDecodeSettingValue(t *testing.T) {
	cases := []struct {
		typ     SettingType
		raw     string
		want    SettingValue
		wantErr bool
	}{
		{SettingString, "hello", StringValue("hello"), false},
		{SettingNumber, "18.5", NumberValue(18.5), false},
		{SettingNumber, "eighteen", nil, true},
		{SettingBoolean, "true", BoolValue(true), false},
		{SettingBoolean, "yes", nil, true},
		{SettingJSON, `{"a":1}`, nil, false},
		{SettingJSON, `{"a":`, nil, true},
		{"blob", "x", nil, true},
	}
	for _, tc := range cases {
		got, err := DecodeSettingValue(tc.typ, tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("DecodeSettingValue(%s, %q): expected error", tc.typ, tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("DecodeSettingValue(%s, %q): %v", tc.typ, tc.raw, err)
		}
		if got.Type() != tc.typ {
			t.Fatalf("expected type %s, got %s", tc.typ, got.Type())
		}
		if tc.want != nil && got != tc.want {
			t.Fatalf("DecodeSettingValue(%s, %q) = %v, want %v", tc.typ, tc.raw, got, tc.want)
		}
		encoded, err := got.Encode()
		if err != nil || encoded != tc.raw {
			t.Fatalf("Encode round trip: %q, %v", encoded, err)
		}
	}
}

func TestDecodeReport(t *testing.T) {
	rep, err := DecodeReport(ReportFinancial, []byte(`{"id":"r1","type":"financial","total_revenue":100,"profit_margin":40}`))
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	fin, ok := rep.(*FinancialReport)
	if !ok || fin.Header().ID != "r1" || fin.TotalRevenue != 100 || fin.ProfitMargin != 40 {
		t.Fatalf("unexpected report %#v", rep)
	}
	if _, err := DecodeReport("weekly-summary", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown report type to fail")
	}
	if _, err := DecodeReport(ReportSales, []byte(`[`)); err == nil {
		t.Fatalf("expected malformed data to fail")
	}
}

func TestChangesStorage(t *testing.T) {
	v, err := Changes(nil).Value()
	if err != nil || v != nil {
		t.Fatalf("expected NULL for no changes, got %v, %v", v, err)
	}
	c := Changes{"quantity": {Old: "1", New: "2"}}
	v, err = c.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var back Changes
	if err := back.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if back["quantity"] != c["quantity"] {
		t.Fatalf("unexpected changes %v", back)
	}
}

func TestTimeFormatting(t *testing.T) {
	ts := time.Date(2025, 3, 9, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	if got := FormatTime(ts); got != "2025-03-09T23:59:59.999Z" {
		t.Fatalf("FormatTime = %s", got)
	}
	back, err := ParseTime(FormatTime(ts))
	if err != nil || !back.Equal(ts) {
		t.Fatalf("ParseTime: %v, %v", back, err)
	}
	if !EndOfDay(time.Date(2025, 3, 9, 1, 0, 0, 0, time.UTC)).Equal(ts) {
		t.Fatalf("EndOfDay mismatch")
	}
	// Earlier instants sort first as text.
	if FormatTime(ts.Add(-time.Millisecond)) >= FormatTime(ts) {
		t.Fatalf("expected text order to follow time order")
	}
}
