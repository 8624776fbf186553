package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

type SettingType string

const (
	SettingString  SettingType = "string"
	SettingNumber  SettingType = "number"
	SettingBoolean SettingType = "boolean"
	SettingJSON    SettingType = "json"
)

// Setting is the stored row: the value is kept as text next to its type tag.
type Setting struct {
	ID        string      `db:"id" json:"id"`
	Key       string      `db:"key" json:"key"`
	Value     string      `db:"value" json:"value"`
	Type      SettingType `db:"type" json:"type"`
	UpdatedAt string      `db:"updated_at" json:"updated_at"`
}

// SettingValue is a typed setting value. Implementations are StringValue,
// NumberValue, BoolValue and JSONValue.
type SettingValue interface {
	Type() SettingType
	Encode() (string, error)
}

type (
	StringValue string
	NumberValue float64
	BoolValue   bool
	JSONValue   json.RawMessage
)

func (StringValue) Type() SettingType { return SettingString }
func (NumberValue) Type() SettingType { return SettingNumber }
func (BoolValue) Type() SettingType   { return SettingBoolean }
func (JSONValue) Type() SettingType   { return SettingJSON }

func (v StringValue) Encode() (string, error) { return string(v), nil }

func (v NumberValue) Encode() (string, error) {
	return strconv.FormatFloat(float64(v), 'f', -1, 64), nil
}

func (v BoolValue) Encode() (string, error) { return strconv.FormatBool(bool(v)), nil }

func (v JSONValue) Encode() (string, error) {
	if !json.Valid(v) {
		return "", errors.New("setting: invalid json value")
	}
	return string(v), nil
}

// JSONOf marshals v into a JSONValue.
func JSONOf(v any) (JSONValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONValue(b), nil
}

// DecodeSettingValue interprets raw according to its type tag.
func DecodeSettingValue(t SettingType, raw string) (SettingValue, error) {
	switch t {
	case SettingString:
		return StringValue(raw), nil
	case SettingNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("setting: number %q: %w", raw, err)
		}
		return NumberValue(f), nil
	case SettingBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("setting: boolean %q: %w", raw, err)
		}
		return BoolValue(b), nil
	case SettingJSON:
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("setting: invalid json %q", raw)
		}
		return JSONValue(raw), nil
	default:
		return nil, fmt.Errorf("setting: unknown type %q", t)
	}
}

// Setting keys read by the application.
const (
	KeyStoreName          = "store.name"
	KeyReceiptHeader      = "receipt.header"
	KeyReceiptFooter      = "receipt.footer"
	KeyCurrency           = "business.currency"
	KeyTaxRate            = "business.taxRate"
	KeyLoyaltyPerUnit     = "loyalty.pointsPerUnit"
	KeyAuditRetentionDays = "audit.retentionDays"
)
