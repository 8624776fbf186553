package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

type defaultSetting struct {
	key   string
	value domain.SettingValue
}

var defaultSettings = []defaultSetting{
	{domain.KeyStoreName, domain.StringValue("MediTrack Pharmacy")},
	{"store.address", domain.StringValue("")},
	{"store.phone", domain.StringValue("")},
	{"store.email", domain.StringValue("")},
	{domain.KeyCurrency, domain.StringValue("INR")},
	{domain.KeyTaxRate, domain.NumberValue(18)},
	{"business.discountPolicy", domain.StringValue("")},
	{domain.KeyReceiptHeader, domain.StringValue("Thank you for shopping with us")},
	{domain.KeyReceiptFooter, domain.StringValue("Get well soon")},
	{"system.autoLogoutMinutes", domain.NumberValue(30)},
	{"system.backupSchedule", domain.StringValue("daily")},
	{domain.KeyLoyaltyPerUnit, domain.NumberValue(1)},
	{domain.KeyAuditRetentionDays, domain.NumberValue(90)},
}

// Settings inserts every default setting whose key is not present yet.
// Existing values are never overwritten.
func Settings(ctx context.Context, st store.Store, logger *logrus.Logger) error {
	now := domain.FormatTime(time.Now())
	added := 0
	err := st.WithTx(ctx, func(q store.Queryer) error {
		for _, s := range defaultSettings {
			raw, err := s.value.Encode()
			if err != nil {
				return fmt.Errorf("encode setting %s: %w", s.key, err)
			}
			res, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO settings (id, key, value, type, updated_at) VALUES (?, ?, ?, ?, ?)`,
				uuid.NewString(), s.key, raw, s.value.Type(), now,
			)
			if err != nil {
				return fmt.Errorf("insert setting %s: %w", s.key, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if added > 0 {
		logger.WithField("count", added).Info("seeded default settings")
	}
	return nil
}
