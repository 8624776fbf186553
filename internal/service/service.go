// Package service holds the entity services. Each service is a thin layer
// over a store.Queryer; WithTx returns a copy bound to an open transaction so
// several services can take part in one atomic unit of work.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

type actorKey struct{}

// WithActor attaches the acting user id to ctx. Mutations made with such a
// context are written to the audit log.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the acting user id carried by ctx.
func ActorFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey{}).(string)
	return id, ok && id != ""
}

// Options configures New.
type Options struct {
	Logger      *logrus.Logger
	PhoneRegion string
}

// Services bundles every entity service over one queryer.
type Services struct {
	Medicines    *Medicines
	Transactions *Transactions
	Users        *Users
	Customers    *Customers
	Settings     *Settings
	AuditLogs    *AuditLogs
}

func New(q store.Queryer, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = "IN"
	}
	audit := NewAuditLogs(q, opts.Logger)
	settings := NewSettings(q, audit, opts.Logger)
	return &Services{
		Medicines:    NewMedicines(q, audit),
		Transactions: NewTransactions(q, audit),
		Users:        NewUsers(q, audit),
		Customers:    NewCustomers(q, audit, settings, opts.PhoneRegion),
		Settings:     settings,
		AuditLogs:    audit,
	}
}

// WithTx rebinds every service to q.
func (s *Services) WithTx(q store.Queryer) *Services {
	return &Services{
		Medicines:    s.Medicines.WithTx(q),
		Transactions: s.Transactions.WithTx(q),
		Users:        s.Users.WithTx(q),
		Customers:    s.Customers.WithTx(q),
		Settings:     s.Settings.WithTx(q),
		AuditLogs:    s.AuditLogs.WithTx(q),
	}
}

// TrimAuditLogs trims the audit log to the audit.retentionDays setting.
// fallbackDays applies when the setting is missing or not positive.
func (s *Services) TrimAuditLogs(ctx context.Context, fallbackDays int) (int64, error) {
	days := int(s.Settings.Number(ctx, domain.KeyAuditRetentionDays, 0))
	if days <= 0 {
		days = fallbackDays
	}
	return s.AuditLogs.Trim(ctx, days)
}

var validate = validator.New()

// ValidationError lists the failing fields of an input and the rule each one
// broke.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	b, _ := json.Marshal(e.Fields)
	return "validation failed: " + string(b)
}

func (e *ValidationError) Unwrap() error { return domain.ErrValidation }

// Validate checks the validate struct tags of input and returns a
// *ValidationError naming every failing field.
func Validate(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, ve := range verrs {
		fields[ve.Field()] = ve.Tag()
	}
	return &ValidationError{Fields: fields}
}

func invalid(field, rule string) error {
	return &ValidationError{Fields: map[string]string{field: rule}}
}

func notFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, domain.ErrNotFound)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern turns term into a LIKE pattern matching it literally
// anywhere in a value. Queries using it must declare ESCAPE '\'.
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// limitArg turns a non-positive limit into SQLite's "no limit".
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func rowsChanged(res interface{ RowsAffected() (int64, error) }) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func dayBounds(day time.Time) (string, string) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return domain.FormatTime(start), domain.FormatTime(domain.EndOfDay(start))
}
