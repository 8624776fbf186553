package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/config"
	"meditrack/m/internal/report"
	"meditrack/m/internal/sale"
	"meditrack/m/internal/service"
	"meditrack/m/internal/store"
)

const tokenTTL = 24 * time.Hour

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	svcs    *service.Services
	sales   *sale.Workflow
	reports *report.Reports
	secret  string
	logger  *logrus.Logger
}

// New constructs a Handler.
func New(svcs *service.Services, sales *sale.Workflow, reports *report.Reports, secret string, logger *logrus.Logger) *Handler {
	return &Handler{svcs: svcs, sales: sales, reports: reports, secret: secret, logger: logger}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.login)
		r.Group(func(protected chi.Router) {
			protected.Use(h.authMiddleware)
			protected.Get("/me", h.me)
			protected.Post("/change-password", h.changePassword)
		})
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/medicines", func(r chi.Router) {
			r.With(h.require("inventory.view")).Group(func(r chi.Router) {
				r.Get("/", h.listMedicines)
				r.Get("/low-stock", h.lowStock)
				r.Get("/expiring", h.expiring)
				r.Get("/barcode/{code}", h.medicineByBarcode)
				r.Get("/{id}", h.getMedicine)
			})
			r.With(h.require("inventory.edit")).Group(func(r chi.Router) {
				r.Post("/", h.createMedicine)
				r.Put("/{id}", h.updateMedicine)
				r.Post("/{id}/stock", h.setStock)
				r.Delete("/{id}", h.deleteMedicine)
			})
		})

		pr.With(h.require("inventory.edit")).Post("/purchases", h.receive)
		pr.With(h.require("sales.edit")).Post("/sales/checkout", h.checkout)

		pr.Route("/transactions", func(r chi.Router) {
			r.With(h.require("transactions.view")).Group(func(r chi.Router) {
				r.Get("/", h.listTransactions)
				r.Get("/stats", h.transactionStats)
				r.Get("/daily", h.dailySales)
				r.Get("/monthly", h.monthlySales)
				r.Get("/series", h.salesSeries)
				r.Get("/top", h.topSelling)
				r.Get("/{id}", h.getTransaction)
			})
			r.With(h.require("transactions.edit")).Delete("/{id}", h.deleteTransaction)
		})

		pr.Route("/customers", func(r chi.Router) {
			r.With(h.require("customers.view")).Group(func(r chi.Router) {
				r.Get("/", h.listCustomers)
				r.Get("/top", h.topCustomers)
				r.Get("/stats", h.customerStats)
				r.Get("/{id}", h.getCustomer)
				r.Get("/{id}/loyalty", h.loyaltyHistory)
			})
			r.With(h.require("customers.edit")).Group(func(r chi.Router) {
				r.Post("/", h.createCustomer)
				r.Put("/{id}", h.updateCustomer)
				r.Delete("/{id}", h.deleteCustomer)
				r.Post("/{id}/loyalty/award", h.awardPoints)
				r.Post("/{id}/loyalty/redeem", h.redeemPoints)
				r.Post("/{id}/loyalty/reconcile", h.reconcileLoyalty)
			})
		})

		pr.With(h.require("users.manage")).Group(func(r chi.Router) {
			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.listUsers)
				r.Post("/", h.createUser)
				r.Get("/{id}", h.getUser)
				r.Put("/{id}", h.updateUser)
				r.Delete("/{id}", h.deleteUser)
				r.Post("/{id}/reset-password", h.resetPassword)
			})
			r.Route("/roles", func(r chi.Router) {
				r.Get("/", h.listRoles)
				r.Post("/", h.createRole)
				r.Get("/{id}", h.getRole)
				r.Put("/{id}", h.updateRole)
				r.Delete("/{id}", h.deleteRole)
			})
		})

		pr.Route("/settings", func(r chi.Router) {
			r.Get("/", h.listSettings)
			r.Get("/{key}", h.getSetting)
			r.With(h.require("settings.edit")).Put("/{key}", h.putSetting)
			r.With(h.require("settings.edit")).Delete("/{key}", h.deleteSetting)
		})

		pr.Route("/audit-logs", func(r chi.Router) {
			r.Use(h.require("audit.view"))
			r.Get("/", h.listAuditLogs)
			r.Post("/trim", h.trimAuditLogs)
		})

		pr.Route("/reports", func(r chi.Router) {
			r.Use(h.require("reports.view"))
			r.Get("/", h.listReports)
			r.Post("/", h.generateReport)
			r.Get("/{id}", h.getReport)
			r.Get("/{id}/export", h.exportReport)
			r.Delete("/{id}", h.deleteReport)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Authentication helpers

type authClaims struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(u *domain.User) (string, error) {
	now := time.Now()
	claims := authClaims{
		UserID: u.ID,
		RoleID: u.RoleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

// authMiddleware verifies the bearer token and makes its user the acting user
// of the request context.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok || claims.UserID == "" {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), claims.UserID)))
	})
}

// require lets the request through when the acting user's role grants perm.
// The role is looked up on every request so revocations apply at once.
func (h *Handler) require(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := service.ActorFrom(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing user")
				return
			}
			allowed, err := h.svcs.Users.HasPermission(r.Context(), userID, perm)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			if !allowed {
				respondError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Auth handlers

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.svcs.Users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := h.generateToken(user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, _ := service.ActorFrom(r.Context())
	user, err := h.svcs.Users.Get(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID, _ := service.ActorFrom(r.Context())
	ok, err := h.svcs.Users.ChangePassword(r.Context(), userID, payload.CurrentPassword, payload.NewPassword)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

// Helpers

// fail maps a service error onto a status code. Unexpected errors are logged
// and reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientPoints):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInUse):
		respondError(w, http.StatusConflict, err.Error())
	case store.IsUniqueViolation(err):
		respondError(w, http.StatusConflict, "record already exists")
	default:
		config.LogError(h.logger, "api", "Handler.fail", r.Method+" "+r.URL.Path, nil, err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return def
	}
	return v
}

// parseTime accepts RFC 3339 timestamps or plain dates. A plain date means
// the start of that day, or its last millisecond when endOfDay is set.
func parseTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(domain.DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return domain.EndOfDay(t), nil
	}
	return t, nil
}

// dateRange reads the from and to query parameters. Both are required.
func dateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		return time.Time{}, time.Time{}, &service.ValidationError{Fields: map[string]string{"from": "datetime"}}
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		return time.Time{}, time.Time{}, &service.ValidationError{Fields: map[string]string{"to": "datetime"}}
	}
	return from, to, nil
}
