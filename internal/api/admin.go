package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"meditrack/m/domain"
	"meditrack/m/internal/report"
	"meditrack/m/internal/service"
)

// Users and roles

type newUserRequest struct {
	service.NewUser
	Password string `json:"password"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svcs.Users.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req newUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.svcs.Users.Create(r.Context(), req.NewUser, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svcs.Users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var input service.UserUpdate
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.svcs.Users.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if actor, _ := service.ActorFrom(r.Context()); actor == id {
		respondError(w, http.StatusConflict, "cannot delete the signed-in user")
		return
	}
	if err := h.svcs.Users.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svcs.Users.ResetPassword(r.Context(), chi.URLParam(r, "id"), payload.Password); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "password reset"})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svcs.Users.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var input service.NewRole
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := h.svcs.Users.CreateRole(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, role)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.svcs.Users.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var input service.RoleUpdate
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := h.svcs.Users.UpdateRole(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.svcs.Users.DeleteRole(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Settings

// settingRequest carries a typed value. Strings are JSON strings; numbers,
// booleans and json values are sent as themselves.
type settingRequest struct {
	Type  domain.SettingType `json:"type"`
	Value json.RawMessage    `json:"value"`
}

func (req settingRequest) decode() (domain.SettingValue, error) {
	raw := string(req.Value)
	if req.Type == domain.SettingString {
		var s string
		if err := json.Unmarshal(req.Value, &s); err != nil {
			return nil, &service.ValidationError{Fields: map[string]string{"value": "string"}}
		}
		raw = s
	}
	v, err := domain.DecodeSettingValue(req.Type, raw)
	if err != nil {
		return nil, &service.ValidationError{Fields: map[string]string{"value": string(req.Type)}}
	}
	return v, nil
}

func (h *Handler) listSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svcs.Settings.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

func (h *Handler) getSetting(w http.ResponseWriter, r *http.Request) {
	setting, err := h.svcs.Settings.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, setting)
}

func (h *Handler) putSetting(w http.ResponseWriter, r *http.Request) {
	var req settingRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := req.decode()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	setting, err := h.svcs.Settings.Set(r.Context(), chi.URLParam(r, "key"), v)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, setting)
}

func (h *Handler) deleteSetting(w http.ResponseWriter, r *http.Request) {
	if err := h.svcs.Settings.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Audit log

// listAuditLogs filters by ?user, by ?entity with ?entity_id, or by a from/to
// range. Without a filter it returns the newest ?limit entries.
func (h *Handler) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(r, "limit", 0)
	var (
		logs []domain.AuditLog
		err  error
	)
	switch {
	case q.Get("user") != "":
		logs, err = h.svcs.AuditLogs.ByUser(r.Context(), q.Get("user"), limit)
	case q.Get("entity") != "":
		logs, err = h.svcs.AuditLogs.ByEntity(r.Context(), q.Get("entity"), q.Get("entity_id"))
	case q.Get("from") != "" || q.Get("to") != "":
		from, to, rangeErr := dateRange(r)
		if rangeErr != nil {
			err = rangeErr
			break
		}
		logs, err = h.svcs.AuditLogs.ByDateRange(r.Context(), from, to)
	default:
		logs, err = h.svcs.AuditLogs.List(r.Context(), limit)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handler) trimAuditLogs(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Days int `json:"days"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.svcs.AuditLogs.Trim(r.Context(), payload.Days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// Reports

// generateReport builds a report of ?type over the from/to query range.
// ?period defaults to daily.
func (h *Handler) generateReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := dateRange(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodDaily
	}

	var rep domain.Report
	switch domain.ReportType(r.URL.Query().Get("type")) {
	case domain.ReportSales:
		rep, err = h.reports.Sales(r.Context(), from, to, period)
	case domain.ReportInventory:
		rep, err = h.reports.Inventory(r.Context(), from, to, period)
	case domain.ReportFinancial:
		rep, err = h.reports.Financial(r.Context(), from, to, period)
	default:
		err = &service.ValidationError{Fields: map[string]string{"type": "oneof"}}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rep)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	reps, err := h.reports.List(r.Context(), domain.ReportType(r.URL.Query().Get("type")), queryInt(r, "limit", 0))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reps)
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// exportReport streams a stored report as ?format=csv (default) or xlsx.
func (h *Handler) exportReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rep, err := h.reports.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	format := r.URL.Query().Get("format")
	contentType := "text/csv"
	switch format {
	case "", "csv":
		format = "csv"
		err = report.WriteCSV(&buf, rep)
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = report.WriteXLSX(&buf, rep)
	default:
		err = &service.ValidationError{Fields: map[string]string{"format": "oneof"}}
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-report-%s.%s"`, rep.Header().Type, id, format))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) deleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
