package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"meditrack/m/domain"
	"meditrack/m/internal/sale"
	"meditrack/m/internal/service"
)

const (
	defaultSeriesDays = 7
	defaultTopLimit   = 10
)

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var cart sale.Cart
	if err := decodeJSON(r, &cart); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.sales.Checkout(r.Context(), cart)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, receipt)
}

// listTransactions applies at most one filter: a from/to range, a type or a
// customer, in that order of precedence.
func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		items []domain.Transaction
		err   error
	)
	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		var from, to time.Time
		from, to, err = dateRange(r)
		if err == nil {
			items, err = h.svcs.Transactions.ByDateRange(r.Context(), from, to)
		}
	case q.Get("type") != "":
		items, err = h.svcs.Transactions.ByType(r.Context(), domain.TransactionType(q.Get("type")))
	case q.Get("customer") != "":
		items, err = h.svcs.Transactions.ByCustomer(r.Context(), q.Get("customer"))
	default:
		items, err = h.svcs.Transactions.List(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svcs.Transactions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.svcs.Transactions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transactionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svcs.Transactions.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// dailySales totals the sales of ?date, today by default.
func (h *Handler) dailySales(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := parseTime(raw, false)
		if err != nil {
			h.fail(w, r, &service.ValidationError{Fields: map[string]string{"date": "datetime"}})
			return
		}
		day = parsed
	}
	total, err := h.svcs.Transactions.DailySales(r.Context(), day)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"date": domain.FormatDate(day), "sales": total})
}

// monthlySales totals the sales of ?year and ?month, the current month by
// default.
func (h *Handler) monthlySales(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	year := queryInt(r, "year", now.Year())
	month := queryInt(r, "month", int(now.Month()))
	if month < 1 || month > 12 {
		h.fail(w, r, &service.ValidationError{Fields: map[string]string{"month": "min"}})
		return
	}
	total, err := h.svcs.Transactions.MonthlySales(r.Context(), year, time.Month(month))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"year": year, "month": month, "sales": total})
}

func (h *Handler) salesSeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.svcs.Transactions.DailySeries(r.Context(), queryInt(r, "days", defaultSeriesDays))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, series)
}

func (h *Handler) topSelling(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultTopLimit)
	q := r.URL.Query()
	var (
		items []domain.MedicineSales
		err   error
	)
	if q.Get("from") != "" || q.Get("to") != "" {
		var from, to time.Time
		from, to, err = dateRange(r)
		if err == nil {
			items, err = h.svcs.Transactions.TopSellingBetween(r.Context(), from, to, limit)
		}
	} else {
		items, err = h.svcs.Transactions.TopSelling(r.Context(), limit)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}
