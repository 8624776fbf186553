package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"meditrack/m/internal/service"
)

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	if term := r.URL.Query().Get("q"); term != "" {
		items, err := h.svcs.Customers.Search(r.Context(), term)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, items)
		return
	}
	items, err := h.svcs.Customers.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) topCustomers(w http.ResponseWriter, r *http.Request) {
	items, err := h.svcs.Customers.TopCustomers(r.Context(), queryInt(r, "limit", defaultTopLimit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) customerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svcs.Customers.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.svcs.Customers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var input service.NewCustomer
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.svcs.Customers.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	var input service.CustomerUpdate
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.svcs.Customers.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.svcs.Customers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Loyalty

type pointsRequest struct {
	Points int64  `json:"points"`
	Reason string `json:"reason"`
}

func (h *Handler) loyaltyHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svcs.Customers.LoyaltyHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (h *Handler) awardPoints(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.svcs.Customers.AwardPoints(r.Context(), chi.URLParam(r, "id"), req.Points, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) redeemPoints(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entry, err := h.svcs.Customers.RedeemPoints(r.Context(), chi.URLParam(r, "id"), req.Points, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, entry)
}

func (h *Handler) reconcileLoyalty(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svcs.Customers.ReconcileLoyalty(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"loyalty_points": balance})
}
