package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"meditrack/m/internal/sale"
	"meditrack/m/internal/service"
)

const defaultExpiryDays = 30

func (h *Handler) listMedicines(w http.ResponseWriter, r *http.Request) {
	if term := r.URL.Query().Get("q"); term != "" {
		items, err := h.svcs.Medicines.Search(r.Context(), term)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, items)
		return
	}
	items, err := h.svcs.Medicines.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.svcs.Medicines.LowStock(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) expiring(w http.ResponseWriter, r *http.Request) {
	items, err := h.svcs.Medicines.ExpiringWithin(r.Context(), queryInt(r, "days", defaultExpiryDays))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

func (h *Handler) medicineByBarcode(w http.ResponseWriter, r *http.Request) {
	m, err := h.svcs.Medicines.GetByBarcode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) getMedicine(w http.ResponseWriter, r *http.Request) {
	m, err := h.svcs.Medicines.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) createMedicine(w http.ResponseWriter, r *http.Request) {
	var input service.NewMedicine
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.svcs.Medicines.Create(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (h *Handler) updateMedicine(w http.ResponseWriter, r *http.Request) {
	var input service.MedicineUpdate
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	m, err := h.svcs.Medicines.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// setStock overwrites the counted quantity after a stock take.
func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quantity *int64 `json:"quantity"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Quantity == nil {
		respondError(w, http.StatusBadRequest, "quantity is required")
		return
	}
	m, err := h.svcs.Medicines.SetStock(r.Context(), chi.URLParam(r, "id"), *payload.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMedicine(w http.ResponseWriter, r *http.Request) {
	if err := h.svcs.Medicines.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var d sale.Delivery
	if err := decodeJSON(r, &d); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	tx, err := h.sales.Receive(r.Context(), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, tx)
}
