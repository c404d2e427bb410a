package api

import (
	"net/http"

	"github.com/safar/go-bookstore/internal/models"
	"github.com/safar/go-bookstore/internal/store"
	"github.com/shopspring/decimal"
)

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Name == "" {
		respondError(w, http.StatusBadRequest, "email and name are required")
		return
	}

	user, err := store.CreateUser(r.Context(), h.db, req.Email, req.Name)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "userID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	user, err := store.GetUser(r.Context(), h.db, id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (h *Handler) createBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title              string          `json:"title"`
		Description        string          `json:"description"`
		Price              decimal.Decimal `json:"price"`
		DiscountPercentage decimal.Decimal `json:"discount_percentage"`
		Stock              int             `json:"stock"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" || req.Stock < 0 {
		respondError(w, http.StatusBadRequest, "title is required and stock must not be negative")
		return
	}

	book, err := h.catalog.CreateBook(r.Context(), store.NewBook{
		Title:              req.Title,
		Description:        req.Description,
		Price:              req.Price,
		DiscountPercentage: req.DiscountPercentage,
		Stock:              req.Stock,
	})
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, book)
}

func (h *Handler) repriceBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "bookID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid book ID")
		return
	}

	var req struct {
		Price              decimal.Decimal `json:"price"`
		DiscountPercentage decimal.Decimal `json:"discount_percentage"`
		Version            int             `json:"version"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	book, err := h.catalog.Reprice(r.Context(), id, req.Price, req.DiscountPercentage, req.Version)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, book)
}

func (h *Handler) createAddress(w http.ResponseWriter, r *http.Request) {
	var req models.Address
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Recipient == "" || req.Line1 == "" || req.City == "" || req.Country == "" {
		respondError(w, http.StatusBadRequest, "recipient, line1, city and country are required")
		return
	}
	req.UserID = userID(r)

	address, err := store.CreateAddress(r.Context(), h.db, req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, address)
}

// deleteAddress hides the address from new orders. Orders already shipping
// there keep resolving it.
func (h *Handler) deleteAddress(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "addressID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid address ID")
		return
	}

	if err := store.SoftDeleteAddress(r.Context(), h.db, userID(r), id); err != nil {
		h.respondErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
