package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/model"
	"github.com/parlakisik/agent-exchange/aex-marketplace/internal/service"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type Handlers struct {
	svc *service.Service
}

func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{svc: svc}
}

// ListItem lists an asset for sale
// POST /v1/listings
func (h *Handlers) ListItem(w http.ResponseWriter, r *http.Request) {
	var req model.ListItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	price, ok := parsePrice(w, r, req.Price)
	if !ok {
		return
	}

	asset := model.NewAssetKey(req.Collection, req.TokenID)
	listing, err := h.svc.ListItem(r.Context(), GetCallerID(r.Context()), asset, price)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, listing)
}

// ListListings browses active listings
// GET /v1/listings?collection={c}&seller={s}&limit={n}
func (h *Handlers) ListListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ListingFilter{
		Collection: q.Get("collection"),
		Seller:     q.Get("seller"),
		Limit:      parseLimit(q.Get("limit")),
	}

	listings, err := h.svc.ListListings(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, model.ListingListResponse{
		Listings: listings,
		Count:    len(listings),
	})
}

// GetListing returns one active listing
// GET /v1/listings/{collection}/{tokenID}
func (h *Handlers) GetListing(w http.ResponseWriter, r *http.Request) {
	asset := assetFromPath(r)
	listing, ok, err := h.svc.GetListing(r.Context(), asset)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if !ok {
		respondError(w, r, http.StatusNotFound, service.CodeNotListed, service.ErrNotListed.Error())
		return
	}

	respondJSON(w, http.StatusOK, listing)
}

// UpdateListing changes the asking price
// PUT /v1/listings/{collection}/{tokenID}
func (h *Handlers) UpdateListing(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateListingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	price, ok := parsePrice(w, r, req.Price)
	if !ok {
		return
	}

	listing, err := h.svc.UpdateListing(r.Context(), GetCallerID(r.Context()), assetFromPath(r), price)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, listing)
}

// CancelListing withdraws an asset from sale
// DELETE /v1/listings/{collection}/{tokenID}
func (h *Handlers) CancelListing(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelListing(r.Context(), GetCallerID(r.Context()), assetFromPath(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BuyItem purchases a listed asset
// POST /v1/listings/{collection}/{tokenID}/purchase
func (h *Handlers) BuyItem(w http.ResponseWriter, r *http.Request) {
	var req model.PurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payment, err := model.ParseAmount(req.Payment)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	receipt, err := h.svc.BuyItem(r.Context(), GetCallerID(r.Context()), assetFromPath(r), payment)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}

// WithdrawProceeds pays the caller's proceeds out
// POST /v1/proceeds/withdraw
func (h *Handlers) WithdrawProceeds(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.WithdrawProceeds(r.Context(), GetCallerID(r.Context()))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}

// GetProceeds returns a seller's escrowed balance
// GET /v1/proceeds/{seller}
func (h *Handlers) GetProceeds(w http.ResponseWriter, r *http.Request) {
	proceeds, err := h.svc.GetProceeds(r.Context(), chi.URLParam(r, "seller"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, proceeds)
}

// ListEntries returns a seller's proceeds history
// GET /v1/proceeds/{seller}/entries?limit={n}
func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListEntries(r.Context(), chi.URLParam(r, "seller"), parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, model.EntryListResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":         "healthy",
		"service":        "aex-marketplace",
		"marketplace_id": h.svc.MarketplaceID(),
	})
}

func assetFromPath(r *http.Request) model.AssetKey {
	return model.NewAssetKey(chi.URLParam(r, "collection"), chi.URLParam(r, "tokenID"))
}

func parseLimit(raw string) int {
	limit := defaultListLimit
	if raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// parsePrice accepts any decimal; range rules belong to the service
func parsePrice(w http.ResponseWriter, r *http.Request, raw string) (decimal.Decimal, bool) {
	price, err := decimal.NewFromString(raw)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, service.CodeInvalidAmount, "price must be an integer amount")
		return decimal.Zero, false
	}
	return price, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, service.CodeInvalidRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps error kinds to HTTP statuses
var statusFor = map[string]int{
	service.CodeAlreadyListed:             http.StatusConflict,
	service.CodeNotOwner:                  http.StatusForbidden,
	service.CodeNotApprovedForMarketplace: http.StatusForbidden,
	service.CodeNotListed:                 http.StatusNotFound,
	service.CodePriceNotMet:               http.StatusPaymentRequired,
	service.CodePriceMustBeAboveZero:      http.StatusBadRequest,
	service.CodeInvalidAmount:             http.StatusBadRequest,
	service.CodeInvalidRequest:            http.StatusBadRequest,
	service.CodeNoProceeds:                http.StatusConflict,
	service.CodeTransferFailed:            http.StatusBadGateway,
	service.CodeReentrantCall:             http.StatusConflict,
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := service.Code(err)
	status, ok := statusFor[code]
	if !ok {
		if errors.Is(err, r.Context().Err()) {
			// client went away; nothing useful to send
			return
		}
		slog.ErrorContext(r.Context(), "request_failed", "error", err, "request_id", GetRequestID(r.Context()))
		respondError(w, r, http.StatusInternalServerError, service.CodeInternal, "an internal error occurred")
		return
	}
	respondError(w, r, status, code, err.Error())
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   message,
		RequestID: GetRequestID(r.Context()),
	}})
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
