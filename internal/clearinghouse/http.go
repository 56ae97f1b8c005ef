package clearinghouse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/clearing-house/internal/model"
)

// --- Request types ---

// CreateMarketRequest is the JSON body for POST /markets.
type CreateMarketRequest struct {
	Caller string `json:"caller"`
	model.MarketConfig
}

// OpenPositionRequest is the JSON body for POST /positions.
type OpenPositionRequest struct {
	Account         string          `json:"account"`
	MarketID        model.MarketID  `json:"market_id"`
	Direction       model.Direction `json:"direction"`
	QuoteAmount     decimal.Decimal `json:"quote_amount"`
	BaseAmountLimit decimal.Decimal `json:"base_amount_limit"`
}

// AddMarginRequest is the JSON body for POST /accounts/{account}/margin.
type AddMarginRequest struct {
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// SetPriceRequest is the JSON body for PUT /markets/{marketID}/price.
type SetPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// Handler exposes a Service over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates the HTTP handlers for svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Mount registers the clearing house routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/markets", h.ListMarkets)
	r.Post("/markets", h.CreateMarket)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/price", h.GetPrice)
	if h.svc.OperatorPrices() {
		r.Put("/markets/{marketID}/price", h.SetPrice)
	}
	r.Get("/markets/{marketID}/trades", h.MarketTrades)

	r.Post("/positions", h.OpenPosition)

	r.Get("/accounts/{account}", h.GetAccount)
	r.Post("/accounts/{account}/margin", h.AddMargin)
	r.Get("/accounts/{account}/trades", h.AccountTrades)
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := h.svc.CreateMarket(r.Context(), req.Caller, req.MarketConfig)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

// ListMarkets handles GET /api/v1/markets
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.svc.ListMarkets(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	market, err := h.svc.GetMarket(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

// GetPrice handles GET /api/v1/markets/{marketID}/price
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	quote, err := h.svc.MarketPrice(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// SetPrice handles PUT /api/v1/markets/{marketID}/price
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.SetMarketPrice(r.Context(), id, req.Price); err != nil {
		writeErr(w, err)
		return
	}
	quote, err := h.svc.MarketPrice(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// MarketTrades handles GET /api/v1/markets/{marketID}/trades
func (h *Handler) MarketTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	trades, err := h.svc.TradesByMarket(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// OpenPosition handles POST /api/v1/positions
func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.svc.OpenPosition(r.Context(), req.Account, req.MarketID, req.Direction, req.QuoteAmount, req.BaseAmountLimit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetAccount handles GET /api/v1/accounts/{account}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.AccountSummary(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AddMargin handles POST /api/v1/accounts/{account}/margin
func (h *Handler) AddMargin(w http.ResponseWriter, r *http.Request) {
	var req AddMarginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account := chi.URLParam(r, "account")
	balance, err := h.svc.AddMargin(r.Context(), account, req.Asset, req.Amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": account,
		"margin":  balance,
	})
}

// AccountTrades handles GET /api/v1/accounts/{account}/trades
func (h *Handler) AccountTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.svc.TradesByAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if trades == nil {
		trades = []model.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func marketIDParam(w http.ResponseWriter, r *http.Request) (model.MarketID, bool) {
	raw := chi.URLParam(r, "marketID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, fmt.Sprintf("invalid market id %q", raw), http.StatusBadRequest)
		return 0, false
	}
	return model.MarketID(id), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr writes err with the status its cause maps to.
func writeErr(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, msg, status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
