package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/levyprotocol/levyd/internal/token"
)

// TokenHandler serves token metadata and levy window endpoints.
type TokenHandler struct {
	svc    *token.Service
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler with the given service and logger.
func NewTokenHandler(svc *token.Service, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{svc: svc, logger: logger}
}

// tokenResponse is the JSON shape of the token metadata endpoint.
type tokenResponse struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"total_supply"`
	TaxPercent  int    `json:"tax_percent"`
	Admin       string `json:"admin"`
	Conserved   bool   `json:"conserved"`
}

// GetToken returns token metadata.
// GET /api/token
func (h *TokenHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	info := h.svc.Info()
	writeJSON(w, http.StatusOK, tokenResponse{
		Name:        info.Name,
		Symbol:      info.Symbol,
		Decimals:    info.Decimals,
		TotalSupply: info.TotalSupply.Dec(),
		TaxPercent:  info.TaxPercent,
		Admin:       h.svc.Admin().Hex(),
		Conserved:   info.Conserved,
	})
}

// windowResponse is the JSON shape of the levy window endpoint.
type windowResponse struct {
	TaxPercent       int       `json:"tax_percent"`
	TaxEndTime       time.Time `json:"tax_end_time"`
	Active           bool      `json:"active"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// GetWindow returns the levy window state.
// GET /api/window
func (h *TokenHandler) GetWindow(w http.ResponseWriter, r *http.Request) {
	info := h.svc.Info()
	writeJSON(w, http.StatusOK, windowResponse{
		TaxPercent:       info.TaxPercent,
		TaxEndTime:       info.TaxEndTime.UTC(),
		Active:           info.Remaining > 0,
		RemainingSeconds: int64(info.Remaining.Seconds()),
	})
}
