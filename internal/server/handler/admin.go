package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/token"
)

// AdminHandler serves privileged administrator endpoints.
type AdminHandler struct {
	svc    *token.Service
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(svc *token.Service, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// recoverRequest is the JSON body of the foreign-asset recovery endpoint.
type recoverRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// RecoverForeignAsset returns a mistakenly deposited foreign asset to the
// administrator. Only the administrator may call it, and the ledger's own
// token is never recoverable.
// POST /api/admin/recover
func (h *AdminHandler) RecoverForeignAsset(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "asset: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.RecoverForeignAsset(r.Context(), caller, asset, amount); err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, domain.ErrSelfRecovery):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: recover foreign asset failed",
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "recovery failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"asset":  asset.Hex(),
		"to":     caller.Hex(),
		"amount": amount.Dec(),
	})
}
