package handler

import (
	"log/slog"
	"net/http"

	"github.com/levyprotocol/levyd/internal/token"
)

// BalanceHandler serves balance and allowance read endpoints.
type BalanceHandler struct {
	svc    *token.Service
	logger *slog.Logger
}

// NewBalanceHandler creates a BalanceHandler with the given service and logger.
func NewBalanceHandler(svc *token.Service, logger *slog.Logger) *BalanceHandler {
	return &BalanceHandler{svc: svc, logger: logger}
}

// GetBalance returns a holder's settled balance.
// GET /api/balances/{address}
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bal := h.svc.BalanceOf(r.Context(), holder)
	writeJSON(w, http.StatusOK, map[string]any{
		"address": holder.Hex(),
		"balance": bal.Dec(),
		"exempt":  h.svc.Exempt(holder),
	})
}

// GetAllowance returns spender's remaining allowance over owner's balance.
// GET /api/allowance?owner=0x..&spender=0x..
func (h *BalanceHandler) GetAllowance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	owner, err := parseAddress(q.Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner: "+err.Error())
		return
	}
	spender, err := parseAddress(q.Get("spender"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "spender: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": h.svc.Allowance(owner, spender).Dec(),
	})
}
