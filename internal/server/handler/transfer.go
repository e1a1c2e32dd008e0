package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/token"
)

// TransferHandler serves the balance-changing endpoints and transfer history.
type TransferHandler struct {
	svc       *token.Service
	transfers domain.TransferStore // nil disables history
	logger    *slog.Logger
}

// NewTransferHandler creates a TransferHandler with the given service, store,
// and logger.
func NewTransferHandler(svc *token.Service, transfers domain.TransferStore, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{svc: svc, transfers: transfers, logger: logger}
}

// transferRequest is the JSON body of the transfer endpoints. Amounts are
// decimal strings.
type transferRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// Transfer moves tokens between holders, applying the levy when the window
// is open.
// POST /api/transfer
func (h *TransferHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.svc.Transfer(r.Context(), from, to, amount)
	if err != nil {
		h.writeTransferError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token.NewTransferPayload(rec))
}

// TransferFrom moves tokens on behalf of a holder, spending the caller's
// allowance.
// POST /api/transferfrom
func (h *TransferHandler) TransferFrom(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	spender, err := parseAddress(req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, "spender: "+err.Error())
		return
	}
	from, err := parseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from: "+err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.svc.TransferFrom(r.Context(), spender, from, to, amount)
	if err != nil {
		h.writeTransferError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token.NewTransferPayload(rec))
}

// approveRequest is the JSON body of the approval endpoint.
type approveRequest struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

// Approve sets spender's allowance over owner's balance.
// POST /api/approve
func (h *TransferHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner: "+err.Error())
		return
	}
	spender, err := parseAddress(req.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, "spender: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Approve(r.Context(), owner, spender, amount); err != nil {
		h.writeTransferError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": amount.Dec(),
	})
}

// listTransfersResponse wraps the history endpoint output with metadata.
type listTransfersResponse struct {
	Transfers []token.TransferPayload `json:"transfers"`
	Limit     int                     `json:"limit"`
	Offset    int                     `json:"offset"`
}

// ListTransfers returns settled transfer history, optionally filtered by
// holder.
// GET /api/transfers?holder=0x..&limit=50&offset=0
func (h *TransferHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	if h.transfers == nil {
		writeError(w, http.StatusNotImplemented, "transfer history not enabled")
		return
	}

	opts := parseListOpts(r)

	var (
		recs []domain.TransferRecord
		err  error
	)
	if holderStr := r.URL.Query().Get("holder"); holderStr != "" {
		holder, perr := parseAddress(holderStr)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "holder: "+perr.Error())
			return
		}
		recs, err = h.transfers.ListByHolder(r.Context(), holder, opts)
	} else {
		recs, err = h.transfers.List(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list transfers failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list transfers")
		return
	}

	payloads := make([]token.TransferPayload, 0, len(recs))
	for _, rec := range recs {
		payloads = append(payloads, token.NewTransferPayload(rec))
	}
	writeJSON(w, http.StatusOK, listTransfersResponse{
		Transfers: payloads,
		Limit:     opts.Limit,
		Offset:    opts.Offset,
	})
}

// writeTransferError maps domain errors to HTTP status codes.
func (h *TransferHandler) writeTransferError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrZeroAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: transfer failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "transfer failed")
	}
}
