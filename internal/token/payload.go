package token

import (
	"time"

	"github.com/levyprotocol/levyd/internal/domain"
)

// TransferPayload is the JSON shape published on the transfer channel.
// Amounts are decimal strings to preserve precision across JSON boundaries.
type TransferPayload struct {
	ID    string    `json:"id"`
	At    time.Time `json:"at"`
	Kind  string    `json:"kind"`
	From  string    `json:"from"`
	To    string    `json:"to"`
	Gross string    `json:"gross"`
	Net   string    `json:"net"`
	Tax   string    `json:"tax"`
	Taxed bool      `json:"taxed"`
}

func NewTransferPayload(rec domain.TransferRecord) TransferPayload {
	return TransferPayload{
		ID:    rec.ID.String(),
		At:    rec.At,
		Kind:  string(rec.Kind),
		From:  rec.From.Hex(),
		To:    rec.To.Hex(),
		Gross: rec.Gross.Dec(),
		Net:   rec.Net.Dec(),
		Tax:   rec.Tax.Dec(),
		Taxed: rec.Taxed,
	}
}

// EventPayload is the JSON shape published on the tax and liquidity
// channels.
type EventPayload struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	At      time.Time `json:"at"`
	From    string    `json:"from,omitempty"`
	AmountA string    `json:"amount_a"`
	AmountB string    `json:"amount_b,omitempty"`
}

func NewEventPayload(ev domain.LevyEvent) EventPayload {
	p := EventPayload{
		ID:      ev.ID.String(),
		Kind:    string(ev.Kind),
		At:      ev.At,
		AmountA: ev.AmountA.Dec(),
	}
	if ev.Kind == domain.EventTaxCollected {
		p.From = ev.From.Hex()
	}
	if ev.AmountB != nil {
		p.AmountB = ev.AmountB.Dec()
	}
	return p
}
