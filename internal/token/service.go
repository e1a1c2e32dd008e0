// Package token exposes the ledger and levy engine as one serialized
// service: it owns the single-writer discipline the engine requires,
// persists settled transfers, and fans observations out to the signal bus.
package token

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/ledger"
	"github.com/levyprotocol/levyd/internal/levy"
)

// Config bundles the service's collaborators. Stores, bus, and cache are
// optional; a nil value disables that surface (read-only server mode runs
// without any of them).
type Config struct {
	Name   string
	Symbol string

	Ledger *ledger.Ledger

	Transfers domain.TransferStore
	Events    domain.LevyEventStore
	Bus       domain.SignalBus
	Cache     domain.BalanceCache

	Logger *slog.Logger
}

// Service serializes every balance-changing operation. The levy engine is
// not safe for concurrent use; the mutex here is the single-writer gate, and
// the engine's nested (conversion-path) calls run inside the holder's
// critical section.
type Service struct {
	mu sync.Mutex

	name   string
	symbol string
	ledger *ledger.Ledger
	engine *levy.Engine

	transfers domain.TransferStore
	events    domain.LevyEventStore
	bus       domain.SignalBus
	cache     domain.BalanceCache

	logger *slog.Logger
	clock  func() time.Time

	// pending accumulates the engine's provisional observations for the
	// operation in flight; it is flushed on success and dropped on revert.
	pending []domain.LevyEvent
}

// New creates the token service. The service doubles as the levy engine's
// Emitter, so construction is two-phase: build the service, pass it to
// levy.NewEngine, then Bind the engine back in (see app wiring).
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		name:      cfg.Name,
		symbol:    cfg.Symbol,
		ledger:    cfg.Ledger,
		transfers: cfg.Transfers,
		events:    cfg.Events,
		bus:       cfg.Bus,
		cache:     cfg.Cache,
		logger:    logger.With(slog.String("component", "token")),
		clock:     time.Now,
	}
}

// Bind installs the levy engine once it has been constructed with this
// service as its emitter.
func (s *Service) Bind(e *levy.Engine) { s.engine = e }

// WithClock overrides the service clock for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

// TaxCollected implements levy.Emitter.
func (s *Service) TaxCollected(from common.Address, amount *uint256.Int) {
	s.pending = append(s.pending, domain.LevyEvent{
		ID:      uuid.New(),
		Kind:    domain.EventTaxCollected,
		At:      s.clock(),
		From:    from,
		AmountA: amount,
	})
}

// LiquidityAdded implements levy.Emitter (and liquidity.Emitter).
func (s *Service) LiquidityAdded(tokenConsumed, pairedSupplied *uint256.Int) {
	s.pending = append(s.pending, domain.LevyEvent{
		ID:      uuid.New(),
		Kind:    domain.EventLiquidityAdded,
		At:      s.clock(),
		AmountA: tokenConsumed,
		AmountB: pairedSupplied,
	})
}

// Transfer moves amount from one holder to another through the levy engine.
func (s *Service) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) (domain.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settle(ctx, domain.TransferKindDirect, from, to, amount, func() error {
		return s.engine.Intercept(ctx, from, to, amount)
	})
}

// TransferFrom spends spender's allowance over from's balance, then moves
// amount through the levy engine. The allowance decrement reverts together
// with the balance moves when any step fails.
func (s *Service) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) (domain.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settle(ctx, domain.TransferKindApproved, from, to, amount, func() error {
		snap := s.ledger.Snapshot()
		if err := s.ledger.SpendAllowance(from, spender, amount); err != nil {
			return err
		}
		if err := s.engine.Intercept(ctx, from, to, amount); err != nil {
			s.ledger.RevertTo(snap)
			return err
		}
		return nil
	})
}

// settle runs op, then commits, records, and publishes the outcome. Caller
// holds s.mu. The engine reverts its own effects on error, so settle only
// needs to drop provisional observations.
func (s *Service) settle(ctx context.Context, kind domain.TransferKind, from, to common.Address, amount *uint256.Int, op func() error) (domain.TransferRecord, error) {
	s.pending = s.pending[:0]
	snap := s.ledger.Snapshot()

	if err := op(); err != nil {
		s.pending = s.pending[:0]
		return domain.TransferRecord{}, err
	}
	s.ledger.Commit(snap)

	now := s.clock()
	tax := uint256.NewInt(0)
	for _, ev := range s.pending {
		if ev.Kind == domain.EventTaxCollected {
			tax = new(uint256.Int).Set(ev.AmountA)
		}
	}
	rec := domain.TransferRecord{
		ID:     uuid.New(),
		At:     now,
		Kind:   kind,
		From:   from,
		To:     to,
		Gross:  new(uint256.Int).Set(amount),
		Net:    new(uint256.Int).Sub(amount, tax),
		Tax:    tax,
		Taxed:  !tax.IsZero(),
		Window: s.engine.InWindow(now),
	}

	s.record(ctx, rec)
	s.flushEvents(ctx)
	s.refreshCache(ctx, from, to)
	return rec, nil
}

// Approve sets spender's allowance over owner's balance.
func (s *Service) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.ledger.Snapshot()
	if err := s.ledger.Approve(owner, spender, amount); err != nil {
		return err
	}
	s.ledger.Commit(snap)
	return nil
}

// RecoverForeignAsset forwards the privileged recovery to the engine.
func (s *Service) RecoverForeignAsset(ctx context.Context, caller, asset common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.RecoverForeignAsset(ctx, caller, asset, amount)
}

// BalanceOf returns the holder's balance from the ledger and refreshes the
// read cache opportunistically.
func (s *Service) BalanceOf(ctx context.Context, holder common.Address) *uint256.Int {
	bal := s.ledger.BalanceOf(holder)
	if s.cache != nil {
		if err := s.cache.SetBalance(ctx, holder, bal); err != nil {
			s.logger.WarnContext(ctx, "balance cache refresh failed",
				slog.String("holder", holder.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return bal
}

// Allowance returns spender's allowance over owner's balance.
func (s *Service) Allowance(owner, spender common.Address) *uint256.Int {
	return s.ledger.Allowance(owner, spender)
}

// TotalSupply returns the minted supply.
func (s *Service) TotalSupply() *uint256.Int { return s.ledger.TotalSupply() }

// Info describes the token for the read API.
type Info struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
	TaxPercent  int
	TaxEndTime  time.Time
	Remaining   time.Duration
	Conserved   bool
}

// Info returns a snapshot of token metadata and the window state.
func (s *Service) Info() Info {
	now := s.clock()
	return Info{
		Name:        s.name,
		Symbol:      s.symbol,
		Decimals:    s.ledger.Decimals(),
		TotalSupply: s.ledger.TotalSupply(),
		TaxPercent:  levy.TaxPercent,
		TaxEndTime:  s.engine.TaxEndTime(),
		Remaining:   s.engine.RemainingTaxWindow(now),
		Conserved:   s.ledger.SumBalances().Eq(s.ledger.TotalSupply()),
	}
}

// RemainingTaxWindow returns max(0, taxEndTime - now).
func (s *Service) RemainingTaxWindow() time.Duration {
	return s.engine.RemainingTaxWindow(s.clock())
}

// Admin returns the administrator identity.
func (s *Service) Admin() common.Address { return s.engine.Admin() }

// Exempt reports whether the identity is excluded from the levy.
func (s *Service) Exempt(addr common.Address) bool { return s.engine.Exempt(addr) }

func (s *Service) record(ctx context.Context, rec domain.TransferRecord) {
	if s.transfers != nil {
		if err := s.transfers.Insert(ctx, rec); err != nil {
			s.logger.ErrorContext(ctx, "persist transfer failed",
				slog.String("id", rec.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus != nil {
		if payload, err := json.Marshal(NewTransferPayload(rec)); err == nil {
			if err := s.bus.Publish(ctx, domain.ChannelTransfer, payload); err != nil {
				s.logger.WarnContext(ctx, "publish transfer failed",
					slog.String("error", err.Error()),
				)
			}
			_ = s.bus.StreamAppend(ctx, domain.ChannelTransfer, payload)
		}
	}
}

func (s *Service) flushEvents(ctx context.Context) {
	for _, ev := range s.pending {
		if s.events != nil {
			if err := s.events.Insert(ctx, ev); err != nil {
				s.logger.ErrorContext(ctx, "persist levy event failed",
					slog.String("kind", string(ev.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
		if s.bus != nil {
			channel := domain.ChannelTax
			if ev.Kind == domain.EventLiquidityAdded {
				channel = domain.ChannelLiquidity
			}
			if payload, err := json.Marshal(NewEventPayload(ev)); err == nil {
				if err := s.bus.Publish(ctx, channel, payload); err != nil {
					s.logger.WarnContext(ctx, "publish levy event failed",
						slog.String("error", err.Error()),
					)
				}
				_ = s.bus.StreamAppend(ctx, channel, payload)
			}
		}
	}
	s.pending = s.pending[:0]
}

func (s *Service) refreshCache(ctx context.Context, holders ...common.Address) {
	if s.cache == nil {
		return
	}
	for _, h := range holders {
		if err := s.cache.SetBalance(ctx, h, s.ledger.BalanceOf(h)); err != nil {
			s.logger.WarnContext(ctx, "balance cache refresh failed",
				slog.String("holder", h.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}
