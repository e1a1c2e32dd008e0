package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/ledger"
	"github.com/levyprotocol/levyd/internal/levy"
)

var (
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	adminAddr   = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	custodyAddr = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	routerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

var genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type memTransferStore struct{ recs []domain.TransferRecord }

func (m *memTransferStore) Insert(_ context.Context, rec domain.TransferRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}
func (m *memTransferStore) List(context.Context, domain.ListOpts) ([]domain.TransferRecord, error) {
	return m.recs, nil
}
func (m *memTransferStore) ListByHolder(context.Context, common.Address, domain.ListOpts) ([]domain.TransferRecord, error) {
	return m.recs, nil
}
func (m *memTransferStore) ListBefore(context.Context, time.Time) ([]domain.TransferRecord, error) {
	return nil, nil
}
func (m *memTransferStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memEventStore struct{ evs []domain.LevyEvent }

func (m *memEventStore) Insert(_ context.Context, ev domain.LevyEvent) error {
	m.evs = append(m.evs, ev)
	return nil
}
func (m *memEventStore) List(context.Context, domain.LevyEventKind, domain.ListOpts) ([]domain.LevyEvent, error) {
	return m.evs, nil
}
func (m *memEventStore) ListBefore(context.Context, time.Time) ([]domain.LevyEvent, error) {
	return nil, nil
}
func (m *memEventStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memBus struct{ published map[string]int }

func (m *memBus) Publish(_ context.Context, channel string, _ []byte) error {
	if m.published == nil {
		m.published = make(map[string]int)
	}
	m.published[channel]++
	return nil
}
func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (m *memBus) StreamAppend(context.Context, string, []byte) error       { return nil }
func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type converterFunc func(ctx context.Context, tax *uint256.Int) error

func (f converterFunc) Convert(ctx context.Context, tax *uint256.Int) error { return f(ctx, tax) }

type stack struct {
	svc       *Service
	ledger    *ledger.Ledger
	transfers *memTransferStore
	events    *memEventStore
	bus       *memBus
}

func newStack(t *testing.T, conv levy.Converter) *stack {
	t.Helper()
	l := ledger.New(18)
	if err := l.Mint(adminAddr, amt(1_000_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	transfers := &memTransferStore{}
	events := &memEventStore{}
	bus := &memBus{}
	svc := New(Config{
		Name:      "Levy",
		Symbol:    "LVY",
		Ledger:    l,
		Transfers: transfers,
		Events:    events,
		Bus:       bus,
	})
	if conv == nil {
		conv = converterFunc(func(context.Context, *uint256.Int) error { return nil })
	}
	eng := levy.NewEngine(l, conv, svc, levy.Params{
		Token:   tokenAddr,
		Admin:   adminAddr,
		Custody: custodyAddr,
		Gateway: routerAddr,
		Genesis: genesis,
	})
	now := genesis.Add(time.Minute)
	eng.WithClock(func() time.Time { return now })
	svc.WithClock(func() time.Time { return now })
	svc.Bind(eng)

	// Fund a non-exempt holder through the exempt admin.
	if _, err := svc.Transfer(context.Background(), adminAddr, alice, amt(100_000)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	return &stack{svc: svc, ledger: l, transfers: transfers, events: events, bus: bus}
}

func TestTransferRecordsAndPublishes(t *testing.T) {
	st := newStack(t, nil)

	rec, err := st.svc.Transfer(context.Background(), alice, bob, amt(1000))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if rec.Gross.Uint64() != 1000 || rec.Net.Uint64() != 950 || rec.Tax.Uint64() != 50 {
		t.Fatalf("record split = %s/%s/%s, want 1000/950/50", rec.Gross, rec.Net, rec.Tax)
	}
	if !rec.Taxed || !rec.Window {
		t.Fatalf("record flags = taxed:%v window:%v, want true/true", rec.Taxed, rec.Window)
	}
	// Funding transfer + this one.
	if len(st.transfers.recs) != 2 {
		t.Fatalf("persisted transfers = %d, want 2", len(st.transfers.recs))
	}
	if len(st.events.evs) != 1 || st.events.evs[0].Kind != domain.EventTaxCollected {
		t.Fatalf("persisted events = %v, want one tax_collected", st.events.evs)
	}
	if st.bus.published[domain.ChannelTax] != 1 {
		t.Fatalf("tax channel publishes = %d, want 1", st.bus.published[domain.ChannelTax])
	}
	if st.bus.published[domain.ChannelTransfer] != 2 {
		t.Fatalf("transfer channel publishes = %d, want 2", st.bus.published[domain.ChannelTransfer])
	}
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	st := newStack(t, nil)
	ctx := context.Background()

	if err := st.svc.Approve(ctx, alice, bob, amt(2000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	rec, err := st.svc.TransferFrom(ctx, bob, alice, bob, amt(1000))
	if err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	if rec.Kind != domain.TransferKindApproved {
		t.Fatalf("kind = %s, want transfer_from", rec.Kind)
	}
	if got := st.svc.Allowance(alice, bob); got.Uint64() != 1000 {
		t.Fatalf("allowance = %s, want 1000", got)
	}

	_, err = st.svc.TransferFrom(ctx, bob, alice, bob, amt(1001))
	if !errors.Is(err, domain.ErrInsufficientAllowance) {
		t.Fatalf("err = %v, want ErrInsufficientAllowance", err)
	}
}

func TestConverterFailureDropsObservations(t *testing.T) {
	sentinel := errors.New("gateway down")
	st := newStack(t, converterFunc(func(context.Context, *uint256.Int) error { return sentinel }))

	aliceBefore := st.ledger.BalanceOf(alice)
	_, err := st.svc.Transfer(context.Background(), alice, bob, amt(1000))
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want converter failure", err)
	}
	if got := st.ledger.BalanceOf(alice); !got.Eq(aliceBefore) {
		t.Fatalf("alice = %s, want %s after failed transfer", got, aliceBefore)
	}
	if len(st.events.evs) != 0 {
		t.Fatalf("events persisted for a reverted transfer: %v", st.events.evs)
	}
	if st.bus.published[domain.ChannelTax] != 0 {
		t.Fatal("tax observation published for a reverted transfer")
	}

	// Allowance path reverts too.
	ctx := context.Background()
	if err := st.svc.Approve(ctx, alice, bob, amt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	_, err = st.svc.TransferFrom(ctx, bob, alice, bob, amt(500))
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want converter failure", err)
	}
	if got := st.svc.Allowance(alice, bob); got.Uint64() != 500 {
		t.Fatalf("allowance = %s, want 500 restored after revert", got)
	}
}

func TestInfo(t *testing.T) {
	st := newStack(t, nil)
	info := st.svc.Info()
	if info.Name != "Levy" || info.Symbol != "LVY" || info.Decimals != 18 {
		t.Fatalf("info identity = %+v", info)
	}
	if info.TaxPercent != 5 {
		t.Fatalf("tax percent = %d, want 5", info.TaxPercent)
	}
	if !info.Conserved {
		t.Fatal("conservation must hold")
	}
	if info.Remaining != 59*time.Minute {
		t.Fatalf("remaining = %v, want 59m", info.Remaining)
	}
}
