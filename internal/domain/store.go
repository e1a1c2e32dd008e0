package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TransferStore persists settled transfer records.
type TransferStore interface {
	Insert(ctx context.Context, rec TransferRecord) error
	List(ctx context.Context, opts ListOpts) ([]TransferRecord, error)
	ListByHolder(ctx context.Context, holder common.Address, opts ListOpts) ([]TransferRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TransferRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LevyEventStore persists levy observations.
type LevyEventStore interface {
	Insert(ctx context.Context, ev LevyEvent) error
	List(ctx context.Context, kind LevyEventKind, opts ListOpts) ([]LevyEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]LevyEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
