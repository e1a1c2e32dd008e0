package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/levyprotocol/levyd/internal/domain"
	"github.com/levyprotocol/levyd/internal/token"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver. The Postgres stores
// satisfy these implicitly; the archiver only needs the time-ranged queries
// and the matching delete.
// ---------------------------------------------------------------------------

// TransferArchiveStore provides access to aged transfers for archival.
type TransferArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TransferRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventArchiveStore provides access to aged levy observations for archival.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.LevyEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, uploading the result to S3, and then
// deleting the archived rows. The upload happens before the delete so a
// failed upload never loses history.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	transfers TransferArchiveStore
	events    EventArchiveStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, transfers TransferArchiveStore, events EventArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		transfers: transfers,
		events:    events,
	}
}

// ArchiveTransfers uploads all transfers settled before the cutoff to
// archive/transfers/YYYY-MM.jsonl and deletes them from the primary store.
// It returns the count of archived records.
func (a *ArchiveImpl) ArchiveTransfers(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.transfers.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	payloads := make([]token.TransferPayload, 0, len(recs))
	for _, rec := range recs {
		payloads = append(payloads, token.NewTransferPayload(rec))
	}
	buf, err := marshalJSONL(payloads)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers marshal: %w", err)
	}

	path := archivePath("transfers", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive transfers upload: %w", err)
	}

	if _, err := a.transfers.DeleteBefore(ctx, before); err != nil {
		return int64(len(recs)), fmt.Errorf("s3blob: archive transfers delete: %w", err)
	}
	return int64(len(recs)), nil
}

// ArchiveEvents uploads all levy observations recorded before the cutoff to
// archive/events/YYYY-MM.jsonl and deletes them from the primary store.
// It returns the count of archived records.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	payloads := make([]token.EventPayload, 0, len(events))
	for _, ev := range events {
		payloads = append(payloads, token.NewEventPayload(ev))
	}
	buf, err := marshalJSONL(payloads)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	if _, err := a.events.DeleteBefore(ctx, before); err != nil {
		return int64(len(events)), fmt.Errorf("s3blob: archive events delete: %w", err)
	}
	return int64(len(events)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/transfers/2025-01.jsonl
//	archive/events/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
