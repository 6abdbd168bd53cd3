// Package changes reads a store's change feed.
//
// A Reader pulls pages from any Source (the local revision store or a
// remote peer) and yields entries lazily in ascending sequence order. A read
// ends at the current end of the feed; callers poll and restart from the
// last sequence they observed rather than subscribing to a live tail.
package changes

import (
	"context"
	"fmt"
	"iter"

	"github.com/roach88/revsync/internal/ir"
)

// DefaultPageSize is the page size used when none is configured.
const DefaultPageSize = 100

// Source serves change-feed pages: up to limit entries with sequence
// greater than since, ascending.
type Source interface {
	ChangesSince(ctx context.Context, since int64, limit int) ([]ir.ChangeEntry, error)
}

// Reader reads a Source page by page.
type Reader struct {
	src      Source
	pageSize int
}

// Option configures a Reader.
type Option func(*Reader)

// WithPageSize sets how many entries are requested per page.
func WithPageSize(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// NewReader returns a Reader over src.
func NewReader(src Source, opts ...Option) *Reader {
	r := &Reader{src: src, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read yields every entry with sequence greater than from. Reading again from
// any previously observed sequence yields the same suffix of the feed.
// Iteration stops at the first error, which is yielded.
func (r *Reader) Read(ctx context.Context, from int64) iter.Seq2[ir.ChangeEntry, error] {
	return func(yield func(ir.ChangeEntry, error) bool) {
		for batch, err := range r.Batches(ctx, from, r.pageSize) {
			if err != nil {
				yield(ir.ChangeEntry{}, err)
				return
			}
			for _, entry := range batch {
				if !yield(entry, nil) {
					return
				}
			}
		}
	}
}

// Batches yields the feed after from in slices of at most size entries.
// Each batch is one request to the source.
func (r *Reader) Batches(ctx context.Context, from int64, size int) iter.Seq2[[]ir.ChangeEntry, error] {
	if size <= 0 {
		size = r.pageSize
	}
	return func(yield func([]ir.ChangeEntry, error) bool) {
		cursor := from
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := r.src.ChangesSince(ctx, cursor, size)
			if err != nil {
				yield(nil, fmt.Errorf("read changes since %d: %w", cursor, err))
				return
			}
			if len(page) == 0 {
				return
			}
			if err := checkOrder(cursor, page); err != nil {
				yield(nil, err)
				return
			}

			if !yield(page, nil) {
				return
			}
			cursor = page[len(page)-1].Seq
			if len(page) < size {
				return
			}
		}
	}
}

// checkOrder rejects pages that are not strictly ascending past cursor.
// Restarting from such a page could loop forever.
func checkOrder(cursor int64, page []ir.ChangeEntry) error {
	prev := cursor
	for _, entry := range page {
		if entry.Seq <= prev {
			return ir.NewStructuralError(entry.DocID, entry.RevID.String(),
				fmt.Sprintf("change feed out of order: sequence %d after %d", entry.Seq, prev))
		}
		prev = entry.Seq
	}
	return nil
}

// Drain feeds every entry after from to fn, in order, and returns the last
// sequence fn accepted. Delivery is at-least-once across restarts: a consumer
// that persists the returned sequence and resumes from it sees every entry,
// and an entry whose fn call failed is delivered again on the next Drain.
func Drain(ctx context.Context, r *Reader, from int64, fn func(context.Context, ir.ChangeEntry) error) (int64, error) {
	last := from
	for entry, err := range r.Read(ctx, from) {
		if err != nil {
			return last, err
		}
		if err := fn(ctx, entry); err != nil {
			return last, fmt.Errorf("consume change %d (%s): %w", entry.Seq, entry.DocID, err)
		}
		last = entry.Seq
	}
	return last, nil
}
