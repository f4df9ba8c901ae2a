package gmail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"gmaildu/internal/model"

	"golang.org/x/sync/errgroup"
)

// MessageStore declares the persistence capabilities the scanner requires.
// The store is the only channel between the listing and fetching phases, so
// a scan can be interrupted and resumed at any point.
type MessageStore interface {
	InsertNewIDs(ctx context.Context, msgs []model.ListedMessage) error
	ApplyFetchedDetails(ctx context.Context, recs []model.MessageRecord) error
	MarkDeleted(ctx context.Context, ids []string) error
	ListPending(ctx context.Context, limit int) ([]string, error)
	ListComplete(ctx context.Context) ([]model.MessageRecord, error)
	Counts(ctx context.Context) (total, done int, err error)
	GetCursor(ctx context.Context, key string) (string, error)
	SetCursor(ctx context.Context, key, value string) error
}

const (
	// defaultPageSize is the list endpoint's maximum page size.
	defaultPageSize = 500
	// defaultPassSize caps the working set of one fetch pass.
	defaultPassSize = 5000
	// defaultFlushSize bounds how many fetched details a crash can lose;
	// anything unflushed simply stays pending and is refetched.
	defaultFlushSize = 100
	// defaultMaxConcurrent keeps 30 metadata requests in flight: the call
	// costs 5 quota units against a 250 units/second budget.
	defaultMaxConcurrent = 30
)

// Scanner drives the two ingestion phases: walking the message listing and
// draining the pending queue. It holds no scan state of its own.
type Scanner struct {
	Mailbox Mailbox
	Store   MessageStore
	Log     *slog.Logger

	PageSize      int64
	PassSize      int
	FlushSize     int
	MaxConcurrent int
}

// NewScanner returns a Scanner with the default page, pass, flush and
// concurrency sizes.
func NewScanner(mb Mailbox, st MessageStore, log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		Mailbox:       mb,
		Store:         st,
		Log:           log,
		PageSize:      defaultPageSize,
		PassSize:      defaultPassSize,
		FlushSize:     defaultFlushSize,
		MaxConcurrent: defaultMaxConcurrent,
	}
}

// cursorKey derives the state key for a query's continuation token. Keying
// by a hash of the query keeps cursors of different queries from clobbering
// each other across runs.
func cursorKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "next_page_token:" + hex.EncodeToString(sum[:])[:12]
}

// ListMessages walks the remote listing for query, inserting pending records
// and persisting the continuation token after every page. It resumes from
// the persisted cursor, so a crash mid-listing loses at most the page in
// flight. limit is advisory and page-granular; the walker may overshoot by
// up to one page, since discarding part of a page would break cursor
// fidelity.
func (s *Scanner) ListMessages(ctx context.Context, query string, limit int) error {
	key := cursorKey(query)
	pageToken, err := s.Store.GetCursor(ctx, key)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}

	listed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.Mailbox.ListIDs(ctx, query, pageToken, s.PageSize)
		if err != nil {
			// No in-call retry: the cursor still points at this page, so the
			// next invocation picks up exactly here.
			s.Log.Warn("listing halted", "query", query, "error", err)
			return err
		}

		if err := s.Store.InsertNewIDs(ctx, page.Messages); err != nil {
			return fmt.Errorf("insert listed ids: %w", err)
		}
		// Persist the token before evaluating the stop condition so the
		// cursor always reflects the last page actually consumed.
		if err := s.Store.SetCursor(ctx, key, page.NextPageToken); err != nil {
			return fmt.Errorf("persist cursor: %w", err)
		}

		listed += len(page.Messages)
		s.Log.Debug("listed page", "count", len(page.Messages), "total", listed)

		if page.NextPageToken == "" {
			s.Log.Info("listing exhausted", "query", query, "listed", listed)
			return nil
		}
		pageToken = page.NextPageToken
		if limit > 0 && listed >= limit {
			s.Log.Info("listing limit reached", "query", query, "listed", listed)
			return nil
		}
	}
}

type fetchResult struct {
	rec     model.MessageRecord
	deleted string // message ID gone remotely
}

// FetchDetails drains one bounded pass of the pending queue: up to PassSize
// IDs, at most MaxConcurrent metadata requests in flight, details flushed to
// the store in FlushSize groups. It returns the working-set size; 0 means
// the queue was empty as observed at call time. Callers loop until 0 — a
// unit that fails retryably stays pending and is retried on a later pass.
func (s *Scanner) FetchDetails(ctx context.Context) (int, error) {
	ids, err := s.Store.ListPending(ctx, s.PassSize)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// A store failure is fatal for the run; cancel admission so in-flight
	// units drain quickly. Everything flushed so far stays persisted.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult, s.FlushSize)

	var flushErr error
	collectDone := make(chan struct{})
	go func() {
		defer close(collectDone)
		recs := make([]model.MessageRecord, 0, s.FlushSize)
		var deleted []string
		flush := func() {
			if flushErr != nil {
				recs, deleted = recs[:0], deleted[:0]
				return
			}
			if len(recs) > 0 {
				if err := s.Store.ApplyFetchedDetails(ctx, recs); err != nil {
					flushErr = fmt.Errorf("apply fetched details: %w", err)
					cancel()
				}
				recs = recs[:0]
			}
			if flushErr == nil && len(deleted) > 0 {
				if err := s.Store.MarkDeleted(ctx, deleted); err != nil {
					flushErr = fmt.Errorf("mark deleted: %w", err)
					cancel()
				}
				deleted = deleted[:0]
			}
		}
		for r := range results {
			if r.deleted != "" {
				deleted = append(deleted, r.deleted)
			} else {
				recs = append(recs, r.rec)
			}
			if len(recs)+len(deleted) >= s.FlushSize {
				flush()
			}
		}
		flush()
	}()

	g := &errgroup.Group{}
	g.SetLimit(s.MaxConcurrent)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec, err := s.Mailbox.GetMetadata(ctx, id)
			switch {
			case err == nil:
				results <- fetchResult{rec: rec}
			case errors.Is(err, ErrNotFound):
				results <- fetchResult{deleted: id}
			default:
				// Retryable: the record stays pending for a later pass.
				s.Log.Debug("metadata fetch failed", "id", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	close(results)
	<-collectDone

	if flushErr != nil {
		return len(ids), flushErr
	}
	return len(ids), nil
}

// Run performs a full scan: walk the listing for query, then drain the
// pending queue pass by pass until it is empty. progress, if non-nil, is
// called between units of work with the store's counts. Cancelling ctx stops
// the scan between units; all persisted progress survives and a later Run
// resumes from it.
func (s *Scanner) Run(ctx context.Context, query string, limit int, progress func(model.ScanProgress)) error {
	if err := s.ListMessages(ctx, query, limit); err != nil {
		return err
	}
	prevDone := -1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := s.FetchDetails(ctx)
		if err != nil {
			return err
		}
		total, done, err := s.Store.Counts(ctx)
		if err != nil {
			return fmt.Errorf("read counts: %w", err)
		}
		if progress != nil {
			progress(model.ScanProgress{Phase: "fetch", Done: done, Total: total})
		}
		if n == 0 {
			return nil
		}
		if done == prevDone {
			// Every unit in the pass failed retryably. Leave the remainder
			// pending for the next run instead of spinning on it.
			s.Log.Warn("fetch pass made no progress", "pending", total-done)
			return nil
		}
		prevDone = done
	}
}
