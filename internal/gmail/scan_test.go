package gmail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gmaildu/internal/model"
	"gmaildu/internal/store"
)

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMailbox serves canned list pages keyed by page token and canned
// metadata keyed by message ID. Errors can be injected per token or per ID.
type fakeMailbox struct {
	mu sync.Mutex

	pages    map[string]ListPage
	listErrs map[string]error // consumed on first use

	meta     map[string]model.MessageRecord
	metaErrs map[string]error

	fetchDelay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	batches [][]string
	labels  [][]string
}

func (f *fakeMailbox) ListIDs(ctx context.Context, query, pageToken string, pageSize int64) (ListPage, error) {
	f.mu.Lock()
	if err, ok := f.listErrs[pageToken]; ok {
		delete(f.listErrs, pageToken)
		f.mu.Unlock()
		return ListPage{}, err
	}
	page, ok := f.pages[pageToken]
	f.mu.Unlock()
	if !ok {
		return ListPage{}, fmt.Errorf("unexpected page token %q", pageToken)
	}
	return page, nil
}

func (f *fakeMailbox) GetMetadata(ctx context.Context, id string) (model.MessageRecord, error) {
	cur := f.inFlight.Add(1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	f.inFlight.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.metaErrs[id]; ok {
		return model.MessageRecord{}, err
	}
	rec, ok := f.meta[id]
	if !ok {
		return model.MessageRecord{}, fmt.Errorf("get message %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (f *fakeMailbox) BatchModify(ctx context.Context, ids []string, addLabelIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	f.labels = append(f.labels, append([]string(nil), addLabelIDs...))
	return nil
}

func newTestScanner(mb Mailbox, st MessageStore) *Scanner {
	return NewScanner(mb, st, quietLogger())
}

func threePages() map[string]ListPage {
	return map[string]ListPage{
		"": {
			Messages:      []model.ListedMessage{{ID: "a1", ThreadID: "t1"}, {ID: "a2", ThreadID: "t1"}},
			NextPageToken: "p2",
		},
		"p2": {
			Messages:      []model.ListedMessage{{ID: "b1"}, {ID: "b2"}},
			NextPageToken: "p3",
		},
		"p3": {
			Messages: []model.ListedMessage{{ID: "c1"}},
		},
	}
}

func TestListMessagesWalksAllPages(t *testing.T) {
	st := testStore(t)
	mb := &fakeMailbox{pages: threePages()}
	sc := newTestScanner(mb, st)
	ctx := context.Background()

	if err := sc.ListMessages(ctx, "larger:1M", 0); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	pending, _ := st.ListPending(ctx, 100)
	if len(pending) != 5 {
		t.Fatalf("expected 5 pending, got %v", pending)
	}
	// Exhausted listing clears the cursor.
	cur, _ := st.GetCursor(ctx, cursorKey("larger:1M"))
	if cur != "" {
		t.Fatalf("expected cleared cursor, got %q", cur)
	}
}

func TestListMessagesResumesAfterFailure(t *testing.T) {
	st := testStore(t)
	mb := &fakeMailbox{
		pages:    threePages(),
		listErrs: map[string]error{"p2": errors.New("boom")},
	}
	sc := newTestScanner(mb, st)
	ctx := context.Background()

	// First run consumes page 1, then halts on the page-2 transport error.
	if err := sc.ListMessages(ctx, "q", 0); err == nil {
		t.Fatal("expected listing error")
	}
	pending, _ := st.ListPending(ctx, 100)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending after page 1, got %v", pending)
	}
	cur, _ := st.GetCursor(ctx, cursorKey("q"))
	if cur != "p2" {
		t.Fatalf("cursor should point at the failed page, got %q", cur)
	}

	// Re-running continues from the persisted cursor and converges on the
	// same record set as an uninterrupted run.
	if err := sc.ListMessages(ctx, "q", 0); err != nil {
		t.Fatalf("resume: %v", err)
	}
	pending, _ = st.ListPending(ctx, 100)
	if len(pending) != 5 {
		t.Fatalf("expected 5 pending after resume, got %v", pending)
	}
}

func TestListMessagesLimitIsPageGranular(t *testing.T) {
	st := testStore(t)
	mb := &fakeMailbox{pages: threePages()}
	sc := newTestScanner(mb, st)
	ctx := context.Background()

	// limit 3 is crossed inside page 2; the walker keeps the whole page but
	// fetches no further pages.
	if err := sc.ListMessages(ctx, "q", 3); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	pending, _ := st.ListPending(ctx, 100)
	if len(pending) != 4 {
		t.Fatalf("expected 4 pending (one-page overshoot), got %v", pending)
	}
	cur, _ := st.GetCursor(ctx, cursorKey("q"))
	if cur != "p3" {
		t.Fatalf("cursor should allow resuming at page 3, got %q", cur)
	}
}

func TestCursorsAreQueryScoped(t *testing.T) {
	if cursorKey("a") == cursorKey("b") {
		t.Fatal("distinct queries must map to distinct cursor keys")
	}
	if cursorKey("a") != cursorKey("a") {
		t.Fatal("cursor key must be deterministic")
	}
}

func TestFetchDetailsEndToEnd(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.InsertNewIDs(ctx, []model.ListedMessage{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	mb := &fakeMailbox{
		meta: map[string]model.MessageRecord{
			"a": {ID: "a", Size: 100, InternalDate: 1700000000000, Sender: "alice@example.com", Subject: "hi"},
			"c": {ID: "c", Size: 300, InternalDate: 1700000100000, Sender: "carol@example.com", Subject: "yo"},
		},
		metaErrs: map[string]error{"b": errors.New("HTTP 500")},
	}
	sc := newTestScanner(mb, st)

	n, err := sc.FetchDetails(ctx)
	if err != nil {
		t.Fatalf("FetchDetails: %v", err)
	}
	if n != 3 {
		t.Fatalf("pass size want 3 got %d", n)
	}

	pending, _ := st.ListPending(ctx, 100)
	if len(pending) != 1 || pending[0] != "b" {
		t.Fatalf("pending want [b] got %v", pending)
	}
	total, done, _ := st.Counts(ctx)
	if total != 3 || done != 2 {
		t.Fatalf("counts want (3,2) got (%d,%d)", total, done)
	}
	complete, _ := st.ListComplete(ctx)
	sizes := map[string]int64{}
	for _, r := range complete {
		sizes[r.ID] = r.Size
	}
	if sizes["a"] != 100 || sizes["c"] != 300 {
		t.Fatalf("unexpected sizes: %v", sizes)
	}

	// A later pass with the failure fixed drains the queue.
	mb.mu.Lock()
	delete(mb.metaErrs, "b")
	mb.meta["b"] = model.MessageRecord{ID: "b", Size: 200, Sender: "bob@example.com", Subject: "re"}
	mb.mu.Unlock()

	if n, err = sc.FetchDetails(ctx); err != nil || n != 1 {
		t.Fatalf("second pass want (1,nil) got (%d,%v)", n, err)
	}
	if n, err = sc.FetchDetails(ctx); err != nil || n != 0 {
		t.Fatalf("third pass want (0,nil) got (%d,%v)", n, err)
	}
	total, done, _ = st.Counts(ctx)
	if total != 3 || done != 3 {
		t.Fatalf("counts want (3,3) got (%d,%d)", total, done)
	}
}

func TestFetchDetailsPersistsDeleted(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.InsertNewIDs(ctx, []model.ListedMessage{{ID: "gone"}, {ID: "kept"}})

	mb := &fakeMailbox{
		meta: map[string]model.MessageRecord{
			"kept": {ID: "kept", Size: 42, Sender: "x@y.z", Subject: "s"},
		},
		// "gone" has no metadata entry: the fake answers ErrNotFound.
	}
	sc := newTestScanner(mb, st)

	if _, err := sc.FetchDetails(ctx); err != nil {
		t.Fatalf("FetchDetails: %v", err)
	}

	pending, _ := st.ListPending(ctx, 100)
	if len(pending) != 0 {
		t.Fatalf("404 must not stay pending: %v", pending)
	}
	complete, _ := st.ListComplete(ctx)
	if len(complete) != 1 || complete[0].ID != "kept" {
		t.Fatalf("deleted rows must not be complete: %v", complete)
	}
	total, done, _ := st.Counts(ctx)
	if total != 2 || done != 2 {
		t.Fatalf("counts want (2,2) got (%d,%d)", total, done)
	}
}

func TestFetchDetailsBoundedConcurrency(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	var listed []model.ListedMessage
	meta := map[string]model.MessageRecord{}
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("m%03d", i)
		listed = append(listed, model.ListedMessage{ID: id})
		meta[id] = model.MessageRecord{ID: id, Size: 1}
	}
	st.InsertNewIDs(ctx, listed)

	mb := &fakeMailbox{meta: meta, fetchDelay: 2 * time.Millisecond}
	sc := newTestScanner(mb, st)

	n, err := sc.FetchDetails(ctx)
	if err != nil {
		t.Fatalf("FetchDetails: %v", err)
	}
	if n != 200 {
		t.Fatalf("pass size want 200 got %d", n)
	}
	if got := mb.maxInFlight.Load(); got > int32(sc.MaxConcurrent) {
		t.Fatalf("observed %d concurrent fetches, cap is %d", got, sc.MaxConcurrent)
	}
	total, done, _ := st.Counts(ctx)
	if total != 200 || done != 200 {
		t.Fatalf("counts want (200,200) got (%d,%d)", total, done)
	}
}

func TestFetchDetailsPassSizeBoundsWorkingSet(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	var listed []model.ListedMessage
	meta := map[string]model.MessageRecord{}
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("m%d", i)
		listed = append(listed, model.ListedMessage{ID: id})
		meta[id] = model.MessageRecord{ID: id, Size: 1}
	}
	st.InsertNewIDs(ctx, listed)

	sc := newTestScanner(&fakeMailbox{meta: meta}, st)
	sc.PassSize = 3

	want := []int{3, 3, 1, 0}
	for i, w := range want {
		n, err := sc.FetchDetails(ctx)
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		if n != w {
			t.Fatalf("pass %d want %d got %d", i, w, n)
		}
	}
}

func TestRunDrainsQueue(t *testing.T) {
	st := testStore(t)
	mb := &fakeMailbox{
		pages: threePages(),
		meta: map[string]model.MessageRecord{
			"a1": {ID: "a1", Size: 10}, "a2": {ID: "a2", Size: 20},
			"b1": {ID: "b1", Size: 30}, "b2": {ID: "b2", Size: 40},
			"c1": {ID: "c1", Size: 50},
		},
	}
	sc := newTestScanner(mb, st)

	var last model.ScanProgress
	if err := sc.Run(context.Background(), "q", 0, func(p model.ScanProgress) { last = p }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last.Total != 5 || last.Done != 5 {
		t.Fatalf("final progress want 5/5 got %d/%d", last.Done, last.Total)
	}
}

func TestRunStopsWhenPassMakesNoProgress(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.InsertNewIDs(ctx, []model.ListedMessage{{ID: "x"}, {ID: "y"}})

	mb := &fakeMailbox{
		pages: map[string]ListPage{"": {}},
		metaErrs: map[string]error{
			"x": errors.New("HTTP 503"),
			"y": errors.New("HTTP 503"),
		},
	}
	sc := newTestScanner(mb, st)

	// Run must terminate rather than retry the same failing pass forever;
	// the records stay pending for the next invocation.
	if err := sc.Run(ctx, "q", 0, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	pending, _ := st.ListPending(ctx, 10)
	if len(pending) != 2 {
		t.Fatalf("want 2 still pending, got %v", pending)
	}
}

func TestMarkMessagesChunks(t *testing.T) {
	st := testStore(t)
	mb := &fakeMailbox{}
	sc := newTestScanner(mb, st)

	var ids []string
	for i := 0; i < 2500; i++ {
		ids = append(ids, fmt.Sprintf("m%d", i))
	}
	if err := sc.MarkMessages(context.Background(), ids, "Label_7"); err != nil {
		t.Fatalf("MarkMessages: %v", err)
	}
	if len(mb.batches) != 3 {
		t.Fatalf("want 3 chunks, got %d", len(mb.batches))
	}
	if len(mb.batches[0]) != 1000 || len(mb.batches[1]) != 1000 || len(mb.batches[2]) != 500 {
		t.Fatalf("chunk sizes: %d %d %d", len(mb.batches[0]), len(mb.batches[1]), len(mb.batches[2]))
	}
	if mb.labels[0][0] != "Label_7" {
		t.Fatalf("label want Label_7 got %v", mb.labels[0])
	}
}
