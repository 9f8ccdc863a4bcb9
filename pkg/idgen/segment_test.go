package idgen

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kadds/job-judge/pkg/apperror"
)

// fakeStore is an in-memory idgen.Store for exercising the allocator
// without a real database.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]BizRow

	fetchErr    error
	casErr      error
	casAlwaysNo bool
}

func newFakeStore(rows ...BizRow) *fakeStore {
	s := &fakeStore{rows: make(map[string]BizRow)}
	for _, r := range rows {
		s.rows[r.BizID] = r
	}
	return s
}

func (s *fakeStore) FetchBizRow(ctx context.Context, bizID string) (BizRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return BizRow{}, s.fetchErr
	}
	row, ok := s.rows[bizID]
	if !ok {
		return BizRow{}, apperror.ErrInvalidBiz
	}
	return row, nil
}

func (s *fakeStore) CASUpdate(ctx context.Context, bizID string, newValue, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.casErr != nil {
		return false, s.casErr
	}
	if s.casAlwaysNo {
		return false, nil
	}
	row, ok := s.rows[bizID]
	if !ok || row.Version != expectedVersion {
		return false, nil
	}
	row.Value = newValue
	row.Version++
	s.rows[bizID] = row
	return true, nil
}

func TestSegmentAllocator_AllocatesSequentialIDs(t *testing.T) {
	store := newFakeStore(BizRow{BizID: "order", Value: 1, Step: 100, MaxValue: 10000, Version: 0})
	alloc := NewSegmentAllocator(store)

	ctx := context.Background()
	seen := make(map[int64]bool)
	for i := 0; i < 50; i++ {
		id, err := alloc.CreateID(ctx, "order")
		if err != nil {
			t.Fatalf("CreateID failed at iteration %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = true
	}
}

func TestSegmentAllocator_InvalidBiz(t *testing.T) {
	store := newFakeStore()
	alloc := NewSegmentAllocator(store)

	_, err := alloc.CreateID(context.Background(), "missing")
	if !apperror.Is(err, apperror.CodeInvalidBiz) {
		t.Fatalf("expected CodeInvalidBiz, got %v", err)
	}
}

func TestSegmentAllocator_MaximumRange(t *testing.T) {
	// A tiny ceiling exhausted on the first segment: value already equals
	// max_value, so the prefetched segment covers nothing new.
	store := newFakeStore(BizRow{BizID: "tiny", Value: 10, Step: 5, MaxValue: 10, Version: 0})
	alloc := NewSegmentAllocator(store)

	ctx := context.Background()
	var lastErr error
	for i := 0; i < 5; i++ {
		_, err := alloc.CreateID(ctx, "tiny")
		if err != nil {
			lastErr = err
			break
		}
	}
	if !apperror.Is(lastErr, apperror.CodeMaximumRange) {
		t.Fatalf("expected CodeMaximumRange eventually, got %v", lastErr)
	}
}

func TestSegmentAllocator_VersionFailSurfaces(t *testing.T) {
	store := newFakeStore(BizRow{BizID: "race", Value: 1, Step: 2, MaxValue: 1000, Version: 0})
	store.casAlwaysNo = true
	alloc := NewSegmentAllocator(store)

	_, err := alloc.CreateID(context.Background(), "race")
	if !apperror.Is(err, apperror.CodeVersionFail) {
		t.Fatalf("expected CodeVersionFail, got %v", err)
	}
}

func TestSegmentAllocator_ConcurrentCallersNeverCollide(t *testing.T) {
	store := newFakeStore(BizRow{BizID: "hot", Value: 1, Step: 1000, MaxValue: 1_000_000, Version: 0})
	alloc := NewSegmentAllocator(store)

	const workers = 20
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	var failures atomic.Int64

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			for i := 0; i < perWorker; i++ {
				id, err := alloc.CreateID(ctx, "hot")
				if err != nil {
					failures.Add(1)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d observed", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if failures.Load() > 0 {
		t.Fatalf("%d workers failed to allocate", failures.Load())
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d unique ids, got %d", workers*perWorker, len(seen))
	}
}

func TestSegmentAllocator_FetchErrorPropagates(t *testing.T) {
	store := newFakeStore(BizRow{BizID: "flaky", Value: 1, Step: 10, MaxValue: 1000, Version: 0})
	store.fetchErr = apperror.New(apperror.CodeInternal, "db down")
	alloc := NewSegmentAllocator(store)

	_, err := alloc.CreateID(context.Background(), "flaky")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestSegment_WaitZeroTimeoutDoesNotBlock(t *testing.T) {
	seg := newSegment("x")
	start := time.Now()
	seg.wait(context.Background(), 0)
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("zero-timeout wait blocked")
	}
}

func TestSegment_BroadcastWakesWaiters(t *testing.T) {
	seg := newSegment("x")
	done := make(chan struct{})
	go func() {
		seg.wait(context.Background(), time.Second)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	seg.broadcast()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by broadcast")
	}
}
