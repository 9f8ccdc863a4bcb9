// Package idgen implements job-judge's two id allocators: a DB-backed
// segmented counter for business ids, and a snowflake sequencer for
// high-throughput opaque ids. Both allocation loops are built from atomics
// and CAS rather than mutexes; the segmented counter does lock a mutex on
// every CreateID call to look up the biz id's segment.
package idgen

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadds/job-judge/pkg/apperror"
)

// tryMax bounds the segmented counter's retry loop.
const tryMax = 20

// updatingState tracks one segment's prefetch lifecycle.
type updatingState int32

const (
	stateIdle updatingState = iota
	stateFetching
	stateReady
	stateApplying
)

// BizRow is one row of the segmented counter table.
type BizRow struct {
	BizID    string
	Value    int64
	Step     int64
	MaxValue int64
	Version  int64
}

// Store is the persistence boundary the segmented counter allocates
// through. A Postgres-backed implementation lives in pkg/database.
type Store interface {
	// FetchBizRow loads the current row for bizID. Returns apperror with
	// CodeInvalidBiz if the row does not exist.
	FetchBizRow(ctx context.Context, bizID string) (BizRow, error)
	// CASUpdate advances a row's value to newValue, succeeding only if the
	// row's version still equals expectedVersion. ok is false (no error)
	// when another writer won the race.
	CASUpdate(ctx context.Context, bizID string, newValue, expectedVersion int64) (ok bool, err error)
}

// segment holds one biz id's in-memory allocation state: the triple
// currently being handed out, the triple a prefetch is preparing, and the
// state machine coordinating the two.
type segment struct {
	bizID string

	pos    atomic.Int64
	danger atomic.Int64
	max    atomic.Int64

	nextPos    atomic.Int64
	nextDanger atomic.Int64
	nextMax    atomic.Int64

	updating atomic.Int32

	notifyMu sync.Mutex
	notifyCh chan struct{}

	errMu   sync.Mutex
	lastErr error
}

func newSegment(bizID string) *segment {
	return &segment{bizID: bizID, notifyCh: make(chan struct{})}
}

// wait blocks until the segment's prefetch broadcasts, timeout elapses, or
// ctx is done. A zero timeout polls once without blocking, matching the
// algorithm's "0-timeout first, then blocking" wait.
func (s *segment) wait(ctx context.Context, timeout time.Duration) {
	s.notifyMu.Lock()
	ch := s.notifyCh
	s.notifyMu.Unlock()

	if timeout <= 0 {
		select {
		case <-ch:
		default:
		}
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
	}
}

// broadcast wakes every waiter and resets the channel for the next round.
func (s *segment) broadcast() {
	s.notifyMu.Lock()
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
	s.notifyMu.Unlock()
}

func (s *segment) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

func (s *segment) takeErr() error {
	s.errMu.Lock()
	err := s.lastErr
	s.lastErr = nil
	s.errMu.Unlock()
	return err
}

// SegmentAllocator hands out ids from a DB-backed segmented counter, one
// segment per business id, prefetching the next range before the current
// one is exhausted.
type SegmentAllocator struct {
	store Store

	mu       sync.Mutex
	segments map[string]*segment
}

// NewSegmentAllocator creates an allocator backed by store.
func NewSegmentAllocator(store Store) *SegmentAllocator {
	return &SegmentAllocator{
		store:    store,
		segments: make(map[string]*segment),
	}
}

func (a *SegmentAllocator) segmentFor(bizID string) *segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	seg, ok := a.segments[bizID]
	if !ok {
		seg = newSegment(bizID)
		a.segments[bizID] = seg
	}
	return seg
}

// CreateID allocates the next id for bizID, prefetching transparently when
// the active segment runs low. It returns apperror-typed errors for
// InvalidBiz, VersionFail, MaximumRange, and ManyTimes.
func (a *SegmentAllocator) CreateID(ctx context.Context, bizID string) (int64, error) {
	seg := a.segmentFor(bizID)
	lastMax := int64(-1)

	for times := 0; times < tryMax; times++ {
		pos := seg.pos.Load()
		danger := seg.danger.Load()
		max := seg.max.Load()

		if lastMax >= 0 && lastMax >= max {
			return 0, apperror.ErrMaximumRange
		}

		if pos >= danger && seg.updating.CompareAndSwap(int32(stateIdle), int32(stateFetching)) {
			go a.prefetch(seg)
		}

		if pos >= max {
			seg.wait(ctx, 0)
			if seg.updating.Load() != int32(stateReady) {
				seg.wait(ctx, 50*time.Millisecond)
			}
			if err := seg.takeErr(); err != nil {
				return 0, err
			}
			if seg.updating.CompareAndSwap(int32(stateReady), int32(stateApplying)) {
				seg.pos.Store(seg.nextPos.Load())
				seg.danger.Store(seg.nextDanger.Load())
				seg.max.Store(seg.nextMax.Load())
				seg.updating.Store(int32(stateIdle))
			}
		} else if seg.pos.CompareAndSwap(pos, pos+1) {
			return pos, nil
		}

		lastMax = max

		if times >= tryMax/2 {
			time.Sleep(20 * time.Millisecond * time.Duration(times-tryMax/2+1))
		}
	}

	return 0, apperror.ErrManyTimes
}

// prefetch fetches the row for seg, CAS-saves the advanced value, and on
// success publishes the next triple and wakes waiters. It always resolves
// the FETCHING state, either to READY (success) or IDLE (failure).
func (a *SegmentAllocator) prefetch(seg *segment) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, err := a.store.FetchBizRow(ctx, seg.bizID)
	if err != nil {
		seg.setErr(err)
		seg.updating.Store(int32(stateIdle))
		seg.broadcast()
		return
	}

	newPos := row.Value
	newValue := row.Value + row.Step

	ok, err := a.store.CASUpdate(ctx, seg.bizID, newValue, row.Version)
	if err != nil {
		seg.setErr(err)
		seg.updating.Store(int32(stateIdle))
		seg.broadcast()
		return
	}
	if !ok {
		seg.setErr(apperror.New(apperror.CodeVersionFail, "concurrent writer advanced biz row first"))
		seg.updating.Store(int32(stateIdle))
		seg.broadcast()
		return
	}

	max := newValue
	if row.MaxValue > 0 && max > row.MaxValue {
		max = row.MaxValue
	}

	seg.nextPos.Store(newPos)
	seg.nextDanger.Store(newPos + row.Step/2)
	seg.nextMax.Store(max)
	seg.updating.Store(int32(stateReady))
	seg.broadcast()
}
