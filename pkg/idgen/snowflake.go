package idgen

import (
	"sync/atomic"
	"time"

	"github.com/kadds/job-judge/pkg/apperror"
)

// startTimestampSec is the snowflake epoch: 2020-09-13T12:26:40Z.
const startTimestampSec = 1_600_000_000

const (
	sequenceBits = 13
	replicaBits  = 9
	timeBits     = 41

	maxSequence = (int64(1) << sequenceBits) - 1
	maxReplica  = int64(1) << replicaBits

	snowflakeTryMax = 50
)

// Snowflake generates 64-bit ids laid out, high to low, as 41 bits of
// milliseconds since the epoch, 9 bits of replica id, 13 bits of sequence.
// It is safe for concurrent use; the hot path is a single CAS loop.
type Snowflake struct {
	replicaID int64
	lastVal   atomic.Int64
}

// NewSnowflake creates a sequencer for the given replica id, which must be
// less than 512 and is constant for the life of the process.
func NewSnowflake(replicaID int64) *Snowflake {
	return &Snowflake{replicaID: replicaID % maxReplica}
}

func epochMillis(t time.Time) int64 {
	return t.UnixMilli() - startTimestampSec*1000
}

func decode(val int64) (deltaMs, seq int64) {
	return val >> (replicaBits + sequenceBits), val & maxSequence
}

// CreateSeq produces the next id, retrying on contention and on waiting out
// a clock regression, up to 50 attempts.
func (s *Snowflake) CreateSeq() (int64, error) {
	for times := 0; times < snowflakeTryMax; times++ {
		delta := epochMillis(time.Now())
		last := s.lastVal.Load()
		lastDelta, lastSeq := decode(last)

		switch {
		case delta == lastDelta:
			if lastSeq < maxSequence {
				if s.lastVal.CompareAndSwap(last, last+1) {
					return last + 1, nil
				}
			} else {
				time.Sleep(time.Millisecond)
			}

		case delta < lastDelta:
			regressed := lastDelta - delta
			if regressed <= 100 {
				time.Sleep(time.Duration(regressed) * time.Millisecond)
			} else {
				return 0, apperror.ErrTimeTravel
			}

		default:
			if delta >= (int64(1) << timeBits) {
				return 0, apperror.ErrOutOfRange
			}
			next := (delta << (replicaBits + sequenceBits)) | (s.replicaID << sequenceBits)
			if s.lastVal.CompareAndSwap(last, next) {
				return next, nil
			}
		}

		if times >= snowflakeTryMax/2 {
			time.Sleep(time.Millisecond * time.Duration(times-snowflakeTryMax/2+1))
		}
	}

	return 0, apperror.ErrManyTimes
}

// DecodeSeq splits a generated id back into its timestamp, replica, and
// sequence components, mainly for tests and diagnostics.
func DecodeSeq(val int64) (ts time.Time, replica, seq int64) {
	deltaMs := val >> (replicaBits + sequenceBits)
	replica = (val >> sequenceBits) & (maxReplica - 1)
	seq = val & maxSequence
	ts = time.UnixMilli(deltaMs*1 + startTimestampSec*1000)
	return ts, replica, seq
}
