package ddcio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rockowitz/go-ddcutil/tunedsleep"
)

// OperationClass is the unit at which retry counts and statistics are
// independently configured; it is a logical operation, not a single
// wire exchange.
type OperationClass int

const (
	ClassWriteOnly OperationClass = iota
	ClassReadOnly
	ClassWriteRead
	ClassMultiPart
	classCount
)

func (c OperationClass) sleepKind() tunedsleep.Kind {
	switch c {
	case ClassWriteOnly:
		return tunedsleep.PostWrite
	case ClassMultiPart:
		return tunedsleep.PostMultiPart
	default:
		return tunedsleep.PostRead
	}
}

func (c OperationClass) String() string {
	switch c {
	case ClassWriteOnly:
		return "write-only"
	case ClassReadOnly:
		return "read-only"
	case ClassWriteRead:
		return "write-read"
	case ClassMultiPart:
		return "multi-part"
	}
	return "unknown"
}

const MaxMaxTries = 15

// Settings holds the per-class retry configuration. Each class is
// independently configurable in [1,MaxMaxTries].
type Settings struct {
	MaxTries [classCount]int
}

// DefaultSettings returns the conventional DDC/CI retry counts.
func DefaultSettings() Settings {
	return Settings{MaxTries: [classCount]int{
		ClassWriteOnly:  4,
		ClassReadOnly:   4,
		ClassWriteRead:  4,
		ClassMultiPart:  3,
	}}
}

// Stats accumulates retry statistics for one operation class, mirroring
// the C implementation's try_stats.c: successes indexed by the try
// number they succeeded on, failures once max tries is exceeded,
// failures classified as immediately fatal, and a breakdown of which
// retryable error was seen.
type Stats struct {
	mu                   sync.Mutex
	class                OperationClass
	maxTries             int
	successesByTry       []int // index 1..maxTries
	failuresMaxExceeded  int
	failuresFatal        int
	nullReplies          int
	checksumMismatches   int
	invalidLengths       int
	transientTransport   int
}

// NewStats returns a zeroed Stats for class with the given max-tries
// bound.
func NewStats(class OperationClass, maxTries int) *Stats {
	return &Stats{class: class, maxTries: maxTries, successesByTry: make([]int, maxTries+1)}
}

func (s *Stats) recordSuccess(tryct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tryct >= 1 && tryct < len(s.successesByTry) {
		s.successesByTry[tryct]++
	}
}

func (s *Stats) recordMaxExceeded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failuresMaxExceeded++
}

func (s *Stats) recordFatal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failuresFatal++
}

func (s *Stats) recordRetryableKind(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == ErrNullReply:
		s.nullReplies++
	case err == ErrChecksumMismatch:
		s.checksumMismatches++
	case err == ErrInvalidLength:
		s.invalidLengths++
	default:
		s.transientTransport++
	}
}

// TotalTries returns the total number of logical operations recorded,
// matching try_stats.c's get_total_tries.
func (s *Stats) TotalTries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.failuresMaxExceeded + s.failuresFatal
	for _, n := range s.successesByTry {
		total += n
	}
	return total
}

// Report renders a human-readable summary, in the spirit of
// try_stats.c's report_try_data. It is plain formatting over data this
// package already owns, not the excluded CLI report formatter.
func (s *Stats) Report() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := fmt.Sprintf("Retry statistics for %s (max tries: %d)\n", s.class, s.maxTries)
	for i := 1; i <= s.maxTries; i++ {
		out += fmt.Sprintf("  %2d: %3d\n", i, s.successesByTry[i])
	}
	out += fmt.Sprintf("  failed, max tries exceeded: %3d\n", s.failuresMaxExceeded)
	out += fmt.Sprintf("  failed fatally:              %3d\n", s.failuresFatal)
	out += fmt.Sprintf("  null replies:                %3d\n", s.nullReplies)
	out += fmt.Sprintf("  checksum mismatches:         %3d\n", s.checksumMismatches)
	out += fmt.Sprintf("  invalid lengths:             %3d\n", s.invalidLengths)
	out += fmt.Sprintf("  transient transport errors:  %3d\n", s.transientTransport)
	return out
}

// Do runs op up to settings.MaxTries[class] times, consulting the
// tuned-sleep table between tries and feeding it back on retryable
// failures, and records outcomes in stats. It returns the first
// success; the error itself when a non-retryable error is seen; or,
// once tries are exhausted, a KindRetryExhausted *Error whose Cause is
// the last error.
func Do[T any](
	ctx context.Context,
	class OperationClass,
	settings Settings,
	sleeps *tunedsleep.Table,
	key tunedsleep.Key,
	stats *Stats,
	op func(ctx context.Context) (T, error),
) (T, error) {
	max := settings.MaxTries[class]
	if max < 1 {
		max = 1
	}
	if max > MaxMaxTries {
		max = MaxMaxTries
	}

	var zero T
	for try := 1; try <= max; try++ {
		select {
		case <-ctx.Done():
			return zero, newError(KindCancelled, "cancelled during retry", ctx.Err())
		default:
		}

		result, err := op(ctx)
		if err == nil {
			stats.recordSuccess(try)
			if sleeps != nil {
				sleeps.Decay(key)
			}
			return result, nil
		}

		if isFatal(err) {
			stats.recordFatal()
			return zero, err
		}
		if !Retryable(err) {
			stats.recordFatal()
			return zero, err
		}

		stats.recordRetryableKind(unwrapSentinel(err))
		if sleeps != nil {
			sleeps.Bump(key)
		}

		if try == max {
			stats.recordMaxExceeded()
			return zero, newError(KindRetryExhausted, fmt.Sprintf("%s exhausted after %d tries", class, max), err)
		}

		delay := time.Duration(0)
		if sleeps != nil {
			delay = sleeps.Delay(key, class.sleepKind())
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, newError(KindCancelled, "cancelled during inter-try delay", ctx.Err())
			case <-t.C:
			}
		}
	}
	return zero, newError(KindInternal, "unreachable retry loop exit", nil)
}

func isFatal(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Fatal
	}
	return false
}

// unwrapSentinel returns the deepest classifiable sentinel so Stats
// can bucket it, falling back to err itself.
func unwrapSentinel(err error) error {
	for _, s := range []error{ErrNullReply, ErrChecksumMismatch, ErrInvalidLength} {
		if errors.Is(err, s) {
			return s
		}
	}
	return err
}
