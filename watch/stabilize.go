package watch

import (
	"context"
	"time"

	"github.com/rockowitz/go-ddcutil/i2cbus"
)

// stabilize absorbs a transient bus-flap pattern some panels exhibit
// (spec §4.G step 4; the Samsung U32H750 flap is the documented
// example): sleep initialStabilization, then poll with_edid every
// stabilizationPoll until two consecutive reads are equal. extraPolls
// counts the polls beyond the first two, for diagnostics.
func stabilize(
	ctx context.Context,
	buses *i2cbus.Registry,
	initialStabilization, stabilizationPoll time.Duration,
) (final map[int]bool, extraPolls int, err error) {
	if err := sleepCancellable(ctx, initialStabilization); err != nil {
		return nil, 0, err
	}

	prev := buses.WithEDID()
	for {
		if err := sleepCancellable(ctx, stabilizationPoll); err != nil {
			return nil, extraPolls, err
		}
		if _, err := buses.Enumerate(ctx); err != nil {
			return nil, extraPolls, err
		}
		cur := buses.WithEDID()
		if bitsetEqual(prev, cur) {
			return cur, extraPolls, nil
		}
		prev = cur
		extraPolls++
	}
}

// sleepCancellable sleeps for d in sub-sleeps of at most 200ms each,
// so cancellation is observed promptly (spec §5: ≤200ms granularity).
func sleepCancellable(ctx context.Context, d time.Duration) error {
	const maxStep = 200 * time.Millisecond
	for d > 0 {
		step := d
		if step > maxStep {
			step = maxStep
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
		d -= step
	}
	return nil
}

func bitsetEqual(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func bitsetDiff(prev, cur map[int]bool) (added, removed []int) {
	for k := range cur {
		if !prev[k] {
			added = append(added, k)
		}
	}
	for k := range prev {
		if !cur[k] {
			removed = append(removed, k)
		}
	}
	return added, removed
}
