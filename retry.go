package mspi

import (
	"fmt"
	"time"
)

// Clock provides the delay between polls.
type Clock interface {
	Sleep(d time.Duration)
}

type wallClock struct{}

func (wallClock) Sleep(d time.Duration) { time.Sleep(d) }

// WallClock sleeps on the real time source.
var WallClock Clock = wallClock{}

// Poll bounds a busy-wait: at most Max checks, Interval apart.
type Poll struct {
	Max      int
	Interval time.Duration
}

// Budget is the longest time the poll can take.
func (p Poll) Budget() time.Duration { return time.Duration(p.Max) * p.Interval }

// pollFor derives a poll budget from a worst case operation time.
func pollFor(interval, worst time.Duration) Poll {
	n := int((worst + interval - 1) / interval)
	return Poll{Max: max(n, 1), Interval: interval}
}

// retryUntil calls cond until it reports done, an error, or p.Max calls
// have been made, sleeping p.Interval between calls. Exhaustion returns
// ErrTimeout.
func retryUntil(cond func() (bool, error), p Poll, clk Clock) error {
	if p.Max <= 0 {
		return fmt.Errorf("%w: poll budget %d", ErrInvalidArgument, p.Max)
	}
	for i := 0; i < p.Max; i++ {
		done, err := cond()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i < p.Max-1 {
			clk.Sleep(p.Interval)
		}
	}
	return fmt.Errorf("%w after %d polls", ErrTimeout, p.Max)
}
