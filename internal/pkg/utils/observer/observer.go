package observer

import (
	"context"
	"errors"
	"time"
)

// ErrStopObserving can be returned by F to end the observation without an error.
var ErrStopObserving = errors.New("stop observing")

// IntervalObserver calls F with Observable once immediately and then after every Interval.
type IntervalObserver[T any] struct {
	Interval   time.Duration
	F          func(context.Context, T) error
	Observable T
}

// Observe blocks until ctx is done or F fails. Cancellation and ErrStopObserving return nil.
func (o *IntervalObserver[T]) Observe(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if err := o.F(ctx, o.Observable); err != nil {
			if errors.Is(err, ErrStopObserving) {
				return nil
			}
			return err
		}
		timer.Reset(o.Interval)
	}
}
