// Package race pairs a blocking call with a competing timer: whichever settles first wins.
package race

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrTimeout is returned when the timer settles before the call.
var ErrTimeout = errors.New("timed out")

// PanicError is returned when the raced call panics.
type PanicError struct {
	Value interface{}
}

func (err *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", err.Value)
}

type settled[T any] struct {
	val T
	err error
}

// First runs fn and returns whichever settles first: fn's result, the timer (ErrTimeout) or ctx.
// A non-positive timeout only waits for fn or ctx.
// The timer is stopped and fn's context cancelled as soon as First returns; a result fn produces
// afterwards is discarded.
func First[T any](ctx context.Context, clk clock.Clock, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := clk.Timer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	done := make(chan settled[T], 1)
	go func() {
		var res settled[T]
		defer func() {
			if r := recover(); r != nil {
				res = settled[T]{err: &PanicError{Value: r}}
			}
			done <- res
		}()
		res.val, res.err = fn(ctx)
	}()

	var zero T
	select {
	case res := <-done:
		return res.val, res.err
	case <-timeoutC:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do is First for calls that only return an error.
func Do(ctx context.Context, clk clock.Clock, timeout time.Duration, fn func(context.Context) error) error {
	_, err := First(ctx, clk, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// IsTimeout reports whether err comes from a timer that settled first.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
