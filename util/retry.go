package util

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times with exponential backoff between
// tries. The last error is returned when all attempts fail.
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, fn func() error) error {
	var err error
	delay := initialDelay
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = delay * 2
	}
	return err
}
