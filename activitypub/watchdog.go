package activitypub

import (
	"context"
	"log"
	"time"
)

// Supervise keeps fn running until ctx is cancelled. When fn returns or
// panics, a fresh invocation is started after the watchdog interval.
// Long-running loops receive the same ctx so shutdown stays cooperative.
func Supervise(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	for {
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Watchdog: %s crashed: %v", name, r)
				}
			}()
			fn(ctx)
		}()

		select {
		case <-ctx.Done():
			return
		case <-done:
		}

		if ctx.Err() != nil {
			return
		}

		log.Printf("Watchdog: %s stopped, restarting in %s", name, interval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
