package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/launchpad/chat-gateway/internal/auth"
	"github.com/launchpad/chat-gateway/internal/loadtest"
)

// rampUp opens n authenticated connections spread over ramp, with at most
// concurrency attempts in flight. It returns the connected clients indexed by
// user number (nil where the attempt failed) and whether ctx interrupted it.
func rampUp(ctx context.Context, t target, minter *auth.Verifier, n int, ramp time.Duration, collector *loadtest.Collector) ([]*loadtest.Client, bool) {
	clients := make([]*loadtest.Client, n)

	interval := ramp / time.Duration(n)
	if interval <= 0 {
		interval = time.Millisecond
	}

	sem := make(chan struct{}, *t.concurrency)
	var wg sync.WaitGroup

	// Progress reporting: every 1 second during ramp-up.
	progressStop := make(chan struct{})
	var progressWg sync.WaitGroup
	progressWg.Add(1)
	go func() {
		defer progressWg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		lastCount := 0
		lastTime := time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				current := collector.ConnectionCount()
				rate := float64(current-lastCount) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					current, n, collector.ErrorCount(), rate)
				lastCount = current
				lastTime = now
			case <-progressStop:
				return
			}
		}
	}()

	start := time.Now()
	ticker := time.NewTicker(interval)
	interrupted := false

launch:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			interrupted = true
			break launch
		case <-ticker.C:
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			c, err := connect(ctx, *t.url, minter, i)
			if err != nil {
				collector.AddError()
				return
			}
			collector.AddConnect(c.Metrics())
			clients[i] = c
		}(i)
	}

	ticker.Stop()
	wg.Wait()
	close(progressStop)
	progressWg.Wait()

	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		collector.ConnectionCount(), n, time.Since(start).Round(time.Millisecond), collector.ErrorCount())
	return clients, interrupted
}

func closeAll(clients []*loadtest.Client) {
	n := 0
	for _, c := range clients {
		if c != nil {
			c.Close()
			n++
		}
	}
	fmt.Printf("Closed %d connections.\n", n)
}
