package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"

	"github.com/launchpad/chat-gateway/internal/loadtest"
)

// runSaturate opens the requested number of authenticated connections, then
// holds them while reporting how many the server has dropped.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	t := targetFlags(fs)
	connections := fs.Int("connections", 1000, "Number of connections to open")
	ramp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	fs.Parse(args)

	minter := t.minter()
	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *t.url, *ramp, *hold, *t.concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadtest.NewCollector()

	fmt.Println("\n--- Ramp-up phase ---")
	clients, interrupted := rampUp(ctx, t, minter, *connections, *ramp, collector)
	live := lo.Compact(clients)

	if !interrupted {
		fmt.Println("\n--- Hold phase ---")
		fmt.Printf("Holding %d connections for %s...\n", len(live), *hold)

		holdTimer := time.NewTimer(*hold)
		statusTicker := time.NewTicker(5 * time.Second)

	holdLoop:
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nInterrupted during hold phase.")
				break holdLoop
			case <-holdTimer.C:
				fmt.Println("\nHold period complete.")
				break holdLoop
			case <-statusTicker.C:
				alive := lo.CountBy(live, (*loadtest.Client).Alive)
				fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n", alive, len(live), len(live)-alive)
			}
		}

		holdTimer.Stop()
		statusTicker.Stop()
	}

	fmt.Println("\n--- Cleanup ---")
	if dropped := len(live) - lo.CountBy(live, (*loadtest.Client).Alive); dropped > 0 {
		fmt.Printf("Connections dropped during hold: %d\n", dropped)
	}
	closeAll(live)
	collector.Report(os.Stdout)
}
