package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/launchpad/chat-gateway/internal/loadtest"
	"github.com/launchpad/chat-gateway/internal/messaging"
	"github.com/launchpad/chat-gateway/internal/protocol"
)

// runDirect pairs users (load-0 with load-1, load-2 with load-3, ...) and has
// each side send direct messages to the other. Delivery latency is measured
// from the send timestamp embedded in the content to the new_direct_message
// push on the recipient.
func runDirect(args []string) {
	fs := flag.NewFlagSet("direct", flag.ExitOnError)
	t := targetFlags(fs)
	pairs := fs.Int("pairs", 100, "Number of user pairs")
	ramp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for connection creation")
	duration := fs.Duration("duration", 30*time.Second, "How long each pair exchanges messages")
	msgInterval := fs.Duration("msg-interval", 2*time.Second, "Interval between messages per user")
	msgSize := fs.Int("msg-size", 128, "Approximate content size in bytes")
	natsURL := fs.String("nats-url", "", "Also count chat.direct events published on this NATS server")
	fs.Parse(args)

	minter := t.minter()
	total := *pairs * 2
	fmt.Printf("Direct test: %d pairs (%d clients) to %s (ramp=%s, duration=%s, interval=%s, msg-size=%d)\n",
		*pairs, total, *t.url, *ramp, *duration, *msgInterval, *msgSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := loadtest.NewCollector()

	fmt.Println("\n--- Phase 1: Connect all users ---")
	clients, interrupted := rampUp(ctx, t, minter, total, *ramp, collector)
	if interrupted {
		fmt.Println("Interrupted, skipping message phase.")
		closeAll(clients)
		collector.Report(os.Stdout)
		return
	}

	var sent, received, rejected atomic.Int64
	for _, c := range clients {
		if c == nil {
			continue
		}
		c.On(protocol.TypeNewDirectMessage, func(raw json.RawMessage) {
			var msg protocol.NewDirectMessageMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				return
			}
			if ts, ok := sentAt(msg.Message.Content); ok {
				collector.AddMsgLatency(time.Since(ts))
			}
			received.Add(1)
		})
		c.On(protocol.TypeError, func(json.RawMessage) {
			rejected.Add(1)
			collector.AddError()
		})
	}

	var published atomic.Int64
	if *natsURL != "" {
		nc, err := watchDirectEvents(*natsURL, &published)
		if err != nil {
			fmt.Fprintf(os.Stderr, "nats: %v\n", err)
			closeAll(clients)
			os.Exit(1)
		}
		defer nc.Close()
	}

	fmt.Printf("\n--- Phase 2: Exchanging messages for %s ---\n", *duration)
	runCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	padding := strings.Repeat("x", max(*msgSize-32, 0))
	var wg sync.WaitGroup
	for i := 0; i+1 < total; i += 2 {
		a, b := clients[i], clients[i+1]
		if a == nil || b == nil {
			continue
		}
		for _, side := range [][2]*loadtest.Client{{a, b}, {b, a}} {
			from, to := side[0], side[1]
			wg.Add(1)
			go func() {
				defer wg.Done()
				ticker := time.NewTicker(*msgInterval)
				defer ticker.Stop()
				for {
					select {
					case <-runCtx.Done():
						return
					case <-ticker.C:
						err := from.Send(protocol.DirectMessageMsg{
							Type:        protocol.TypeDirectMessage,
							RecipientID: to.UserID(),
							Content:     stamp(time.Now()) + padding,
						})
						if err != nil {
							collector.AddError()
							return
						}
						sent.Add(1)
					}
				}
			}()
		}
	}

	progress := time.NewTicker(5 * time.Second)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

wait:
	for {
		select {
		case <-done:
			break wait
		case <-progress.C:
			fmt.Printf("  [direct] sent: %d  delivered: %d  rejected: %d\n",
				sent.Load(), received.Load(), rejected.Load())
		}
	}
	progress.Stop()

	// Let in-flight pushes land before closing.
	time.Sleep(500 * time.Millisecond)
	fmt.Printf("\nSent: %d  Delivered: %d  Rejected: %d\n", sent.Load(), received.Load(), rejected.Load())
	if *natsURL != "" {
		fmt.Printf("Published events: %d\n", published.Load())
	}

	fmt.Println("\n--- Cleanup ---")
	closeAll(clients)
	collector.Report(os.Stdout)
}

// watchDirectEvents subscribes to every direct-message event and counts the
// ones sent by load users. The subscription is flushed before returning so no
// event published afterwards is missed.
func watchDirectEvents(url string, count *atomic.Int64) (*messaging.NATSClient, error) {
	cfg := messaging.DefaultNATSConfig()
	cfg.URL = url
	cfg.Name = "chat-loadtest"
	cfg.MaxReconnects = 0

	nc, err := messaging.NewNATSClient(cfg)
	if err != nil {
		return nil, err
	}
	err = nc.SubscribeEvents(messaging.SubjectDirect+".*", func(ev messaging.MessageEvent) {
		if strings.HasPrefix(ev.SenderID, "load-") {
			count.Add(1)
		}
	})
	if err == nil {
		err = nc.Flush()
	}
	if err != nil {
		nc.Close()
		return nil, err
	}
	return nc, nil
}

// stamp prefixes content with the send time so the receiver can compute
// delivery latency.
func stamp(t time.Time) string {
	return "t=" + strconv.FormatInt(t.UnixNano(), 10) + "|"
}

func sentAt(content string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(content, "t=")
	if !ok {
		return time.Time{}, false
	}
	raw, _, ok := strings.Cut(rest, "|")
	if !ok {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}
