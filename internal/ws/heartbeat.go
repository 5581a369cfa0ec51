package ws

import (
	"log"
	"time"

	"github.com/launchpad/chat-gateway/internal/metrics"
)

// DefaultHeartbeatInterval is the ping period. A connection that has not
// answered a ping by the next tick is torn down.
const DefaultHeartbeatInterval = 30 * time.Second

// startHeartbeat runs the liveness monitor for c in its own goroutine.
func (s *Server) startHeartbeat(c *Connection) {
	if s.config.HeartbeatInterval <= 0 {
		return
	}
	go runHeartbeat(c, s.config.HeartbeatInterval, s.done, func(reason string) {
		log.Printf("ws: heartbeat %s conn=%s", reason, c.ID())
		s.RemoveConnection(c)
	})
}

// runHeartbeat sends a ping every interval and calls evict when no pong was
// observed since the previous tick or the ping cannot be written. It returns
// when c is closed, stop is closed, or after evicting.
func runHeartbeat(c *Connection, interval time.Duration, stop <-chan struct{}, evict func(reason string)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !c.takePong() {
				metrics.HeartbeatEvictions.Inc()
				evict("timeout")
				return
			}
			if err := c.WritePing(); err != nil {
				evict("ping failed: " + err.Error())
				return
			}
		}
	}
}
