package gateway

import (
	"log"

	"github.com/samber/lo"

	"github.com/launchpad/chat-gateway/internal/metrics"
)

// Fanout pushes a frame to the live connections of a recipient set.
//
// Delivery is at-most-once: a failed push is dropped, never retried or
// queued. Dead connections are reaped by the liveness monitor.
type Fanout struct {
	registry *Registry
}

// NewFanout creates a Fanout bound to registry.
func NewFanout(registry *Registry) *Fanout {
	return &Fanout{registry: registry}
}

// Push sends data once to every live identity in recipients, skipping
// exclude and duplicate identities. It returns the identities whose push
// succeeded.
func (f *Fanout) Push(recipients []string, exclude string, data []byte) []string {
	targets := lo.Uniq(lo.Without(recipients, exclude, ""))

	live := lo.FilterMap(targets, func(userID string, _ int) (lo.Tuple2[string, Peer], bool) {
		p := f.registry.Get(userID)
		return lo.T2(userID, p), p != nil
	})

	delivered := make([]string, 0, len(live))
	for _, t := range live {
		userID, p := t.Unpack()
		if err := p.Send(data); err != nil {
			metrics.FanoutPushes.WithLabelValues("dropped").Inc()
			log.Printf("[gateway] fanout push dropped user=%s conn=%s: %v", userID, p.ID(), err)
			continue
		}
		metrics.FanoutPushes.WithLabelValues("delivered").Inc()
		delivered = append(delivered, userID)
	}
	return delivered
}
