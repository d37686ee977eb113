package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PresenceTracker runs the global liveness sweep. Each tick it terminates
// sessions that did not answer the previous probe, probes the rest, and
// republishes the online set. A session that misses one probe is gone on the
// following tick.
type PresenceTracker struct {
	hub      *Hub
	interval time.Duration
	log      *zap.Logger
}

func newPresenceTracker(hub *Hub, interval time.Duration) *PresenceTracker {
	return &PresenceTracker{
		hub:      hub,
		interval: interval,
		log:      hub.log.With(zap.String("component", "presence")),
	}
}

func (p *PresenceTracker) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep performs one liveness pass and returns the published online set.
func (p *PresenceTracker) Sweep(ctx context.Context) []string {
	start := time.Now()
	online := make(map[string]struct{})
	reaped := 0

	p.hub.ForEach(func(c *Client) {
		if !c.probe() {
			p.hub.terminate(c)
			p.hub.metrics.recordReap()
			reaped++
			return
		}
		online[c.identity.Name] = struct{}{}
	})

	names := sortedNames(online)
	p.hub.store.OverwriteSet(ctx, OnlineKey, names)
	p.hub.broadcast(encodeFrame(onlineFrame{Online: names}))

	p.hub.metrics.observeSweep(time.Since(start))
	p.log.Debug("liveness sweep completed", zap.Int("online", len(names)), zap.Int("reaped", reaped))
	return names
}
