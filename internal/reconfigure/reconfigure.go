// Package reconfigure implements the ReconfigureController: it coalesces concurrent requests to rebuild the
// gateway's live topology (peripherals, automations, triggers) into a single run, with at most one more run queued
// behind it.
package reconfigure

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// RebuildFunc re-reads configuration and applies it to the running gateway — typically reloading a ConfigStore and
// handing the result to a BrokerSupervisor's TopologyProvider and an AutomationRouter rebuild.
type RebuildFunc func(ctx context.Context) error

// Controller serializes RebuildFunc invocations. Request never blocks: a request arriving while a rebuild is
// already running sets a pending flag and returns immediately, and the running rebuild re-runs once more on
// completion rather than the caller spawning a second concurrent rebuild.
type Controller struct {
	mu      sync.Mutex
	running bool
	pending bool

	rebuild RebuildFunc
	log     zerolog.Logger
}

// New builds a Controller around rebuild.
func New(log zerolog.Logger, rebuild RebuildFunc) *Controller {
	return &Controller{
		rebuild: rebuild,
		log:     log.With().Str("component", "reconfigure").Logger(),
	}
}

// Request asks for a rebuild. If none is in flight, one starts immediately in a new goroutine. If one is already
// running, this request is coalesced: the in-flight rebuild will run again once before Controller goes idle, so the
// configuration in effect by the time Request returns "done" always reflects whatever was current at the last
// Request call, not a stale snapshot from before it.
func (c *Controller) Request(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.runLoop(ctx)
}

func (c *Controller) runLoop(ctx context.Context) {
	for {
		if err := c.rebuild(ctx); err != nil {
			c.log.Error().Err(err).Msg("reconfigure rebuild failed")
		}

		c.mu.Lock()
		if c.pending {
			c.pending = false
			c.mu.Unlock()
			continue
		}
		c.running = false
		c.mu.Unlock()
		return
	}
}

// Running reports whether a rebuild is currently in flight (including a coalesced follow-up). Intended for the
// health server's /status endpoint.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
