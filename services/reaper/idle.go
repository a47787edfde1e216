// Package reaper runs the background sweepers of spec §4.5: the idle-
// session timeout scanner and, when any remote nodes are configured, the
// node-config bootstrapper.
package reaper

import (
	"time"

	"xenon/logger"
	"xenon/services/state"
)

const (
	idleScanInterval = 60 * time.Second
	idleTimeout      = 30 * time.Minute
)

// IdleReaper periodically removes sessions idle for longer than
// idleTimeout, reclaiming any local port/service they held.
type IdleReaper struct {
	state    *state.State
	shutdown chan struct{}
	done     chan struct{}
}

// NewIdleReaper builds a reaper bound to st. Call Start to begin sweeping.
func NewIdleReaper(st *state.State) *IdleReaper {
	return &IdleReaper{
		state:    st,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in its own goroutine.
func (r *IdleReaper) Start() {
	go r.run()
}

func (r *IdleReaper) run() {
	defer close(r.done)

	ticker := time.NewTicker(idleScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, id := range r.state.ReapIdle(idleTimeout) {
				logger.Info("reaped idle session", id.String())
			}
		case <-r.shutdown:
			return
		}
	}
}

// Stop raises the one-shot shutdown signal and waits for the sweep loop to
// exit, as spec §5 requires ("both listen on a shutdown channel and exit
// promptly").
func (r *IdleReaper) Stop() {
	close(r.shutdown)
	<-r.done
}
