package webdriver

import (
	"xenon/errors"
	"xenon/models/browser"
	"xenon/services/portmanager"
)

// Group is all services for one configured browser kind. Not itself
// thread-safe: callers hold State's joint port_manager+service_groups lock
// for any call that mutates a Group or the Services it owns (see
// services/state).
type Group struct {
	Browser  browser.Config
	Services map[uint16]*Service
	order    []uint16 // insertion order, for deterministic tie-breaking
}

// NewGroup creates an empty group for the given browser configuration.
func NewGroup(b browser.Config) *Group {
	return &Group{
		Browser:  b,
		Services: make(map[uint16]*Service),
	}
}

// Matches delegates to the browser config's capability match.
func (g *Group) Matches(caps browser.Capabilities) bool {
	return g.Browser.Matches(caps)
}

// TotalSessions sums sessions across every service in the group.
func (g *Group) TotalSessions() int {
	total := 0
	for _, svc := range g.Services {
		total += svc.SessionCount()
	}
	return total
}

// HasCapacity reports whether the group is under its configured ceiling.
func (g *Group) HasCapacity() bool {
	return g.TotalSessions() < g.Browser.MaxSessions
}

// GetOrStartService picks an existing service with slack, preferring the
// one with the fewest active sessions, or spawns a new one from a freshly
// locked port. Returns NoSessionsAvailable when the group is at capacity or
// the port pool is exhausted.
func (g *Group) GetOrStartService(pm *portmanager.PortManager) (*Service, error) {
	if g.TotalSessions() >= g.Browser.MaxSessions {
		return nil, errors.NoSessionsAvailable()
	}

	var best *Service
	for _, port := range g.order {
		svc, ok := g.Services[port]
		if !ok || svc.SessionCount() >= g.Browser.SessionsPerDriver {
			continue
		}
		if best == nil || svc.SessionCount() < best.SessionCount() {
			best = svc
		}
	}
	if best != nil {
		return best, nil
	}

	port, ok := pm.LockNext()
	if !ok {
		return nil, errors.NoSessionsAvailable()
	}

	svc, err := Start(port, g.Browser.DriverPath, g.Browser.Args)
	if err != nil {
		pm.Unlock(port)
		return nil, errors.E(errors.ErrorCreatingSessionKind, "spawning webdriver process", err)
	}

	g.Services[port] = svc
	g.order = append(g.order, port)
	return svc, nil
}

// SeedForTesting installs a pre-built service directly into the group,
// bypassing the real spawn path, for tests that don't want to shell out to
// a driver binary.
func (g *Group) SeedForTesting(svc *Service) {
	g.Services[svc.Port] = svc
	g.order = append(g.order, svc.Port)
}

// DeleteSession removes a session from the service bound to port. If that
// empties the service's session set, the service is terminated and its
// port returned to pm. A no-op if port isn't owned by this group.
func (g *Group) DeleteSession(port uint16, sessionID string, pm *portmanager.PortManager) {
	svc, ok := g.Services[port]
	if !ok {
		return
	}
	svc.RemoveSession(sessionID)
	if svc.SessionCount() == 0 {
		svc.Kill()
		delete(g.Services, port)
		for i, p := range g.order {
			if p == port {
				g.order = append(g.order[:i], g.order[i+1:]...)
				break
			}
		}
		pm.Unlock(port)
	}
}
