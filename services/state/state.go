// Package state holds XenonState: the process-wide container of service
// groups, the port manager, the session table and remote nodes, and
// enforces the locking discipline of spec §5 so callers never have to
// reason about lock order themselves.
//
// Lock order: sessionsMu is outermost. groupsMu guards port_manager and
// service_groups jointly — spec §5 requires these two always be acquired
// together, never nested sequentially, so rather than model them as two
// locks taken in a fixed order this implementation gives them one lock;
// see DESIGN.md. nodesMu is disjoint and may be held independently of the
// other two.
package state

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"xenon/errors"
	"xenon/models/browser"
	"xenon/models/node"
	"xenon/models/session"
	"xenon/services/portmanager"
	"xenon/services/webdriver"
)

// State is the process-wide singleton described by spec §3.
type State struct {
	groupsMu     sync.RWMutex
	groupOrder   []string
	groupsByName map[string]*webdriver.Group
	portManager  *portmanager.PortManager

	sessionsMu sync.RWMutex
	sessions   map[session.ID]*session.Session

	nodesMu    sync.RWMutex
	nodeOrder  []node.Id
	nodesByID  map[node.Id]*node.Node
}

// New builds a State from the configured browser fleet and port ranges.
// Groups are inserted in the given order, which is what capability-match
// tie-breaking iterates (spec §5: "the first suitable group wins").
func New(browsers []browser.Config, portRanges []string) *State {
	s := &State{
		groupsByName: make(map[string]*webdriver.Group, len(browsers)),
		portManager:  portmanager.New(portRanges),
		sessions:     make(map[session.ID]*session.Session),
		nodesByID:    make(map[node.Id]*node.Node),
	}
	for _, b := range browsers {
		s.groupOrder = append(s.groupOrder, b.Name)
		s.groupsByName[b.Name] = webdriver.NewGroup(b)
	}
	return s
}

// PortPoolSize reports the configured port pool size, for the startup
// warning when it's smaller than the sum of configured max_sessions.
func (s *State) PortPoolSize() int { return s.portManager.Size() }

// MaxSessionsTotal sums max_sessions across every configured browser.
func (s *State) MaxSessionsTotal() int {
	total := 0
	for _, name := range s.groupOrder {
		total += s.groupsByName[name].Browser.MaxSessions
	}
	return total
}

// MatchingLocalGroups returns the names of configured groups whose browser
// matches caps, in insertion order.
func (s *State) MatchingLocalGroups(caps browser.Capabilities) []string {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()

	return lo.Filter(s.groupOrder, func(name string, _ int) bool {
		return s.groupsByName[name].Matches(caps)
	})
}

// GroupsWithCapacity filters a name list to those currently under their
// max_sessions ceiling.
func (s *State) GroupsWithCapacity(names []string) []string {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()

	return lo.Filter(names, func(name string, _ int) bool {
		g, ok := s.groupsByName[name]
		return ok && g.HasCapacity()
	})
}

// Reservation is the outcome of successfully claiming local capacity,
// before the (lock-free) handshake HTTP round-trip.
type Reservation struct {
	XenonID   session.ID
	Port      uint16
	GroupName string
}

// ReserveLocal tries each candidate group in order, starting or reusing a
// WebDriverService and minting a session id on the first one with room.
// Acquires port_manager+service_groups jointly, once, for the whole scan —
// spec §4.4's "acquire write-locks on port_manager and service_groups
// simultaneously ... iterate candidate group names".
func (s *State) ReserveLocal(candidates []string) (Reservation, error) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()

	var firstErr error
	for _, name := range candidates {
		g, ok := s.groupsByName[name]
		if !ok {
			continue
		}
		svc, err := g.GetOrStartService(s.portManager)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		id := session.NewID()
		svc.AddSession(id.String())
		return Reservation{XenonID: id, Port: svc.Port, GroupName: name}, nil
	}
	if firstErr == nil {
		firstErr = errors.NoSessionsAvailable()
	}
	return Reservation{}, firstErr
}

// RollbackLocal undoes a ReserveLocal whose handshake failed or pass-
// throughed: removes the session from its service, possibly terminating
// the service and freeing its port.
func (s *State) RollbackLocal(r Reservation) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()

	if g, ok := s.groupsByName[r.GroupName]; ok {
		g.DeleteSession(r.Port, r.XenonID.String(), s.portManager)
	}
}

// InsertSession registers a newly created session (local or remote).
func (s *State) InsertSession(sess *session.Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	s.sessions[sess.XenonID] = sess
}

// GetSession looks up a session by its Xenon-minted id.
func (s *State) GetSession(id session.ID) (*session.Session, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// RemoveSession deletes a session from the table and returns it, for
// teardown.
func (s *State) RemoveSession(id session.ID) (*session.Session, bool) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return sess, ok
}

// TeardownLocal reclaims the local service/port backing sess. A no-op for
// remote sessions, whose teardown never touches local state.
func (s *State) TeardownLocal(sess *session.Session) {
	if sess.IsRemote() {
		return
	}
	s.RollbackLocal(Reservation{XenonID: sess.XenonID, Port: sess.Port, GroupName: sess.ServiceGroup})
}

// ReapIdle removes every session whose last activity is older than
// timeout, reclaiming local resources, and returns the ids removed. Called
// by the idle-session reaper every 60s.
func (s *State) ReapIdle(timeout time.Duration) []session.ID {
	now := time.Now()

	s.sessionsMu.RLock()
	snapshot := make(map[session.ID]*session.Session, len(s.sessions))
	for id, sess := range s.sessions {
		snapshot[id] = sess
	}
	s.sessionsMu.RUnlock()

	var expired []session.ID
	for id, sess := range snapshot {
		// lastActivity is guarded by sess's own mutex, not sessionsMu:
		// take it here rather than calling sess.LastActivity() unlocked,
		// which would race against a concurrent ForwardRequest. It is taken
		// only after sessionsMu has been released.
		sess.Lock()
		last := sess.LastActivity()
		sess.Unlock()
		if now.Sub(last) > timeout {
			expired = append(expired, id)
		}
	}

	var reaped []session.ID
	for _, id := range expired {
		sess, ok := s.RemoveSession(id)
		if !ok {
			continue
		}
		s.TeardownLocal(sess)
		reaped = append(reaped, id)
	}
	return reaped
}

// SeedLocalServiceForTesting installs a pre-built backing service at port
// into the named group, bypassing the real driver-spawn path. Used by
// router-level tests that exercise session creation end-to-end against a
// stub WebDriver backend instead of a real geckodriver/chromedriver binary.
func (s *State) SeedLocalServiceForTesting(groupName string, port uint16) {
	s.groupsMu.Lock()
	defer s.groupsMu.Unlock()
	if g, ok := s.groupsByName[groupName]; ok {
		g.SeedForTesting(webdriver.NewForTesting(port))
	}
}

// RemoteCandidate is a snapshot of a peer node worth trying for a
// create-session request.
type RemoteCandidate struct {
	NodeID      node.Id
	DisplayName string
	Scheme      string
	Authority   string
}

// MatchingRemoteNodes snapshots every registered node whose cached
// service_groups contain a matching, capacity-bearing browser, and
// separately reports whether any node matched the browser at all
// (regardless of capacity) — spec §4.4 needs both to choose between
// NoSessionsAvailable and NoMatchingBrowser.
func (s *State) MatchingRemoteNodes(caps browser.Capabilities) (candidates []RemoteCandidate, anyMatched bool) {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	for _, id := range s.nodeOrder {
		n, ok := s.nodesByID[id]
		if !ok {
			continue
		}
		if !n.HasMatchingBrowser(caps) {
			continue
		}
		anyMatched = true
		if len(n.MatchingServiceGroups(caps)) > 0 {
			candidates = append(candidates, RemoteCandidate{
				NodeID:      id,
				DisplayName: n.DisplayName,
				Scheme:      n.Scheme,
				Authority:   n.Authority,
			})
		}
	}
	return candidates, anyMatched
}

// RegisterNode adds a newly registered peer with comms_id=0.
func (s *State) RegisterNode(create node.Create) (node.Id, error) {
	n, err := node.NewFromCreate(create)
	if err != nil {
		return node.Id{}, errors.ErrorCreatingNode(err)
	}

	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()
	s.nodeOrder = append(s.nodeOrder, n.Id)
	s.nodesByID[n.Id] = &n
	return n.Id, nil
}

// UpdateNode applies an incoming full node update iff its comms_id is
// strictly greater than the stored one.
func (s *State) UpdateNode(incoming node.Node) error {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	n, ok := s.nodesByID[incoming.Id]
	if !ok {
		return errors.NodeNotFound()
	}
	n.ApplyUpdate(incoming)
	return nil
}

// DeregisterNode removes a node so no new session is placed there.
// Existing sessions previously created against it are untouched (spec
// §9(a)/SPEC_FULL §C.2): they are reaped the same way any other session
// is, by idle timeout or client DELETE.
func (s *State) DeregisterNode(id node.Id) error {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	if _, ok := s.nodesByID[id]; !ok {
		return errors.NodeNotFound()
	}
	delete(s.nodesByID, id)
	for i, existing := range s.nodeOrder {
		if existing == id {
			s.nodeOrder = append(s.nodeOrder[:i], s.nodeOrder[i+1:]...)
			break
		}
	}
	return nil
}

// LocalServiceGroups flattens this instance's configured groups as
// [{browser, remaining_sessions}] for GET /node/config.
func (s *State) LocalServiceGroups() []node.ServiceGroup {
	s.groupsMu.RLock()
	defer s.groupsMu.RUnlock()

	out := make([]node.ServiceGroup, 0, len(s.groupOrder))
	for _, name := range s.groupOrder {
		g := s.groupsByName[name]
		remaining := g.Browser.MaxSessions - g.TotalSessions()
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, node.ServiceGroup{
			Browser:           g.Browser,
			RemainingSessions: remaining,
		})
	}
	return out
}

// NodeSnapshot is what the bootstrapper needs to fetch a peer's config.
type NodeSnapshot struct {
	Id        node.Id
	Scheme    string
	Authority string
}

// AllNodes snapshots every registered node's id and address, for the
// bootstrapper's initial working set.
func (s *State) AllNodes() []NodeSnapshot {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()

	out := make([]NodeSnapshot, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		n := s.nodesByID[id]
		out = append(out, NodeSnapshot{Id: id, Scheme: n.Scheme, Authority: n.Authority})
	}
	return out
}

// SetNodeServiceGroups overwrites a node's cached service_groups, used by
// the bootstrapper after a successful GET /node/config fetch. Unlike
// UpdateNode this is not comms_id-gated: it's Xenon's own pull, not a
// peer-initiated push.
func (s *State) SetNodeServiceGroups(id node.Id, groups []node.ServiceGroup) error {
	s.nodesMu.Lock()
	defer s.nodesMu.Unlock()

	n, ok := s.nodesByID[id]
	if !ok {
		return errors.NodeNotFound()
	}
	n.ServiceGroups = groups
	return nil
}
