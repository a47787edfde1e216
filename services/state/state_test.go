package state

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenon/models/browser"
	"xenon/models/node"
	"xenon/models/session"
	"xenon/services/webdriver"
)

// injectService installs a no-op backing service at port into the named
// group, so ReserveLocal/GetOrStartService exercise real bookkeeping
// without shelling out to a driver binary.
func injectService(g *webdriver.Group, port uint16) {
	g.SeedForTesting(webdriver.NewForTesting(port))
}

// setLastActivity backdates a session's last-activity timestamp, for
// idle-reaper tests that simulate a stale session.
func setLastActivity(sess *session.Session, t time.Time) {
	sess.SetLastActivity(t)
}

func newTestState(maxSessions int) *State {
	return New([]browser.Config{
		{Name: "chrome", MaxSessions: maxSessions, SessionsPerDriver: maxSessions, DriverPath: "chromedriver"},
	}, []string{"9100-9199"})
}

func TestMatchingLocalGroups(t *testing.T) {
	st := newTestState(2)
	names := st.MatchingLocalGroups(browser.Capabilities{BrowserName: "chrome"})
	require.Len(t, names, 1)
	assert.Equal(t, "chrome", names[0])

	assert.Empty(t, st.MatchingLocalGroups(browser.Capabilities{BrowserName: "firefox"}))
}

func TestReserveLocalExhaustsCapacityConcurrently(t *testing.T) {
	const capacity = 5
	st := newTestState(capacity)
	// Pre-seed one service with room for the whole group's capacity so
	// ReserveLocal never shells out to a real driver binary.
	st.groupsMu.Lock()
	port, _ := st.portManager.LockNext()
	st.groupsMu.Unlock()
	seedService(t, st, "chrome", port, capacity)

	var wg sync.WaitGroup
	results := make(chan error, capacity+5)
	for i := 0; i < capacity+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.ReserveLocal([]string{"chrome"})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, failures := 0, 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			failures++
		}
	}
	assert.Equal(t, capacity, successes, "expected exactly %d successful reservations", capacity)
	assert.Equal(t, 5, failures, "expected exactly 5 reservations to fail with NoSessionsAvailable")
}

// seedService injects a pre-started service directly into state's group,
// bypassing the real os/exec spawn, so capacity tests don't need a driver
// binary on PATH.
func seedService(t *testing.T, st *State, groupName string, port uint16, sessionsPerDriver int) {
	t.Helper()
	st.groupsMu.Lock()
	defer st.groupsMu.Unlock()
	g := st.groupsByName[groupName]
	g.Browser.SessionsPerDriver = sessionsPerDriver
	injectService(g, port)
}

func TestReserveLocalThenRollbackFreesCapacityForReuse(t *testing.T) {
	st := newTestState(1)
	st.groupsMu.Lock()
	port, _ := st.portManager.LockNext()
	st.groupsMu.Unlock()
	seedService(t, st, "chrome", port, 1)

	r1, err := st.ReserveLocal([]string{"chrome"})
	require.NoError(t, err)

	_, err = st.ReserveLocal([]string{"chrome"})
	assert.Error(t, err, "expected the group to be at capacity")

	st.RollbackLocal(r1)

	// The rollback emptied the seeded service, so the group terminated it
	// and returned its port to the pool. Seed a stand-in again so the next
	// reservation does not spawn a real driver binary.
	st.groupsMu.Lock()
	port, _ = st.portManager.LockNext()
	st.groupsMu.Unlock()
	seedService(t, st, "chrome", port, 1)

	_, err = st.ReserveLocal([]string{"chrome"})
	assert.NoError(t, err, "expected capacity to be reusable after rollback")
}

func TestInsertGetRemoveSession(t *testing.T) {
	st := newTestState(1)
	sess := &session.Session{XenonID: session.NewID()}
	st.InsertSession(sess)

	got, ok := st.GetSession(sess.XenonID)
	require.True(t, ok)
	assert.Same(t, sess, got, "expected to retrieve the inserted session")

	removed, ok := st.RemoveSession(sess.XenonID)
	require.True(t, ok)
	assert.Same(t, sess, removed, "expected RemoveSession to return the same session")

	_, ok = st.GetSession(sess.XenonID)
	assert.False(t, ok, "expected the session to be gone after removal")

	// Removing an already-removed id must be idempotent, not panic.
	_, ok = st.RemoveSession(sess.XenonID)
	assert.False(t, ok, "expected a second removal to report not-found")
}

func TestReapIdleReclaimsOnlyExpiredSessions(t *testing.T) {
	st := newTestState(2)
	fresh := &session.Session{XenonID: session.NewID()}
	st.InsertSession(fresh)
	setLastActivity(fresh, time.Now())

	stale := &session.Session{XenonID: session.NewID()}
	st.InsertSession(stale)
	setLastActivity(stale, time.Now().Add(-time.Hour))

	reaped := st.ReapIdle(30 * time.Minute)
	require.Len(t, reaped, 1)
	assert.Equal(t, stale.XenonID, reaped[0])

	_, ok := st.GetSession(fresh.XenonID)
	assert.True(t, ok, "expected the fresh session to survive the sweep")

	_, ok = st.GetSession(stale.XenonID)
	assert.False(t, ok, "expected the stale session to be removed")
}

func TestNodeLifecycle(t *testing.T) {
	st := newTestState(1)

	id, err := st.RegisterNode(node.Create{URL: "http://peer:4444"})
	require.NoError(t, err)

	nodes := st.AllNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, id, nodes[0].Id)

	update := node.Node{Id: id, CommsID: 1, DisplayName: "peer-1", URL: "http://peer:4444"}
	require.NoError(t, st.UpdateNode(update))

	stale := node.Node{Id: id, CommsID: 1, DisplayName: "out-of-order"}
	assert.NoError(t, st.UpdateNode(stale), "UpdateNode should not error on a stale comms_id, only skip applying it")

	require.NoError(t, st.DeregisterNode(id))
	assert.Empty(t, st.AllNodes(), "expected no nodes after deregistration")
	assert.Error(t, st.DeregisterNode(id), "expected deregistering an unknown node to fail")
}

func TestMatchingRemoteNodesDistinguishesNoMatchFromNoCapacity(t *testing.T) {
	st := newTestState(1)
	id, _ := st.RegisterNode(node.Create{URL: "http://peer:4444"})
	st.SetNodeServiceGroups(id, []node.ServiceGroup{
		{Browser: browser.Config{Name: "chrome"}, RemainingSessions: 0},
	})

	candidates, anyMatched := st.MatchingRemoteNodes(browser.Capabilities{BrowserName: "chrome"})
	assert.True(t, anyMatched, "expected a browser-name match even with zero remaining capacity")
	assert.Empty(t, candidates, "expected no candidates when remaining capacity is zero")

	_, anyMatched = st.MatchingRemoteNodes(browser.Capabilities{BrowserName: "firefox"})
	assert.False(t, anyMatched, "expected no match at all for a browser no node advertises")
}
