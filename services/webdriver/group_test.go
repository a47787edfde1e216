package webdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenon/models/browser"
	"xenon/services/portmanager"
)

func TestGroupMatches(t *testing.T) {
	g := NewGroup(browser.Config{Name: "chrome"})
	assert.True(t, g.Matches(browser.Capabilities{BrowserName: "chrome"}))
	assert.False(t, g.Matches(browser.Capabilities{BrowserName: "firefox"}))
}

func TestGroupHasCapacity(t *testing.T) {
	g := NewGroup(browser.Config{Name: "chrome", MaxSessions: 1, SessionsPerDriver: 1})
	require.True(t, g.HasCapacity(), "a fresh group should have capacity")

	g.Services[9000] = &Service{Port: 9000, sessions: map[string]struct{}{"s1": {}}}
	g.order = append(g.order, 9000)

	assert.False(t, g.HasCapacity(), "a group at its max_sessions ceiling should report no capacity")
}

func TestGetOrStartServicePrefersExistingSlack(t *testing.T) {
	g := NewGroup(browser.Config{Name: "chrome", MaxSessions: 10, SessionsPerDriver: 2})
	pm := portmanager.New([]string{"9000-9001"})

	g.Services[9000] = &Service{Port: 9000, sessions: map[string]struct{}{"s1": {}}}
	g.order = append(g.order, 9000)

	svc, err := g.GetOrStartService(pm)
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), svc.Port, "expected the existing under-capacity service to be reused")
}

func TestGetOrStartServiceNoSessionsAvailableAtCapacity(t *testing.T) {
	g := NewGroup(browser.Config{Name: "chrome", MaxSessions: 1, SessionsPerDriver: 1})
	pm := portmanager.New([]string{"9000"})

	g.Services[9000] = &Service{Port: 9000, sessions: map[string]struct{}{"s1": {}}}
	g.order = append(g.order, 9000)

	_, err := g.GetOrStartService(pm)
	assert.Error(t, err, "expected NoSessionsAvailable once the group is at capacity")
}

func TestGetOrStartServiceSpawningRequiresRealDriverBinary(t *testing.T) {
	t.Skip("spawning a new service shells out to a real driver binary (geckodriver/chromedriver); exercised in integration, not unit, tests")
}

func TestDeleteSessionTerminatesEmptiedService(t *testing.T) {
	g := NewGroup(browser.Config{Name: "chrome", MaxSessions: 5, SessionsPerDriver: 1})
	pm := portmanager.New([]string{"9000"})
	pm.LockNext()

	g.Services[9000] = &Service{Port: 9000, sessions: map[string]struct{}{"only": {}}}
	g.order = append(g.order, 9000)

	// Service.Kill returns early for a Service with no *exec.Cmd (see
	// Service.Kill), so this is safe without a real child process.
	g.DeleteSession(9000, "only", pm)

	_, ok := g.Services[9000]
	assert.False(t, ok, "expected the emptied service to be removed from the group")
	assert.Empty(t, g.order, "expected the emptied service's port to be removed from order")

	_, ok = pm.LockNext()
	assert.True(t, ok, "expected the port to be returned to the pool")
}

func TestDeleteSessionKeepsServiceWithRemainingSessions(t *testing.T) {
	g := NewGroup(browser.Config{Name: "chrome", MaxSessions: 5, SessionsPerDriver: 2})
	pm := portmanager.New([]string{"9000"})

	g.Services[9000] = &Service{Port: 9000, sessions: map[string]struct{}{"a": {}, "b": {}}}
	g.order = append(g.order, 9000)

	g.DeleteSession(9000, "a", pm)

	svc, ok := g.Services[9000]
	require.True(t, ok, "expected the service to survive while a session remains")
	assert.False(t, svc.HasSession("a"))
	assert.True(t, svc.HasSession("b"))
}
