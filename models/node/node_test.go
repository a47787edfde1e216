package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenon/models/browser"
)

func TestParseURLDefaults(t *testing.T) {
	scheme, authority, err := ParseURL("")
	require.NoError(t, err)
	assert.Equal(t, "http", scheme)
	assert.Equal(t, "localhost:8888", authority)
}

func TestParseURLExplicit(t *testing.T) {
	scheme, authority, err := ParseURL("https://peer.example.com:9999/path")
	require.NoError(t, err)
	assert.Equal(t, "https", scheme)
	assert.Equal(t, "peer.example.com:9999", authority)
}

func TestParseURLBareHostPort(t *testing.T) {
	scheme, authority, err := ParseURL("peer.example.com:9999")
	require.NoError(t, err)
	assert.Equal(t, "http", scheme)
	assert.Equal(t, "peer.example.com:9999", authority)
}

func TestNewFromCreateAssignsCommsIDZero(t *testing.T) {
	n, err := NewFromCreate(Create{URL: "http://peer:4444"})
	require.NoError(t, err)
	assert.Zero(t, n.CommsID, "expected comms_id=0 on registration")
	assert.Equal(t, "peer:4444", n.DisplayName, "expected display name to default to authority")
}

func TestApplyUpdateRejectsOutOfOrder(t *testing.T) {
	n, err := NewFromCreate(Create{URL: "http://peer:4444"})
	require.NoError(t, err)
	n.CommsID = 5

	accepted := n.ApplyUpdate(Node{Id: n.Id, CommsID: 5, DisplayName: "stale"})
	assert.False(t, accepted, "an update with comms_id equal to the stored one must be rejected")
	assert.NotEqual(t, "stale", n.DisplayName, "a rejected update must not mutate the node")

	accepted = n.ApplyUpdate(Node{Id: n.Id, CommsID: 6, DisplayName: "fresh", URL: "http://peer:4444"})
	assert.True(t, accepted, "an update with a strictly greater comms_id must be accepted")
	assert.Equal(t, "fresh", n.DisplayName)
}

func TestHasMatchingBrowserIgnoresCapacity(t *testing.T) {
	caps := browser.Capabilities{BrowserName: "chrome"}
	n := Node{ServiceGroups: []ServiceGroup{
		{Browser: browser.Config{Name: "chrome"}, RemainingSessions: 0},
	}}
	assert.True(t, n.HasMatchingBrowser(caps), "HasMatchingBrowser must match regardless of remaining capacity")
	assert.Empty(t, n.MatchingServiceGroups(caps), "MatchingServiceGroups must exclude groups with no remaining capacity")
}
