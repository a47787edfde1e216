package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xenon/errors"
)

func TestSubstituteSessionIDNestedValue(t *testing.T) {
	xid := NewID()
	body := []byte(`{"value":{"sessionId":"backend-123","capabilities":{}}}`)

	backendID, rewritten, err := substituteSessionID(body, xid)
	require.NoError(t, err)
	assert.Equal(t, "backend-123", backendID)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rewritten, &parsed), "rewritten body must be valid JSON")
	value := parsed["value"].(map[string]any)
	assert.Equal(t, xid.String(), value["sessionId"])
	assert.Equal(t, xid.String(), parsed["sessionId"])
}

func TestSubstituteSessionIDTopLevelOnly(t *testing.T) {
	xid := NewID()
	body := []byte(`{"sessionId":"backend-456"}`)

	backendID, _, err := substituteSessionID(body, xid)
	require.NoError(t, err)
	assert.Equal(t, "backend-456", backendID)
}

func TestCreateSuccess(t *testing.T) {
	var statusCalls int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/status"):
			statusCalls++
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "/session") && r.Method == http.MethodPost:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"value":{"sessionId":"backend-789","capabilities":{"browserName":"chrome"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer backend.Close()

	authority := strings.TrimPrefix(backend.URL, "http://")
	xid := NewID()

	sess, status, body, contentType, err := Create(context.Background(), "http", authority, "chrome", []byte(`{"alwaysMatch":{"browserName":"chrome"}}`), nil, xid)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "backend-789", sess.BackendSessionID)
	assert.NotZero(t, statusCalls, "expected at least one readiness probe")
	assert.Contains(t, string(body), xid.String(), "expected response body to carry the Xenon session id")
}

func TestCreatePassesThroughBackendFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/status") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"value":{"error":"session not created","message":"boom"}}`))
	}))
	defer backend.Close()

	authority := strings.TrimPrefix(backend.URL, "http://")
	_, _, _, _, err := Create(context.Background(), "http", authority, "chrome", []byte(`{}`), nil, NewID())
	require.Error(t, err)

	pt, ok := err.(*errors.PassThrough)
	require.True(t, ok, "expected a *errors.PassThrough, got %T", err)
	assert.Equal(t, http.StatusInternalServerError, pt.Status, "expected the backend's status to be preserved")
}

func TestForwardRequestUpdatesLastActivity(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"value":null}`))
	}))
	defer backend.Close()

	authority := strings.TrimPrefix(backend.URL, "http://")
	sess := &Session{
		XenonID:          NewID(),
		BackendSessionID: "backend-1",
		BackendScheme:    "http",
		BackendAuthority: authority,
		client:           httpClient(),
	}

	before := sess.LastActivity()
	status, _, _, err := sess.ForwardRequest(context.Background(), http.MethodGet, "url", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, sess.LastActivity().After(before), "expected ForwardRequest to refresh lastActivity")
}
