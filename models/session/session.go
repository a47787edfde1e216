// Package session implements one logical WebDriver session: the bridge
// between the Xenon-minted id a client sees and the real backend session
// it forwards to.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"xenon/errors"
)

// ID is the opaque, externally-facing WebDriver session identifier Xenon
// mints for every session, local or federated. Unique for the process
// lifetime; never the backend's own session id.
type ID string

// NewID mints a fresh session id.
func NewID() ID { return ID(uuid.New().String()) }

func (id ID) String() string { return string(id) }

const (
	readinessAttempts = 30
	readinessInterval = time.Second
)

// Session is one logical WebDriver session. ServiceGroup is empty for a
// remote (federated) session, whose teardown never touches a local
// PortManager/ServiceGroup.
type Session struct {
	XenonID          ID
	BackendSessionID string
	BackendScheme    string
	BackendAuthority string
	Port             uint16 // meaningless when ServiceGroup == ""
	ServiceGroup     string

	mu           sync.Mutex // per-session exclusivity, spec §5
	lastActivity time.Time
	client       *http.Client
}

// IsRemote reports whether this session was placed on a federated peer
// rather than a local ServiceGroup.
func (s *Session) IsRemote() bool { return s.ServiceGroup == "" }

// LastActivity returns the last time this session was used. lastActivity
// is guarded by mu, not by the caller's own lock, so any caller other than
// ForwardRequest itself (which already holds mu via the router's
// Lock/Unlock around it) must bracket this with Lock/Unlock — see the
// idle reaper's use in state.ReapIdle.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// SetLastActivity overwrites the last-activity timestamp. Exported for
// reaper tests that simulate an idle session without waiting out the real
// timeout; ForwardRequest is the only non-test caller that should move
// this forward in production.
func (s *Session) SetLastActivity(t time.Time) { s.lastActivity = t }

// Lock acquires the per-session mutex. Must be acquired only after the
// caller has released every container lock (spec §5); forward_request
// itself never locks, so a caller that forgets this serializes nothing.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the per-session mutex.
func (s *Session) Unlock() { s.mu.Unlock() }

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// Create performs the full session-creation handshake against a backend at
// scheme://authority: a paced readiness probe followed by a POST /session,
// with xenonID substituted for the backend's session id in the response
// body returned to the client.
//
// serviceGroup is the owning ServiceGroup's name for a local session, or
// "" for a remote (federated) one.
//
// On success, returns the new Session and the (status, body, contentType)
// to serve the client. On a non-2xx handshake response, returns a nil
// Session and an *errors.PassThrough so the caller forwards the backend's
// response verbatim instead of an error envelope. Any other failure
// (readiness timeout, transport error) is an *errors.Error.
func Create(
	ctx context.Context,
	scheme, authority, serviceGroup string,
	w3cCapabilities, desiredCapabilities json.RawMessage,
	xenonID ID,
) (*Session, int, []byte, string, error) {
	client := httpClient()

	if err := waitForReady(ctx, client, scheme, authority); err != nil {
		return nil, 0, nil, "", err
	}

	reqBody, err := json.Marshal(map[string]any{
		"capabilities":        rawOrNull(w3cCapabilities),
		"desiredCapabilities": rawOrNull(desiredCapabilities),
	})
	if err != nil {
		return nil, 0, nil, "", errors.ErrorCreatingSession("encoding session handshake body: " + err.Error())
	}

	url := fmt.Sprintf("%s://%s/session", scheme, authority)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, nil, "", errors.ErrorCreatingSession("building session handshake request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, nil, "", errors.RequestError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, "", errors.RequestError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, 0, nil, "", &errors.PassThrough{
			Status:      resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
		}
	}

	backendID, rewritten, err := substituteSessionID(body, xenonID)
	if err != nil {
		return nil, 0, nil, "", errors.ErrorCreatingSession("parsing session handshake response: " + err.Error())
	}

	sess := &Session{
		XenonID:          xenonID,
		BackendSessionID: backendID,
		BackendScheme:    scheme,
		BackendAuthority: authority,
		ServiceGroup:     serviceGroup,
		lastActivity:     time.Now(),
		client:           client,
	}

	return sess, resp.StatusCode, rewritten, "application/json", nil
}

// SetPort records the local port this session's backend is bound to.
// Called by the reservation path once a port has been chosen; remote
// sessions never call it.
func (s *Session) SetPort(port uint16) { s.Port = port }

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

// waitForReady polls GET scheme://authority/status up to readinessAttempts
// times, readinessInterval apart, breaking on the first 2xx. Paced with a
// rate.Limiter rather than a bare time.Sleep loop so the cadence is a
// single declarative primitive instead of ad-hoc timing code (spec §9:
// "bounded fixed-delay retry, not exponential").
func waitForReady(ctx context.Context, client *http.Client, scheme, authority string) error {
	limiter := rate.NewLimiter(rate.Every(readinessInterval), 1)
	url := fmt.Sprintf("%s://%s/status", scheme, authority)

	for attempt := 0; attempt < readinessAttempts; attempt++ {
		// The first Wait takes the limiter's initial token at once; each
		// later one blocks for readinessInterval.
		if err := limiter.Wait(ctx); err != nil {
			return errors.ErrorCreatingSession("waiting for webdriver readiness: " + err.Error())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.ErrorCreatingSession("building readiness probe request: " + err.Error())
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
	}
	return errors.ErrorCreatingSession("Timed out waiting for WebDriver")
}

// substituteSessionID extracts the backend's real session id (value.sessionId
// when non-empty, else the top-level sessionId) and returns the body with
// both rewritten to xenonID.
func substituteSessionID(body []byte, xenonID ID) (backendID string, rewritten []byte, err error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", nil, err
	}

	if v, ok := parsed["value"].(map[string]any); ok {
		if id, ok := v["sessionId"].(string); ok && id != "" {
			backendID = id
		}
		v["sessionId"] = xenonID.String()
		parsed["value"] = v
	}
	if backendID == "" {
		if id, ok := parsed["sessionId"].(string); ok {
			backendID = id
		}
	}
	parsed["sessionId"] = xenonID.String()

	rewritten, err = json.Marshal(parsed)
	return backendID, rewritten, err
}

// ForwardRequest re-issues an in-flight client request against this
// session's backend, rewriting the path to target the real backend session
// id, and refreshes last-activity on success. The caller must hold this
// session's per-session mutex and must not hold any State container lock
// (spec §5's hot-path rule: no backend round-trip while a container lock
// is held).
func (s *Session) ForwardRequest(ctx context.Context, method, trailingPath, rawQuery, contentType string, body io.Reader) (status int, respBody []byte, respContentType string, err error) {
	target := fmt.Sprintf("%s://%s/session/%s", s.BackendScheme, s.BackendAuthority, s.BackendSessionID)
	if trailingPath != "" {
		target += "/" + trailingPath
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, nil, "", errors.RequestError(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, "", errors.RequestError(err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, "", errors.RequestError(err)
	}

	s.lastActivity = time.Now()
	return resp.StatusCode, respBody, resp.Header.Get("Content-Type"), nil
}
