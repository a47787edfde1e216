package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"xenon/errors"
	"xenon/http/response"
	"xenon/logger"
	"xenon/models/browser"
	"xenon/models/session"
)

// dispatch classifies a request on its first path segment, per spec §4.4.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) (*response.Raw, error) {
	segments := splitPath(r.URL.Path)
	if len(segments) == 0 {
		return &response.Raw{Status: http.StatusOK, Body: []byte("OK"), ContentType: "text/plain"}, nil
	}

	switch segments[0] {
	case "session":
		return s.dispatchSession(w, r, segments)

	case "wd":
		rest := segments[1:]
		if len(rest) > 0 && rest[0] == "hub" {
			rest = rest[1:]
		}
		if len(rest) == 0 {
			return nil, errors.EndpointNotFound()
		}
		return s.dispatchSession(w, r, rest)

	case "node":
		return s.dispatchNode(w, r, segments)

	case "status":
		body, _ := json.Marshal(map[string]any{"value": map[string]any{"ready": true}})
		return &response.Raw{Status: http.StatusOK, Body: body, ContentType: "application/json"}, nil

	default:
		return nil, errors.EndpointNotFound()
	}
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// dispatchSession implements the `/session` branch of spec §4.4: creation
// at length 1, lookup-and-forward at length >= 2.
func (s *Server) dispatchSession(w http.ResponseWriter, r *http.Request, segments []string) (*response.Raw, error) {
	if len(segments) == 1 {
		if r.Method != http.MethodPost {
			return nil, errors.MethodNotFound()
		}
		return s.createSession(w, r)
	}
	return s.forwardSession(r, segments)
}

// forwardSession resolves the Xenon session id from segments[1], forwards
// the request to its backend, and on a successful terminal DELETE tears
// the session down.
func (s *Server) forwardSession(r *http.Request, segments []string) (*response.Raw, error) {
	if segments[0] != "session" {
		logger.Warn("unexpected first path segment for a session request", segments[0])
	}

	xid := session.ID(segments[1])
	trailing := strings.Join(segments[2:], "/")

	sess, ok := s.State.GetSession(xid)
	if !ok {
		return nil, errors.SessionNotFound(xid.String())
	}

	sess.Lock()
	status, body, contentType, err := sess.ForwardRequest(r.Context(), r.Method, trailing, r.URL.RawQuery, r.Header.Get("Content-Type"), r.Body)
	sess.Unlock()
	if err != nil {
		return nil, err
	}

	terminalDelete := r.Method == http.MethodDelete && len(segments) == 2 && segments[0] == "session"
	if terminalDelete && status >= 200 && status < 300 {
		s.teardownSession(xid)
	}

	return &response.Raw{Status: status, Body: body, ContentType: contentType}, nil
}

// teardownSession removes a session from state and, if local, reclaims its
// service/port.
func (s *Server) teardownSession(id session.ID) {
	sess, ok := s.State.RemoveSession(id)
	if !ok {
		return
	}
	s.State.TeardownLocal(sess)
}

type w3cEnvelope struct {
	Capabilities        json.RawMessage `json:"capabilities"`
	DesiredCapabilities json.RawMessage `json:"desiredCapabilities"`
}

// createSession implements the CreateSession procedure of spec §4.4: parse
// the envelope, try local capacity, then fall back to federation per the
// ordering rules of §4.4/§9.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) (*response.Raw, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.InvalidBodyErr(err)
	}

	var envelope w3cEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.InvalidBodyErr(err)
	}

	caps, err := browser.ParseCapabilities(envelope.Capabilities)
	if err != nil {
		return nil, err
	}

	localRaw, localErr := s.handleCreateLocal(r.Context(), caps, envelope.Capabilities, envelope.DesiredCapabilities)
	if localErr == nil {
		return localRaw, nil
	}

	if isKind(localErr, errors.NoSessionsAvailableKind) {
		remoteRaw, remoteErr := s.handleCreateRemote(r.Context(), caps, envelope.Capabilities, envelope.DesiredCapabilities)
		if remoteErr != nil {
			if isKind(remoteErr, errors.NoMatchingBrowserKind) {
				// Local capacity pressure dominates.
				return nil, localErr
			}
			return nil, remoteErr
		}
		return remoteRaw, nil
	}

	if isKind(localErr, errors.NoMatchingBrowserKind) {
		return s.handleCreateRemote(r.Context(), caps, envelope.Capabilities, envelope.DesiredCapabilities)
	}

	return nil, localErr
}

func isKind(err error, kind errors.Kind) bool {
	e, ok := err.(*errors.Error)
	return ok && e.Kind == kind
}

// handleCreateLocal reserves capacity in a matching local ServiceGroup,
// attempts the handshake with no locks held, and rolls the reservation
// back on any failure (spec §4.4).
func (s *Server) handleCreateLocal(ctx context.Context, caps browser.Capabilities, w3cCaps, desired json.RawMessage) (*response.Raw, error) {
	names := s.State.MatchingLocalGroups(caps)
	if len(names) == 0 {
		return nil, errors.NoMatchingBrowser()
	}

	candidates := s.State.GroupsWithCapacity(names)
	if len(candidates) == 0 {
		return nil, errors.NoSessionsAvailable()
	}

	reservation, err := s.State.ReserveLocal(candidates)
	if err != nil {
		return nil, err
	}

	authority := fmt.Sprintf("localhost:%d", reservation.Port)
	sess, status, respBody, contentType, err := session.Create(ctx, "http", authority, reservation.GroupName, w3cCaps, desired, reservation.XenonID)
	if err != nil {
		s.State.RollbackLocal(reservation)
		return nil, err
	}

	sess.SetPort(reservation.Port)
	s.State.InsertSession(sess)
	return &response.Raw{Status: status, Body: respBody, ContentType: contentType}, nil
}

// remoteCreateResult carries a successful remote handshake's outcome
// through gobreaker.Execute, whose return type is interface{}.
type remoteCreateResult struct {
	sess        *session.Session
	status      int
	body        []byte
	contentType string
}

// handleCreateRemote tries every matching federated node in turn, each
// guarded by its own circuit breaker so a wedged peer fails fast on
// subsequent attempts instead of eating the full dial/handshake timeout
// every time it's tried. Returns NoSessionsAvailable if any node matched
// but all attempts failed, or NoMatchingBrowser if none matched at all.
func (s *Server) handleCreateRemote(ctx context.Context, caps browser.Capabilities, w3cCaps, desired json.RawMessage) (*response.Raw, error) {
	candidates, anyMatched := s.State.MatchingRemoteNodes(caps)
	xenonID := session.NewID()

	for _, c := range candidates {
		breaker := s.breakerFor(c.NodeID)
		out, err := breaker.Execute(func() (any, error) {
			sess, status, respBody, contentType, err := session.Create(ctx, c.Scheme, c.Authority, "", w3cCaps, desired, xenonID)
			if err != nil {
				return nil, err
			}
			return remoteCreateResult{sess: sess, status: status, body: respBody, contentType: contentType}, nil
		})
		if err != nil {
			logger.Warn("remote node create-session attempt failed, trying next", c.DisplayName, err)
			continue
		}
		result := out.(remoteCreateResult)
		s.State.InsertSession(result.sess)
		return &response.Raw{Status: result.status, Body: result.body, ContentType: result.contentType}, nil
	}

	if anyMatched {
		return nil, errors.NoSessionsAvailable()
	}
	return nil, errors.NoMatchingBrowser()
}
