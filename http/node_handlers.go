package http

import (
	"encoding/json"
	"net/http"

	"xenon/errors"
	"xenon/http/response"
	"xenon/models/node"
)

// dispatchNode implements the `/node` branch of spec §4.6: registration,
// push updates, deregistration and the config-pull endpoint peers use to
// refresh each other's capability inventory. All of register/update/
// deregister are POST with the target identified by the request body, not
// the path, per spec §4.6 and §6.
func (s *Server) dispatchNode(w http.ResponseWriter, r *http.Request, segments []string) (*response.Raw, error) {
	rest := segments[1:]
	if len(rest) != 1 {
		return nil, errors.EndpointNotFound()
	}

	switch rest[0] {
	case "config":
		if r.Method != http.MethodGet {
			return nil, errors.MethodNotFound()
		}
		return s.nodeConfig(w, r)
	case "register":
		if r.Method != http.MethodPost {
			return nil, errors.MethodNotFound()
		}
		return s.registerNode(w, r)
	case "update":
		if r.Method != http.MethodPost {
			return nil, errors.MethodNotFound()
		}
		return s.updateNode(w, r)
	case "deregister":
		if r.Method != http.MethodPost {
			return nil, errors.MethodNotFound()
		}
		return s.deregisterNode(w, r)
	default:
		return nil, errors.EndpointNotFound()
	}
}

// registerNode implements POST /node/register: register a new peer at
// comms_id=0. Responds {"nodeId": ...} per spec §4.6.
func (s *Server) registerNode(w http.ResponseWriter, r *http.Request) (*response.Raw, error) {
	var create node.Create
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		return nil, errors.InvalidBodyErr(err)
	}
	if create.URL == "" {
		return nil, errors.EmptyParamErr("url")
	}

	id, err := s.State.RegisterNode(create)
	if err != nil {
		return nil, err
	}

	body, _ := json.Marshal(map[string]string{"nodeId": id.String()})
	return &response.Raw{Status: http.StatusOK, Body: body, ContentType: "application/json"}, nil
}

// updateNode implements POST /node/update: a comms_id-gated push of a
// peer's full state, from the peer itself or relayed by another node in
// the mesh. Responds 204 on acceptance per spec §4.6.
func (s *Server) updateNode(w http.ResponseWriter, r *http.Request) (*response.Raw, error) {
	var incoming node.Node
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		return nil, errors.InvalidBodyErr(err)
	}

	if err := s.State.UpdateNode(incoming); err != nil {
		return nil, errors.ErrorUpdatingNode(err)
	}

	return &response.Raw{Status: http.StatusNoContent}, nil
}

// deregisterNode implements POST /node/deregister (body: NodeId): stop
// placing new sessions on this peer. Existing sessions against it are left
// alone (spec §9(a)). Responds 204 on success per spec §4.6.
func (s *Server) deregisterNode(w http.ResponseWriter, r *http.Request) (*response.Raw, error) {
	var rawID string
	if err := json.NewDecoder(r.Body).Decode(&rawID); err != nil {
		return nil, errors.InvalidBodyErr(err)
	}

	id, err := node.ParseId(rawID)
	if err != nil {
		return nil, errors.NodeNotFound()
	}

	if err := s.State.DeregisterNode(id); err != nil {
		return nil, errors.ErrorDeregisteringNode(err)
	}

	return &response.Raw{Status: http.StatusNoContent}, nil
}

// nodeConfig implements GET /node/config: this instance's own capability
// inventory, as polled by every peer's node-config bootstrapper.
func (s *Server) nodeConfig(w http.ResponseWriter, r *http.Request) (*response.Raw, error) {
	groups := s.State.LocalServiceGroups()
	body, err := json.Marshal(groups)
	if err != nil {
		return nil, errors.InternalServerError(err)
	}
	return &response.Raw{Status: http.StatusOK, Body: body, ContentType: "application/json"}, nil
}
