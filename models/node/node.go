// Package node holds the federation model: descriptors of peer Xenon
// instances and their cached capability inventory.
package node

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"xenon/models/browser"
)

// Id identifies a registered RemoteNode. Wraps a UUID so it can't be
// confused with an XenonSessionId at the type level.
type Id uuid.UUID

func NewId() Id { return Id(uuid.New()) }

func (id Id) String() string { return uuid.UUID(id).String() }

func ParseId(s string) (Id, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}

func (id Id) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

func (id *Id) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = Id(u)
	return nil
}

// ServiceGroup is what a peer advertises about one of its configured
// browsers: the match key and how much capacity is left for it.
type ServiceGroup struct {
	Browser           browser.Config `json:"browser" koanf:"browser"`
	RemainingSessions int            `json:"remaining_sessions" koanf:"remaining_sessions"`
}

// Matches delegates to the embedded browser config's capability match.
func (g ServiceGroup) Matches(caps browser.Capabilities) bool {
	return g.Browser.Matches(caps)
}

// Node is a descriptor plus cached capability inventory of a peer Xenon
// instance. CommsID is a monotonic generation counter: an incoming update
// is only applied when its CommsID is strictly greater than the stored one,
// which discards updates that arrive out of order.
//
// spec.md models this counter as a u128; Go has no native 128-bit integer
// and a federation of peer Xenon processes will not plausibly wrap a
// uint64 generation counter in one process lifetime, so CommsID is a
// uint64 here (see DESIGN.md).
type Node struct {
	Id           Id             `json:"id"`
	DisplayName  string         `json:"display_name"`
	URL          string         `json:"url"`
	Scheme       string         `json:"scheme"`
	Authority    string         `json:"authority"`
	CommsID      uint64         `json:"comms_id"`
	ServiceGroups []ServiceGroup `json:"service_groups"`
}

// Create is the body of POST /node/register, and also the shape of each
// entry in config's optional `nodes` pre-seed list.
type Create struct {
	Name          string         `json:"name" koanf:"name" yaml:"name"`
	URL           string         `json:"url" koanf:"url" yaml:"url"`
	ServiceGroups []ServiceGroup `json:"service_groups" koanf:"service_groups" yaml:"service_groups"`
}

const (
	defaultScheme    = "http"
	defaultAuthority = "localhost:8888"
)

// ParseURL splits a node URL into scheme and authority, defaulting missing
// components to "http" and "localhost:8888" respectively, per spec §4.6.
func ParseURL(raw string) (scheme, authority string, err error) {
	toParse := raw
	if !strings.Contains(raw, "://") {
		// url.Parse reads a scheme-less "host:port" as scheme "host" plus
		// an opaque "port" (or rejects an IP-literal host outright); parse
		// it as a scheme-relative URL instead.
		toParse = "//" + raw
	}
	u, err := url.Parse(toParse)
	if err != nil {
		return "", "", fmt.Errorf("invalid node url %q: %w", raw, err)
	}
	scheme = u.Scheme
	if scheme == "" {
		scheme = defaultScheme
	}
	authority = u.Host
	if authority == "" {
		authority = defaultAuthority
	}
	return scheme, authority, nil
}

// NewFromCreate builds a registered Node from a register request, assigning
// a fresh Id and comms_id=0.
func NewFromCreate(c Create) (Node, error) {
	scheme, authority, err := ParseURL(c.URL)
	if err != nil {
		return Node{}, err
	}
	name := c.Name
	if name == "" {
		name = authority
	}
	return Node{
		Id:            NewId(),
		DisplayName:   name,
		URL:           c.URL,
		Scheme:        scheme,
		Authority:     authority,
		CommsID:       0,
		ServiceGroups: c.ServiceGroups,
	}, nil
}

// ApplyUpdate overwrites this node's mutable fields from an incoming
// update iff incoming.CommsID > n.CommsID. Returns whether the update was
// accepted.
func (n *Node) ApplyUpdate(incoming Node) bool {
	if incoming.CommsID <= n.CommsID {
		return false
	}
	scheme, authority, err := ParseURL(incoming.URL)
	if err != nil {
		scheme, authority = incoming.Scheme, incoming.Authority
	}
	n.DisplayName = incoming.DisplayName
	n.URL = incoming.URL
	n.Scheme = scheme
	n.Authority = authority
	n.ServiceGroups = incoming.ServiceGroups
	n.CommsID = incoming.CommsID
	return true
}

// HasMatchingBrowser reports whether any of this node's service groups
// matches caps, regardless of remaining capacity.
func (n Node) HasMatchingBrowser(caps browser.Capabilities) bool {
	for _, g := range n.ServiceGroups {
		if g.Matches(caps) {
			return true
		}
	}
	return false
}

// MatchingServiceGroups returns the service groups of this node that match
// caps and still advertise remaining capacity.
func (n Node) MatchingServiceGroups(caps browser.Capabilities) []ServiceGroup {
	var out []ServiceGroup
	for _, g := range n.ServiceGroups {
		if g.RemainingSessions > 0 && g.Matches(caps) {
			out = append(out, g)
		}
	}
	return out
}
