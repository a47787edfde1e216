package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"xenon/logger"
	"xenon/models/node"
	"xenon/services/state"
)

const nodeConfigRoundInterval = 60 * time.Second

// NodeConfigBootstrapper fetches each registered remote node's capability
// inventory via GET scheme://authority/node/config, retrying failures on
// the next round until every node has answered. A gobreaker per node
// stops one wedged peer from stalling the round on its HTTP timeout.
type NodeConfigBootstrapper struct {
	state    *state.State
	client   *http.Client
	breakers map[node.Id]*gobreaker.CircuitBreaker
	shutdown chan struct{}
	done     chan struct{}
}

// NewNodeConfigBootstrapper builds a bootstrapper bound to st. Only worth
// starting when st.AllNodes() is non-empty at startup.
func NewNodeConfigBootstrapper(st *state.State) *NodeConfigBootstrapper {
	return &NodeConfigBootstrapper{
		state:    st,
		client:   &http.Client{Timeout: 10 * time.Second},
		breakers: make(map[node.Id]*gobreaker.CircuitBreaker),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the bootstrap loop. It exits on its own once every node's
// config has been fetched, or immediately if Stop is called first.
func (b *NodeConfigBootstrapper) Start() {
	go b.run()
}

// Stop raises the shutdown signal and waits for the loop to exit.
func (b *NodeConfigBootstrapper) Stop() {
	close(b.shutdown)
	<-b.done
}

func (b *NodeConfigBootstrapper) run() {
	defer close(b.done)

	pending := b.state.AllNodes()

	for len(pending) > 0 {
		var retry []state.NodeSnapshot
		for _, n := range pending {
			if err := b.fetchAndApply(n); err != nil {
				logger.Warn("node config fetch failed, retrying next round", n.Id.String(), err)
				retry = append(retry, n)
			}
		}
		pending = retry
		if len(pending) == 0 {
			return
		}

		select {
		case <-time.After(nodeConfigRoundInterval):
		case <-b.shutdown:
			return
		}
	}
}

func (b *NodeConfigBootstrapper) breakerFor(id node.Id) *gobreaker.CircuitBreaker {
	if cb, ok := b.breakers[id]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "node-config-" + id.String(),
		MaxRequests: 1,
		Timeout:     nodeConfigRoundInterval,
	})
	b.breakers[id] = cb
	return cb
}

func (b *NodeConfigBootstrapper) fetchAndApply(n state.NodeSnapshot) error {
	_, err := b.breakerFor(n.Id).Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		url := fmt.Sprintf("%s://%s/node/config", n.Scheme, n.Authority)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("node %s returned status %d", n.Id.String(), resp.StatusCode)
		}

		var groups []node.ServiceGroup
		if err := json.Unmarshal(body, &groups); err != nil {
			return nil, err
		}
		return nil, b.state.SetNodeServiceGroups(n.Id, groups)
	})
	return err
}
