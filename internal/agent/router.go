package agent

import (
	"strings"
	"sync"

	"github.com/MrWong99/mentrabridge/internal/config"
)

// DefaultAgentID handles peers when neither a binding nor a configured
// default applies.
const DefaultAgentID = "main"

// MatchedBy names how a [Route] was chosen.
type MatchedBy string

const (
	MatchedBinding MatchedBy = "binding"
	MatchedDefault MatchedBy = "default"
)

// Route identifies the agent and conversation a peer's messages go to.
type Route struct {
	AgentID    string
	SessionKey string
	MatchedBy  MatchedBy
}

// RouteResolver maps a channel and peer identity to a [Route].
type RouteResolver interface {
	Resolve(channel, peer string) (Route, error)
}

// Router resolves routes from the configured bindings. The same channel and
// peer always produce the same route until [Router.Update] changes the
// bindings. Safe for concurrent use.
type Router struct {
	mu           sync.RWMutex
	defaultAgent string
	bindings     map[string]string // normalized peer → agent
}

var _ RouteResolver = (*Router)(nil)

// NewRouter returns a Router for the given default agent and bindings.
func NewRouter(defaultAgent string, bindings []config.BindingConfig) *Router {
	r := &Router{}
	r.Update(defaultAgent, bindings)
	return r
}

// Update replaces the routing table.
func (r *Router) Update(defaultAgent string, bindings []config.BindingConfig) {
	table := make(map[string]string, len(bindings))
	for _, b := range bindings {
		table[normalizeID(b.Peer)] = normalizeID(b.Agent)
	}
	if defaultAgent = normalizeID(defaultAgent); defaultAgent == "" {
		defaultAgent = DefaultAgentID
	}

	r.mu.Lock()
	r.defaultAgent = defaultAgent
	r.bindings = table
	r.mu.Unlock()
}

// Resolve implements [RouteResolver].
func (r *Router) Resolve(channel, peer string) (Route, error) {
	p := normalizeID(peer)
	if p == "" {
		return Route{}, ErrEmptyPeer
	}

	r.mu.RLock()
	agentID, ok := r.bindings[p]
	def := r.defaultAgent
	r.mu.RUnlock()

	route := Route{AgentID: agentID, MatchedBy: MatchedBinding}
	if !ok {
		route = Route{AgentID: def, MatchedBy: MatchedDefault}
	}
	route.SessionKey = SessionKey(route.AgentID, channel, p)
	return route, nil
}

// SessionKey builds the conversation key of a direct-message peer:
//
//	agent:<agent>:<channel>:dm:<peer>
func SessionKey(agentID, channel, peer string) string {
	return "agent:" + normalizeID(agentID) + ":" + normalizeID(channel) + ":dm:" + normalizeID(peer)
}

func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
