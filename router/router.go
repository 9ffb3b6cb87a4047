package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/logging"
	"github.com/hupe1980/voicemesh/model"
)

// Reasons attached to routing decisions, surfaced in agent_switch events.
const (
	ReasonEscalation = "escalation"
	ReasonSpecialist = "specialist"
	ReasonSwarm      = "swarm_delegation"
	ReasonDiscovery  = "autonomous_discovery"
)

// keepToken is what the dispatcher returns to leave the turn with the
// current supervisor.
const keepToken = "SUPERVISOR"

// noneToken is what the discovery matcher returns when no agent fits.
const noneToken = "NONE"

// Request carries everything the router needs for one decision.
type Request struct {
	SessionID string
	Current   core.AgentDescriptor
	// Intent is the detected intent label, empty when none.
	Intent string
	// Input is the raw user utterance, given verbatim to the dispatcher.
	Input   string
	History []core.Turn
	// EscalationNeeded short-circuits to supervisor lookup.
	EscalationNeeded bool
}

// Decision is the routing outcome. Agent is always usable; Changed reports
// whether it differs from the request's current agent.
type Decision struct {
	Agent   core.AgentDescriptor
	Changed bool
	Reason  string
	// Discovered marks an agent hired from outside the supervisor's pool.
	Discovered bool
}

// Router implements the four routing strategies over an agent directory.
// The dispatcher model mediates swarm delegation and discovery; it may be
// nil, which disables those two strategies.
type Router struct {
	directory  core.Directory
	dispatcher model.Model
	intentMap  map[string]string
	logger     logging.Logger
}

// Options configures a Router.
type Options struct {
	// Dispatcher is the model used for swarm delegation and discovery.
	Dispatcher model.Model
	// IntentSpecialties maps intent labels to specialist domain keys.
	// Defaults cover the built-in keyword detector's labels.
	IntentSpecialties map[string]string
	Logger            logging.Logger
}

// New constructs a Router over the given directory.
func New(directory core.Directory, optFns ...func(o *Options)) *Router {
	opts := Options{
		IntentSpecialties: map[string]string{
			"billing":   "billing",
			"technical": "technical",
			"sales":     "sales",
			"order":     "order",
			"account":   "account",
			"refund":    "billing",
			"complaint": "support",
		},
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		directory:  directory,
		dispatcher: opts.Dispatcher,
		intentMap:  opts.IntentSpecialties,
		logger:     opts.Logger,
	}
}

// Route selects the responding agent for a turn. Strategies are tried in
// precedence order; the first that yields a different usable agent wins, and
// every miss falls through to the next. The zero-change decision keeps the
// current agent.
func (r *Router) Route(ctx context.Context, req Request) Decision {
	keep := Decision{Agent: req.Current}

	if req.EscalationNeeded {
		if supervisors := r.directory.AgentsByRole(core.RoleSupervisor); len(supervisors) > 0 {
			sup := supervisors[0]
			if sup.ID != req.Current.ID {
				r.logger.Info("routing to supervisor", "from", req.Current.Name, "to", sup.Name)
				return Decision{Agent: sup, Changed: true, Reason: ReasonEscalation}
			}
		}
	}

	if req.Intent != "" {
		if specialty, ok := r.intentMap[strings.ToLower(req.Intent)]; ok {
			if specialists := r.directory.AgentsBySpecialty(specialty); len(specialists) > 0 {
				sp := specialists[0]
				if sp.ID != req.Current.ID {
					r.logger.Info("routing to specialist", "intent", req.Intent, "agent", sp.Name)
					return Decision{Agent: sp, Changed: true, Reason: ReasonSpecialist}
				}
			}
		}
	}

	if req.Current.SwarmCapable() && r.dispatcher != nil {
		if d, ok := r.delegate(ctx, req); ok {
			return d
		}
		if d, ok := r.discover(ctx, req); ok {
			return d
		}
	}

	return keep
}

// delegate asks the dispatcher model to pick a worker from the supervisor's
// pool. A malformed or unknown answer keeps the supervisor.
func (r *Router) delegate(ctx context.Context, req Request) (Decision, bool) {
	pool := r.pool(req.Current)
	if len(pool) == 0 {
		return Decision{}, false
	}

	var labels strings.Builder
	for _, a := range pool {
		fmt.Fprintf(&labels, "- %s: %s (%s) - %s\n", a.ID, a.Name, a.Role, a.Description)
	}
	input := fmt.Sprintf(`Analyze the user's latest input and determine which worker agent is best suited to handle the request.

AVAILABLE AGENTS:
%s- %s: keep the task with the current supervisor agent.

USER INPUT: %q

Respond with ONLY the ID of the selected agent or %q.`, labels.String(), keepToken, req.Input, keepToken)

	answer, err := r.ask(ctx, "You are an elite dispatcher for a voice AI swarm.", input, req.History)
	if err != nil {
		r.logger.Warn("swarm dispatch failed", "error", err)
		return Decision{}, false
	}
	if answer == keepToken {
		return Decision{}, false
	}
	for _, a := range pool {
		if a.ID == answer {
			r.logger.Info("delegating turn to worker", "agent", a.Name)
			return Decision{Agent: a, Changed: true, Reason: ReasonSwarm}, true
		}
	}
	r.logger.Warn("dispatcher returned unknown agent id", "answer", answer)
	return Decision{}, false
}

// discover searches the entire active catalog for a capable agent, hiring a
// match even outside the supervisor's pool.
func (r *Router) discover(ctx context.Context, req Request) (Decision, bool) {
	all := r.directory.ActiveAgents()
	if len(all) == 0 {
		return Decision{}, false
	}

	var catalog strings.Builder
	for _, a := range all {
		fmt.Fprintf(&catalog, "- %s: %s | Role: %s | Desc: %s\n", a.ID, a.Name, a.Role, a.Description)
	}
	input := fmt.Sprintf(`TASK: %q

CATALOG OF AVAILABLE AGENT CAPABILITIES:
%s
Which agent from the catalog is best suited to handle this task?
Respond with ONLY the agent ID. If no agent is a good fit, respond %q.`, req.Input, catalog.String(), noneToken)

	answer, err := r.ask(ctx, "System discovery engine.", input, nil)
	if err != nil {
		r.logger.Warn("discovery failed", "error", err)
		return Decision{}, false
	}
	if answer == noneToken {
		return Decision{}, false
	}
	for _, a := range all {
		if a.ID == answer && a.ID != req.Current.ID {
			r.logger.Info("discovered and hired agent", "agent", a.Name)
			return Decision{Agent: a, Changed: true, Reason: ReasonDiscovery, Discovered: true}, true
		}
	}
	return Decision{}, false
}

// ask runs the dispatcher and returns its trimmed single-token answer.
func (r *Router) ask(ctx context.Context, instructions, input string, history []core.Turn) (string, error) {
	respCh, errCh := r.dispatcher.Generate(ctx, model.Request{
		Instructions: instructions,
		History:      history,
		Input:        input,
	})
	resp, err := model.Collect(ctx, respCh, errCh)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Text)
	if answer == "" || strings.ContainsAny(answer, " \n") {
		return "", fmt.Errorf("malformed dispatcher answer %q", answer)
	}
	return answer, nil
}

func (r *Router) pool(supervisor core.AgentDescriptor) []core.AgentDescriptor {
	var out []core.AgentDescriptor
	for _, id := range supervisor.Pool {
		if a, ok := r.directory.AgentByID(id); ok && a.Active {
			out = append(out, a)
		}
	}
	return out
}
