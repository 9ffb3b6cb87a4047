package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/model"
)

func testAgents() []core.AgentDescriptor {
	return []core.AgentDescriptor{
		{ID: "agent-front", Name: "Front Desk", Role: core.RolePrimary, Active: true},
		{ID: "agent-billing", Name: "Billing Desk", Role: core.RoleSpecialist, Specialty: "billing", Active: true},
		{ID: "agent-super", Name: "Floor Supervisor", Role: core.RoleSupervisor, Active: true,
			Pool: []string{"agent-billing", "agent-tech"}},
		{ID: "agent-tech", Name: "Tech Desk", Role: core.RoleSpecialist, Specialty: "technical", Active: true},
		{ID: "agent-claims", Name: "Claims Desk", Role: core.RoleSpecialist, Specialty: "claims", Active: true},
		{ID: "agent-off", Name: "Retired", Role: core.RoleSpecialist, Specialty: "billing", Active: false},
	}
}

func testDirectory(t *testing.T) *InMemoryDirectory {
	t.Helper()
	d, err := NewInMemoryDirectory(testAgents()...)
	require.NoError(t, err)
	return d
}

func TestInMemoryDirectory(t *testing.T) {
	d := testDirectory(t)

	t.Run("Lookup by id", func(t *testing.T) {
		a, ok := d.AgentByID("agent-front")
		require.True(t, ok)
		assert.Equal(t, "Front Desk", a.Name)

		_, ok = d.AgentByID("missing")
		assert.False(t, ok)
	})

	t.Run("By role skips inactive", func(t *testing.T) {
		specialists := d.AgentsByRole(core.RoleSpecialist)
		require.Len(t, specialists, 3)
		assert.Equal(t, "agent-billing", specialists[0].ID)
	})

	t.Run("By specialty skips inactive", func(t *testing.T) {
		billing := d.AgentsBySpecialty("billing")
		require.Len(t, billing, 1)
		assert.Equal(t, "agent-billing", billing[0].ID)
	})

	t.Run("Duplicate id rejected", func(t *testing.T) {
		_, err := NewInMemoryDirectory(
			core.AgentDescriptor{ID: "x", Active: true},
			core.AgentDescriptor{ID: "x", Active: true},
		)
		assert.Error(t, err)
	})
}

func TestRoute(t *testing.T) {
	current := func(t *testing.T, d *InMemoryDirectory, id string) core.AgentDescriptor {
		t.Helper()
		a, ok := d.AgentByID(id)
		require.True(t, ok)
		return a
	}

	t.Run("Escalation routes to supervisor", func(t *testing.T) {
		d := testDirectory(t)
		r := New(d)

		dec := r.Route(context.Background(), Request{
			Current:          current(t, d, "agent-front"),
			EscalationNeeded: true,
		})
		assert.True(t, dec.Changed)
		assert.Equal(t, "agent-super", dec.Agent.ID)
		assert.Equal(t, ReasonEscalation, dec.Reason)
	})

	t.Run("Escalation without supervisor keeps current", func(t *testing.T) {
		d, err := NewInMemoryDirectory(testAgents()[0])
		require.NoError(t, err)
		r := New(d)

		dec := r.Route(context.Background(), Request{
			Current:          current(t, d, "agent-front"),
			EscalationNeeded: true,
		})
		assert.False(t, dec.Changed)
		assert.Equal(t, "agent-front", dec.Agent.ID)
	})

	t.Run("Intent routes to specialist", func(t *testing.T) {
		d := testDirectory(t)
		r := New(d)

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-front"),
			Intent:  "billing",
		})
		assert.True(t, dec.Changed)
		assert.Equal(t, "agent-billing", dec.Agent.ID)
		assert.Equal(t, ReasonSpecialist, dec.Reason)
	})

	t.Run("Intent alias maps through", func(t *testing.T) {
		d := testDirectory(t)
		r := New(d)

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-front"),
			Intent:  "refund",
		})
		assert.Equal(t, "agent-billing", dec.Agent.ID)
	})

	t.Run("Specialist already handling keeps current", func(t *testing.T) {
		d := testDirectory(t)
		r := New(d)

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-billing"),
			Intent:  "billing",
		})
		assert.False(t, dec.Changed)
	})

	t.Run("Unknown intent keeps current", func(t *testing.T) {
		d := testDirectory(t)
		r := New(d)

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-front"),
			Intent:  "weather",
		})
		assert.False(t, dec.Changed)
	})

	t.Run("Swarm delegation picks a pool worker", func(t *testing.T) {
		d := testDirectory(t)
		dispatcher := model.NewMockModel("dispatcher", "mock")
		r := New(d, func(o *Options) { o.Dispatcher = dispatcher })

		// The mock returns the worker id for any prompt.
		dispatcher.SetDefault("agent-tech")

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-super"),
			Input:   "my modem is broken again",
		})
		assert.True(t, dec.Changed)
		assert.Equal(t, "agent-tech", dec.Agent.ID)
		assert.Equal(t, ReasonSwarm, dec.Reason)
		assert.False(t, dec.Discovered)
	})

	t.Run("SUPERVISOR answer keeps the supervisor", func(t *testing.T) {
		d := testDirectory(t)
		dispatcher := model.NewMockModel("dispatcher", "mock")
		dispatcher.SetDefault("SUPERVISOR")
		r := New(d, func(o *Options) { o.Dispatcher = dispatcher })

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-super"),
			Input:   "just talk to me",
		})
		assert.False(t, dec.Changed)
		assert.Equal(t, "agent-super", dec.Agent.ID)
	})

	t.Run("Unknown pool id falls through to discovery", func(t *testing.T) {
		d := testDirectory(t)
		dispatcher := model.NewMockModel("dispatcher", "mock")
		// Claims desk is outside the supervisor's pool. Delegation rejects
		// it as unknown, then discovery accepts it from the full catalog.
		dispatcher.SetDefault("agent-claims")
		r := New(d, func(o *Options) { o.Dispatcher = dispatcher })

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-super"),
			Input:   "I need to file an insurance claim",
		})
		assert.True(t, dec.Changed)
		assert.Equal(t, "agent-claims", dec.Agent.ID)
		assert.Equal(t, ReasonDiscovery, dec.Reason)
		assert.True(t, dec.Discovered)
	})

	t.Run("Malformed dispatcher answer keeps current", func(t *testing.T) {
		d := testDirectory(t)
		dispatcher := model.NewMockModel("dispatcher", "mock")
		dispatcher.SetDefault("I think the best agent would be agent-tech")
		r := New(d, func(o *Options) { o.Dispatcher = dispatcher })

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-super"),
			Input:   "hello",
		})
		assert.False(t, dec.Changed)
		assert.Equal(t, "agent-super", dec.Agent.ID)
	})

	t.Run("Dispatcher failure keeps current", func(t *testing.T) {
		d := testDirectory(t)
		dispatcher := model.NewMockModel("dispatcher", "mock")
		dispatcher.FailWith(errors.New("provider down"))
		r := New(d, func(o *Options) { o.Dispatcher = dispatcher })

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-super"),
			Input:   "hello",
		})
		assert.False(t, dec.Changed)
	})

	t.Run("Empty pool keeps supervisor", func(t *testing.T) {
		agents := testAgents()
		agents[2].Pool = []string{"agent-ghost"}
		d, err := NewInMemoryDirectory(agents...)
		require.NoError(t, err)
		dispatcher := model.NewMockModel("dispatcher", "mock")
		dispatcher.SetDefault("NONE")
		r := New(d, func(o *Options) { o.Dispatcher = dispatcher })

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-super"),
			Input:   "hello",
		})
		assert.False(t, dec.Changed)
		assert.Equal(t, "agent-super", dec.Agent.ID)
	})

	t.Run("Non-supervisor never delegates", func(t *testing.T) {
		d := testDirectory(t)
		dispatcher := model.NewMockModel("dispatcher", "mock")
		dispatcher.SetDefault("agent-tech")
		r := New(d, func(o *Options) { o.Dispatcher = dispatcher })

		dec := r.Route(context.Background(), Request{
			Current: current(t, d, "agent-front"),
			Input:   "my modem is broken",
		})
		assert.False(t, dec.Changed)
		assert.Equal(t, 0, dispatcher.Calls())
	})
}
