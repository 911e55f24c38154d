package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/while-basic/celaya-parachain-sub000/internal/agents"
	"github.com/while-basic/celaya-parachain-sub000/internal/cognition"
	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
	"github.com/while-basic/celaya-parachain-sub000/internal/stream"
)

const goodOutput = "<thinking>\nweighing the available evidence carefully\n</thinking>\n1. first point\n2. second point\n3. third point\n"

func newDefinition(phases int, agentNames ...string) *cognition.Definition {
	def := &cognition.Definition{
		ID:        "test-def",
		Name:      "Test Cognition",
		Category:  cognition.CategoryCustom,
		RiskLevel: cognition.RiskLow,
	}
	for _, n := range agentNames {
		def.Participants = append(def.Participants, cognition.Participant{Name: n, Role: "tester", TrustScore: 0.8})
	}
	for i := 0; i < phases; i++ {
		def.Phases = append(def.Phases, cognition.Phase{
			ID:      fmt.Sprintf("p%d", i+1),
			Name:    fmt.Sprintf("Phase %d", i+1),
			Actions: []string{"do the thing"},
		})
	}
	return def
}

// scripted answers goodOutput unless fn overrides the call.
func scripted(fn func(ctx context.Context, req agents.Request) (agents.Invocation, error, bool)) agents.Invoker {
	return agents.InvokerFunc(func(ctx context.Context, req agents.Request) (agents.Invocation, error) {
		if fn != nil {
			if inv, err, handled := fn(ctx, req); handled {
				return inv, err
			}
		}
		return agents.Invocation{Output: goodOutput, Model: "scripted"}, nil
	})
}

type runResult struct {
	rec    *execution.Record
	events []stream.Event
	err    error
}

func runWith(t *testing.T, o *Orchestrator, def *cognition.Definition, maxBuffered int) runResult {
	t.Helper()
	rec := execution.NewStore().Create(def)
	ch := stream.NewChannel(rec.ID(), maxBuffered)
	h := NewHandle(rec, ch, nil)
	err := o.Execute(context.Background(), h)
	ch.Close()
	return runResult{rec: rec, events: drain(t, ch), err: err}
}

func drain(t *testing.T, ch *stream.Channel) []stream.Event {
	t.Helper()
	sub, err := ch.Subscribe(context.Background())
	require.NoError(t, err)
	var out []stream.Event
	for ev := range sub {
		out = append(out, ev)
	}
	return out
}

func ofType(events []stream.Event, typ stream.Type) []stream.Event {
	var out []stream.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func testOrchestrator(inv agents.Invoker) *Orchestrator {
	return New(inv, Config{DefaultTimeout: 10 * time.Second, AgentTimeout: 5 * time.Second}, nil)
}

func TestExecute_ThreePhasesAllSucceed(t *testing.T) {
	def := newDefinition(3, "A", "B")
	res := runWith(t, testOrchestrator(scripted(nil)), def, 0)
	require.NoError(t, res.err)

	snap := res.rec.Snapshot()
	assert.Equal(t, execution.StatusCompleted, snap.Status)
	assert.Equal(t, 100.0, snap.Progress)
	require.Len(t, snap.PhaseResults, 3)
	for i, r := range snap.PhaseResults {
		assert.Equal(t, fmt.Sprintf("p%d", i+1), r.PhaseID)
		assert.Equal(t, execution.PhaseStatusCompleted, r.Status)
		assert.Len(t, r.Contributions, 2)
		assert.False(t, r.Degraded())
	}

	assert.Equal(t, stream.TypeStart, res.events[0].Type)
	assert.Equal(t, stream.TypeComplete, res.events[len(res.events)-1].Type)
	assert.Len(t, ofType(res.events, stream.TypePhaseStart), 3)

	completes := ofType(res.events, stream.TypePhaseComplete)
	require.Len(t, completes, 3)
	for _, ev := range completes {
		var d stream.PhaseCompleteData
		require.NoError(t, ev.Decode(&d))
		assert.Less(t, d.Progress, 100.0)
	}
	var done stream.CompleteData
	require.NoError(t, res.events[len(res.events)-1].Decode(&done))
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, 3, done.PhasesCompleted)

	for i := 1; i < len(res.events); i++ {
		assert.Equal(t, res.events[i-1].Seq+1, res.events[i].Seq)
	}
}

func TestExecute_PhaseEventsDoNotInterleave(t *testing.T) {
	def := newDefinition(3, "A", "B", "C")
	res := runWith(t, testOrchestrator(scripted(nil)), def, 0)
	require.NoError(t, res.err)

	current := ""
	for _, ev := range res.events {
		switch ev.Type {
		case stream.TypePhaseStart:
			var d stream.PhaseStartData
			require.NoError(t, ev.Decode(&d))
			assert.Empty(t, current, "phase %s started before %s completed", d.PhaseID, current)
			current = d.PhaseID
		case stream.TypePhaseComplete:
			var d stream.PhaseCompleteData
			require.NoError(t, ev.Decode(&d))
			assert.Equal(t, current, d.PhaseID)
			current = ""
		case stream.TypeAgentThought:
			var d stream.AgentThoughtData
			require.NoError(t, ev.Decode(&d))
			assert.Equal(t, current, d.PhaseID)
		}
	}
}

func TestExecute_PerAgentEventOrder(t *testing.T) {
	def := newDefinition(1, "A", "B", "C")
	res := runWith(t, testOrchestrator(scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
		if req.Participant.Name == "B" {
			return agents.Invocation{}, errors.New("boom"), true
		}
		return agents.Invocation{}, nil, false
	})), def, 0)
	require.NoError(t, res.err)

	rank := map[stream.Type]int{
		stream.TypeAgentModel:       0,
		stream.TypeAgentThinking:    1,
		stream.TypeAgentError:       1,
		stream.TypeAgentThought:     2,
		stream.TypeAgentPerformance: 3,
	}
	last := map[string]int{}
	for _, ev := range res.events {
		r, ok := rank[ev.Type]
		if !ok {
			continue
		}
		var d struct {
			Agent string `json:"agent"`
		}
		require.NoError(t, ev.Decode(&d))
		prev, seen := last[d.Agent]
		if seen {
			assert.GreaterOrEqual(t, r, prev, "agent %s: %s out of order", d.Agent, ev.Type)
		}
		last[d.Agent] = r
	}
	assert.Len(t, last, 3)
}

func TestExecute_AgentErrorStillCompletes(t *testing.T) {
	def := newDefinition(3, "A", "B")
	res := runWith(t, testOrchestrator(scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
		if req.PhaseIndex == 1 && req.Participant.Name == "B" {
			return agents.Invocation{}, errors.New("model unavailable"), true
		}
		return agents.Invocation{}, nil, false
	})), def, 0)
	require.NoError(t, res.err)

	snap := res.rec.Snapshot()
	assert.Equal(t, execution.StatusCompleted, snap.Status)
	require.Len(t, snap.PhaseResults, 3)

	b := snap.PhaseResults[1].Contributions["B"]
	assert.True(t, b.Degraded)
	assert.Equal(t, 0.0, b.Performance)
	assert.NotEmpty(t, b.Thoughts)
	assert.Contains(t, b.Error, "model unavailable")
	assert.Contains(t, snap.PhaseResults[1].Output, "(fallback)")

	var warned bool
	for _, e := range snap.Log {
		if e.Severity == execution.SeverityWarning && e.Agent == "B" {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning log entry naming agent B")

	errs := ofType(res.events, stream.TypeAgentError)
	require.Len(t, errs, 1)
	var d stream.AgentErrorData
	require.NoError(t, errs[0].Decode(&d))
	assert.Equal(t, "B", d.Agent)
	assert.Equal(t, "p2", d.PhaseID)

	fallback := 0
	for _, ev := range ofType(res.events, stream.TypeAgentThought) {
		var t2 stream.AgentThoughtData
		require.NoError(t, ev.Decode(&t2))
		if t2.Fallback {
			fallback++
		}
	}
	assert.Equal(t, len(b.Thoughts), fallback)
}

func TestExecute_EmptyOutputDegrades(t *testing.T) {
	def := newDefinition(1, "A")
	res := runWith(t, testOrchestrator(scripted(func(context.Context, agents.Request) (agents.Invocation, error, bool) {
		return agents.Invocation{Output: "   "}, nil, true
	})), def, 0)
	require.NoError(t, res.err)
	assert.True(t, res.rec.Snapshot().PhaseResults[0].Contributions["A"].Degraded)
}

func TestExecute_Quorum(t *testing.T) {
	tests := []struct {
		name      string
		failing   int
		wantErr   bool
		wantPhase execution.PhaseStatus
	}{
		{"one of four succeeds", 3, true, execution.PhaseStatusFailed},
		{"two of four succeed", 2, false, execution.PhaseStatusCompleted},
		{"all succeed", 0, false, execution.PhaseStatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := newDefinition(2, "A", "B", "C", "D")
			def.Security = &cognition.SecurityHooks{Quorum: &cognition.QuorumPolicy{Fraction: 0.5, Phases: []string{"p1"}}}
			failing := map[string]bool{}
			for _, n := range []string{"A", "B", "C", "D"}[:tt.failing] {
				failing[n] = true
			}

			res := runWith(t, testOrchestrator(scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
				if failing[req.Participant.Name] {
					return agents.Invocation{}, errors.New("refused"), true
				}
				return agents.Invocation{}, nil, false
			})), def, 0)

			snap := res.rec.Snapshot()
			require.NotEmpty(t, snap.PhaseResults)
			assert.Equal(t, tt.wantPhase, snap.PhaseResults[0].Status)
			if !tt.wantErr {
				require.NoError(t, res.err)
				assert.Equal(t, execution.StatusCompleted, snap.Status)
				return
			}

			assert.ErrorIs(t, res.err, ErrQuorum)
			var qf *PhaseQuorumFailure
			require.ErrorAs(t, res.err, &qf)
			assert.Equal(t, 2, qf.Required)
			assert.Equal(t, 1, qf.Succeeded)
			assert.Equal(t, execution.StatusFailed, snap.Status)
			assert.Equal(t, execution.ReasonQuorum, snap.Reason)
			assert.Len(t, snap.PhaseResults, 1, "no results for phases that never ran")
			assert.Equal(t, execution.SeverityError, snap.Log[len(snap.Log)-1].Severity)

			last := res.events[len(res.events)-1]
			assert.Equal(t, stream.TypeError, last.Type)
			var d stream.ErrorData
			require.NoError(t, last.Decode(&d))
			assert.Equal(t, "quorum", d.Reason)
		})
	}
}

func TestExecute_GlobalTimeout(t *testing.T) {
	def := newDefinition(3, "A", "B")
	def.Timeout = config.Duration(50 * time.Millisecond)

	slow := scripted(func(ctx context.Context, _ agents.Request) (agents.Invocation, error, bool) {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return agents.Invocation{}, ctx.Err(), true
	})
	start := time.Now()
	res := runWith(t, testOrchestrator(slow), def, 0)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.ErrorIs(t, res.err, ErrTimeout)
	snap := res.rec.Snapshot()
	assert.Equal(t, execution.StatusFailed, snap.Status)
	assert.Equal(t, execution.ReasonTimeout, snap.Reason)
	assert.Empty(t, snap.PhaseResults)
	assert.Len(t, ofType(res.events, stream.TypePhaseStart), 1)

	last := res.events[len(res.events)-1]
	require.Equal(t, stream.TypeError, last.Type)
	var d stream.ErrorData
	require.NoError(t, last.Decode(&d))
	assert.Equal(t, "timeout", d.Reason)
}

func TestExecute_AgentTimeoutDegradesOnly(t *testing.T) {
	def := newDefinition(2, "A", "Slow")
	def.AgentTimeout = config.Duration(30 * time.Millisecond)

	block := make(chan struct{})
	defer close(block)
	inv := scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
		if req.Participant.Name == "Slow" {
			<-block // ignores ctx entirely
			return agents.Invocation{}, nil, true
		}
		return agents.Invocation{}, nil, false
	})

	res := runWith(t, testOrchestrator(inv), def, 0)
	require.NoError(t, res.err)
	snap := res.rec.Snapshot()
	assert.Equal(t, execution.StatusCompleted, snap.Status)
	for _, r := range snap.PhaseResults {
		slow := r.Contributions["Slow"]
		assert.True(t, slow.Degraded)
		assert.Contains(t, slow.Error, "timed out")
		assert.False(t, r.Contributions["A"].Degraded)
	}
}

func TestExecute_CancelStopsFurtherPhases(t *testing.T) {
	def := newDefinition(3, "A")
	entered := make(chan struct{})
	var once sync.Once
	inv := scripted(func(ctx context.Context, req agents.Request) (agents.Invocation, error, bool) {
		if req.PhaseIndex == 1 {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			return agents.Invocation{}, ctx.Err(), true
		}
		return agents.Invocation{}, nil, false
	})

	rec := execution.NewStore().Create(def)
	ch := stream.NewChannel(rec.ID(), 0)
	h := NewHandle(rec, ch, nil)
	o := testOrchestrator(inv)

	errCh := make(chan error, 1)
	go func() { errCh <- o.Execute(context.Background(), h) }()

	<-entered
	require.NoError(t, h.Cancel())
	cancelledAt := ch.Buffered()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	ch.Close()
	events := drain(t, ch)

	assert.Len(t, events, cancelledAt, "nothing emitted after cancel")
	assert.Len(t, ofType(events, stream.TypePhaseStart), 2)
	last := events[len(events)-1]
	assert.Equal(t, stream.TypeError, last.Type)

	snap := rec.Snapshot()
	assert.Equal(t, execution.StatusCancelled, snap.Status)
	assert.Equal(t, execution.ReasonCancelled, snap.Reason)
	assert.Len(t, snap.PhaseResults, 1)

	assert.NoError(t, h.Cancel(), "cancel is idempotent")
}

func TestExecute_CancelBeforeStart(t *testing.T) {
	rec := execution.NewStore().Create(newDefinition(1, "A"))
	ch := stream.NewChannel(rec.ID(), 0)
	h := NewHandle(rec, ch, nil)
	require.NoError(t, h.Cancel())

	var calls atomic.Int32
	o := testOrchestrator(scripted(func(context.Context, agents.Request) (agents.Invocation, error, bool) {
		calls.Add(1)
		return agents.Invocation{}, nil, false
	}))
	assert.ErrorIs(t, o.Execute(context.Background(), h), ErrCancelled)
	assert.Zero(t, calls.Load())
	assert.Equal(t, execution.StatusCancelled, rec.Status())
}

func TestHandle_CancelAfterTerminal(t *testing.T) {
	res := runWith(t, testOrchestrator(scripted(nil)), newDefinition(1, "A"), 0)
	require.NoError(t, res.err)
	h := NewHandle(res.rec, stream.NewChannel(res.rec.ID(), 0), nil)
	assert.ErrorIs(t, h.Cancel(), execution.ErrTerminal)
}

func TestExecute_ParentContextCancelled(t *testing.T) {
	def := newDefinition(2, "A")
	ctx, cancel := context.WithCancel(context.Background())
	inv := scripted(func(ictx context.Context, _ agents.Request) (agents.Invocation, error, bool) {
		cancel()
		<-ictx.Done()
		return agents.Invocation{}, ictx.Err(), true
	})

	rec := execution.NewStore().Create(def)
	ch := stream.NewChannel(rec.ID(), 0)
	err := testOrchestrator(inv).Execute(ctx, NewHandle(rec, ch, nil))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, execution.StatusCancelled, rec.Status())
}

func TestExecute_InvokerPanicFailsWithError(t *testing.T) {
	def := newDefinition(2, "A", "B")
	res := runWith(t, testOrchestrator(scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
		if req.Participant.Name == "B" {
			panic("nil map write")
		}
		return agents.Invocation{}, nil, false
	})), def, 0)

	assert.ErrorIs(t, res.err, ErrInternal)
	snap := res.rec.Snapshot()
	assert.Equal(t, execution.StatusFailed, snap.Status)
	assert.Equal(t, execution.ReasonError, snap.Reason)
	assert.Contains(t, snap.Error, "nil map write")
}

func TestExecute_MinTrustGate(t *testing.T) {
	t.Run("low trust agent skipped", func(t *testing.T) {
		def := newDefinition(1, "A", "B")
		def.Participants[1].TrustScore = 0.2
		def.Security = &cognition.SecurityHooks{MinTrustScore: 0.5}

		var invoked sync.Map
		res := runWith(t, testOrchestrator(scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
			invoked.Store(req.Participant.Name, true)
			return agents.Invocation{}, nil, false
		})), def, 0)
		require.NoError(t, res.err)

		_, calledB := invoked.Load("B")
		assert.False(t, calledB)
		snap := res.rec.Snapshot()
		assert.Len(t, snap.PhaseResults[0].Contributions, 1)

		var warned bool
		for _, e := range snap.Log {
			if e.Severity == execution.SeverityWarning && e.Agent == "B" {
				warned = true
			}
		}
		assert.True(t, warned)
	})

	t.Run("no eligible agents skips phase", func(t *testing.T) {
		def := newDefinition(2, "A")
		def.Participants[0].TrustScore = 0.1
		def.Security = &cognition.SecurityHooks{MinTrustScore: 0.5}

		res := runWith(t, testOrchestrator(scripted(nil)), def, 0)
		require.NoError(t, res.err)
		snap := res.rec.Snapshot()
		assert.Equal(t, execution.StatusCompleted, snap.Status)
		require.Len(t, snap.PhaseResults, 2)
		assert.Equal(t, execution.PhaseStatusSkipped, snap.PhaseResults[0].Status)
		assert.Equal(t, 100.0, snap.Progress)
	})

	t.Run("refused agents count against quorum", func(t *testing.T) {
		def := newDefinition(1, "A", "B")
		def.Participants[1].TrustScore = 0.1
		def.Security = &cognition.SecurityHooks{
			MinTrustScore: 0.5,
			Quorum:        &cognition.QuorumPolicy{Fraction: 1},
		}
		res := runWith(t, testOrchestrator(scripted(nil)), def, 0)
		assert.ErrorIs(t, res.err, ErrQuorum)
	})
}

func TestExecute_Backpressure(t *testing.T) {
	def := newDefinition(3, "A", "B")
	res := runWith(t, testOrchestrator(scripted(nil)), def, 5)

	assert.ErrorIs(t, res.err, ErrBackpressure)
	var bp *ConsumerBackpressureError
	require.ErrorAs(t, res.err, &bp)
	snap := res.rec.Snapshot()
	assert.Equal(t, execution.StatusFailed, snap.Status)
	assert.Equal(t, execution.ReasonBackpressure, snap.Reason)
	assert.Less(t, len(snap.PhaseResults), 3)
}

func TestExecute_RecapGoesToTarget(t *testing.T) {
	def := newDefinition(1, "A", "B")
	def.Memory.RecapTarget = "B"

	var mu sync.Mutex
	recaps := map[string][]string{}
	inv := scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
		mu.Lock()
		recaps[req.Participant.Name] = req.Recap
		mu.Unlock()
		return agents.Invocation{}, nil, false
	})

	rec := execution.NewStore().Create(def)
	ch := stream.NewChannel(rec.ID(), 0, stream.WithDiscard())
	require.NoError(t, testOrchestrator(inv).Execute(context.Background(), NewHandle(rec, ch, []string{"remember this"})))

	assert.Nil(t, recaps["A"])
	assert.Equal(t, []string{"remember this"}, recaps["B"])
}

func TestExecute_InvalidDefinitionFailsWithError(t *testing.T) {
	def := newDefinition(1, "A")
	def.Phases[0].Actions = nil
	res := runWith(t, testOrchestrator(scripted(nil)), def, 0)
	assert.ErrorIs(t, res.err, ErrInternal)
	assert.NotErrorIs(t, res.err, cognition.ErrValidation)
	var verr *cognition.ValidationError
	assert.False(t, errors.As(res.err, &verr))
	assert.Equal(t, execution.ReasonError, res.rec.Snapshot().Reason)
}

// phaseBan refuses one agent in one phase.
type phaseBan struct {
	phaseID string
	agent   string
}

func (g phaseBan) Name() string { return "phase-ban" }

func (g phaseBan) Admit(_ *cognition.Definition, phase cognition.Phase, p cognition.Participant) (bool, string) {
	if phase.ID == g.phaseID && p.Name == g.agent {
		return false, "banned from " + phase.ID
	}
	return true, ""
}

func TestExecute_CustomGate(t *testing.T) {
	def := newDefinition(2, "A", "B")

	var mu sync.Mutex
	calls := map[string][]string{}
	inv := scripted(func(_ context.Context, req agents.Request) (agents.Invocation, error, bool) {
		mu.Lock()
		calls[req.Phase.ID] = append(calls[req.Phase.ID], req.Participant.Name)
		mu.Unlock()
		return agents.Invocation{}, nil, false
	})
	o := New(inv, Config{DefaultTimeout: 10 * time.Second, AgentTimeout: 5 * time.Second}, nil,
		WithGate(phaseBan{phaseID: "p2", agent: "B"}))

	res := runWith(t, o, def, 0)
	require.NoError(t, res.err)

	assert.ElementsMatch(t, []string{"A", "B"}, calls["p1"])
	assert.Equal(t, []string{"A"}, calls["p2"])

	snap := res.rec.Snapshot()
	require.Len(t, snap.PhaseResults, 2)
	assert.Len(t, snap.PhaseResults[0].Contributions, 2)
	assert.Len(t, snap.PhaseResults[1].Contributions, 1)

	var refusal string
	for _, e := range snap.Log {
		if e.Severity == execution.SeverityWarning && e.Agent == "B" {
			refusal = e.Message
		}
	}
	assert.Contains(t, refusal, "banned from p2")
}

func TestPerformance(t *testing.T) {
	tests := []struct {
		name string
		c    execution.Contribution
		want float64
	}{
		{"degraded", execution.Contribution{Degraded: true, Thoughts: []string{"a"}}, 0},
		{"one thought", execution.Contribution{Thoughts: []string{"a"}}, 0.6},
		{"full", execution.Contribution{Thoughts: []string{"a", "b", "c", "d"}, Thinking: []string{"x", "y", "z"}}, 1},
		{"no thinking", execution.Contribution{Thoughts: []string{"a", "b", "c"}}, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Performance(tt.c), 1e-9)
		})
	}
}

func TestTimeoutError_Messages(t *testing.T) {
	agent := &TimeoutError{Scope: ScopeAgent, Limit: time.Second, PhaseID: "p", Agent: "A"}
	assert.Contains(t, agent.Error(), "agent A timed out")
	global := &TimeoutError{Scope: ScopeGlobal, Limit: time.Minute}
	assert.Equal(t, "execution timed out after 1m0s", global.Error())
	assert.ErrorIs(t, agent, ErrTimeout)

	aerr := &AgentInvocationError{Agent: "A", PhaseID: "p", Err: agent}
	assert.ErrorIs(t, aerr, ErrAgentInvocation)
	assert.ErrorIs(t, aerr, ErrTimeout)
}
