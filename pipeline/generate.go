package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/hupe1980/voicemesh/core"
	"github.com/hupe1980/voicemesh/model"
	"github.com/hupe1980/voicemesh/tool"
)

// maxToolRounds bounds the generate-execute-regenerate loop in tool mode.
const maxToolRounds = 3

// genResult is the outcome of the generation step. Exactly one of text,
// cancelled is meaningful; degraded and failed qualify how text was produced.
type genResult struct {
	text      string
	degraded  bool
	failed    bool
	cancelled bool
	latency   time.Duration

	transferTo     string
	escalateReason string
}

// generate invokes the selected provider under the latency budget. Budget
// exhaustion degrades to a stalling utterance; provider failure (after
// failover) degrades to a generic apology. Neither is an error for the turn.
func (o *Orchestrator) generate(ctx context.Context, h *Handle, snap turnSnapshot, agent core.AgentDescriptor, instructions, input string) genResult {
	budgetCtx, cancel := context.WithTimeout(ctx, o.opts.LatencyBudget)
	defer cancel()

	start := time.Now()
	var res genResult
	switch agent.Mode {
	case core.GenerateWithTools:
		res = o.generateWithTools(budgetCtx, h, snap, agent, instructions, input)
	case core.GeneratePlanned:
		res = o.generatePlanned(budgetCtx, snap, agent, instructions, input)
	default:
		res = o.generateDirect(budgetCtx, snap, agent, instructions, input)
	}
	res.latency = time.Since(start)

	if res.cancelled {
		if ctx.Err() != nil {
			// Barge-in or session shutdown, not a budget problem.
			return res
		}
		if budgetCtx.Err() == context.DeadlineExceeded {
			res.cancelled = false
			res.degraded = true
			res.text = stallFillers[snap.turnIndex%len(stallFillers)]
			o.opts.Logger.Warn("turn.budget_exceeded", "session_id", snap.id, "budget_ms", o.opts.LatencyBudget.Milliseconds())
			return res
		}
	}
	if res.failed {
		o.emit(h, core.NewErrorEvent(snap.id, "generation failed"))
		res.text = apologyText
	}
	return res
}

func (o *Orchestrator) generateDirect(ctx context.Context, snap turnSnapshot, agent core.AgentDescriptor, instructions, input string) genResult {
	resp, err := o.collect(ctx, model.Request{
		Instructions: instructions,
		History:      snap.history,
		Input:        input,
		MaxTokens:    int64(agent.TokenBudget),
	})
	if err != nil {
		return o.classify(ctx, snap, err)
	}
	return genResult{text: resp.Text}
}

// generateWithTools runs the function-calling loop: the model may request
// tool executions; results feed a follow-up generation until the model
// answers in plain text or the round limit is hit.
func (o *Orchestrator) generateWithTools(ctx context.Context, h *Handle, snap turnSnapshot, agent core.AgentDescriptor, instructions, input string) genResult {
	if o.deps.Tools == nil {
		return o.generateDirect(ctx, snap, agent, instructions, input)
	}
	defs := o.deps.Tools.Definitions(agent.Tools)
	if len(defs) == 0 {
		return o.generateDirect(ctx, snap, agent, instructions, input)
	}

	var result genResult
	for round := 0; round < maxToolRounds; round++ {
		resp, err := o.collect(ctx, model.Request{
			Instructions: instructions,
			History:      snap.history,
			Input:        input,
			Tools:        defs,
			MaxTokens:    int64(agent.TokenBudget),
		})
		if err != nil {
			return o.classify(ctx, snap, err)
		}
		if len(resp.ToolCalls) == 0 {
			result.text = resp.Text
			return result
		}

		var results []string
		for _, call := range resp.ToolCalls {
			o.emit(h, core.NewToolCallEvent(snap.id, call.Function.Name, string(call.Function.Arguments)))

			if o.deps.Tools.RequiresApproval(call.Function.Name) {
				if o.deps.Intervene != nil {
					o.deps.Intervene.Defer(snap.id, call.Function.Name, string(call.Function.Arguments))
				}
				o.logToolCall(snap.id, call, "pending_approval")
				result.text = deferredApprovalText
				return result
			}

			tc := tool.NewContext(ctx, snap.id, agent.ID, call.ID, o.opts.Logger, o.deps.Memory)
			output, execErr := o.deps.Tools.Execute(tc, call)
			if execErr != nil {
				o.opts.Logger.Warn("turn.tool_failed", "session_id", snap.id, "tool", call.Function.Name, "error", execErr.Error())
				output = `{"error":"` + call.Function.Name + ` failed"}`
			}
			o.logToolCall(snap.id, call, output)
			results = append(results, call.Function.Name+": "+output)

			if target, requested := tc.TransferTarget(); requested {
				result.transferTo = target
			}
			if reason, requested := tc.EscalationRequested(); requested {
				result.escalateReason = reason
			}
		}

		instructions += "\n\nTool results:\n- " + strings.Join(results, "\n- ")
	}

	// Round limit reached with the model still asking for tools.
	result.text = "I wasn't able to finish that lookup. Could you rephrase your question?"
	return result
}

// generatePlanned asks for a short plan first, then answers with the plan
// in context. Both calls share the turn's latency budget.
func (o *Orchestrator) generatePlanned(ctx context.Context, snap turnSnapshot, agent core.AgentDescriptor, instructions, input string) genResult {
	plan, err := o.collect(ctx, model.Request{
		Instructions: instructions + "\n\nDraft a concise numbered plan for answering the caller. Output only the plan.",
		History:      snap.history,
		Input:        input,
		MaxTokens:    int64(agent.TokenBudget),
	})
	if err != nil {
		return o.classify(ctx, snap, err)
	}

	resp, err := o.collect(ctx, model.Request{
		Instructions: instructions + "\n\nFollow this plan when answering:\n" + plan.Text,
		History:      snap.history,
		Input:        input,
		MaxTokens:    int64(agent.TokenBudget),
	})
	if err != nil {
		return o.classify(ctx, snap, err)
	}
	return genResult{text: resp.Text}
}

func (o *Orchestrator) collect(ctx context.Context, req model.Request) (model.Response, error) {
	respCh, errCh := o.deps.Model.Generate(ctx, req)
	return model.Collect(ctx, respCh, errCh)
}

// classify separates cancellation (barge-in, budget) from provider failure.
func (o *Orchestrator) classify(ctx context.Context, snap turnSnapshot, err error) genResult {
	if ctx.Err() != nil {
		return genResult{cancelled: true}
	}
	o.opts.Logger.Error("turn.generation_failed", "session_id", snap.id, "error", err.Error())
	return genResult{failed: true}
}

func (o *Orchestrator) logToolCall(sessionID string, call model.ToolCall, result string) {
	rec := core.ToolCallRecord{
		Tool:      call.Function.Name,
		Arguments: string(call.Function.Arguments),
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
	if err := o.deps.Store.LogToolCall(sessionID, rec); err != nil {
		o.opts.Logger.Warn("turn.tool_log_failed", "session_id", sessionID, "error", err.Error())
	}
}
