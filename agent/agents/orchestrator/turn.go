package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
	metricsx "github.com/tanpawarit/owid-chain/pkg/metrics"
)

// turn is the working state of one Run: the oracle is consulted, tools are
// dispatched one at a time, and the loop ends on a final answer, a
// return-direct tool, a failure or the step limit.
type turn struct {
	query       string
	history     []contractx.Exchange
	steps       []contractx.Step
	oracleSteps int
}

func (o *Orchestrator) runTurn(ctx context.Context, t *turn) envelopex.Envelope {
	if t.query == "" {
		return o.fail(t, fmt.Errorf("%w: query is empty", contractx.ErrValidation))
	}

	for t.oracleSteps < o.cfg.MaxOracleSteps {
		if err := ctx.Err(); err != nil {
			return o.fail(t, err)
		}

		action, err := o.step(ctx, t)
		t.oracleSteps++
		if err != nil {
			return o.fail(t, err)
		}

		switch action.Kind {
		case contractx.ActionFinish:
			return o.finish(t, action)

		case contractx.ActionInvoke:
			desc, ok := o.catalog.Lookup(action.Tool)
			if !ok {
				o.metrics.ObserveToolCall(action.Tool, metricsx.OutcomeUnknown)
				return o.fail(t, fmt.Errorf("%w: %q", contractx.ErrToolNotFound, action.Tool))
			}

			env := o.dispatch(ctx, desc, action.ToolInput).Envelope()
			t.steps = append(t.steps, contractx.Step{
				Action:      action,
				Observation: envelopex.EncodeString(env),
			})
			if desc.ReturnDirect {
				return env
			}

		default:
			return o.fail(t, fmt.Errorf("%w: unknown action kind %q", contractx.ErrOracleOutput, action.Kind))
		}
	}

	return o.fail(t, fmt.Errorf("%w: no final answer after %d steps", contractx.ErrOracleStepLimit, o.cfg.MaxOracleSteps))
}

type stepOutcome struct {
	action contractx.OracleAction
	err    error
}

// step asks the oracle for the next action, bounded by the oracle timeout.
func (o *Orchestrator) step(ctx context.Context, t *turn) (contractx.OracleAction, error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.OracleTimeout)
	defer cancel()

	req := contractx.StepRequest{
		Query:      t.query,
		History:    t.history,
		Tools:      o.catalog.Descriptors(),
		Scratchpad: append([]contractx.Step(nil), t.steps...),
	}

	done := make(chan stepOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepOutcome{err: fmt.Errorf("%w: panic: %v", contractx.ErrOracleInvoke, r)}
			}
		}()
		action, err := o.oracle.Step(stepCtx, req)
		done <- stepOutcome{action: action, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) && !errors.Is(out.err, contractx.ErrOracleTimeout) {
			return contractx.OracleAction{}, fmt.Errorf("%w: %v", contractx.ErrOracleTimeout, out.err)
		}
		log.Debug().
			Str("query", t.query).
			Int("step", t.oracleSteps+1).
			Str("action", string(out.action.Kind)).
			Str("tool", out.action.Tool).
			Err(out.err).
			Msg("agent: oracle step")
		return out.action, out.err
	case <-stepCtx.Done():
		if err := ctx.Err(); err != nil {
			return contractx.OracleAction{}, err
		}
		return contractx.OracleAction{}, fmt.Errorf("%w: no decision within %s", contractx.ErrOracleTimeout, o.cfg.OracleTimeout)
	}
}

// dispatch invokes exactly one tool, bounded by the tool timeout. A timeout
// or panic is reported as a failed result.
func (o *Orchestrator) dispatch(ctx context.Context, desc contractx.ToolDescriptor, input string) contractx.ToolResult {
	toolCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolTimeout)
	defer cancel()

	started := o.now()
	done := make(chan contractx.ToolResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%w: panic: %v", contractx.ErrToolInvocation, r)
				done <- contractx.Fail(desc.Name, err, fmt.Sprintf("%v error found while querying %s", err, input))
			}
		}()
		done <- desc.Tool.Invoke(toolCtx, input)
	}()

	var (
		result  contractx.ToolResult
		outcome string
	)
	select {
	case result = <-done:
		switch {
		case result.OK():
			outcome = metricsx.OutcomeOK
		case result.NotFound():
			outcome = metricsx.OutcomeNotFound
		default:
			outcome = metricsx.OutcomeFailed
		}
	case <-toolCtx.Done():
		outcome = metricsx.OutcomeTimeout
		err := fmt.Errorf("%w: %v", contractx.ErrToolInvocation, toolCtx.Err())
		reason := fmt.Sprintf("%s timed out after %s while querying %s", desc.Name, o.cfg.ToolTimeout, input)
		if ctx.Err() != nil {
			reason = fmt.Sprintf("%s was cancelled while querying %s", desc.Name, input)
		}
		result = contractx.Fail(desc.Name, err, reason)
	}
	if result.Tool == "" {
		result.Tool = desc.Name
	}

	o.metrics.ObserveToolCall(desc.Name, outcome)
	event := log.Info()
	if !result.OK() {
		event = log.Warn().Str("reason", result.Failure.Reason)
	}
	event.
		Str("tool", desc.Name).
		Str("input", input).
		Str("outcome", outcome).
		Dur("duration", o.now().Sub(started)).
		Msg("agent: tool dispatched")

	return result
}

func (o *Orchestrator) finish(t *turn, action contractx.OracleAction) envelopex.Envelope {
	env, err := envelopex.DecodeString(action.Final)
	if err != nil {
		log.Warn().Err(err).Str("query", t.query).Str("final", action.Final).Msg("agent: unparseable final answer")
		return envelopex.Errorf("failed to parse agent response to %q", t.query)
	}
	return env
}

func (o *Orchestrator) fail(t *turn, err error) envelopex.Envelope {
	log.Warn().Err(err).Str("query", t.query).Int("oracle_steps", t.oracleSteps).Msg("agent: turn failed")

	reason := err.Error()
	if errors.Is(err, context.Canceled) {
		reason = "the request was cancelled"
	}
	return envelopex.Errorf("failed to process %q: %s", t.query, reason)
}
