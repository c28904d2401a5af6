package contract

import (
	"errors"
	"strings"
	"time"

	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

type ToolDescriptor struct {
	Name        string
	Description string
	// ReturnDirect ends the turn with the tool's translated result instead of
	// handing it back to the oracle as an observation.
	ReturnDirect bool
	Tool         Tool
}

// Frame is a small tabular preview with ordered columns.
type Frame struct {
	Columns []string
	Rows    [][]any
}

func (f *Frame) Empty() bool {
	return f == nil || len(f.Rows) == 0
}

type Failure struct {
	Reason string
	// Err classifies the failure; it wraps ErrToolInvocation.
	Err error
}

type ToolResult struct {
	Tool     string
	Metadata string
	Preview  *Frame
	// Records is Preview encoded as JSON records, in column order.
	Records []byte
	Failure *Failure
}

func Succeed(tool, metadata string, preview *Frame, records []byte) ToolResult {
	return ToolResult{Tool: tool, Metadata: metadata, Preview: preview, Records: records}
}

func Fail(tool string, err error, reason string) ToolResult {
	if err == nil {
		err = ErrToolInvocation
	}
	return ToolResult{Tool: tool, Failure: &Failure{Reason: reason, Err: err}}
}

func (r ToolResult) OK() bool {
	return r.Failure == nil
}

func (r ToolResult) NotFound() bool {
	return r.Failure != nil && errors.Is(r.Failure.Err, ErrUpstreamNotFound)
}

// Envelope translates the result: success becomes metadata plus the inline
// preview, failure becomes an error carrying the reason.
func (r ToolResult) Envelope() envelopex.Envelope {
	if r.Failure != nil {
		reason := strings.TrimSpace(r.Failure.Reason)
		if reason == "" {
			reason = r.Failure.Err.Error()
		}
		return envelopex.Error(reason)
	}
	return envelopex.MetadataWithData(r.Metadata, r.Records)
}

type ActionKind string

const (
	ActionInvoke ActionKind = "invoke"
	ActionFinish ActionKind = "finish"
)

type OracleAction struct {
	Kind      ActionKind
	Tool      string
	ToolInput string
	// Final is the oracle's closing text, expected to hold a wire envelope.
	Final   string
	Thought string
	// Log is the raw oracle text that produced the action.
	Log string
}

func Invoke(tool, input string) OracleAction {
	return OracleAction{Kind: ActionInvoke, Tool: tool, ToolInput: input}
}

func Finish(text string) OracleAction {
	return OracleAction{Kind: ActionFinish, Final: text}
}

// Step is one oracle decision and, for Invoke, the observation it produced.
type Step struct {
	Action      OracleAction
	Observation string
}

type Exchange struct {
	Query    string
	Envelope envelopex.Envelope
	Notes    []Step
	At       time.Time
}

type StepRequest struct {
	Query      string
	History    []Exchange
	Tools      []ToolDescriptor
	Scratchpad []Step
}
