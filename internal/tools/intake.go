package tools

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/pkg/models"
)

// IntakeStage is one step of the client intake workflow.
type IntakeStage string

const (
	StageRequirements IntakeStage = "requirements"
	StageCompliance   IntakeStage = "compliance"
	StageDocuments    IntakeStage = "documents"
	StageReview       IntakeStage = "review"
	StageComplete     IntakeStage = "complete"
)

// intakeOrder is the fixed stage progression.
var intakeOrder = []IntakeStage{
	StageRequirements,
	StageCompliance,
	StageDocuments,
	StageReview,
	StageComplete,
}

func nextStage(stage IntakeStage) (IntakeStage, bool) {
	for i, s := range intakeOrder {
		if s == stage && i+1 < len(intakeOrder) {
			return intakeOrder[i+1], true
		}
	}
	return stage, false
}

// intakeState is one (tenant, user) workflow instance.
type intakeState struct {
	Stage     IntakeStage                    `json:"stage"`
	Collected map[IntakeStage]map[string]any `json:"collected"`
	StartedAt time.Time                      `json:"started_at"`
	UpdatedAt time.Time                      `json:"updated_at"`
}

// IntakeWorkflow is a stateful tool driving a staged intake process. The
// model advances the workflow stage by stage, attaching collected data to
// each step; state lives per (tenant, user) and survives across sessions
// for the lifetime of the process.
type IntakeWorkflow struct {
	mu     sync.Mutex
	states map[string]*intakeState
	now    func() time.Time
}

// NewIntakeWorkflow creates the intake_workflow tool.
func NewIntakeWorkflow() *IntakeWorkflow {
	return &IntakeWorkflow{
		states: make(map[string]*intakeState),
		now:    time.Now,
	}
}

func (t *IntakeWorkflow) Name() string { return "intake_workflow" }

func (t *IntakeWorkflow) Description() string {
	return "Drive the client intake workflow: start it, advance through requirements, compliance, documents and review stages with collected data, check status, complete, or reset."
}

func (t *IntakeWorkflow) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["start", "advance", "status", "complete", "reset"]},
			"data": {"type": "object", "description": "Data collected for the current stage, used with advance"}
		},
		"required": ["action"]
	}`)
}

func intakeKey(scope models.TenantContext) string {
	return scope.TenantID + "/" + scope.UserID
}

func (t *IntakeWorkflow) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Action string         `json:"action"`
		Data   map[string]any `json:"data"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), "supply an action"), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := intakeKey(scope)
	state := t.states[key]

	switch args.Action {
	case "start":
		if state != nil && state.Stage != StageComplete {
			return errorResult("an intake workflow is already in progress at stage "+string(state.Stage),
				"use status to inspect it, advance to continue, or reset to discard it"), nil
		}
		now := t.now().UTC()
		state = &intakeState{
			Stage:     StageRequirements,
			Collected: make(map[IntakeStage]map[string]any),
			StartedAt: now,
			UpdatedAt: now,
		}
		t.states[key] = state
		return t.statusResult(state)

	case "advance":
		if state == nil {
			return errorResult("no intake workflow in progress", "use start first"), nil
		}
		if state.Stage == StageComplete {
			return errorResult("the workflow is already complete", "use reset to begin a new intake"), nil
		}
		if len(args.Data) > 0 {
			state.Collected[state.Stage] = args.Data
		}
		next, ok := nextStage(state.Stage)
		if !ok {
			return errorResult("cannot advance past "+string(state.Stage), ""), nil
		}
		state.Stage = next
		state.UpdatedAt = t.now().UTC()
		return t.statusResult(state)

	case "status":
		if state == nil {
			return errorResult("no intake workflow in progress", "use start to begin one"), nil
		}
		return t.statusResult(state)

	case "complete":
		if state == nil {
			return errorResult("no intake workflow in progress", "use start first"), nil
		}
		if state.Stage != StageReview && state.Stage != StageComplete {
			return errorResult("the workflow is at stage "+string(state.Stage)+", not review",
				"advance through the remaining stages before completing"), nil
		}
		state.Stage = StageComplete
		state.UpdatedAt = t.now().UTC()
		return t.statusResult(state)

	case "reset":
		delete(t.states, key)
		return resultJSON(map[string]any{"stage": nil, "reset": true})

	default:
		return errorResult("unknown action: "+args.Action,
			"use start, advance, status, complete, or reset"), nil
	}
}

func (t *IntakeWorkflow) statusResult(state *intakeState) (*agent.ToolResult, error) {
	stages := make([]string, len(intakeOrder))
	for i, s := range intakeOrder {
		stages[i] = string(s)
	}
	return resultJSON(map[string]any{
		"stage":      state.Stage,
		"stages":     stages,
		"collected":  state.Collected,
		"started_at": state.StartedAt,
		"updated_at": state.UpdatedAt,
	})
}
