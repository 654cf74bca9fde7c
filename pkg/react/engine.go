package react

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/solvr-ai/solvr/pkg/llm"
	"github.com/solvr-ai/solvr/pkg/models"
	"github.com/solvr-ai/solvr/pkg/ratelimit"
	"github.com/solvr-ai/solvr/pkg/react/prompt"
	"github.com/solvr-ai/solvr/pkg/tools"
)

// Default loop parameters.
const (
	DefaultMaxThoughtCycles = 10
	DefaultMaxRetries       = 2

	// stepsPerCycle bounds one full Thought/Action/Observation/FinalAnswer
	// round, so max_steps = cycles * stepsPerCycle.
	stepsPerCycle = 4

	// loopWindow is how many trailing steps loop detection inspects.
	loopWindow = 8
)

// DefaultCompletionPhrases flag thoughts that claim the task is done.
// Repeated claims without a final answer indicate the model is stuck.
var DefaultCompletionPhrases = []string{
	"problem has been",
	"task is complete",
	"already provided",
	"no further steps",
	"solved",
	"finished",
}

// Options tunes one engine instance.
type Options struct {
	MaxThoughtCycles  int
	MaxRetries        int
	Planning          bool
	CompletionPhrases []string
}

func (o *Options) defaults() {
	if o.MaxThoughtCycles <= 0 {
		o.MaxThoughtCycles = DefaultMaxThoughtCycles
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if len(o.CompletionPhrases) == 0 {
		o.CompletionPhrases = DefaultCompletionPhrases
	}
}

// Engine drives the Reason-Act-Observe loop for one query at a time.
// It is stateless between runs; all per-run state lives in a State
// owned by the SolveStream goroutine.
type Engine struct {
	provider llm.Provider
	model    string
	limiter  *ratelimit.Limiter
	registry *tools.Registry
	parser   *ActionParser
	logger   *slog.Logger
	opts     Options

	now func() time.Time
}

// NewEngine creates an engine over the given provider and tool registry.
func NewEngine(provider llm.Provider, model string, limiter *ratelimit.Limiter, registry *tools.Registry, logger *slog.Logger, opts Options) *Engine {
	opts.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider: provider,
		model:    model,
		limiter:  limiter,
		registry: registry,
		parser:   NewActionParser(registry.Names()),
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// SolveStream runs the loop for query and returns the event stream.
// The channel is closed after the terminal end event. runCtx may carry
// "system_prompt_override", "skip_default_prompt" and "system_context".
func (e *Engine) SolveStream(ctx context.Context, query string, runCtx map[string]any) <-chan models.Event {
	events := make(chan models.Event, 16)
	go func() {
		defer close(events)
		e.run(ctx, query, runCtx, events)
	}()
	return events
}

func (e *Engine) run(ctx context.Context, query string, runCtx map[string]any, events chan<- models.Event) {
	state := NewState(query, e.opts.MaxThoughtCycles*stepsPerCycle, runCtx)
	sess := llm.NewChatSession(e.provider, e.model, e.limiter, e.systemPrompt(runCtx))

	emit := func(ev models.Event) bool {
		ev.Timestamp = e.now()
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	start := e.now()
	e.logger.Info("run started", "model", e.model, "query_len", len(query))
	if !emit(models.Event{Type: models.EventStart, Query: query}) {
		return
	}

	defer func() {
		e.logger.Info("run finished",
			"completed", state.Completed,
			"steps", state.StepCount(),
			"duration", e.now().Sub(start).Round(time.Millisecond),
			"error", state.Err)
	}()

	if e.opts.Planning {
		e.planningPass(ctx, sess, state, emit)
	}

	for state.ShouldContinue() {
		if ctx.Err() != nil {
			state.Err = ctx.Err().Error()
			break
		}
		if e.detectLoop(state) {
			e.logger.Warn("loop detected, forcing completion", "steps", state.StepCount())
			e.forceCompletion(state)
			break
		}

		var err error
		switch e.nextStepType(state) {
		case StepThought:
			err = e.stepThought(ctx, sess, state, emit)
		case StepAction:
			err = e.stepAction(ctx, sess, state, emit)
		case StepObservation:
			err = e.stepObservation(ctx, sess, state, emit)
		case StepFinalAnswer:
			err = e.stepFinalAnswer(ctx, sess, state)
		}
		if err != nil {
			state.Err = err.Error()
			break
		}

		if !state.Completed && state.StepCount() >= state.MaxSteps {
			e.logger.Warn("step limit reached, forcing completion", "max_steps", state.MaxSteps)
			e.forceCompletion(state)
			break
		}
	}

	if state.Err != "" {
		e.logger.Error("run failed", "error", state.Err)
		emit(models.Event{Type: models.EventError, Error: state.Err, Content: state.Err})
	} else {
		if !state.Completed {
			e.forceCompletion(state)
		}
		success := state.Completed
		emit(models.Event{Type: models.EventFinalAnswer, Content: state.FinalAnswer, Success: &success})
	}
	emit(models.Event{Type: models.EventEnd})
}

// systemPrompt resolves the first turn from the run context.
func (e *Engine) systemPrompt(runCtx map[string]any) string {
	if override, ok := runCtx["system_prompt_override"].(string); ok && override != "" {
		return override
	}
	if skip, _ := runCtx["skip_default_prompt"].(bool); skip {
		if sysCtx, ok := runCtx["system_context"].(string); ok && sysCtx != "" {
			return sysCtx
		}
		return prompt.MinimalSystemPrompt
	}
	return prompt.BuildSystemPrompt(e.now(), e.toolInfos())
}

func (e *Engine) toolInfos() []prompt.ToolInfo {
	var infos []prompt.ToolInfo
	for _, t := range e.registry.List() {
		infos = append(infos, prompt.ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return infos
}

// planningPass asks for a prose plan, emits it as a staged thought and
// then prunes the exchange so it does not count as dialogue.
func (e *Engine) planningPass(ctx context.Context, sess *llm.ChatSession, state *State, emit func(models.Event) bool) {
	resp, err := e.send(ctx, sess, prompt.BuildPlanningPrompt(state.Query, e.toolInfos()))
	if err != nil {
		e.logger.Warn("planning pass failed, continuing without a plan", "error", err)
		return
	}
	plan := prompt.StripTrailingToolCall(prompt.ParseResponse(resp)["thought"])
	if plan == "" {
		return
	}
	state.SetPlan(plan)
	emit(models.Event{Type: models.EventThought, Content: plan, Metadata: map[string]any{"stage": "plan"}})
	sess.PruneLastExchange()
}

// nextStepType implements the step alternation: Thought leads, Action
// follows Thought, Observation follows Action, and after an Observation
// the completion gate picks between FinalAnswer and another Thought.
func (e *Engine) nextStepType(state *State) StepType {
	last := state.LastStep()
	if last == nil {
		return StepThought
	}
	switch last.Type() {
	case StepThought:
		return StepAction
	case StepAction:
		return StepObservation
	case StepObservation:
		if e.shouldProvideFinalAnswer(state) {
			return StepFinalAnswer
		}
		return StepThought
	default:
		return StepFinalAnswer
	}
}

func (e *Engine) stepThought(ctx context.Context, sess *llm.ChatSession, state *State, emit func(models.Event) bool) error {
	cycle := state.CountType(StepThought) + 1
	resp, err := e.send(ctx, sess, prompt.BuildThoughtPrompt(state.Query, cycle, e.opts.MaxThoughtCycles))
	if err != nil {
		return fmt.Errorf("thought step: %w", err)
	}
	content := prompt.ParseResponse(resp)["thought"]
	state.AddThought(content, nil)
	emit(models.Event{Type: models.EventThought, Content: content})
	return nil
}

func (e *Engine) stepAction(ctx context.Context, sess *llm.ChatSession, state *State, emit func(models.Event) bool) error {
	resp, err := e.send(ctx, sess, prompt.BuildActionPrompt(e.now()))
	if err != nil {
		return fmt.Errorf("action step: %w", err)
	}
	name, args := e.parser.ParseAction(resp)
	if name == "" && looksLikeToolCall(resp) {
		e.logger.Warn("action parse failed, trying emergency scan", "raw_len", len(resp))
		if fallback := e.parser.EmergencyParse(resp); fallback != "" {
			name, args = fallback, map[string]any{}
		}
	}
	state.AddAction(resp, name, args)
	emit(models.Event{Type: models.EventAction, Content: resp, Tool: name, ToolInput: args})
	return nil
}

func (e *Engine) stepObservation(ctx context.Context, sess *llm.ChatSession, state *State, emit func(models.Event) bool) error {
	action, ok := state.LastStep().(Action)
	if !ok {
		return fmt.Errorf("observation step: last step is not an action")
	}

	if action.ToolName == "" {
		return e.observeNonTool(ctx, sess, state, action, emit)
	}

	res := e.registry.Execute(ctx, action.ToolName, action.ToolInput)

	var (
		content string
		output  any
	)
	keptResult := res
	obsErr := res.Error

	if ov, isOverride := res.Value.(*tools.Override); isOverride {
		if ov.Error != "" {
			obsErr = ov.Error
		}
		if ov.StoreOutput {
			output = ov.Data
		}
		if !ov.StoreResult {
			keptResult = nil
		}
		if ov.SkipLLM {
			content = ov.ObservationText
		} else {
			summarized, err := e.summarize(ctx, sess, action.ToolName, res.Success, ov.ObservationText, obsErr)
			if err != nil {
				return err
			}
			content = summarized
		}
	} else {
		output = res.Value
		summarized, err := e.summarize(ctx, sess, action.ToolName, res.Success, stringify(res.Value), res.Error)
		if err != nil {
			return err
		}
		content = summarized
	}

	state.AddObservation(content, output, keptResult, obsErr)
	ev := models.Event{
		Type:       models.EventObservation,
		Content:    content,
		ToolOutput: output,
		Error:      obsErr,
	}
	if keptResult != nil {
		ev.ToolResult = keptResult
	}
	emit(ev)
	return nil
}

// observeNonTool handles actions that did not resolve to a tool. Text
// that looks like a broken tool call is fed back to the model as a
// failure; plain prose is recorded without an LLM round trip.
func (e *Engine) observeNonTool(ctx context.Context, sess *llm.ChatSession, state *State, action Action, emit func(models.Event) bool) error {
	if looksLikeToolCall(action.Content) {
		failure := "tool call could not be parsed; check the output format"
		content, err := e.summarize(ctx, sess, "unknown", false, "", failure)
		if err != nil {
			return err
		}
		state.AddObservation(content, nil, &tools.Result{Success: false, Error: failure}, failure)
		emit(models.Event{Type: models.EventObservation, Content: content, Error: failure})
		return nil
	}

	const content = "Non-tool action noted; continuing with the next thought."
	state.AddObservation(content, nil, nil, "")
	emit(models.Event{Type: models.EventObservation, Content: content})
	return nil
}

func (e *Engine) summarize(ctx context.Context, sess *llm.ChatSession, toolName string, success bool, output, errMsg string) (string, error) {
	resp, err := e.send(ctx, sess, prompt.BuildObservationPrompt(toolName, success, output, errMsg))
	if err != nil {
		return "", fmt.Errorf("observation step: %w", err)
	}
	return prompt.ParseResponse(resp)["observation"], nil
}

func (e *Engine) stepFinalAnswer(ctx context.Context, sess *llm.ChatSession, state *State) error {
	resp, err := e.send(ctx, sess, prompt.BuildFinalAnswerPrompt(state.Query))
	if err != nil {
		return fmt.Errorf("final answer step: %w", err)
	}
	state.SetFinalAnswer(prompt.ParseResponse(resp)["final_answer"])
	return nil
}

// shouldProvideFinalAnswer is the completion gate evaluated after every
// observation. The thought-cycle cap is unconditional; a next-task
// marker cannot extend an exhausted budget.
func (e *Engine) shouldProvideFinalAnswer(state *State) bool {
	if state.CountType(StepThought) >= e.opts.MaxThoughtCycles {
		return true
	}
	last := state.LastStep()
	if last != nil && strings.Contains(last.Text(), prompt.MarkerNextTask) {
		return false
	}
	haveAll := state.CountType(StepThought) > 0 &&
		state.CountType(StepAction) > 0 &&
		state.CountType(StepObservation) > 0
	if !haveAll || last == nil {
		return false
	}
	if strings.Contains(last.Text(), prompt.MarkerFinalAnswer) {
		return true
	}
	// The final-answer tool concludes the run regardless of markers.
	return e.finalAnswerToolRan(state)
}

// finalAnswerToolRan reports whether the latest action invoked the
// final-answer tool and its observation followed.
func (e *Engine) finalAnswerToolRan(state *State) bool {
	if len(state.Steps) < 2 {
		return false
	}
	if _, ok := state.Steps[len(state.Steps)-1].(Observation); !ok {
		return false
	}
	action, ok := state.Steps[len(state.Steps)-2].(Action)
	return ok && action.ToolName == tools.FinalAnswerToolName
}

// detectLoop inspects the trailing steps for two stuck patterns:
// repeated near-identical actions, and repeated thoughts that claim
// completion without ever concluding.
func (e *Engine) detectLoop(state *State) bool {
	if len(state.Steps) < loopWindow {
		return false
	}
	window := state.Steps[len(state.Steps)-loopWindow:]

	actionContents := map[string]struct{}{}
	actions := 0
	thoughts := 0
	completionClaims := 0
	for _, step := range window {
		switch st := step.(type) {
		case Action:
			actions++
			actionContents[strings.ToLower(strings.TrimSpace(st.Content))] = struct{}{}
		case Thought:
			thoughts++
			lower := strings.ToLower(st.Content)
			for _, phrase := range e.opts.CompletionPhrases {
				if strings.Contains(lower, phrase) {
					completionClaims++
					break
				}
			}
		}
	}

	if actions >= 6 && len(actionContents) <= 2 {
		return true
	}
	return thoughts >= 4 && completionClaims >= 3
}

// forceCompletion ends a stuck run with a summary of everything done so
// far, so the caller still receives a usable answer. The step budget
// holds: at capacity the last step is replaced instead of appended.
func (e *Engine) forceCompletion(state *State) {
	summary := fmt.Sprintf(
		"The reasoning loop was stopped before reaching a natural conclusion. "+
			"Here is a summary of the work performed:\n\n%s", state.FormatHistory())
	final := FinalAnswer{Content: summary, At: e.now()}
	if state.MaxSteps > 0 && len(state.Steps) >= state.MaxSteps {
		state.Steps[len(state.Steps)-1] = final
	} else {
		state.Steps = append(state.Steps, final)
	}
	state.FinalAnswer = summary
	state.Completed = true
}

// send calls the chat session with a per-call retry cap. Context
// cancellation is never retried.
func (e *Engine) send(ctx context.Context, sess *llm.ChatSession, message string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		resp, err := sess.Send(ctx, message)
		if err == nil {
			return resp.Content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		e.logger.Warn("llm call failed", "attempt", attempt+1, "error", err)
	}
	return "", fmt.Errorf("llm call failed after %d attempts: %w", e.opts.MaxRetries+1, lastErr)
}

// looksLikeToolCall guesses whether free text was meant to be a tool
// invocation.
func looksLikeToolCall(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "tool") && strings.Contains(text, "{")
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", t)
	}
}
