// Package react implements the Reason-Act-Observe loop: the in-memory
// run state, the tolerant action parser, and the engine that drives the
// loop and emits stream events.
package react

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/solvr-ai/solvr/pkg/tools"
)

// StepType identifies a step variant.
type StepType string

const (
	StepThought     StepType = "thought"
	StepAction      StepType = "action"
	StepObservation StepType = "observation"
	StepFinalAnswer StepType = "final_answer"
)

// Step is the sum type over the four step variants. Only Action carries
// a tool name and input; only Observation carries tool output.
type Step interface {
	Type() StepType
	Text() string
	When() time.Time
}

// Thought is a reasoning step.
type Thought struct {
	Content  string
	At       time.Time
	Metadata map[string]any
}

func (s Thought) Type() StepType  { return StepThought }
func (s Thought) Text() string    { return s.Content }
func (s Thought) When() time.Time { return s.At }

// Action is a tool invocation step. ToolName is empty for non-tool
// actions (the model answered with prose instead of a tool call).
type Action struct {
	Content   string
	ToolName  string
	ToolInput map[string]any
	At        time.Time
}

func (s Action) Type() StepType  { return StepAction }
func (s Action) Text() string    { return s.Content }
func (s Action) When() time.Time { return s.At }

// Observation digests a tool result.
type Observation struct {
	Content    string
	ToolOutput any
	ToolResult *tools.Result
	Err        string
	At         time.Time
}

func (s Observation) Type() StepType  { return StepObservation }
func (s Observation) Text() string    { return s.Content }
func (s Observation) When() time.Time { return s.At }

// FinalAnswer terminates the run.
type FinalAnswer struct {
	Content string
	At      time.Time
}

func (s FinalAnswer) Type() StepType  { return StepFinalAnswer }
func (s FinalAnswer) Text() string    { return s.Content }
func (s FinalAnswer) When() time.Time { return s.At }

// State is the in-memory record of one run. It is mutated by exactly one
// runner goroutine; no locking.
type State struct {
	Query       string
	Steps       []Step
	MaxSteps    int
	Completed   bool
	FinalAnswer string
	Err         string
	Context     map[string]any
	Plan        string
}

// NewState allocates a run state.
func NewState(query string, maxSteps int, runContext map[string]any) *State {
	if runContext == nil {
		runContext = map[string]any{}
	}
	return &State{
		Query:    query,
		MaxSteps: maxSteps,
		Context:  runContext,
	}
}

// StepCount returns the number of appended steps.
func (s *State) StepCount() int { return len(s.Steps) }

// LastStep returns the most recent step, or nil.
func (s *State) LastStep() Step {
	if len(s.Steps) == 0 {
		return nil
	}
	return s.Steps[len(s.Steps)-1]
}

// CountType returns how many steps of the given type were appended.
func (s *State) CountType(t StepType) int {
	n := 0
	for _, step := range s.Steps {
		if step.Type() == t {
			n++
		}
	}
	return n
}

// AddStep appends a step. It is a no-op once the run is completed or
// errored; the terminal state is frozen.
func (s *State) AddStep(step Step) {
	if s.Completed || s.Err != "" {
		return
	}
	s.Steps = append(s.Steps, step)
}

// AddThought appends a Thought step.
func (s *State) AddThought(content string, meta map[string]any) {
	s.AddStep(Thought{Content: content, At: time.Now(), Metadata: meta})
}

// AddAction appends an Action step.
func (s *State) AddAction(content, toolName string, toolInput map[string]any) {
	s.AddStep(Action{Content: content, ToolName: toolName, ToolInput: toolInput, At: time.Now()})
}

// AddObservation appends an Observation step.
func (s *State) AddObservation(content string, output any, result *tools.Result, errMsg string) {
	s.AddStep(Observation{Content: content, ToolOutput: output, ToolResult: result, Err: errMsg, At: time.Now()})
}

// SetFinalAnswer appends the FinalAnswer step and completes the run.
func (s *State) SetFinalAnswer(answer string) {
	s.AddStep(FinalAnswer{Content: answer, At: time.Now()})
	s.FinalAnswer = answer
	s.Completed = true
}

// SetPlan stores the planning-pass output.
func (s *State) SetPlan(plan string) { s.Plan = plan }

// ShouldContinue reports whether the loop may take another step.
func (s *State) ShouldContinue() bool {
	return !s.Completed && s.Err == "" && len(s.Steps) < s.MaxSteps
}

// FormatHistory renders the run as the human-readable dump used for
// prompt context and force-completion summaries.
func (s *State) FormatHistory() string {
	var sb strings.Builder
	counts := map[StepType]int{}
	for _, step := range s.Steps {
		counts[step.Type()]++
		k := counts[step.Type()]
		switch st := step.(type) {
		case Thought:
			fmt.Fprintf(&sb, "Thought %d: %s\n", k, st.Content)
		case Action:
			if st.ToolName != "" {
				fmt.Fprintf(&sb, "Action %d: %s (Tool: %s)\n", k, st.Content, st.ToolName)
			} else {
				fmt.Fprintf(&sb, "Action %d: %s\n", k, st.Content)
			}
		case Observation:
			fmt.Fprintf(&sb, "Observation %d: %s\n", k, st.Content)
		case FinalAnswer:
			fmt.Fprintf(&sb, "Final Answer: %s\n", st.Content)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// stepRecord is the tagged serialized form of a step.
type stepRecord struct {
	Type       StepType       `json:"type"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput any            `json:"tool_output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type stateRecord struct {
	Query       string         `json:"query"`
	Steps       []stepRecord   `json:"steps"`
	MaxSteps    int            `json:"max_steps"`
	Completed   bool           `json:"completed"`
	FinalAnswer string         `json:"final_answer,omitempty"`
	Error       string         `json:"error,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Plan        string         `json:"plan,omitempty"`
}

// Serialize encodes the state as JSON.
func (s *State) Serialize() ([]byte, error) {
	rec := stateRecord{
		Query:       s.Query,
		MaxSteps:    s.MaxSteps,
		Completed:   s.Completed,
		FinalAnswer: s.FinalAnswer,
		Error:       s.Err,
		Context:     s.Context,
		Plan:        s.Plan,
	}
	for _, step := range s.Steps {
		sr := stepRecord{Type: step.Type(), Content: step.Text(), Timestamp: step.When()}
		switch st := step.(type) {
		case Thought:
			sr.Metadata = st.Metadata
		case Action:
			sr.ToolName = st.ToolName
			sr.ToolInput = st.ToolInput
		case Observation:
			sr.ToolOutput = st.ToolOutput
			sr.Error = st.Err
		}
		rec.Steps = append(rec.Steps, sr)
	}
	return json.Marshal(rec)
}

// Deserialize decodes a state previously produced by Serialize.
func Deserialize(data []byte) (*State, error) {
	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	s := &State{
		Query:       rec.Query,
		MaxSteps:    rec.MaxSteps,
		Completed:   rec.Completed,
		FinalAnswer: rec.FinalAnswer,
		Err:         rec.Error,
		Context:     rec.Context,
		Plan:        rec.Plan,
	}
	for _, sr := range rec.Steps {
		switch sr.Type {
		case StepThought:
			s.Steps = append(s.Steps, Thought{Content: sr.Content, At: sr.Timestamp, Metadata: sr.Metadata})
		case StepAction:
			s.Steps = append(s.Steps, Action{Content: sr.Content, At: sr.Timestamp, ToolName: sr.ToolName, ToolInput: sr.ToolInput})
		case StepObservation:
			s.Steps = append(s.Steps, Observation{Content: sr.Content, At: sr.Timestamp, ToolOutput: sr.ToolOutput, Err: sr.Error})
		case StepFinalAnswer:
			s.Steps = append(s.Steps, FinalAnswer{Content: sr.Content, At: sr.Timestamp})
		default:
			return nil, fmt.Errorf("unknown step type %q", sr.Type)
		}
	}
	return s, nil
}
