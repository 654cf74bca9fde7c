package react

import (
	"strings"
	"testing"
)

func TestState_Alternation(t *testing.T) {
	s := NewState("q", 8, nil)
	if !s.ShouldContinue() {
		t.Fatal("fresh state must continue")
	}

	s.AddThought("think", nil)
	s.AddAction("act", "web_search", map[string]any{"query": "x"})
	s.AddObservation("saw", "output", nil, "")
	s.SetFinalAnswer("done")

	if !s.Completed {
		t.Error("final answer must complete the state")
	}
	if s.ShouldContinue() {
		t.Error("completed state must not continue")
	}
	if s.StepCount() != 4 {
		t.Errorf("step count = %d, want 4", s.StepCount())
	}

	// Terminal state is frozen.
	s.AddThought("late", nil)
	if s.StepCount() != 4 {
		t.Errorf("step appended after completion, count = %d", s.StepCount())
	}
}

func TestState_MaxStepsStopsLoop(t *testing.T) {
	s := NewState("q", 2, nil)
	s.AddThought("one", nil)
	s.AddAction("two", "", nil)
	if s.ShouldContinue() {
		t.Error("state at max steps must not continue")
	}
}

func TestState_FormatHistory(t *testing.T) {
	s := NewState("q", 16, nil)
	s.AddThought("first idea", nil)
	s.AddAction("search it", "web_search", nil)
	s.AddObservation("found it", nil, nil, "")
	s.AddThought("second idea", nil)
	s.SetFinalAnswer("the answer")

	got := s.FormatHistory()
	for _, want := range []string{
		"Thought 1: first idea",
		"Action 1: search it (Tool: web_search)",
		"Observation 1: found it",
		"Thought 2: second idea",
		"Final Answer: the answer",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("history missing %q:\n%s", want, got)
		}
	}
}

func TestState_SerializeRoundTrip(t *testing.T) {
	s := NewState("what is 2+2", 40, map[string]any{"user": "test"})
	s.SetPlan("1. compute")
	s.AddThought("use the calculator", map[string]any{"stage": "plan"})
	s.AddAction("call it", "code_executor", map[string]any{"code": "print(4)"})
	s.AddObservation("it printed 4", map[string]any{"output": "4"}, nil, "")
	s.SetFinalAnswer("4")

	data, err := s.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}

	if got.Query != s.Query || got.FinalAnswer != s.FinalAnswer || !got.Completed {
		t.Errorf("round trip lost scalar fields: %+v", got)
	}
	if got.Plan != "1. compute" {
		t.Errorf("plan = %q", got.Plan)
	}
	if got.StepCount() != s.StepCount() {
		t.Fatalf("step count = %d, want %d", got.StepCount(), s.StepCount())
	}
	action, ok := got.Steps[1].(Action)
	if !ok {
		t.Fatalf("step 1 is %T, want Action", got.Steps[1])
	}
	if action.ToolName != "code_executor" || action.ToolInput["code"] != "print(4)" {
		t.Errorf("action fields lost: %+v", action)
	}
}

func TestDeserialize_UnknownStepType(t *testing.T) {
	_, err := Deserialize([]byte(`{"query":"q","steps":[{"type":"bogus","content":"x"}]}`))
	if err == nil {
		t.Fatal("unknown step type must fail")
	}
}
