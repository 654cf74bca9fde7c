package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrDuplicateTool is returned when registering a tool whose name is taken.
var ErrDuplicateTool = errors.New("duplicate tool name")

type toolStats struct {
	invocations int
	successes   int
}

// Registry maps tool names to tools and wraps every execution in timing
// and counting so all results carry uniform metadata. Mutated only at
// startup; reads are concurrent during the run.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	stats   map[string]*toolStats
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		stats:   make(map[string]*toolStats),
	}
}

// Register adds a tool under its name. Returns ErrDuplicateTool when the
// name is already taken. The tool's parameter schema is compiled once at
// registration; a schema that does not compile disables argument
// validation for that tool but does not fail registration.
func (r *Registry) Register(t Tool) error {
	name := t.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = t
	r.stats[name] = &toolStats{}

	if raw := t.Schema(); raw != nil {
		schema, err := compileSchema(name, raw)
		if err != nil {
			slog.Warn("Tool schema does not compile; argument validation disabled",
				"tool", name, "error", err)
		} else {
			r.schemas[name] = schema
		}
	}
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns all registered tool names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs the named tool with args. It never returns an error and
// never lets a tool panic escape: missing tools, invalid arguments,
// failing tools, and panics all surface as Success=false results. Every
// result's metadata carries execution_time_seconds, invocation_count and
// success_rate.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return &Result{
			Success:  false,
			Error:    fmt.Sprintf("tool not found: %s", name),
			Metadata: map[string]any{"execution_time_seconds": 0.0, "invocation_count": 0, "success_rate": 0.0},
		}
	}

	if schema != nil {
		if err := validateArgs(schema, args); err != nil {
			res := &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}
			r.finish(name, res, 0)
			return res
		}
	}

	start := time.Now()
	res := r.invoke(ctx, t, args)
	r.finish(name, res, time.Since(start))
	return res
}

// invoke calls the tool, converting returned errors and panics into
// failed results so nothing propagates past the registry.
func (r *Registry) invoke(ctx context.Context, t Tool, args map[string]any) (res *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Tool panicked", "tool", t.Name(), "panic", rec)
			res = &Result{Success: false, Error: fmt.Sprintf("tool panicked: %v", rec)}
		}
	}()

	res, err := t.Execute(ctx, args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	if res == nil {
		return &Result{Success: false, Error: "tool returned no result"}
	}
	if !res.Success && res.Error == "" {
		res.Error = "tool failed without an error message"
	}
	return res
}

// finish updates per-tool counters and stamps the uniform metadata.
func (r *Registry) finish(name string, res *Result, elapsed time.Duration) {
	r.mu.Lock()
	st := r.stats[name]
	st.invocations++
	if res.Success {
		st.successes++
	}
	invocations := st.invocations
	successes := st.successes
	r.mu.Unlock()

	if res.Metadata == nil {
		res.Metadata = make(map[string]any)
	}
	res.Metadata["execution_time_seconds"] = elapsed.Seconds()
	res.Metadata["invocation_count"] = invocations
	res.Metadata["success_rate"] = float64(successes) / float64(invocations)
}

// compileSchema compiles a schema mapping into a validator.
func compileSchema(name string, raw map[string]any) (*jsonschema.Schema, error) {
	// Round-trip through JSON so the document uses the types the
	// compiler expects.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	url := name + ".schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateArgs checks args against the compiled schema. Args are
// normalized through JSON so numeric types match what the validator
// expects.
func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("unmarshal arguments: %w", err)
	}
	return schema.Validate(doc)
}
