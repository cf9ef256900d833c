package stage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/textutil"
	"scribe/internal/workitem"
)

// Params are the stage settings resolved from configuration.
type Params struct {
	Provider string
	Endpoint string
	Language string
	Timeout  time.Duration
	ToolURL  string
	// WorkDir is a per-operation scratch directory under the workspace.
	WorkDir string
}

// Request is one stage execution.
type Request struct {
	OperationID int64
	Kind        pipeline.StageKind
	Round       int
	// Task is a snapshot; executors must not expect changes to reach the registry.
	Task   *pipeline.Task
	Params Params
	Logger *slog.Logger
}

// Audio returns the task's local audio input.
func (r Request) Audio() (workitem.Item, bool) {
	return r.Task.Audio()
}

// Transcript returns the newest transcript available to this stage.
func (r Request) Transcript() (workitem.Item, bool) {
	return r.Task.LatestTranscript(r.Kind)
}

// OutputName derives a result file name from the task's primary input.
func (r Request) OutputName(suffix, ext string) string {
	base := r.Task.DisplayName()
	base = strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	parts := strings.Split(suffix, ".")
	for i, part := range parts {
		parts[i] = textutil.SanitizeToken(part)
	}
	return fmt.Sprintf("%s.%s%s", base, strings.Join(parts, "."), ext)
}

// Result is what a successful execution produced.
type Result struct {
	Items    []workitem.Item
	Protocol string
}

// Executor performs one stage kind for one provider.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
	HealthCheck(ctx context.Context) Health
}

// ExecutorFunc adapts a function to Executor. It always reports healthy.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// HealthCheck reports ready.
func (f ExecutorFunc) HealthCheck(context.Context) Health {
	return Healthy("func")
}

type key struct {
	kind     pipeline.StageKind
	provider string
}

// Registry maps (kind, provider) to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[key]Executor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[key]Executor)}
}

// Register installs exec for kind and provider, replacing any previous one.
func (r *Registry) Register(kind pipeline.StageKind, provider string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[key{kind, normalize(provider)}] = exec
}

// Lookup returns the executor for kind and provider.
func (r *Registry) Lookup(kind pipeline.StageKind, provider string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[key{kind, normalize(provider)}]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, kind.String(), "lookup executor",
			fmt.Sprintf("no executor for provider %q", provider), nil)
	}
	return exec, nil
}

// Providers lists the registered provider names for kind.
func (r *Registry) Providers(kind pipeline.StageKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for k := range r.executors {
		if k.kind == kind {
			out = append(out, k.provider)
		}
	}
	slices.Sort(out)
	return out
}

// Health checks every registered executor, in stage order.
func (r *Registry) Health(ctx context.Context) []Health {
	r.mu.RLock()
	keys := make([]key, 0, len(r.executors))
	for k := range r.executors {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	slices.SortFunc(keys, func(a, b key) int {
		if a.kind != b.kind {
			return int(a.kind) - int(b.kind)
		}
		return strings.Compare(a.provider, b.provider)
	})

	out := make([]Health, 0, len(keys))
	for _, k := range keys {
		r.mu.RLock()
		exec := r.executors[k]
		r.mu.RUnlock()
		h := exec.HealthCheck(ctx)
		h.Name = k.kind.String() + "/" + k.provider
		out = append(out, h)
	}
	return out
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
