// Package action implements the registry of callable actions a device
// exposes to the cloud, and the result-shaping logic that turns a
// handler's return value into a mailbox.ack (or mailbox.update, for
// in-progress actions).
//
// The original SDK dispatched on a callback's arity at call time (one,
// two, or three positional arguments). This package instead exposes two
// explicit handler shapes, chosen by the caller at registration time:
// FireAndForget ignores the request body, WithRequest receives it. This
// replaces duck-typed arity dispatch with an explicit interface choice.
package action

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"

	"github.com/wheelos-io/thingcore/pkg/status"
)

// Request is one action invocation requested by the cloud.
type Request struct {
	RequestID string
	Name      string
	Params    map[string]any
}

// Result is the outcome of executing an action, shaped into the
// mailbox.ack/mailbox.update fields the registry reports back.
type Result struct {
	Status       status.Code
	ErrorMessage string
	Params       map[string]any
}

// FireAndForget is a handler that ignores the request parameters.
type FireAndForget func(ctx context.Context) Result

// WithRequest is a handler that receives the full request, including its
// parameters.
type WithRequest func(ctx context.Context, req Request) Result

// Handler is implemented by FireAndForget and WithRequest.
type Handler interface {
	invoke(ctx context.Context, req Request) Result
}

func (f FireAndForget) invoke(ctx context.Context, _ Request) Result { return f(ctx) }
func (f WithRequest) invoke(ctx context.Context, req Request) Result { return f(ctx, req) }

// Command is a Handler backed by shelling out to an external program,
// the Go analog of ActionCommand. Params become argv flags: a true bool
// becomes a bare "--key", a false bool is omitted, and every other value
// becomes "--key=value".
type Command struct {
	Path string
	Args []string // fixed args prepended before the per-request flags
}

func (c Command) invoke(ctx context.Context, req Request) Result {
	argv := append([]string{}, c.Args...)
	argv = append(argv, buildFlags(req.Params)...)

	cmd := exec.CommandContext(ctx, c.Path, argv...)
	stdout, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		stderr := ""
		if errors.As(err, &exitErr) {
			stderr = string(exitErr.Stderr)
		}
		return Result{
			Status:       status.ExecutionError,
			ErrorMessage: fmt.Sprintf("command %q failed: %v (stderr: %s)", c.Path, err, stderr),
		}
	}
	return Result{
		Status:       status.Success,
		ErrorMessage: string(stdout),
	}
}

func buildFlags(params map[string]any) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic argv for tests and logs

	flags := make([]string, 0, len(keys))
	for _, k := range keys {
		v := params[k]
		switch b := v.(type) {
		case bool:
			if b {
				flags = append(flags, "--"+k)
			}
		default:
			flags = append(flags, fmt.Sprintf("--%s=%v", k, v))
		}
	}
	return flags
}

// Registry holds every registered action handler, keyed by name.
// Registering a name twice is an error. Mutation is guarded by a RWMutex
// so duplicate-registration detection from concurrent application
// goroutines is atomic.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds handler under name. It returns an error if name is
// already registered.
func (r *Registry) Register(name string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("action: %q already has a callback", name)
	}
	r.handlers[name] = handler
	return nil
}

// Deregister removes name. It returns an error if name is not
// registered.
func (r *Registry) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		return fmt.Errorf("action: %q does not have a callback", name)
	}
	delete(r.handlers, name)
	return nil
}

// Execute runs the handler registered for req.Name and shapes its
// Result into the final status/message/params fields to report to the
// cloud: an unregistered or panicking handler becomes NotFound/Failure,
// and a handler returning an invalid status code is downgraded to
// BadParameter.
func (r *Registry) Execute(ctx context.Context, req Request) (result Result) {
	r.mu.RLock()
	handler, ok := r.handlers[req.Name]
	r.mu.RUnlock()
	if !ok {
		return Result{
			Status:       status.NotFound,
			ErrorMessage: fmt.Sprintf("action %q does not have a callback", req.Name),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = Result{
				Status:       status.Failure,
				ErrorMessage: fmt.Sprintf("action %q execution failed: %v", req.Name, rec),
			}
		}
	}()

	result = handler.invoke(ctx, req)
	if !result.Status.Valid() {
		return Result{
			Status:       status.BadParameter,
			ErrorMessage: fmt.Sprintf("invalid return status: %v", result.Status),
		}
	}
	return result
}
