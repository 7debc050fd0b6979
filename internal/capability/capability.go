// Package capability bridges the engine to the external executors that
// perform the actual work. A capability is an opaque identifier; the
// engine only needs it to be invocable via a configured executor
// command, never to understand what it does internally.
package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/planforge/internal/phase"
)

// DefaultTimeout bounds a single capability invocation (30 minutes).
const DefaultTimeout = 30 * time.Minute

// Request is the single JSON payload handed to an executor on stdin.
type Request struct {
	PlanID     string            `json:"plan_id"`
	Phase      string            `json:"phase"`
	Capability string            `json:"capability"`
	Domain     string            `json:"domain,omitempty"`
	Module     string            `json:"module,omitempty"`
	Skills     []string          `json:"skills,omitempty"`
	Findings   []phase.Finding   `json:"findings,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// Response is the JSON document an executor prints on stdout. Findings
// feed the correction loops; Outputs carry free-form results back to
// the phase that invoked the capability.
type Response struct {
	OK       bool              `json:"ok"`
	Findings []phase.Finding   `json:"findings,omitempty"`
	Outputs  map[string]string `json:"outputs,omitempty"`
}

// ScriptError reports an executor process that failed outright, as
// opposed to one that ran and reported findings.
type ScriptError struct {
	Capability string
	Command    string
	ExitCode   int
	Stderr     string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("capability %s: %s exited %d: %s", e.Capability, e.Command, e.ExitCode, e.Stderr)
}

// Invoker runs capabilities. The zero value is not usable; construct
// with NewInvoker.
type Invoker interface {
	Invoke(ctx context.Context, command string, req Request) (*Response, error)
}
