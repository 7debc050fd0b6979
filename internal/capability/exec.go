package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes shell commands. Allows mocking in tests.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, dir string, stdin string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner is the default CommandRunner using os/exec.
type ExecRunner struct{}

// Run executes a command and returns output.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, dir string, stdin string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	err := cmd.Run()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, err
}

// CommandInvoker invokes a capability by running its configured
// executor command with the capability id as argument and the request
// as a JSON document on stdin.
type CommandInvoker struct {
	workDir string
	timeout time.Duration
	runner  CommandRunner
}

// Option configures a CommandInvoker.
type Option func(*CommandInvoker)

// WithWorkDir sets the working directory for executor processes.
func WithWorkDir(dir string) Option {
	return func(i *CommandInvoker) {
		i.workDir = dir
	}
}

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(i *CommandInvoker) {
		i.timeout = d
	}
}

// WithRunner sets a custom command runner (for testing).
func WithRunner(r CommandRunner) Option {
	return func(i *CommandInvoker) {
		i.runner = r
	}
}

// NewInvoker creates a CommandInvoker.
func NewInvoker(opts ...Option) *CommandInvoker {
	inv := &CommandInvoker{
		timeout: DefaultTimeout,
		runner:  &ExecRunner{},
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs an executor command for one capability. The command may
// carry its own leading arguments ("npx executor run"); the capability
// id is appended as the final argument.
func (i *CommandInvoker) Invoke(ctx context.Context, command string, req Request) (*Response, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("capability %s: empty executor command", req.Capability)
	}
	name := fields[0]
	args := append(fields[1:], req.Capability)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("capability %s: encode request: %w", req.Capability, err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	stdout, stderr, exitCode, runErr := i.runner.Run(ctx, name, args, i.workDir, string(payload))

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("capability %s: timeout after %v", req.Capability, i.timeout)
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); ok {
			return nil, &ScriptError{
				Capability: req.Capability,
				Command:    command,
				ExitCode:   exitCode,
				Stderr:     strings.TrimSpace(stderr),
			}
		}
		return nil, fmt.Errorf("capability %s: run %s: %w", req.Capability, name, runErr)
	}

	raw := extractJSON([]byte(stdout))
	if raw == nil {
		return nil, fmt.Errorf("capability %s: executor produced no JSON response", req.Capability)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("capability %s: decode response: %w", req.Capability, err)
	}
	return &resp, nil
}

// extractJSON finds the first balanced JSON object or array in output.
// Executors are allowed to print human-readable text around it.
func extractJSON(output []byte) []byte {
	if json.Valid(output) {
		return output
	}

	start := -1
	var opener, closer byte
	for i, b := range output {
		if b == '{' || b == '[' {
			start = i
			opener = b
			if b == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start == -1 {
		return nil
	}

	depth := 0
	for i := start; i < len(output); i++ {
		if output[i] == opener {
			depth++
		} else if output[i] == closer {
			depth--
			if depth == 0 {
				candidate := output[start : i+1]
				if json.Valid(candidate) {
					return candidate
				}
				break
			}
		}
	}
	return nil
}
