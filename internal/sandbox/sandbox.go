// Package sandbox provides isolated execution of candidate implementations.
// Candidates never run in this process: every execution spawns a fresh
// interpreter with restricted builtins and a guarded import hook, bounded by
// a wall-clock deadline, and the child is torn down unconditionally.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Reason classifies a failed isolated execution.
type Reason string

const (
	// ReasonException means the candidate raised; the detail carries the
	// textual rendering of the exception.
	ReasonException Reason = "exception"
	// ReasonTimeout means the wall-clock deadline expired and the process was
	// forcibly terminated.
	ReasonTimeout Reason = "timeout"
	// ReasonNoResult means the process exited without producing its one
	// result message.
	ReasonNoResult Reason = "no_result"
	// ReasonStartFailure means the interpreter process could not be spawned.
	ReasonStartFailure Reason = "start_failure"
)

// Error is a classified sandbox failure.
type Error struct {
	Reason Reason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sandbox %s", e.Reason)
	}
	return fmt.Sprintf("sandbox %s: %s", e.Reason, e.Detail)
}

// IsTimeout reports whether err is a sandbox timeout.
func IsTimeout(err error) bool {
	var serr *Error
	return errors.As(err, &serr) && serr.Reason == ReasonTimeout
}

// Request defines what to run and under what constraints.
type Request struct {
	// Source is a complete, validated function definition.
	Source string
	// EntryPoint is the function name to call after the source executes.
	EntryPoint string
	// Args are the call arguments; they cross the process boundary as JSON.
	Args []any
	// AllowImports is the module-root allowlist enforced by the import guard.
	AllowImports []string
	// Timeout is the wall-clock deadline for the whole process.
	Timeout time.Duration
	// NetworkAllowlist is forwarded to the child environment as advisory
	// metadata; it is not enforced here.
	NetworkAllowlist []string
}

// Result is the successful outcome of one isolated execution.
type Result struct {
	// Value is the JSON encoding of whatever the entry point returned.
	Value json.RawMessage
	// Duration is how long the child process ran.
	Duration time.Duration
}

// Executor runs a candidate in an isolated environment.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// PythonExecutor spawns one python3 process per execution.
type PythonExecutor struct {
	pythonBin string
	logger    *zap.Logger
}

// NewPythonExecutor builds an executor around the given interpreter binary
// ("python3" when empty).
func NewPythonExecutor(pythonBin string, logger *zap.Logger) *PythonExecutor {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	return &PythonExecutor{
		pythonBin: pythonBin,
		logger:    logger.Named("sandbox"),
	}
}

// payload is the single message sent to the child on stdin.
type payload struct {
	Source       string   `json:"source"`
	Entry        string   `json:"entry"`
	Args         []any    `json:"args"`
	AllowImports []string `json:"allow_imports"`
}

// message is the single message the child writes to stdout.
type message struct {
	OK  json.RawMessage `json:"ok"`
	Err *string         `json:"err"`
}

// Execute runs the request and produces exactly one of: a value, a classified
// candidate exception, or an infrastructure failure. The deadline dominates
// any delay inside the candidate; on expiry the process is killed.
func (e *PythonExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.Timeout <= 0 {
		return nil, &Error{Reason: ReasonStartFailure, Detail: "timeout must be positive"}
	}

	input, err := json.Marshal(payload{
		Source:       req.Source,
		Entry:        req.EntryPoint,
		Args:         req.Args,
		AllowImports: req.AllowImports,
	})
	if err != nil {
		return nil, &Error{Reason: ReasonStartFailure, Detail: fmt.Sprintf("failed to encode payload: %v", err)}
	}

	execCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	// -I runs the interpreter isolated, with no site packages and no
	// PYTHON* env influence.
	cmd := exec.CommandContext(execCtx, e.pythonBin, "-I", "-c", pythonHarness)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Minimal environment; the network allowlist rides along as advisory data.
	env := []string{"PATH=" + os.Getenv("PATH"), "PYTHONIOENCODING=utf-8"}
	if len(req.NetworkAllowlist) > 0 {
		env = append(env, "LAZARUS_NET_ALLOWLIST="+strings.Join(req.NetworkAllowlist, ","))
	}
	cmd.Env = env

	// If the child spawns something that inherits our pipes, do not wait on
	// it past the kill.
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		e.logger.Warn("Candidate execution exceeded deadline; process killed.",
			zap.String("entry", req.EntryPoint),
			zap.Duration("timeout", req.Timeout),
		)
		return nil, &Error{Reason: ReasonTimeout, Detail: fmt.Sprintf("exceeded %s", req.Timeout)}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	msg, ok := lastMessage(stdout.Bytes())
	if !ok {
		if runErr != nil {
			var exitErr *exec.ExitError
			if !errors.As(runErr, &exitErr) {
				return nil, &Error{Reason: ReasonStartFailure, Detail: runErr.Error()}
			}
		}
		detail := "process exited without a result"
		if s := strings.TrimSpace(stderr.String()); s != "" {
			detail = fmt.Sprintf("%s: %s", detail, truncate(s, 512))
		}
		return nil, &Error{Reason: ReasonNoResult, Detail: detail}
	}

	if msg.Err != nil {
		return nil, &Error{Reason: ReasonException, Detail: *msg.Err}
	}

	e.logger.Debug("Candidate executed in sandbox.",
		zap.String("entry", req.EntryPoint),
		zap.Duration("duration", elapsed),
	)
	return &Result{Value: msg.OK, Duration: elapsed}, nil
}

// lastMessage extracts the result message from the child's stdout. The
// harness writes exactly one line; anything else on the stream means the
// channel was corrupted and is treated as no message.
func lastMessage(out []byte) (*message, bool) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, false
	}
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		trimmed = bytes.TrimSpace(trimmed[i+1:])
	}
	var msg message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
