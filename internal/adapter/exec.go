package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattjoyce/spool/internal/config"
	"github.com/mattjoyce/spool/internal/log"
	"github.com/mattjoyce/spool/internal/protocol"
	"github.com/mattjoyce/spool/internal/request"
	"github.com/mattjoyce/spool/internal/spooldir"
)

const (
	// maxStderrBytes caps the amount of stderr captured from the subprocess.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	defaultExecTimeout = 60 * time.Second
)

// ErrTimeout is returned when the subprocess outlives its timeout.
var ErrTimeout = errors.New("adapter timed out")

// Exec answers requests by spawning an external program per request and
// speaking the protocol envelope over its stdin and stdout.
type Exec struct {
	entrypoint string
	args       []string
	env        []string
	timeout    time.Duration
	grace      time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// DataResponse is the document written for a successful exec response.
type DataResponse struct {
	Key       string          `json:"key"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewExec validates cfg and returns an exec adapter.
func NewExec(cfg config.ExecAdapterConfig, logger *slog.Logger) (*Exec, error) {
	entrypoint := strings.TrimSpace(cfg.Entrypoint)
	if entrypoint == "" {
		return nil, fmt.Errorf("exec adapter entrypoint is empty")
	}
	if logger == nil {
		logger = log.WithComponent("adapter")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	return &Exec{
		entrypoint: entrypoint,
		args:       cfg.Args,
		env:        env,
		timeout:    timeout,
		grace:      terminationGracePeriod,
		logger:     logger.With("adapter", "exec", "entrypoint", entrypoint),
		now:        time.Now,
	}, nil
}

// CreateDump runs the subprocess for one request. Whatever happens, a
// response file is left at the request's path; failures are also returned.
func (e *Exec) CreateDump(ctx context.Context, req map[string]any) error {
	path, err := OutputPath(req)
	if err != nil {
		return err
	}
	key := filepath.Base(path)

	payload := make(map[string]any, len(req))
	for k, v := range req {
		if k != request.PathField {
			payload[k] = v
		}
	}

	preq := &protocol.Request{
		Protocol:   protocol.Version,
		RequestID:  uuid.NewString(),
		Key:        key,
		Path:       path,
		Payload:    payload,
		DeadlineAt: e.now().Add(e.timeout).UTC(),
	}
	logger := e.logger.With("request", key, "request_id", preq.RequestID)

	resp, stderr, err := e.spawn(ctx, preq, logger)
	if err != nil {
		if stderr != "" {
			logger.Warn("adapter stderr", "stderr", stderr)
		}
		return e.fail(path, err)
	}

	for _, entry := range resp.Logs {
		logger.Info("adapter log", "level", entry.Level, "message", entry.Message)
	}

	if !resp.OK() {
		return e.fail(path, fmt.Errorf("adapter returned error: %s", resp.Error))
	}

	data := resp.Result
	if len(data) == 0 {
		data = json.RawMessage(`null`)
	}
	if err := spooldir.WriteJSONFile(path, DataResponse{
		Key:       key,
		Timestamp: e.now().UTC().Format(time.RFC3339),
		Data:      data,
	}); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// fail writes an error document to path and returns cause, joined with any
// write failure.
func (e *Exec) fail(path string, cause error) error {
	if werr := spooldir.WriteJSONFile(path, ErrorResponse{Error: cause.Error()}); werr != nil {
		return errors.Join(cause, fmt.Errorf("write error response: %w", werr))
	}
	return cause
}

// spawn starts the subprocess, writes req to stdin and decodes stdout. The
// process gets SIGTERM at the timeout and SIGKILL after the grace period.
func (e *Exec) spawn(ctx context.Context, req *protocol.Request, logger *slog.Logger) (*protocol.Response, string, error) {
	timeoutTimer := time.NewTimer(e.timeout)
	defer timeoutTimer.Stop()

	// Termination is managed here rather than via CommandContext so the
	// process gets a grace period.
	cmd := exec.Command(e.entrypoint, e.args...)
	cmd.Env = e.env
	// Orphaned grandchildren can hold the output pipes open after a kill.
	cmd.WaitDelay = time.Second

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning adapter", "timeout", e.timeout)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- protocol.EncodeRequest(stdin, req)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutTimer.C:
		logger.Warn("adapter timed out, sending SIGTERM")
		e.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), fmt.Errorf("%w after %v", ErrTimeout, e.timeout)

	case <-ctx.Done():
		logger.Warn("context cancelled, sending SIGTERM")
		e.terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		if werr := <-writeErr; werr != nil {
			return nil, stderrStr, fmt.Errorf("write request: %w", werr)
		}

		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
			logger.Warn("adapter exited with non-zero status", "exit_code", exitErr.ExitCode())
		}

		resp, raw, err := protocol.DecodeResponse(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode adapter response", "error", err, "stdout", string(raw))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}
		return resp, stderrStr, nil
	}
}

func (e *Exec) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(e.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("adapter exited after SIGTERM")
	case <-grace.C:
		logger.Warn("adapter did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
