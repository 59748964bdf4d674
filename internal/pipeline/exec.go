package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"

	"github.com/padstow/galley/pkg/kitchen"
)

// maxOutputSize is the maximum number of bytes to read from a persona
// command's stdout/stderr (10MB)
const maxOutputSize = 10 * 1024 * 1024

// ExecCapability runs a persona's configured command as a subprocess. The
// recipe and its discussion history are written to stdin as JSON; the command
// must write exactly one StageOutcome JSON object to stdout and exit zero.
//
// This is how LLM-backed personas plug into `galley run` without the engine
// knowing anything about how they produce text. The invocation timeout comes
// from the engine via ctx.
type ExecCapability struct {
	Command []string
}

// ExecInput is the JSON structure passed to persona commands via stdin.
type ExecInput struct {
	Recipe         *kitchen.Recipe    `json:"recipe"`
	MessageContext []*kitchen.Message `json:"message_context"`
}

// Handle implements Capability.
func (c *ExecCapability) Handle(ctx context.Context, recipe *kitchen.Recipe, messageContext []*kitchen.Message) (*StageOutcome, error) {
	if len(c.Command) == 0 {
		return nil, fmt.Errorf("command array is empty")
	}

	input := &ExecInput{Recipe: recipe, MessageContext: messageContext}
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capability input: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdoutBuf := &bytes.Buffer{}
	stderrBuf := &bytes.Buffer{}
	cmd.Stdout = &limitedWriter{w: stdoutBuf, limit: maxOutputSize}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputSize}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start persona command: %w", err)
	}

	go func() {
		defer stdinPipe.Close()
		if _, err := io.WriteString(stdinPipe, string(inputJSON)); err != nil {
			log.Printf("[Pipeline] Failed to write to persona stdin: %v", err)
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("persona command timed out")
		}
		return nil, fmt.Errorf("persona command failed: %w (stderr: %s)", err, truncateOutput(stderrBuf.String(), 500))
	}

	if stdoutBuf.Len() >= maxOutputSize || stderrBuf.Len() >= maxOutputSize {
		return nil, fmt.Errorf("persona command output exceeded 10MB limit")
	}

	return parseOutcome(stdoutBuf.String())
}

// parseOutcome unmarshals and validates the command's stdout JSON.
func parseOutcome(stdout string) (*StageOutcome, error) {
	if len(stdout) == 0 {
		return nil, fmt.Errorf("persona command produced no output on stdout")
	}

	var outcome StageOutcome
	if err := json.Unmarshal([]byte(stdout), &outcome); err != nil {
		return nil, fmt.Errorf("invalid outcome JSON: %w", err)
	}

	if err := outcome.Status.Validate(); err != nil {
		return nil, err
	}

	return &outcome, nil
}

// limitedWriter wraps a writer and enforces a size limit.
// Once the limit is reached, further writes are discarded.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}

	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}

	n, err = lw.w.Write(toWrite)
	lw.written += n
	return len(p), err // Return len(p) to satisfy the writer interface
}

// truncateOutput limits a string to maxLen characters, appending "..." if truncated
func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
