// Package llm reaches the text-generation model that writes quiz questions
// and grades answers. Two transports are supported: spawning a model-runner
// CLI per call, and an OpenAI-compatible HTTP API.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dchstudio/exiquiz/internal/llm/prompts"
	"github.com/dchstudio/exiquiz/internal/model"
)

// Client generates quiz questions and grades answers.
type Client interface {
	// GenerateQuestion returns one question about the described image.
	GenerateQuestion(ctx context.Context, description string, difficulty model.Difficulty) (string, error)
	// GradeAnswer returns the model's raw grading response. The caller is
	// responsible for parsing and validating it as a rubric.
	GradeAnswer(ctx context.Context, question, answer, description string) (string, error)
}

// CallError is returned when a model call fails or times out, so the caller
// can tell a broken model apart from a slow one. Error text never doubles as
// question or feedback content.
type CallError struct {
	Op      string // "generate" or "grade"
	Timeout bool
	Wrapped error
}

func (e *CallError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s call timed out", e.Op)
	}
	return fmt.Sprintf("%s call failed: %v", e.Op, e.Wrapped)
}

func (e *CallError) Unwrap() error {
	return e.Wrapped
}

// Mode selects the model transport.
type Mode string

const (
	// ModeCLI spawns the model-runner binary per call (e.g. `ollama run`).
	ModeCLI Mode = "cli"
	// ModeAPI talks to an OpenAI-compatible chat-completions endpoint.
	ModeAPI Mode = "api"
)

// Config holds model transport settings.
type Config struct {
	Mode    Mode
	Model   string
	Binary  string // CLI mode: model-runner binary
	BaseURL string // API mode: OpenAI-compatible base URL
	APIKey  string // API mode
	Timeout time.Duration
}

// New creates a client for the configured transport.
func New(cfg Config) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch cfg.Mode {
	case ModeCLI, "":
		if cfg.Binary == "" {
			cfg.Binary = "ollama"
		}
		return &CLIClient{binary: cfg.Binary, model: cfg.Model, timeout: cfg.Timeout}, nil
	case ModeAPI:
		apiCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			apiCfg.BaseURL = cfg.BaseURL
		}
		return &APIClient{
			api:     openai.NewClientWithConfig(apiCfg),
			model:   cfg.Model,
			timeout: cfg.Timeout,
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
	}
}

// CLIClient runs the model-runner binary once per call. The call is bounded
// by a timeout; on expiry the process is killed, never left running.
type CLIClient struct {
	binary  string
	model   string
	timeout time.Duration
}

var _ Client = (*CLIClient)(nil)

func (c *CLIClient) GenerateQuestion(ctx context.Context, description string, difficulty model.Difficulty) (string, error) {
	return c.run(ctx, "generate", prompts.Question(description, difficulty))
}

func (c *CLIClient) GradeAnswer(ctx context.Context, question, answer, description string) (string, error) {
	return c.run(ctx, "grade", prompts.Grade(question, answer, description))
}

func (c *CLIClient) run(ctx context.Context, op, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, "run", c.model, prompt)
	// The runner gets its own process group: on deadline the whole group is
	// killed, not just the direct child, so forked model workers die too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	// A surviving pipe writer must not hold Wait open past the deadline.
	cmd.WaitDelay = 5 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	slog.Debug("model run finished", "op", op, "binary", c.binary, "duration", time.Since(start), "error", err)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &CallError{Op: op, Timeout: true, Wrapped: ctx.Err()}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", &CallError{Op: op, Wrapped: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// APIClient talks to an OpenAI-compatible endpoint (Ollama, LM Studio, vLLM).
type APIClient struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

var _ Client = (*APIClient)(nil)

func (c *APIClient) GenerateQuestion(ctx context.Context, description string, difficulty model.Difficulty) (string, error) {
	return c.chat(ctx, "generate", prompts.Question(description, difficulty))
}

func (c *APIClient) GradeAnswer(ctx context.Context, question, answer, description string) (string, error) {
	return c.chat(ctx, "grade", prompts.Grade(question, answer, description))
}

// Ping verifies the endpoint is reachable before serving traffic.
func (c *APIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.api.ListModels(ctx)
	return err
}

func (c *APIClient) chat(ctx context.Context, op, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.3,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &CallError{Op: op, Timeout: true, Wrapped: err}
		}
		return "", &CallError{Op: op, Wrapped: err}
	}
	if len(resp.Choices) == 0 {
		return "", &CallError{Op: op, Wrapped: errors.New("model returned no choices")}
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
