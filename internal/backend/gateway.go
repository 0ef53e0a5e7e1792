// Package backend bridges the bot to the external one-shot inference
// process. Each query spawns an independent process with no retry and no
// timeout; the backend's reliability contract is one JSON document on
// stdout at exit, nothing more.
package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"

	"askbot/internal/domain"
	"askbot/internal/metrics"
)

// promptTemplate wraps the user's free text in a fixed instruction
// preamble. The query is substituted verbatim; the prompt is not
// sanitized against instruction-override content.
const promptTemplate = `
You are a very enthusiastic analyst expert who loves to help people! Provide articulate and concise responses in markdown format.

Question:

""" %s """

Desired Output Format:

Provide a summary in bullet points.
Ensure the summary is concise, relevant, and covers key points.
Use markdown format for better readability.
`

const (
	responseSeparator = "\n\n---\n\n"
	responseHeader    = "### AI Generated Response: \n"
	disclaimerBanner  = "This text was provided by Generative AI for demonstration purposes only. Outputs may not always be accurate and may contain material inaccuracies or mistakes. Consider checking important information."

	// ParseFailureReply is sent when the backend's output cannot be
	// parsed. A garbage response is recovered; a missing backend is not.
	ParseFailureReply = "Failed to parse the response from the model."
)

// Gateway invokes the inference backend and dispatches the formatted
// answer (or a failure reply) back through the bus.
type Gateway struct {
	command string
	args    []string
	bus     domain.MessageBus
	audit   domain.AuditLog
	logger  *slog.Logger
	fatal   func(err error)

	failures *metrics.Counter
}

// Config holds the gateway's dependencies.
type Config struct {
	Command string   // backend executable
	Args    []string // fixed arguments; the JSON-encoded prompt is appended
	Bus     domain.MessageBus
	Audit   domain.AuditLog
	Logger  *slog.Logger

	// Fatal is called when the backend process cannot be spawned at all.
	// Defaults to terminating the process: an unreachable backend is a
	// deployment fault, distinct from a backend that returns garbage.
	Fatal func(err error)
}

func New(cfg Config) *Gateway {
	fatal := cfg.Fatal
	if fatal == nil {
		fatal = func(err error) {
			cfg.Logger.Error("inference backend unspawnable, terminating", "err", err)
			os.Exit(1)
		}
	}
	return &Gateway{
		command:  cfg.Command,
		args:     cfg.Args,
		bus:      cfg.Bus,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		fatal:    fatal,
		failures: metrics.Collector.Counter("askbot_backend_failures_total", "Backend invocations whose output could not be parsed"),
	}
}

// Ask forwards the query to the backend and returns immediately.
// Completion is asynchronous and terminates by dispatching a response
// to the conversation.
func (g *Gateway) Ask(eventID, channel, chatID, query string) {
	go g.run(eventID, channel, chatID, query)
}

func (g *Gateway) run(eventID, channel, chatID, query string) {
	prompt := fmt.Sprintf(promptTemplate, query)
	g.audit.Record("AI request started", map[string]any{
		"event":    eventID,
		"room":     chatID,
		"template": prompt,
	})

	encoded, err := json.Marshal(prompt)
	if err != nil {
		// A string always marshals; treat anything else as a bug.
		g.logger.Error("prompt encoding failed", "event", eventID, "err", err)
		g.reply(channel, chatID, ParseFailureReply)
		return
	}

	args := append(slices.Clone(g.args), string(encoded))
	cmd := exec.Command(g.command, args...)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		g.fatal(fmt.Errorf("backend stderr pipe: %w", err))
		return
	}

	if err := cmd.Start(); err != nil {
		g.audit.Record("Failed to get a response from the model: "+err.Error(), nil)
		g.fatal(fmt.Errorf("spawn backend %s: %w", g.command, err))
		return
	}

	// stderr is diagnostic only, never parsed.
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		g.audit.Record("stderr: "+scanner.Text(), nil)
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	g.audit.Record(fmt.Sprintf("child process exited with code %d", exitCode), nil)

	// A non-zero exit does not short-circuit: whatever stdout was
	// captured is still given a chance to parse.
	response, err := parseResponse(stdout.Bytes())
	if err != nil {
		g.failures.Inc()
		g.audit.Record("Failed to parse response: "+err.Error(), nil)
		g.logger.Warn("backend output unparseable", "event", eventID, "err", err)
		g.reply(channel, chatID, ParseFailureReply)
		return
	}

	formatted := response + responseSeparator + responseHeader + disclaimerBanner
	g.audit.Record("Full AI response prepared", map[string]any{
		"event":    eventID,
		"room":     chatID,
		"response": formatted,
	})
	g.reply(channel, chatID, formatted)
}

func (g *Gateway) reply(channel, chatID, markdown string) {
	g.bus.SendOutbound(domain.OutboundMessage{
		Channel:  channel,
		ChatID:   chatID,
		Markdown: markdown,
	})
}

// parseResponse extracts the required "response" field from the backend's
// stdout. Malformed JSON, a missing field, and empty output are all the
// same recoverable failure.
func parseResponse(raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", errors.New("empty backend output")
	}
	var out struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode backend output: %w", err)
	}
	if out.Response == nil {
		return "", errors.New("backend output missing response field")
	}
	return *out.Response, nil
}
