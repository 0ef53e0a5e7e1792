package backend

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"askbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type noopAudit struct{}

func (noopAudit) Record(message string, data any) {}

// chanBus forwards outbound messages to a channel so tests can wait for
// the gateway's asynchronous completion.
type chanBus struct{ out chan domain.OutboundMessage }

func newChanBus() *chanBus {
	return &chanBus{out: make(chan domain.OutboundMessage, 4)}
}

func (b *chanBus) Publish(domain.InboundEvent)                     {}
func (b *chanBus) Subscribe() <-chan domain.InboundEvent           { return nil }
func (b *chanBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (b *chanBus) Close()                                          {}
func (b *chanBus) SendOutbound(msg domain.OutboundMessage)         { b.out <- msg }

func (b *chanBus) wait(t *testing.T) domain.OutboundMessage {
	t.Helper()
	select {
	case msg := <-b.out:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for gateway response")
		return domain.OutboundMessage{}
	}
}

func newTestGateway(t *testing.T, b domain.MessageBus, command string, args ...string) (*Gateway, *error) {
	t.Helper()
	var fatalErr error
	g := New(Config{
		Command: command,
		Args:    args,
		Bus:     b,
		Audit:   noopAudit{},
		Logger:  testLogger(),
		Fatal:   func(err error) { fatalErr = err },
	})
	return g, &fatalErr
}

// --- parseResponse ---

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"valid", `{"response":"X"}`, "X", false},
		{"empty output", "", "", true},
		{"whitespace only", "  \n", "", true},
		{"not json", "not json", "", true},
		{"missing field", `{"answer":"X"}`, "", true},
		{"null response", `{"response":null}`, "", true},
		{"wrong type", `{"response":42}`, "", true},
		{"empty string is valid", `{"response":""}`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseResponse([]byte(tt.raw))
			if tt.wantErr != (err != nil) {
				t.Fatalf("parseResponse(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("parseResponse(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// --- Ask: formatting round-trip ---

func TestAsk_RoundTripFormatting(t *testing.T) {
	b := newChanBus()
	g, fatalErr := newTestGateway(t, b, "sh", "-c", `echo '{"response":"X"}'`)

	g.Ask("evt-1", "slack", "C1", "anything")
	msg := b.wait(t)

	want := "X" + responseSeparator + responseHeader + disclaimerBanner
	if msg.Markdown != want {
		t.Fatalf("dispatched message =\n%q\nwant\n%q", msg.Markdown, want)
	}
	if msg.ChatID != "C1" || msg.Channel != "slack" {
		t.Fatalf("response routed to wrong conversation: %+v", msg)
	}
	if *fatalErr != nil {
		t.Fatalf("unexpected fatal: %v", *fatalErr)
	}
}

func TestAsk_QuerySubstitutedIntoPrompt(t *testing.T) {
	b := newChanBus()
	// Echo the prompt argument back as the response; the argument is the
	// JSON-encoded prompt string, so the output is valid JSON.
	g, _ := newTestGateway(t, b, "sh", "-c", `printf '{"response": %s}' "$0"`)

	g.Ask("evt-1", "slack", "C1", "why is the sky blue")
	msg := b.wait(t)

	if !strings.Contains(msg.Markdown, `""" why is the sky blue """`) {
		t.Fatalf("query not substituted verbatim into the prompt: %q", msg.Markdown)
	}
}

// --- Ask: failure recovery ---

func TestAsk_MalformedOutputRecovered(t *testing.T) {
	b := newChanBus()
	g, fatalErr := newTestGateway(t, b, "sh", "-c", `echo 'not json'`)

	g.Ask("evt-1", "slack", "C1", "anything")
	msg := b.wait(t)

	if msg.Markdown != ParseFailureReply {
		t.Fatalf("expected the fixed failure reply, got %q", msg.Markdown)
	}
	if *fatalErr != nil {
		t.Fatalf("malformed output is recovered, not fatal: %v", *fatalErr)
	}
}

func TestAsk_NonZeroExitStillParsesOutput(t *testing.T) {
	b := newChanBus()
	g, fatalErr := newTestGateway(t, b, "sh", "-c", `echo '{"response":"despite the exit code"}'; exit 3`)

	g.Ask("evt-1", "slack", "C1", "anything")
	msg := b.wait(t)

	if !strings.HasPrefix(msg.Markdown, "despite the exit code") {
		t.Fatalf("captured stdout must still be parsed on non-zero exit, got %q", msg.Markdown)
	}
	if *fatalErr != nil {
		t.Fatalf("non-zero exit is not fatal: %v", *fatalErr)
	}
}

func TestAsk_UnspawnableBackendIsFatal(t *testing.T) {
	b := newChanBus()
	fatalCh := make(chan error, 1)
	g := New(Config{
		Command: "/nonexistent/backend-binary",
		Bus:     b,
		Audit:   noopAudit{},
		Logger:  testLogger(),
		Fatal:   func(err error) { fatalCh <- err },
	})

	g.Ask("evt-1", "slack", "C1", "anything")

	select {
	case err := <-fatalCh:
		if err == nil {
			t.Fatal("fatal hook called without an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("unspawnable backend must escalate through the fatal hook")
	}

	select {
	case msg := <-b.out:
		t.Fatalf("no user-facing reply expected for an unspawnable backend, got %q", msg.Markdown)
	case <-time.After(100 * time.Millisecond):
	}
}

// --- Ask: concurrency ---

func TestAsk_ConcurrentQueriesBothComplete(t *testing.T) {
	b := newChanBus()
	g, _ := newTestGateway(t, b, "sh", "-c", `sleep 0.1; echo '{"response":"done"}'`)

	g.Ask("evt-1", "slack", "C1", "first")
	g.Ask("evt-2", "slack", "C1", "second")

	first := b.wait(t)
	second := b.wait(t)

	for _, msg := range []domain.OutboundMessage{first, second} {
		if !strings.HasPrefix(msg.Markdown, "done") {
			t.Fatalf("both in-flight queries must complete, got %q", msg.Markdown)
		}
	}
}

// stderr is diagnostic only and must not affect response parsing.
func TestAsk_StderrIgnoredForParsing(t *testing.T) {
	b := newChanBus()
	g, _ := newTestGateway(t, b, "sh", "-c", `echo 'diagnostic noise' >&2; echo '{"response":"clean"}'`)

	g.Ask("evt-1", "slack", "C1", "anything")
	msg := b.wait(t)

	if !strings.HasPrefix(msg.Markdown, "clean") {
		t.Fatalf("stderr leaked into parsing: %q", msg.Markdown)
	}
	if strings.Contains(msg.Markdown, "diagnostic noise") {
		t.Fatal("stderr content must not appear in the response")
	}
}
