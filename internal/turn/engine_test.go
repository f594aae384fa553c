package turn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/calebtt/SipBotOpen/internal/tools"
)

// scriptedCompleter replays canned responses and records the requests it saw.
type scriptedCompleter struct {
	responses []*oai.ChatCompletion
	err       error
	requests  []oai.ChatCompletionNewParams
}

func (c *scriptedCompleter) New(_ context.Context, params oai.ChatCompletionNewParams, _ ...option.RequestOption) (*oai.ChatCompletion, error) {
	c.requests = append(c.requests, params)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func textResponse(content string) *oai.ChatCompletion {
	return &oai.ChatCompletion{
		Choices: []oai.ChatCompletionChoice{
			{Message: oai.ChatCompletionMessage{Content: content}},
		},
	}
}

func toolCallResponse(id, name, args string) *oai.ChatCompletion {
	return &oai.ChatCompletion{
		Choices: []oai.ChatCompletionChoice{
			{Message: oai.ChatCompletionMessage{
				ToolCalls: []oai.ChatCompletionMessageToolCall{
					{
						ID: id,
						Function: oai.ChatCompletionMessageToolCallFunction{
							Name:      name,
							Arguments: args,
						},
					},
				},
			}},
		},
	}
}

func testConfig() Config {
	return Config{
		Model:                "gpt-4o-mini",
		Instructions:         "You answer the phone for Acme Plumbing.",
		InstructionsAddendum: "Keep replies under two sentences.",
		ToolGuidance:         "When asked to transfer, use {extensions}.",
	}
}

func testExtensions() []tools.Extension {
	return []tools.Extension{
		{Name: "dispatch", Number: "201", Address: "sip:dispatch@pbx", Description: "Job dispatch"},
	}
}

func TestNewEngine_SystemPromptComposition(t *testing.T) {
	t.Parallel()

	r := tools.NewRegistry()
	_ = r.Register(tools.Definition{
		Name:        "lookup",
		Description: "Looks a thing up.",
		Params: []tools.Param{
			{Name: "key", Type: "string", Description: "what to look up", Required: true},
		},
	}, func(context.Context, map[string]string) (string, error) {
		return tools.SuccessResult("ok", nil), nil
	})

	e, err := NewEngine(&scriptedCompleter{}, testConfig(), r, testExtensions())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	prompt := e.SystemPrompt()
	for _, want := range []string{
		"Acme Plumbing",
		"under two sentences",
		"Transfer extensions: dispatch (201) - Job dispatch",
		"lookup: Looks a thing up.",
		"key (string, required)",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("system prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "{extensions}") {
		t.Error("extensions token was not substituted")
	}
}

func TestProcessMessage_PlainReply(t *testing.T) {
	t.Parallel()

	client := &scriptedCompleter{responses: []*oai.ChatCompletion{
		textResponse("We open at nine."),
	}}
	e, _ := NewEngine(client, testConfig(), nil, nil)

	got := e.ProcessMessage(context.Background(), "When do you open?")
	if got != "We open at nine." {
		t.Fatalf("reply = %q", got)
	}
	// system + user + assistant
	if n := e.HistoryLen(); n != 3 {
		t.Fatalf("history length = %d, want 3", n)
	}
	// No tools registered: the request must not enable tool calling.
	if len(client.requests[0].Tools) != 0 {
		t.Fatal("tools sent with an empty registry")
	}
}

func TestProcessMessage_ToolAutoInvocation(t *testing.T) {
	t.Parallel()

	r := tools.NewRegistry()
	var gotArgs map[string]string
	_ = r.Register(tools.Definition{
		Name:   "lookup",
		Params: []tools.Param{{Name: "key", Type: "string", Required: true}},
	}, func(_ context.Context, args map[string]string) (string, error) {
		gotArgs = args
		return tools.SuccessResult("found it", nil), nil
	})

	client := &scriptedCompleter{responses: []*oai.ChatCompletion{
		toolCallResponse("call_1", "lookup", `{"key":"hours","count":2}`),
		textResponse("We open at nine."),
	}}
	e, _ := NewEngine(client, testConfig(), r, nil)

	type invocation struct {
		tool   string
		status string
	}
	var invoked []invocation
	e.OnToolInvoked = func(tool, status string, _ time.Duration) {
		invoked = append(invoked, invocation{tool, status})
	}

	got := e.ProcessMessage(context.Background(), "When do you open?")
	if got != "We open at nine." {
		t.Fatalf("reply = %q", got)
	}
	if len(invoked) != 1 || invoked[0] != (invocation{"lookup", "ok"}) {
		t.Fatalf("tool invocations = %v, want one ok lookup", invoked)
	}
	if gotArgs["key"] != "hours" {
		t.Fatalf("tool args = %v, want key=hours", gotArgs)
	}
	if gotArgs["count"] != "2" {
		t.Fatalf("non-string arg not coerced: %v", gotArgs)
	}
	if len(client.requests) != 2 {
		t.Fatalf("model queried %d times, want 2", len(client.requests))
	}
	if len(client.requests[0].Tools) != 1 {
		t.Fatal("tool definitions not sent with the request")
	}
	// system + user + assistant(tool call) + tool result + assistant
	if n := e.HistoryLen(); n != 5 {
		t.Fatalf("history length = %d, want 5", n)
	}
}

func TestProcessMessage_ToolLoopBounded(t *testing.T) {
	t.Parallel()

	r := tools.NewRegistry()
	_ = r.Register(tools.Definition{Name: "spin"}, func(context.Context, map[string]string) (string, error) {
		return tools.SuccessResult("again", nil), nil
	})

	var responses []*oai.ChatCompletion
	for i := 0; i < 50; i++ {
		responses = append(responses, toolCallResponse("c", "spin", "{}"))
	}
	e, _ := NewEngine(&scriptedCompleter{responses: responses}, testConfig(), r, nil)

	got := e.ProcessMessage(context.Background(), "go")
	if !strings.HasPrefix(got, "Error in processing:") {
		t.Fatalf("unbounded tool loop not cut off, got %q", got)
	}
}

func TestProcessMessage_ModelErrorFallback(t *testing.T) {
	t.Parallel()

	client := &scriptedCompleter{err: errors.New("rate limited")}
	e, _ := NewEngine(client, testConfig(), nil, nil)

	got := e.ProcessMessage(context.Background(), "hello")
	if !strings.HasPrefix(got, "Error in processing:") ||
		!strings.HasSuffix(got, "Falling back to basic chat.") {
		t.Fatalf("fallback reply = %q", got)
	}
	if !strings.Contains(got, "rate limited") {
		t.Fatalf("fallback must carry the reason, got %q", got)
	}
}

func TestAddAssistantMessageAndClearHistory(t *testing.T) {
	t.Parallel()

	e, _ := NewEngine(&scriptedCompleter{}, testConfig(), nil, nil)
	e.AddAssistantMessage("Welcome to Acme Plumbing.")
	if n := e.HistoryLen(); n != 2 {
		t.Fatalf("history length = %d, want 2 (system + welcome)", n)
	}

	e.ClearHistory()
	if n := e.HistoryLen(); n != 1 {
		t.Fatalf("history length after clear = %d, want 1 (system turn)", n)
	}
}

func TestTemperatureAndMaxTokenDefaults(t *testing.T) {
	t.Parallel()

	client := &scriptedCompleter{responses: []*oai.ChatCompletion{textResponse("hi")}}
	e, _ := NewEngine(client, testConfig(), nil, nil)
	_ = e.ProcessMessage(context.Background(), "hi")

	req := client.requests[0]
	if got := req.Temperature.Or(0); got != 0.7 {
		t.Fatalf("temperature = %v, want 0.7", got)
	}
	if got := req.MaxCompletionTokens.Or(0); got != 1024 {
		t.Fatalf("max tokens = %v, want 1024", got)
	}
}

func TestExplicitZeroTemperatureIsSent(t *testing.T) {
	t.Parallel()

	zero := 0.0
	limit := 64
	cfg := testConfig()
	cfg.Temperature = &zero
	cfg.MaxTokens = &limit

	client := &scriptedCompleter{responses: []*oai.ChatCompletion{textResponse("hi")}}
	e, _ := NewEngine(client, cfg, nil, nil)
	_ = e.ProcessMessage(context.Background(), "hi")

	req := client.requests[0]
	if got := req.Temperature.Or(-1); got != 0 {
		t.Fatalf("temperature = %v, want explicit 0", got)
	}
	if got := req.MaxCompletionTokens.Or(0); got != 64 {
		t.Fatalf("max tokens = %v, want 64", got)
	}
}
