// Package turn runs one conversational turn against the language model:
// system prompt injection, history bookkeeping, and tool-call auto-invocation
// behind a single ProcessMessage call.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/calebtt/SipBotOpen/internal/tools"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024

	// maxToolRounds bounds the tool-call loop so a model that keeps asking
	// for tools cannot spin forever.
	maxToolRounds = 8

	// extensionsToken in the tool guidance text is replaced with the
	// rendered extension list.
	extensionsToken = "{extensions}"
)

// Completer is the slice of the OpenAI chat completions API the engine uses.
// oai.Client.Chat.Completions satisfies it.
type Completer interface {
	New(ctx context.Context, params oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// Config shapes the engine's prompt and sampling.
type Config struct {
	Model string

	// Instructions, InstructionsAddendum and ToolGuidance are concatenated
	// into the system prompt. ToolGuidance may contain the {extensions}
	// token.
	Instructions         string
	InstructionsAddendum string
	ToolGuidance         string

	// Temperature and MaxTokens override the sampling defaults (0.7 and
	// 1024). Nil keeps the default; an explicit zero is sent as-is, so
	// deterministic sampling stays requestable.
	Temperature *float64
	MaxTokens   *int
}

// Engine is the per-call conversation state: the composed system prompt, the
// chat history, and the registered tools. ProcessMessage serializes turns.
type Engine struct {
	completions Completer
	registry    *tools.Registry

	// OnToolInvoked fires after each tool invocation with its outcome and
	// duration. Set before the first ProcessMessage; it runs on the turn
	// goroutine and must not call back into the engine. May be nil.
	OnToolInvoked func(tool, status string, elapsed time.Duration)

	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int

	mu      sync.Mutex
	history []oai.ChatCompletionMessageParamUnion
}

// NewEngine builds the system prompt once and seeds the history with it.
// extensions renders into the {extensions} token of the tool guidance.
func NewEngine(completions Completer, cfg Config, registry *tools.Registry, extensions []tools.Extension) (*Engine, error) {
	if completions == nil {
		return nil, errors.New("turn: completions client must not be nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("turn: model must not be empty")
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	var temperature float64 = defaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := defaultMaxTokens
	if cfg.MaxTokens != nil {
		maxTokens = *cfg.MaxTokens
	}

	e := &Engine{
		completions:  completions,
		registry:     registry,
		model:        cfg.Model,
		systemPrompt: composeSystemPrompt(cfg, registry, extensions),
		temperature:  temperature,
		maxTokens:    maxTokens,
	}
	e.history = []oai.ChatCompletionMessageParamUnion{oai.SystemMessage(e.systemPrompt)}

	// The chat API carries tool arguments as strings; anything else in a
	// definition will not round-trip.
	for _, def := range registry.Definitions() {
		for _, p := range def.Params {
			if p.Type != "" && p.Type != "string" {
				slog.Warn("turn: non-string tool parameter will be coerced",
					"tool", def.Name, "param", p.Name, "type", p.Type)
			}
		}
	}
	return e, nil
}

// SystemPrompt returns the composed system prompt.
func (e *Engine) SystemPrompt() string { return e.systemPrompt }

// HistoryLen returns the number of turns currently held, including the
// system turn.
func (e *Engine) HistoryLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

// AddAssistantMessage appends an assistant turn without invoking the model.
// Used to seed the welcome line.
func (e *Engine) AddAssistantMessage(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, oai.AssistantMessage(text))
}

// ClearHistory drops all turns and re-seeds the system turn.
func (e *Engine) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = []oai.ChatCompletionMessageParamUnion{oai.SystemMessage(e.systemPrompt)}
}

// ProcessMessage appends userText as a user turn, queries the model, and
// auto-invokes any requested tools until the model produces a plain assistant
// reply. The returned string is always speakable: model failures surface as a
// fallback sentence rather than an error.
func (e *Engine) ProcessMessage(ctx context.Context, userText string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, oai.UserMessage(userText))

	for round := 0; round <= maxToolRounds; round++ {
		resp, err := e.completions.New(ctx, e.buildParams())
		if err != nil {
			return e.fallback(err)
		}
		if len(resp.Choices) == 0 {
			return e.fallback(errors.New("empty choices in response"))
		}
		msg := resp.Choices[0].Message

		if len(msg.ToolCalls) == 0 {
			e.history = append(e.history, oai.AssistantMessage(msg.Content))
			return msg.Content
		}

		e.history = append(e.history, assistantToolCallTurn(msg))
		for _, tc := range msg.ToolCalls {
			start := time.Now()
			result, err := e.registry.Invoke(ctx, tc.Function.Name,
				decodeArgs(tc.Function.Name, tc.Function.Arguments))
			status := "ok"
			if err != nil {
				result = tools.ErrorResult("tool execution failed", err.Error())
				status = "error"
			}
			if e.OnToolInvoked != nil {
				e.OnToolInvoked(tc.Function.Name, status, time.Since(start))
			}
			e.history = append(e.history, oai.ToolMessage(result, tc.ID))
		}
	}
	return e.fallback(fmt.Errorf("tool loop exceeded %d rounds", maxToolRounds))
}

// fallback records and returns the speakable error reply.
func (e *Engine) fallback(err error) string {
	slog.Error("turn: model invocation failed", "error", err)
	text := fmt.Sprintf("Error in processing: %v. Falling back to basic chat.", err)
	e.history = append(e.history, oai.AssistantMessage(text))
	return text
}

// buildParams assembles the chat request from current history. Caller holds
// e.mu.
func (e *Engine) buildParams() oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(e.model),
		Messages:            e.history,
		Temperature:         param.NewOpt(e.temperature),
		MaxCompletionTokens: param.NewOpt(int64(e.maxTokens)),
	}
	for _, def := range e.registry.Definitions() {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: param.NewOpt(def.Description),
				Parameters:  shared.FunctionParameters(schemaFor(def)),
			},
		})
	}
	return params
}

// assistantToolCallTurn converts the model's tool-call message back into a
// history turn.
func assistantToolCallTurn(msg oai.ChatCompletionMessage) oai.ChatCompletionMessageParamUnion {
	asst := oai.ChatCompletionAssistantMessageParam{}
	if msg.Content != "" {
		asst.Content.OfString = oai.String(msg.Content)
	}
	for _, tc := range msg.ToolCalls {
		asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
			ID: tc.ID,
			Function: oai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
}

// decodeArgs parses the model's JSON argument blob into string-valued named
// arguments, coercing non-string values.
func decodeArgs(tool, raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("turn: malformed tool arguments", "tool", tool, "error", err)
		return nil
	}
	out := make(map[string]string, len(parsed))
	for k, v := range parsed {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// schemaFor renders a tool definition as a JSON-schema parameters object.
func schemaFor(def tools.Definition) map[string]any {
	properties := make(map[string]any, len(def.Params))
	var required []string
	for _, p := range def.Params {
		prop := map[string]any{
			"type":        "string",
			"description": p.Description,
		}
		if p.Default != "" {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// composeSystemPrompt joins the configured prompt parts, substitutes the
// extensions token, and appends the tool enumeration block when tools are
// registered.
func composeSystemPrompt(cfg Config, registry *tools.Registry, extensions []tools.Extension) string {
	var parts []string
	for _, p := range []string{cfg.Instructions, cfg.InstructionsAddendum} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if guidance := strings.TrimSpace(cfg.ToolGuidance); guidance != "" {
		parts = append(parts, strings.ReplaceAll(guidance, extensionsToken, renderExtensions(extensions)))
	}

	if defs := registry.Definitions(); len(defs) > 0 {
		var b strings.Builder
		b.WriteString("You have the following tools available:\n")
		for _, def := range defs {
			fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
			for _, p := range def.Params {
				fmt.Fprintf(&b, "    %s (%s%s", p.Name, paramType(p), requiredMark(p))
				if p.Default != "" {
					fmt.Fprintf(&b, ", default %q", p.Default)
				}
				fmt.Fprintf(&b, "): %s\n", p.Description)
			}
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// renderExtensions formats the transfer extensions for the prompt as
// "Transfer extensions: name (number) - description, …".
func renderExtensions(extensions []tools.Extension) string {
	if len(extensions) == 0 {
		return "Transfer extensions: none"
	}
	entries := make([]string, len(extensions))
	for i, ext := range extensions {
		entries[i] = fmt.Sprintf("%s (%s) - %s", ext.Name, ext.Number, ext.Description)
	}
	return "Transfer extensions: " + strings.Join(entries, ", ")
}

func paramType(p tools.Param) string {
	if p.Type == "" {
		return "string"
	}
	return p.Type
}

func requiredMark(p tools.Param) string {
	if p.Required {
		return ", required"
	}
	return ""
}
