package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// defaultHangupDelay gives the farewell sentence time to play out before the
// line drops.
const defaultHangupDelay = 3 * time.Second

// fuzzyMaxDistance is the largest Levenshtein distance accepted when
// resolving a misheard extension name.
const fuzzyMaxDistance = 2

// Extension is one transfer target the caller can be handed to.
type Extension struct {
	Name        string `yaml:"name"`
	Number      string `yaml:"number"`
	Address     string `yaml:"address"`
	Description string `yaml:"description"`
}

// TransferFunc hands the call to a full address. Implementations must not
// block; the tool invokes it fire-and-forget.
type TransferFunc func(address string)

// HangupFunc terminates the call.
type HangupFunc func()

// SMSFunc dispatches a notification text message.
type SMSFunc func(ctx context.Context, body string) error

// Deps carries the injected collaborators the built-in tools act through.
type Deps struct {
	Extensions []Extension
	Transfer   TransferFunc
	Hangup     HangupFunc

	// SMS is optional; when nil, send_notification only logs.
	SMS SMSFunc

	// HangupDelay overrides the 3 s farewell delay. Zero keeps the default.
	HangupDelay time.Duration
}

// RegisterBuiltins registers the four standard tools on r.
func RegisterBuiltins(r *Registry, deps Deps) error {
	if deps.HangupDelay == 0 {
		deps.HangupDelay = defaultHangupDelay
	}

	builtins := []struct {
		def Definition
		fn  Func
	}{
		{
			def: Definition{
				Name:        "send_notification",
				Description: "Notify the operator about an issue the caller reported.",
				Params: []Param{
					{Name: "issue", Type: "string", Description: "What the caller reported", Required: true},
					{Name: "location", Type: "string", Description: "Where the issue is"},
					{Name: "urgency", Type: "string", Description: "One of low, medium, high", Default: "medium"},
					{Name: "caller_name", Type: "string", Description: "Name the caller gave"},
				},
			},
			fn: deps.sendNotification,
		},
		{
			def: Definition{
				Name:        "transfer_conversation",
				Description: "Transfer the caller to a named extension.",
				Params: []Param{
					{Name: "extension", Type: "string", Description: "Extension name or number to transfer to", Required: true},
					{Name: "reason", Type: "string", Description: "Why the caller is being transferred"},
				},
			},
			fn: deps.transferConversation,
		},
		{
			def: Definition{
				Name:        "end_conversation",
				Description: "End the call after saying goodbye.",
				Params: []Param{
					{Name: "reason", Type: "string", Description: "Why the call is ending"},
				},
			},
			fn: deps.endConversation,
		},
		{
			def: Definition{
				Name:        "schedule_followup",
				Description: "Record a follow-up request for the operator.",
				Params: []Param{
					{Name: "service_type", Type: "string", Description: "Kind of follow-up", Default: "callback"},
					{Name: "location", Type: "string", Description: "Where service is needed"},
					{Name: "preferred_time", Type: "string", Description: "When the caller prefers"},
				},
			},
			fn: deps.scheduleFollowup,
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.def, b.fn); err != nil {
			return err
		}
	}
	return nil
}

func (d Deps) sendNotification(ctx context.Context, args map[string]string) (string, error) {
	urgency := args["urgency"]
	switch urgency {
	case "low", "medium", "high":
	default:
		urgency = "medium"
	}

	slog.Info("tools: notification",
		"issue", args["issue"],
		"location", args["location"],
		"urgency", urgency,
		"caller_name", args["caller_name"])

	if d.SMS != nil {
		body := fmt.Sprintf("[%s] %s", urgency, args["issue"])
		if loc := args["location"]; loc != "" {
			body += " at " + loc
		}
		if name := args["caller_name"]; name != "" {
			body += " (caller: " + name + ")"
		}
		if err := d.SMS(ctx, body); err != nil {
			slog.Error("tools: SMS dispatch failed", "error", err)
			return ErrorResult("notification logged but SMS failed", err.Error()), nil
		}
	}
	return SuccessResult("The operator has been notified.", map[string]string{
		"urgency": urgency,
	}), nil
}

func (d Deps) transferConversation(ctx context.Context, args map[string]string) (string, error) {
	ext, ok := d.resolveExtension(args["extension"])
	if !ok {
		return ErrorResult("unknown extension", args["extension"]), nil
	}
	if d.Transfer == nil {
		return ErrorResult("transfer unavailable", "no transfer target configured"), nil
	}

	slog.Info("tools: transferring call",
		"extension", ext.Name, "address", ext.Address, "reason", args["reason"])

	// Fire-and-forget: the SIP side completes the transfer on its own time.
	go d.Transfer(ext.Address)

	return SuccessResult(
		fmt.Sprintf("Transferring you to %s now.", ext.Name),
		map[string]string{"extension": ext.Name, "number": ext.Number},
	), nil
}

func (d Deps) endConversation(ctx context.Context, args map[string]string) (string, error) {
	slog.Info("tools: ending call", "reason", args["reason"], "delay", d.HangupDelay)
	if d.Hangup != nil {
		time.AfterFunc(d.HangupDelay, d.Hangup)
	}
	return SuccessResult("The call will end shortly. Goodbye.", nil), nil
}

func (d Deps) scheduleFollowup(ctx context.Context, args map[string]string) (string, error) {
	slog.Info("tools: follow-up scheduled",
		"service_type", args["service_type"],
		"location", args["location"],
		"preferred_time", args["preferred_time"])
	return SuccessResult(
		fmt.Sprintf("A %s has been scheduled.", args["service_type"]),
		map[string]string{"service_type": args["service_type"]},
	), nil
}

// resolveExtension maps what the model heard to a configured extension:
// exact name match (case-insensitive), then exact number match, then the
// closest name within a small edit distance to absorb spelling-level
// transcription slips ("kitchin" for "kitchen"), and finally a double
// metaphone comparison for mishearings that sound right but spell too far
// apart ("kaylob" for "caleb").
func (d Deps) resolveExtension(alias string) (Extension, bool) {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return Extension{}, false
	}
	lower := strings.ToLower(alias)

	for _, ext := range d.Extensions {
		if strings.ToLower(ext.Name) == lower {
			return ext, true
		}
	}
	for _, ext := range d.Extensions {
		if ext.Number != "" && ext.Number == alias {
			return ext, true
		}
	}

	best := -1
	bestDist := fuzzyMaxDistance + 1
	for i, ext := range d.Extensions {
		dist := matchr.Levenshtein(lower, strings.ToLower(ext.Name))
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	if best >= 0 {
		slog.Debug("tools: fuzzy extension match",
			"alias", alias, "matched", d.Extensions[best].Name, "distance", bestDist)
		return d.Extensions[best], true
	}

	for _, ext := range d.Extensions {
		if soundsAlike(lower, strings.ToLower(ext.Name)) {
			slog.Debug("tools: phonetic extension match",
				"alias", alias, "matched", ext.Name)
			return ext, true
		}
	}
	return Extension{}, false
}

// soundsAlike reports whether two words share a double metaphone encoding.
// Either encoding of one side matching either encoding of the other counts.
func soundsAlike(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	if ap == "" || bp == "" {
		return false
	}
	if ap == bp {
		return true
	}
	if as != "" && (as == bp || as == bs) {
		return true
	}
	return bs != "" && ap == bs
}
