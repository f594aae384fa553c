package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"
)

const defaultSynthRate = 22050

// WSOption configures a [WSSynthesizer].
type WSOption func(*WSSynthesizer)

// WithVoice sets the voice identifier sent with each synthesis request.
func WithVoice(voice string) WSOption {
	return func(c *WSSynthesizer) { c.voice = voice }
}

// WithSampleRate sets the PCM sample rate requested from the server
// (default 22050).
func WithSampleRate(rate int) WSOption {
	return func(c *WSSynthesizer) { c.sampleRate = rate }
}

// WSSynthesizer synthesizes sentences against a streaming WebSocket TTS
// server. Each Synthesize call opens its own connection, so concurrent calls
// are independent.
type WSSynthesizer struct {
	url        string
	voice      string
	sampleRate int
}

var _ Synthesizer = (*WSSynthesizer)(nil)

// NewWSSynthesizer creates a synthesizer client for the server at wsURL
// (e.g. "ws://localhost:8880/synthesize").
func NewWSSynthesizer(wsURL string, opts ...WSOption) (*WSSynthesizer, error) {
	if wsURL == "" {
		return nil, errors.New("tts: server URL must not be empty")
	}
	c := &WSSynthesizer{url: wsURL, sampleRate: defaultSynthRate}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// synthRequest is the JSON payload opening one synthesis exchange.
type synthRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

// synthResponse is one server message: a base64 PCM chunk, a final marker,
// or an error description.
type synthResponse struct {
	Audio   string `json:"audio"`
	Final   bool   `json:"final"`
	Message string `json:"message,omitempty"`
}

// Synthesize renders one sentence to 16-bit mono PCM at the configured
// sample rate.
func (c *WSSynthesizer) Synthesize(ctx context.Context, sentence string) ([]byte, int, error) {
	if sentence == "" {
		return nil, c.sampleRate, nil
	}

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("tts: dial %s: %w", c.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	req, err := json.Marshal(synthRequest{
		Text:       sentence,
		Voice:      c.voice,
		SampleRate: c.sampleRate,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("tts: marshal request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		return nil, 0, fmt.Errorf("tts: send request: %w", err)
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("tts: read response: %w", err)
		}
		var resp synthResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, 0, fmt.Errorf("tts: decode response: %w", err)
		}
		if resp.Message != "" && resp.Audio == "" && !resp.Final {
			return nil, 0, fmt.Errorf("tts: server error: %s", resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, 0, fmt.Errorf("tts: decode audio chunk: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.Final {
			return pcm, c.sampleRate, nil
		}
	}
}
