package translation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Broadcaster pushes live events (LLM traffic, progress, logs) to connected
// clients. Purely advisory; a nil Broadcaster disables it.
type Broadcaster interface {
	BroadcastMessage(msgType interface{}, data interface{})
	BroadcastLog(level, message, module string)
}

// GenerationOptions carries the per-request model parameters.
type GenerationOptions struct {
	Model             string
	SystemInstruction string
	Temperature       float32
	TopP              float32
	MaxTokens         int
}

// Gateway wraps the LLM provider with minimum-interval pacing and error
// classification. The pacing state is the one piece of shared mutable state
// touched by every concurrent call, so the next slot is computed and
// committed under the mutex before the goroutine sleeps.
type Gateway struct {
	client *openai.Client
	logger *logrus.Logger
	wsHub  Broadcaster

	mu       sync.Mutex
	rpm      int
	nextSlot time.Time
}

// NewGateway builds a gateway against the provider default endpoint, or
// against any OpenAI-compatible baseURL when one is given.
func NewGateway(apiKey, baseURL string, requestsPerMinute int, logger *logrus.Logger) *Gateway {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &Gateway{
		client: openai.NewClientWithConfig(clientConfig),
		logger: logger,
		rpm:    requestsPerMinute,
	}
}

// SetBroadcaster sets the live-event sink for LLM request logging.
func (g *Gateway) SetBroadcaster(wsHub Broadcaster) {
	g.wsHub = wsHub
}

// SetRequestsPerMinute adjusts the pacing rate. Takes effect for calls that
// have not yet claimed a slot.
func (g *Gateway) SetRequestsPerMinute(rpm int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rpm = rpm
}

// claimSlot reserves this call's start time under the pacing policy and
// sleeps until it arrives. Bursts do not compound: each call's slot is
// max(now, previous slot + interval).
func (g *Gateway) claimSlot(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	var wait time.Duration
	if g.rpm > 0 {
		interval := time.Minute / time.Duration(g.rpm)
		slot := g.nextSlot
		if slot.Before(now) {
			slot = now
		}
		g.nextSlot = slot.Add(interval)
		wait = slot.Sub(now)
	}
	g.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-timer.C:
		return nil
	}
}

// Generate sends one prompt and returns the full response text. Errors come
// back already classified into the gateway taxonomy; an empty response to a
// non-empty prompt is reported as a content-safety block because some
// providers silently return nothing instead of raising on a filter hit.
func (g *Gateway) Generate(ctx context.Context, prompt string, opts GenerationOptions) (string, error) {
	if err := g.claimSlot(ctx); err != nil {
		return "", err
	}

	requestID := uuid.New().String()
	startTime := time.Now()
	g.broadcastRequest(requestID, prompt, opts)

	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(prompt, opts, false))
	if err != nil {
		g.broadcastResponse(requestID, "", 0, startTime, err)
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		return "", typedError(err)
	}

	if len(resp.Choices) == 0 {
		err := &ContentSafetyError{Message: "no response choices returned"}
		g.broadcastResponse(requestID, "", resp.Usage.TotalTokens, startTime, err)
		return "", err
	}

	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" && strings.TrimSpace(prompt) != "" {
		err := &ContentSafetyError{Message: "provider returned empty text for non-empty prompt"}
		g.broadcastResponse(requestID, "", resp.Usage.TotalTokens, startTime, err)
		return "", err
	}

	g.broadcastResponse(requestID, text, resp.Usage.TotalTokens, startTime, nil)
	return text, nil
}

// GenerateStream behaves like Generate but additionally yields incremental
// text fragments through onDelta as they arrive.
func (g *Gateway) GenerateStream(ctx context.Context, prompt string, opts GenerationOptions, onDelta func(string)) (string, error) {
	if err := g.claimSlot(ctx); err != nil {
		return "", err
	}

	requestID := uuid.New().String()
	startTime := time.Now()
	g.broadcastRequest(requestID, prompt, opts)

	stream, err := g.client.CreateChatCompletionStream(ctx, g.buildRequest(prompt, opts, true))
	if err != nil {
		g.broadcastResponse(requestID, "", 0, startTime, err)
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		return "", typedError(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			g.broadcastResponse(requestID, full.String(), 0, startTime, err)
			if ctx.Err() != nil {
				return "", ErrCancelled
			}
			return "", typedError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	text := full.String()
	if strings.TrimSpace(text) == "" && strings.TrimSpace(prompt) != "" {
		err := &ContentSafetyError{Message: "provider returned empty stream for non-empty prompt"}
		g.broadcastResponse(requestID, "", 0, startTime, err)
		return "", err
	}

	g.broadcastResponse(requestID, text, 0, startTime, nil)
	return text, nil
}

func (g *Gateway) buildRequest(prompt string, opts GenerationOptions, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if opts.SystemInstruction != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.SystemInstruction,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	return openai.ChatCompletionRequest{
		Model:       opts.Model,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Messages:    messages,
		Stream:      stream,
	}
}

func (g *Gateway) broadcastRequest(requestID, prompt string, opts GenerationOptions) {
	if g.wsHub == nil {
		return
	}
	g.wsHub.BroadcastMessage("llm_request", map[string]interface{}{
		"request_id":  requestID,
		"model":       opts.Model,
		"prompt":      truncateText(prompt, 1000),
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
		"timestamp":   time.Now(),
	})
}

func (g *Gateway) broadcastResponse(requestID, response string, tokensUsed int, startTime time.Time, err error) {
	if g.wsHub == nil {
		return
	}
	msg := map[string]interface{}{
		"request_id":  requestID,
		"response":    truncateText(response, 1000),
		"tokens_used": tokensUsed,
		"duration":    time.Since(startTime).String(),
		"success":     err == nil,
		"timestamp":   time.Now(),
	}
	if err != nil {
		msg["error"] = err.Error()
	}
	g.wsHub.BroadcastMessage("llm_response", msg)
}

// truncateText safely truncates text to a specified length. The cut is
// measured in runes so multi-byte content is never split mid-character.
func truncateText(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return "..."
	}
	return string(runes[:maxLength-3]) + "..."
}
