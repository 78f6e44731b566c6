// Package openaicompat implements internal/llm.Provider against any
// OpenAI-compatible /chat/completions endpoint, grounded on the teacher's
// internal/llm/completions.go CallLLM and internal/llm/openai/client.go's
// multimodal ChatWithImageAttachment construction. Retry/backoff semantics
// (max attempts, exponential delay, terminal status codes) are ported
// verbatim from the original Python client's chat_completion method.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"rewind/internal/llm"
	"rewind/internal/observability"
)

// terminalStatus mirrors the original Python client's non_retry_status set:
// these indicate a request the caller must fix, not a transient failure, so
// retrying is never useful.
var terminalStatus = map[int]bool{
	400: true,
	401: true,
	403: true,
	404: true,
	422: true,
}

// Config configures one provider endpoint. Every configured LLMModelConfig
// (internal/store) maps to one of these.
type Config struct {
	APIURL                string
	APIKey                string
	Model                 string
	ConnectTimeoutSeconds int
	ReadTimeoutSeconds    int
	MaxRetries            int
}

// Client is the sole concrete llm.Provider implementation.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ llm.Provider = (*Client)(nil)

// New builds a Client with sane timeout defaults when cfg leaves them zero.
func New(cfg Config) *Client {
	if cfg.ConnectTimeoutSeconds == 0 {
		cfg.ConnectTimeoutSeconds = 10
	}
	if cfg.ReadTimeoutSeconds == 0 {
		cfg.ReadTimeoutSeconds = 60
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	timeout := time.Duration(cfg.ConnectTimeoutSeconds+cfg.ReadTimeoutSeconds) * time.Second
	return &Client{
		cfg:        cfg,
		httpClient: observability.NewHTTPClient(&http.Client{Timeout: timeout}),
	}
}

type wireContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *wireImageURLRef `json:"image_url,omitempty"`
}

type wireImageURLRef struct {
	URL string `json:"url"`
}

type wireMessage struct {
	Role    llm.Role `json:"role"`
	Content any      `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type choice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type completionResponse struct {
	Choices []choice  `json:"choices"`
	Usage   llm.Usage `json:"usage"`
	Model   string    `json:"model"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func toWireMessage(m llm.Message) wireMessage {
	if len(m.Parts) == 0 {
		return wireMessage{Role: m.Role, Content: m.Content}
	}
	parts := make([]wireContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.IsImage() {
			parts = append(parts, wireContentPart{Type: "image_url", ImageURL: &wireImageURLRef{URL: p.ImageURL}})
		} else {
			parts = append(parts, wireContentPart{Type: "text", Text: p.Text})
		}
	}
	return wireMessage{Role: m.Role, Content: parts}
}

// httpStatusError carries the response status so retry logic can consult
// terminalStatus.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm provider returned status %d: %s", e.status, e.body)
}

func (c *Client) do(ctx context.Context, reqBody completionRequest) (*completionResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	var parsed completionResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.APIURL, "/")+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Warn().Err(err).Str("component", "llm_client").Msg("llm_request_transport_error")
			return err
		}
		defer resp.Body.Close()

		dec := json.NewDecoder(resp.Body)
		if resp.StatusCode >= 300 {
			var body bytes.Buffer
			_, _ = body.ReadFrom(resp.Body)
			statusErr := &httpStatusError{status: resp.StatusCode, body: body.String()}
			if terminalStatus[resp.StatusCode] {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		if err := dec.Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode completion response: %w", err))
		}
		if parsed.Error != nil {
			return backoff.Permanent(fmt.Errorf("llm error: %s", parsed.Error.Message))
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries))
	bo = backoff.WithContext(bo, ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return &parsed, nil
}

// ChatCompletion implements llm.Provider.
func (c *Client) ChatCompletion(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Response, error) {
	ctx, span := observability.StartRequestSpan(ctx, "rewind/llm", "ChatCompletion")
	defer span.End()

	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, toWireMessage(m))
	}

	resp, err := c.do(ctx, completionRequest{
		Model:       c.cfg.Model,
		Messages:    wire,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return llm.Response{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("llm response had no choices")
	}
	return llm.Response{
		Content: resp.Choices[0].Message.Content,
		Usage:   resp.Usage,
		Model:   resp.Model,
	}, nil
}

// ChatCompletionStream implements llm.Provider. It parses text/event-stream
// "data: {...}" frames, invoking handler.OnDelta per chunk, ending with
// exactly one OnDone or OnError call.
func (c *Client) ChatCompletionStream(ctx context.Context, messages []llm.Message, params llm.Params, handler llm.StreamHandler) error {
	ctx, span := observability.StartRequestSpan(ctx, "rewind/llm", "ChatCompletionStream")
	defer span.End()

	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, toWireMessage(m))
	}

	payload, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    wire,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		handler.OnError(err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.APIURL, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		handler.OnError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		handler.OnError(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		err := &httpStatusError{status: resp.StatusCode, body: body.String()}
		handler.OnError(err)
		return err
	}

	var full strings.Builder
	var usage llm.Usage
	model := c.cfg.Model

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk completionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Err(err).Msg("llm_stream_chunk_decode_error")
			continue
		}
		if len(chunk.Choices) > 0 {
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				full.WriteString(delta)
				handler.OnDelta(delta)
			}
		}
		if chunk.Usage.TotalTokens > 0 {
			usage = chunk.Usage
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
	}
	if err := scanner.Err(); err != nil {
		handler.OnError(err)
		return err
	}

	handler.OnDone(llm.Response{Content: full.String(), Usage: usage, Model: model})
	return nil
}
