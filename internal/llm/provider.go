// Package llm defines the provider-agnostic contract every LLM-calling
// agent in the pipeline depends on (spec.md §6.1):
//
//	chat_completion(messages, params) -> {content, usage}
//
// internal/llm/openaicompat is the sole concrete implementation: every
// configured LLMModelConfig speaks the OpenAI-compatible /chat/completions
// wire format via its own api_url, so a single HTTP client covers every
// provider a user points Rewind at.
package llm

import "context"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPart is a sum type mirroring the teacher's
// ChatCompletionContentPartUnionParam: exactly one of Text or ImageURL is
// set. ImageURL carries a data URL ("data:image/jpeg;base64,...") built by
// internal/imageopt, never a remote URL, since screenshots never leave the
// local machine except to the configured LLM endpoint.
type ContentPart struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// IsImage reports whether this part carries an image rather than text.
func (p ContentPart) IsImage() bool { return p.ImageURL != "" }

// Message is one entry in an ordered conversation. Content is used for
// plain text-only messages; Parts is used for multimodal messages (C3's
// screenshot batch calls). Exactly one of Content/Parts should be
// populated; openaicompat serializes whichever is non-empty.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// TextMessage builds a plain text-only message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: text}
}

// Usage mirrors the teacher's Usage struct.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Params bundles the tunables spec.md §6.1 names.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Response is the result of a non-streaming chat_completion call.
type Response struct {
	Content string
	Usage   Usage
	Model   string
}

// StreamHandler receives incremental chunks from ChatCompletionStream, one
// call per delta, followed by exactly one OnDone or OnError call.
type StreamHandler interface {
	OnDelta(chunk string)
	OnDone(final Response)
	OnError(err error)
}

// Provider is the contract every agent depends on; internal/llm/openaicompat
// is the only implementation in this module.
type Provider interface {
	ChatCompletion(ctx context.Context, messages []Message, params Params) (Response, error)
	ChatCompletionStream(ctx context.Context, messages []Message, params Params, handler StreamHandler) error
}
