// Package chat implements the Chat Service (C11): conversation lifecycle,
// message history, and streamed LLM replies delivered through
// internal/emitter. Grounded on
// original_source/backend/services/chat_service.py (ChatService) and
// original_source/backend/services/chat_stream_manager.py
// (ChatStreamManager), whose asyncio.Task-per-conversation cancellation
// model becomes a map[string]streamHandle (a sequence number plus a
// context.CancelFunc) guarded by a mutex
// (spec.md §9 DESIGN NOTES: "the per-conversation stream manager becomes a
// Map<ConvId, JoinHandle> guarded by a lock").
package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"rewind/internal/emitter"
	"rewind/internal/llm"
	"rewind/internal/observability"
	"rewind/internal/store"
)

// maxHistoryMessages bounds how much prior conversation is sent to the LLM
// per turn (chat_service.py get_message_history's default limit).
const maxHistoryMessages = 20

// maxTitleLength bounds the auto-derived conversation title
// (_generate_title_from_text's max_length=28).
const maxTitleLength = 28

const markdownGuidancePrompt = `Respond using well-formatted Markdown: use headings, bullet lists, and
fenced code blocks where appropriate.`

const activityContextPromptTemplate = `The user wants to discuss the following activity from their timeline:

Title: %s
Description: %s
Time: %s to %s

Use this as context for the conversation.`

var (
	codeFencePattern     = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern    = regexp.MustCompile("`([^`]+)`")
	leadingMarkerPattern = regexp.MustCompile(`^[#>*\-\s]+`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// Service implements the chat command surface (spec.md §6.4 "Chat:
// create_conversation, create_conversation_from_activities, send_message,
// get_conversations, get_messages, delete_conversation").
type Service struct {
	provider      llm.Provider
	conversations store.ConversationRepository
	activities    store.ActivityRepository
	emit          emitter.Emitter
	params        llm.Params

	mu        sync.Mutex
	streams   map[string]streamHandle
	streamSeq atomic.Uint64
}

// streamHandle pairs a cancellation function with a sequence number so
// registerStream's cleanup only removes the map entry it itself installed,
// never a newer stream that has since replaced it.
type streamHandle struct {
	id     uint64
	cancel context.CancelFunc
}

// NewService builds a chat Service. emit is the single Emitter captured by
// the Coordinator at start (spec.md §9 DESIGN NOTES); a nil emit is
// replaced with emitter.NopEmitter.
func NewService(provider llm.Provider, conversations store.ConversationRepository, activities store.ActivityRepository, emit emitter.Emitter) *Service {
	if emit == nil {
		emit = emitter.NopEmitter{}
	}
	return &Service{
		provider:      provider,
		conversations: conversations,
		activities:    activities,
		emit:          emit,
		params:        llm.Params{MaxTokens: 2048, Temperature: 0.7},
		streams:       make(map[string]streamHandle),
	}
}

// CreateConversation starts a blank conversation with a placeholder title.
func (s *Service) CreateConversation(ctx context.Context) (store.Conversation, error) {
	c := store.NewConversation()
	if err := s.conversations.Create(ctx, c); err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// CreateConversationFromActivities starts a conversation seeded with a
// system message describing the given activities, so the first user turn
// has context (chat_service.py's create_conversation_from_activities /
// _generate_activity_context_prompt).
func (s *Service) CreateConversationFromActivities(ctx context.Context, activityIDs []string) (store.Conversation, error) {
	c := store.NewConversation()
	c.RelatedActivityIDs = store.StringSlice(activityIDs)

	title := "Discussion about activities"
	var contextParts []string
	for i, id := range activityIDs {
		a, err := s.activities.Get(ctx, id)
		if err != nil {
			observability.LoggerWithTrace(ctx).Warn().Err(err).Str("activity_id", id).Msg("chat: activity lookup failed, skipping from context")
			continue
		}
		if i == 0 {
			title = fmt.Sprintf("Discussion about %s", a.Title)
		}
		contextParts = append(contextParts, fmt.Sprintf(activityContextPromptTemplate,
			a.Title, a.Description, a.StartTime.Format("15:04"), a.EndTime.Format("15:04")))
	}
	c.Title = title
	c.TitleIsPlaceholder = false

	if err := s.conversations.Create(ctx, c); err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if len(contextParts) > 0 {
		sysMsg := store.NewMessage(c.ID, string(llm.RoleSystem), strings.Join(contextParts, "\n\n"))
		if err := s.conversations.AppendMessage(ctx, sysMsg); err != nil {
			return store.Conversation{}, fmt.Errorf("save activity context message: %w", err)
		}
	}
	return c, nil
}

// GetConversations lists every conversation, most recently updated first.
func (s *Service) GetConversations(ctx context.Context) ([]store.Conversation, error) {
	return s.conversations.List(ctx)
}

// GetMessages returns the full message history of a conversation.
func (s *Service) GetMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	return s.conversations.ListMessages(ctx, conversationID)
}

// DeleteConversation removes a conversation and cancels any in-flight
// stream for it.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	s.CancelStream(conversationID)
	return s.conversations.Delete(ctx, conversationID)
}

// CancelStream cancels the in-flight LLM stream for conversationID, if any
// (chat_stream_manager.py's cancel_stream).
func (s *Service) CancelStream(conversationID string) {
	s.mu.Lock()
	handle, ok := s.streams[conversationID]
	delete(s.streams, conversationID)
	s.mu.Unlock()
	if ok {
		handle.cancel()
	}
}

// IsStreaming reports whether conversationID currently has an active
// stream (chat_stream_manager.py's is_streaming).
func (s *Service) IsStreaming(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[conversationID]
	return ok
}

// registerStream cancels any prior stream for conversationID and installs
// the new one (chat_stream_manager.py's register_stream: "cancel and
// replace old task for same conversation_id").
func (s *Service) registerStream(ctx context.Context, conversationID string) (context.Context, func()) {
	id := s.streamSeq.Add(1)

	s.mu.Lock()
	if prior, ok := s.streams[conversationID]; ok {
		prior.cancel()
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.streams[conversationID] = streamHandle{id: id, cancel: cancel}
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		if current, ok := s.streams[conversationID]; ok && current.id == id {
			delete(s.streams, conversationID)
		}
		s.mu.Unlock()
		cancel()
	}
	return streamCtx, cleanup
}

// SendMessage appends the user's message, streams an LLM reply, persists
// it, and emits chat-message-chunk notifications through the Emitter for
// every delta plus a final done=true chunk (chat_service.py's
// send_message_stream). It blocks until the reply completes, is cancelled
// via CancelStream, or fails.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string) error {
	logger := observability.LoggerWithTrace(ctx)

	userMsg := store.NewMessage(conversationID, string(llm.RoleUser), content)
	if err := s.conversations.AppendMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("save user message: %w", err)
	}
	s.maybeUpdateTitle(ctx, conversationID, content)

	messages, err := s.buildPromptMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("build prompt messages: %w", err)
	}

	streamCtx, cleanup := s.registerStream(ctx, conversationID)
	defer cleanup()

	handler := &streamHandler{
		service: s,
		// persistCtx strips streamCtx's cancellation (but keeps any trace
		// values) so a stream cancelled by a newer message on the same
		// conversation can still persist its terminal "[Error] ..."
		// message - spec.md §8's chat-cancellation scenario requires the
		// cancelled stream's turn to land in the store, not be lost to a
		// context already gone Done.
		ctx:            context.WithoutCancel(streamCtx),
		conversationID: conversationID,
	}
	if err := s.provider.ChatCompletionStream(streamCtx, messages, s.params, handler); err != nil {
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("chat: stream call failed")
		return err
	}
	return handler.err
}

// buildPromptMessages loads up to maxHistoryMessages prior messages and
// prepends the Markdown-formatting system prompt if the history is empty
// or doesn't already start with a system message (chat_service.py's
// send_message_stream: "if empty or first-isn't-system, prepend guidance").
func (s *Service) buildPromptMessages(ctx context.Context, conversationID string) ([]llm.Message, error) {
	history, err := s.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load message history: %w", err)
	}
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}

	messages := make([]llm.Message, 0, len(history)+1)
	if len(history) == 0 || history[0].Role != string(llm.RoleSystem) {
		messages = append(messages, llm.TextMessage(llm.RoleSystem, markdownGuidancePrompt))
	}
	for _, m := range history {
		messages = append(messages, llm.TextMessage(llm.Role(m.Role), m.Content))
	}
	return messages, nil
}

// maybeUpdateTitle derives a short title from candidateText the first time
// a conversation receives content, then never again (chat_service.py's
// _maybe_update_conversation_title: skip once metadata.titleFinalized).
func (s *Service) maybeUpdateTitle(ctx context.Context, conversationID, candidateText string) {
	logger := observability.LoggerWithTrace(ctx)

	c, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("chat: failed to load conversation for title update")
		return
	}
	if !c.TitleIsPlaceholder {
		return
	}
	title := generateTitleFromText(candidateText)
	if title == "" {
		return
	}
	if err := s.conversations.SetTitle(ctx, conversationID, title, false); err != nil {
		logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("chat: failed to persist auto title")
	}
}

// generateTitleFromText mirrors chat_service.py's
// _generate_title_from_text(text, max_length=28): strip code fences,
// unwrap inline backticked spans (keeping their text), strip leading
// markdown markers, collapse
// whitespace, then shorten with an ellipsis.
func generateTitleFromText(text string) string {
	cleaned := codeFencePattern.ReplaceAllString(text, "")
	cleaned = inlineCodePattern.ReplaceAllString(cleaned, "$1")
	cleaned = leadingMarkerPattern.ReplaceAllString(cleaned, "")
	cleaned = whitespacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}
	return shorten(cleaned, maxTitleLength)
}

// shorten mirrors Python's textwrap.shorten(text, width, placeholder="…"):
// collapse to whole words that fit within width, else truncate with an
// ellipsis.
func shorten(text string, width int) string {
	if len(text) <= width {
		return text
	}
	words := strings.Fields(text)
	var out strings.Builder
	for i, w := range words {
		candidateLen := out.Len()
		if i > 0 {
			candidateLen++
		}
		candidateLen += len(w) + len("…")
		if candidateLen > width {
			break
		}
		if i > 0 {
			out.WriteByte(' ')
		}
		out.WriteString(w)
	}
	if out.Len() == 0 {
		if width <= 1 {
			return "…"
		}
		return text[:width-1] + "…"
	}
	return out.String() + "…"
}

// streamHandler adapts llm.StreamHandler to the Service's emit+persist
// flow for a single SendMessage call.
type streamHandler struct {
	service        *Service
	ctx            context.Context
	conversationID string
	accumulated    strings.Builder
	err            error
}

// OnDelta implements llm.StreamHandler.
func (h *streamHandler) OnDelta(chunk string) {
	h.accumulated.WriteString(chunk)
	h.service.emit.Emit(emitter.EventChatMessageChunk, emitter.ChatMessageChunkPayload{
		ConversationID: h.conversationID,
		Chunk:          chunk,
		Done:           false,
	})
}

// OnDone implements llm.StreamHandler: persists the assistant reply and
// emits a terminal done=true chunk carrying its message id.
func (h *streamHandler) OnDone(final llm.Response) {
	content := final.Content
	if content == "" {
		content = h.accumulated.String()
	}
	msg := store.NewMessage(h.conversationID, string(llm.RoleAssistant), content)
	if err := h.service.conversations.AppendMessage(h.ctx, msg); err != nil {
		observability.LoggerWithTrace(h.ctx).Warn().Err(err).Msg("chat: failed to save assistant reply")
	}
	h.service.maybeUpdateTitle(h.ctx, h.conversationID, content)
	h.service.emit.Emit(emitter.EventChatMessageChunk, emitter.ChatMessageChunkPayload{
		ConversationID: h.conversationID,
		Chunk:          "",
		Done:           true,
		MessageID:      msg.ID,
	})
}

// OnError implements llm.StreamHandler: mirrors chat_service.py's
// exception path — save a short "[Error] ..." assistant message flagged
// metadata.error=true, emit a terminal chunk, and surface the error to the
// SendMessage caller.
func (h *streamHandler) OnError(err error) {
	h.err = err
	errText := err.Error()
	if len(errText) > 100 {
		errText = errText[:100]
	}
	content := fmt.Sprintf("[Error] %s", errText)

	msg := store.NewMessage(h.conversationID, string(llm.RoleAssistant), content)
	msg.Metadata = store.JSONMap{"error": true}
	if saveErr := h.service.conversations.AppendMessage(h.ctx, msg); saveErr != nil {
		observability.LoggerWithTrace(h.ctx).Warn().Err(saveErr).Msg("chat: failed to save error message")
	}
	h.service.emit.Emit(emitter.EventChatMessageChunk, emitter.ChatMessageChunkPayload{
		ConversationID: h.conversationID,
		Chunk:          content,
		Done:           true,
		MessageID:      msg.ID,
	})
}
