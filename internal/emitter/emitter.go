// Package emitter defines the outbound-notification boundary between the
// pipeline/chat layers and the UI host (spec.md §6.3). It replaces the
// original source's global register_emit_handler singleton (DESIGN NOTES
// §9: "model it as a &'a dyn Emitter captured by the coordinator at start,
// not as a global") with a small interface, grounded in the teacher's
// narrow-interface style (internal/agent.Tracer in
// intelligencedev-manifold). The Coordinator holds the single concrete
// Emitter and passes it explicitly to whatever needs to notify the host;
// nothing in this module imports a transport package directly.
package emitter

// Emitter delivers a named notification with an arbitrary JSON-serializable
// payload to the UI host. Implementations decide the transport (SSE,
// WebSocket, in-process channel, ...); pipeline and chat code only ever see
// this interface.
type Emitter interface {
	Emit(event string, payload any)
}

// Event names used on the wire (spec.md §6.3).
const (
	EventActivityCreated     = "activity-created"
	EventActivityUpdated     = "activity-updated"
	EventActivityDeleted     = "activity-deleted"
	EventBulkUpdateCompleted = "bulk-update-completed"
	EventChatMessageChunk    = "chat-message-chunk"
	EventAgentTaskUpdate     = "agent-task-update"
)

// ActivityDeletedPayload is the payload for EventActivityDeleted.
type ActivityDeletedPayload struct {
	ID        string `json:"id"`
	DeletedAt string `json:"deletedAt"`
}

// BulkUpdateCompletedPayload is the payload for EventBulkUpdateCompleted.
type BulkUpdateCompletedPayload struct {
	UpdatedCount int    `json:"updatedCount"`
	Timestamp    string `json:"timestamp"`
}

// ChatMessageChunkPayload is the payload for EventChatMessageChunk, emitted
// once per streamed delta and once more with Done=true when a message
// finishes (internal/chat, grounded on
// original_source/backend/services/chat_service.py's
// emit_chat_message_chunk calls).
type ChatMessageChunkPayload struct {
	ConversationID string `json:"conversation_id"`
	Chunk          string `json:"chunk"`
	Done           bool   `json:"done"`
	MessageID      string `json:"message_id,omitempty"`
}

// AgentTaskUpdatePayload is the payload for EventAgentTaskUpdate.
type AgentTaskUpdatePayload struct {
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Progress *int   `json:"progress,omitempty"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NopEmitter discards every notification. The coordinator falls back to it
// when it is given no Emitter (no UI host attached).
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(event string, payload any) {}
