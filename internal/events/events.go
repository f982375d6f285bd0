// Package events defines the CoreEvent tagged union emitted by backend
// drivers and consumed by mission runners and any subscriber of the
// Mission Supervisor's event bus.
package events

// Kind discriminates the CoreEvent variants.
type Kind string

const (
	KindUserMessage      Kind = "user_message"
	KindAssistantMessage Kind = "assistant_message"
	KindThinking         Kind = "thinking"
	KindTextDelta        Kind = "text_delta"
	KindToolCall         Kind = "tool_call"
	KindToolResult       Kind = "tool_result"
	KindError            Kind = "error"
	KindSessionIDUpdate  Kind = "session_id_update"
)

// CoreEvent is the backend-agnostic event type C4's normalizers produce and
// C9/C10 and any proxy subscriber consume. Exactly one of the payload fields
// is meaningful, selected by Kind; this mirrors a tagged union without
// forcing every consumer through a type switch on an interface.
type CoreEvent struct {
	Kind      Kind
	MissionID string

	// UserMessage
	ID      string
	Content string
	Queued  bool

	// AssistantMessage
	Success bool

	// Thinking: Content is the cumulative buffer, not a delta. Done marks
	// the final emission for a thinking block.
	Done bool

	// ToolCall / ToolResult
	ToolCallID string
	Name       string
	Args       any
	Result     any

	// Error
	Message   string
	Resumable bool

	// SessionIDUpdate
	SessionID string
}

// UserMessage builds a UserMessage CoreEvent.
func UserMessage(missionID, id, content string, queued bool) CoreEvent {
	return CoreEvent{Kind: KindUserMessage, MissionID: missionID, ID: id, Content: content, Queued: queued}
}

// AssistantMessage builds an AssistantMessage CoreEvent.
func AssistantMessage(missionID, content string, success bool) CoreEvent {
	return CoreEvent{Kind: KindAssistantMessage, MissionID: missionID, Content: content, Success: success}
}

// Thinking builds a Thinking CoreEvent. content is the cumulative buffer.
func Thinking(missionID, content string, done bool) CoreEvent {
	return CoreEvent{Kind: KindThinking, MissionID: missionID, Content: content, Done: done}
}

// TextDelta builds a TextDelta CoreEvent.
func TextDelta(missionID, content string) CoreEvent {
	return CoreEvent{Kind: KindTextDelta, MissionID: missionID, Content: content}
}

// ToolCall builds a ToolCall CoreEvent.
func ToolCall(missionID, toolCallID, name string, args any) CoreEvent {
	return CoreEvent{Kind: KindToolCall, MissionID: missionID, ToolCallID: toolCallID, Name: name, Args: args}
}

// ToolResult builds a ToolResult CoreEvent.
func ToolResult(missionID, toolCallID, name string, result any) CoreEvent {
	return CoreEvent{Kind: KindToolResult, MissionID: missionID, ToolCallID: toolCallID, Name: name, Result: result}
}

// Error builds an Error CoreEvent.
func Error(missionID, message string, resumable bool) CoreEvent {
	return CoreEvent{Kind: KindError, MissionID: missionID, Message: message, Resumable: resumable}
}

// SessionIDUpdate builds a SessionIDUpdate CoreEvent.
func SessionIDUpdate(missionID, sessionID string) CoreEvent {
	return CoreEvent{Kind: KindSessionIDUpdate, MissionID: missionID, SessionID: sessionID}
}

// TerminalReason classifies how a turn ended.
type TerminalReason string

const (
	ReasonCompleted TerminalReason = "completed"
	ReasonCancelled TerminalReason = "cancelled"
	ReasonLlmError  TerminalReason = "llm_error"
)

// AgentResult is the terminal value a Backend Driver returns from run_turn.
type AgentResult struct {
	Success        bool
	Output         string
	CostCents      int64
	ModelUsed      string
	TerminalReason TerminalReason
	ErrorMessage   string
}
