package normalizer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/missionrelay/missionrelay/internal/events"
)

// Frame is one decoded SSE frame: the `event:` name (if any) and the
// concatenation of its `data:` lines.
type Frame struct {
	Event string
	Data  string
}

// ReadFrames scans r for SSE frames, calling onFrame for each one in order.
// Lines other than "event:"/"data:" (comments, "id:", "retry:") are ignored.
func ReadFrames(r io.Reader, onFrame func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var cur Frame
	var dataLines []string
	flush := func() error {
		if cur.Event == "" && len(dataLines) == 0 {
			return nil
		}
		cur.Data = strings.Join(dataLines, "\n")
		err := onFrame(cur)
		cur = Frame{}
		dataLines = nil
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("normalizer: scanning sse stream: %w", err)
	}
	return flush()
}

// StatusBannerPrefixes are lines OpenCode interleaves into its own stdout
// and into thinking/reasoning text that are not part of the model's actual
// output. Exported so backend drivers can filter the plain-text stdout arm
// of a process the same way this parser filters reasoning text.
var StatusBannerPrefixes = []string{
	"Starting OpenCode server",
	"Waiting for completion",
	"Session: ses_",
}

// IsStatusBannerLine reports whether line (after trimming whitespace) is a
// known OpenCode status banner rather than real process output.
func IsStatusBannerLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range StatusBannerPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func stripStatusBanners(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if !IsStatusBannerLine(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

type functionCallBuilder struct {
	callID string
	name   string
	args   strings.Builder
}

// SSEParser parses the OpenCode SSE event stream, filtering by session id
// and deduplicating tool call/result emission. State lives for one turn.
type SSEParser struct {
	missionID string
	sessionID string
	emit      func(events.CoreEvent)

	messageRoles map[string]string
	thinkingBuf  map[string]string
	thinkingLast map[string]string

	seenToolCalls   map[string]bool
	seenToolResults map[string]bool

	functionCalls map[string]*functionCallBuilder

	// textParts/textOrder buffer assistant text by first-seen block key,
	// in the order blocks first appeared: the tier-two terminal text
	// source (spec's "indexed text buffers sorted by block index"; SSE
	// frames key blocks by id/index rather than a bare integer, so
	// first-seen order stands in for sorted block index).
	textParts map[string]string
	textOrder []string
}

// NewSSEParser constructs a parser scoped to sessionID; frames carrying a
// different session id are dropped. An empty sessionID disables filtering.
func NewSSEParser(missionID, sessionID string, emit func(events.CoreEvent)) *SSEParser {
	return &SSEParser{
		missionID:       missionID,
		sessionID:       sessionID,
		emit:            emit,
		messageRoles:    make(map[string]string),
		thinkingBuf:     make(map[string]string),
		thinkingLast:    make(map[string]string),
		seenToolCalls:   make(map[string]bool),
		seenToolResults: make(map[string]bool),
		functionCalls:   make(map[string]*functionCallBuilder),
		textParts:       make(map[string]string),
	}
}

// BestEffortText concatenates buffered assistant text blocks in first-seen
// order: the tier-two/tier-three terminal text source used when a frame
// doesn't carry one directly (message.updated's own text field never
// does) or when the stream ends without any terminal frame at all.
func (p *SSEParser) BestEffortText() string {
	var b strings.Builder
	for _, key := range p.textOrder {
		b.WriteString(p.textParts[key])
	}
	return b.String()
}

// HandleFrame processes one decoded frame. A non-nil AgentResult signals the
// turn completed (or went idle) and the caller should stop feeding frames.
func (p *SSEParser) HandleFrame(f Frame) (*events.AgentResult, error) {
	data := strings.TrimSpace(f.Data)
	if data == "" {
		return nil, nil
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("normalizer: parsing sse frame: %w", err)
	}

	typ := stringPath(payload, "type")
	if typ == "" {
		typ = f.Event
	}

	if p.sessionID != "" {
		if sid, ok := extractSessionID(payload); ok && sid != p.sessionID {
			return nil, nil
		}
	}

	switch typ {
	case "message.updated":
		p.handleMessageUpdated(payload)
	case "message.part.updated":
		p.handleMessagePartUpdated(payload)
	case "response.output_item.added", "response.output_item.arguments.delta", "response.output_item.done":
		p.handleResponseOutputItem(typ, payload)
	case "response.output_text.delta":
		p.handleOutputTextDelta(payload)
	case "response.completed":
		// Tier one: the Responses API's own output_text convenience field,
		// when present. Tier two: the indexed text buffer, otherwise.
		text := stringPath(payload, "response.output_text")
		if text == "" {
			text = p.BestEffortText()
		}
		return &events.AgentResult{Success: true, Output: text, TerminalReason: events.ReasonCompleted}, nil
	case "response.incomplete":
		return &events.AgentResult{Success: false, TerminalReason: events.ReasonCancelled}, nil
	case "session.idle":
		return &events.AgentResult{Success: true, Output: p.BestEffortText(), TerminalReason: events.ReasonCompleted}, nil
	case "session.status":
		if idle, _ := payload["idle"].(bool); idle {
			return &events.AgentResult{Success: true, Output: p.BestEffortText(), TerminalReason: events.ReasonCompleted}, nil
		}
	case "error", "message.error":
		p.emit(events.Error(p.missionID, stringPath(payload, "message"), false))
	}
	return nil, nil
}

func (p *SSEParser) handleMessageUpdated(m map[string]interface{}) {
	id := stringPath(m, "info.id")
	if id == "" {
		return
	}
	p.messageRoles[id] = stringPath(m, "info.role")
}

func (p *SSEParser) handleMessagePartUpdated(m map[string]interface{}) {
	switch stringPath(m, "part.type") {
	case "thinking", "reasoning":
		p.handleThinkingPart(m)
	case "tool":
		p.handleToolPart(m)
	case "text":
		p.handleTextPart(m)
	}
}

// handleTextPart buffers an assistant text part by id/message, in
// first-seen order, and forwards genuine incremental deltas as TextDelta
// events. A part replayed wholesale (no "delta" field, just the running
// value) only updates the buffer; it isn't itself a new delta.
func (p *SSEParser) handleTextPart(m map[string]interface{}) {
	messageID := stringPath(m, "part.messageID")
	if p.messageRoles[messageID] == "user" {
		return
	}

	key := stringPath(m, "part.id")
	if key == "" {
		key = messageID
	}
	if key == "" {
		return
	}
	if _, seen := p.textParts[key]; !seen {
		p.textOrder = append(p.textOrder, key)
	}

	if delta := stringPath(m, "part.delta"); delta != "" {
		p.textParts[key] += delta
		p.emit(events.TextDelta(p.missionID, delta))
		return
	}
	for _, field := range []string{"text", "content"} {
		if v := stringPath(m, "part."+field); v != "" {
			p.textParts[key] = v
			return
		}
	}
}

// handleOutputTextDelta buffers a Responses-API-shaped text delta and
// forwards it, per Open Question Decision #1: both forwarded live and
// accumulated into the tier-two terminal text buffer.
func (p *SSEParser) handleOutputTextDelta(m map[string]interface{}) {
	key := functionCallKey(m)
	if key == "" {
		key = "output_text"
	}
	if _, seen := p.textParts[key]; !seen {
		p.textOrder = append(p.textOrder, key)
	}
	delta := stringPath(m, "delta")
	if delta == "" {
		return
	}
	p.textParts[key] += delta
	p.emit(events.TextDelta(p.missionID, delta))
}

func (p *SSEParser) handleThinkingPart(m map[string]interface{}) {
	messageID := stringPath(m, "part.messageID")
	if p.messageRoles[messageID] == "user" {
		return
	}

	key := stringPath(m, "part.id")
	if key == "" {
		key = messageID
	}
	if key == "" {
		key = stringPath(m, "part.type")
	}

	if delta := stringPath(m, "part.delta"); delta != "" {
		p.thinkingBuf[key] += delta
	} else {
		for _, field := range []string{"text", "thinking", "content", "output_text"} {
			if v := stringPath(m, "part."+field); v != "" {
				p.thinkingBuf[key] = v
				break
			}
		}
	}

	filtered := stripStatusBanners(p.thinkingBuf[key])
	if filtered == p.thinkingLast[key] {
		return
	}
	p.thinkingLast[key] = filtered
	p.emit(events.Thinking(p.missionID, filtered, false))
}

func (p *SSEParser) handleToolPart(m map[string]interface{}) {
	id := stringPath(m, "part.id")
	if id == "" {
		id = stringPath(m, "part.callID")
	}
	if id == "" {
		return
	}
	name := stringPath(m, "part.tool")

	switch stringPath(m, "part.state.status") {
	case "running":
		if p.seenToolCalls[id] {
			return
		}
		p.seenToolCalls[id] = true
		args, _ := lookupPath(m, "part.state.input")
		p.emit(events.ToolCall(p.missionID, id, name, args))
	case "completed":
		if p.seenToolResults[id] {
			return
		}
		p.seenToolResults[id] = true
		output, _ := lookupPath(m, "part.state.output")
		p.emit(events.ToolResult(p.missionID, id, name, output))
	case "error":
		if p.seenToolResults[id] {
			return
		}
		p.seenToolResults[id] = true
		p.emit(events.ToolResult(p.missionID, id, name, map[string]any{"error": stringPath(m, "part.state.error")}))
	}
}

func (p *SSEParser) handleResponseOutputItem(typ string, m map[string]interface{}) {
	key := functionCallKey(m)
	if key == "" {
		return
	}
	switch typ {
	case "response.output_item.added":
		if stringPath(m, "item.type") != "function_call" {
			return
		}
		callID := stringPath(m, "item.call_id")
		if callID == "" {
			callID = key
		}
		p.functionCalls[key] = &functionCallBuilder{callID: callID, name: stringPath(m, "item.name")}
	case "response.output_item.arguments.delta":
		b, ok := p.functionCalls[key]
		if !ok {
			return
		}
		if d := stringPath(m, "delta"); d != "" {
			b.args.WriteString(d)
		}
	case "response.output_item.done":
		b, ok := p.functionCalls[key]
		if !ok {
			return
		}
		delete(p.functionCalls, key)
		var args any
		if s := b.args.String(); s != "" {
			_ = json.Unmarshal([]byte(s), &args)
		}
		p.emit(events.ToolCall(p.missionID, b.callID, b.name, args))
	}
}

func functionCallKey(m map[string]interface{}) string {
	if id := stringPath(m, "item.id"); id != "" {
		return id
	}
	if v, ok := m["output_index"]; ok {
		return fmt.Sprintf("%v", v)
	}
	if id := stringPath(m, "item_id"); id != "" {
		return id
	}
	return ""
}

func extractSessionID(m map[string]interface{}) (string, bool) {
	for _, path := range []string{"sessionID", "info.sessionID", "part.sessionID"} {
		if v, ok := lookupPath(m, path); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func lookupPath(m map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = m
	for _, part := range strings.Split(path, ".") {
		cm, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := cm[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func stringPath(m map[string]interface{}, path string) string {
	v, ok := lookupPath(m, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
