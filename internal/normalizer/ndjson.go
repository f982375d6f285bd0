package normalizer

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/missionrelay/missionrelay/internal/events"
)

// NDJSONParser parses the Claude-Code-family stream-json format: one JSON
// object per line, state kept for the duration of a single turn.
type NDJSONParser struct {
	missionID string
	emit      func(events.CoreEvent)

	sessionID string

	blockTypes map[int]string
	pending    map[string]pendingTool

	thinkingCumulative string

	// textBlocks buffers text content by block index, both from streamed
	// content_block_delta text_delta events and from the complete content
	// array of each "assistant" message (which re-sends the full text at
	// its own array position). This is the indexed text buffer used as
	// the terminal text's tier-two source when no "result" line ever
	// carries one.
	textBlocks map[int]string
}

type pendingTool struct {
	ID   string
	Name string
}

// NewNDJSONParser constructs a parser for one turn. emit is called
// synchronously, in the order lines are fed.
func NewNDJSONParser(missionID string, emit func(events.CoreEvent)) *NDJSONParser {
	return &NDJSONParser{
		missionID:  missionID,
		emit:       emit,
		blockTypes: make(map[int]string),
		pending:    make(map[string]pendingTool),
		textBlocks: make(map[int]string),
	}
}

type ndjsonLine struct {
	Type      string           `json:"type"`
	Subtype   string           `json:"subtype"`
	SessionID string           `json:"session_id"`
	Event     *ndjsonStreamEvt `json:"event"`

	// Message is an object on "assistant"/"user" lines and a plain string
	// on "result" lines; decoded on demand by asMessage/asResultMessage
	// since encoding/json can't target one field at two types.
	Message json.RawMessage `json:"message"`

	ToolUseResult json.RawMessage `json:"tool_use_result"`

	IsError      bool     `json:"is_error"`
	Result       string   `json:"result"`
	TotalCostUSD float64  `json:"total_cost_usd"`
	Error        string   `json:"error"`
	Errors       []string `json:"errors"`
}

func (l *ndjsonLine) asMessage() *ndjsonMessage {
	if len(l.Message) == 0 {
		return nil
	}
	var m ndjsonMessage
	if err := json.Unmarshal(l.Message, &m); err != nil {
		return nil
	}
	return &m
}

func (l *ndjsonLine) asResultMessage() string {
	if len(l.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(l.Message, &s); err != nil {
		return ""
	}
	return s
}

type ndjsonStreamEvt struct {
	Type         string             `json:"type"`
	Index        int                `json:"index"`
	ContentBlock *ndjsonContentItem `json:"content_block"`
	Delta        *ndjsonDelta       `json:"delta"`
}

type ndjsonDelta struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking"`
}

type ndjsonMessage struct {
	Content []ndjsonContentItem `json:"content"`
}

type ndjsonContentItem struct {
	Type string `json:"type"`

	// text
	Text string `json:"text"`

	// thinking
	Thinking string `json:"thinking"`

	// tool_use
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// tool_result
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
}

// Feed parses one NDJSON line, emitting zero or more CoreEvents. A non-nil
// AgentResult is returned only when the line was a terminal "result"
// message; the caller should stop feeding further lines for this turn.
func (p *NDJSONParser) Feed(line []byte) (*events.AgentResult, error) {
	if len(line) == 0 {
		return nil, nil
	}
	var msg ndjsonLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("normalizer: parsing ndjson line: %w", err)
	}

	switch msg.Type {
	case "system":
		if msg.SessionID != "" && msg.SessionID != p.sessionID {
			p.sessionID = msg.SessionID
			p.emit(events.SessionIDUpdate(p.missionID, msg.SessionID))
		}
	case "stream_event":
		p.handleStreamEvent(msg.Event)
	case "assistant":
		p.handleAssistant(msg.asMessage())
	case "user":
		p.handleUser(msg.asMessage(), msg.ToolUseResult)
	case "result":
		return p.handleResult(&msg), nil
	}
	return nil, nil
}

func (p *NDJSONParser) handleStreamEvent(evt *ndjsonStreamEvt) {
	if evt == nil {
		return
	}
	switch evt.Type {
	case "content_block_start":
		if evt.ContentBlock == nil {
			return
		}
		p.blockTypes[evt.Index] = evt.ContentBlock.Type
		if evt.ContentBlock.Type == "tool_use" {
			p.pending[evt.ContentBlock.ID] = pendingTool{ID: evt.ContentBlock.ID, Name: evt.ContentBlock.Name}
		}
	case "content_block_delta":
		if evt.Delta == nil {
			return
		}
		switch evt.Delta.Type {
		case "thinking_delta":
			if evt.Delta.Thinking == "" {
				return
			}
			p.thinkingCumulative += evt.Delta.Thinking
			p.emit(events.Thinking(p.missionID, p.thinkingCumulative, false))
		case "text_delta":
			if evt.Delta.Text == "" {
				return
			}
			p.textBlocks[evt.Index] += evt.Delta.Text
			p.emit(events.TextDelta(p.missionID, evt.Delta.Text))
		}
	}
}

func (p *NDJSONParser) handleAssistant(msg *ndjsonMessage) {
	if msg == nil {
		return
	}
	for idx, item := range msg.Content {
		switch item.Type {
		case "text":
			p.textBlocks[idx] = item.Text
		case "tool_use":
			p.pending[item.ID] = pendingTool{ID: item.ID, Name: item.Name}
			var args any
			if len(item.Input) > 0 {
				_ = json.Unmarshal(item.Input, &args)
			}
			p.emit(events.ToolCall(p.missionID, item.ID, item.Name, args))
		case "thinking":
			if item.Thinking == p.thinkingCumulative {
				continue
			}
			p.thinkingCumulative = item.Thinking
			p.emit(events.Thinking(p.missionID, p.thinkingCumulative, true))
		}
	}
}

func (p *NDJSONParser) handleUser(msg *ndjsonMessage, toolUseResult json.RawMessage) {
	if msg == nil {
		return
	}
	for _, item := range msg.Content {
		if item.Type != "tool_result" {
			continue
		}
		name := "unknown"
		if pt, ok := p.pending[item.ToolUseID]; ok {
			name = pt.Name
		}

		var result any
		if len(toolUseResult) > 0 {
			var structured map[string]any
			if err := json.Unmarshal(toolUseResult, &structured); err == nil {
				result = structured
			}
		}
		if result == nil && len(item.Content) > 0 {
			var inline any
			if err := json.Unmarshal(item.Content, &inline); err == nil {
				result = inline
			} else {
				result = string(item.Content)
			}
		}
		p.emit(events.ToolResult(p.missionID, item.ToolUseID, name, result))
	}
}

func (p *NDJSONParser) handleResult(msg *ndjsonLine) *events.AgentResult {
	isErr := isErrorResult(msg.IsError, msg.Subtype, msg.Result)
	res := &events.AgentResult{
		Success: !isErr,
		// cost_cents is rounded down: a partial cent of observed usage is
		// not billed.
		CostCents: int64(msg.TotalCostUSD * 100),
	}
	if isErr {
		res.TerminalReason = events.ReasonLlmError
		res.ErrorMessage = humanMessage(msg.Result, msg.Error, msg.asResultMessage(), msg.Errors)
	} else {
		res.TerminalReason = events.ReasonCompleted
		res.Output = msg.Result
		if res.Output == "" {
			res.Output = p.indexedText()
		}
	}
	return res
}

// indexedText concatenates buffered text blocks in block-index order: the
// tier-two terminal text source, used when a "result" line carries none.
func (p *NDJSONParser) indexedText() string {
	if len(p.textBlocks) == 0 {
		return ""
	}
	indices := make([]int, 0, len(p.textBlocks))
	for idx := range p.textBlocks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	var b strings.Builder
	for _, idx := range indices {
		b.WriteString(p.textBlocks[idx])
	}
	return b.String()
}

// BestEffortText returns the best terminal text available from stream
// state alone, for callers that reach end-of-stream without ever seeing a
// "result" line (e.g. a crashed or killed CLI process).
func (p *NDJSONParser) BestEffortText() string {
	return p.indexedText()
}
