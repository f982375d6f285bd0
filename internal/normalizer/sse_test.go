package normalizer

import (
	"strings"
	"testing"

	"github.com/missionrelay/missionrelay/internal/events"
)

func feedFrames(t *testing.T, p *SSEParser, frames []string) (*events.AgentResult, []events.CoreEvent) {
	t.Helper()
	var got []events.CoreEvent
	p.emit = func(e events.CoreEvent) { got = append(got, e) }

	var final *events.AgentResult
	for _, raw := range frames {
		data := strings.TrimPrefix(raw, "data: ")
		res, err := p.HandleFrame(Frame{Data: data})
		if err != nil {
			t.Fatalf("frame %q: %v", raw, err)
		}
		if res != nil {
			final = res
		}
	}
	return final, got
}

func TestSSESessionFiltering(t *testing.T) {
	var got []events.CoreEvent
	p := NewSSEParser("m1", "ses_target", func(e events.CoreEvent) { got = append(got, e) })

	_, err := p.HandleFrame(Frame{Data: `{"type":"error","sessionID":"ses_other","message":"nope"}`})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected frame from a different session to be dropped, got %+v", got)
	}

	_, err = p.HandleFrame(Frame{Data: `{"type":"error","sessionID":"ses_target","message":"yep"}`})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != "yep" {
		t.Fatalf("expected the matching-session error to pass through, got %+v", got)
	}
}

func TestSSEThinkingDeltaDedupAndBannerStrip(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	frames := []string{
		`{"type":"message.updated","info":{"id":"msg1","role":"assistant"}}`,
		`{"type":"message.part.updated","part":{"id":"part1","messageID":"msg1","type":"thinking","delta":"Starting OpenCode server\nFirst "}}`,
		`{"type":"message.part.updated","part":{"id":"part1","messageID":"msg1","type":"thinking","delta":"thought."}}`,
		`{"type":"message.part.updated","part":{"id":"part1","messageID":"msg1","type":"thinking","delta":"thought."}}`,
	}
	_, got := feedFrames(t, p, frames)

	var thinking []events.CoreEvent
	for _, e := range got {
		if e.Kind == events.KindThinking {
			thinking = append(thinking, e)
		}
	}
	if len(thinking) != 2 {
		t.Fatalf("expected 2 distinct thinking emissions (third is a no-op duplicate), got %d: %+v", len(thinking), thinking)
	}
	if strings.Contains(thinking[0].Content, "Starting OpenCode server") {
		t.Errorf("expected status banner line stripped, got %q", thinking[0].Content)
	}
}

func TestSSEUserMessageThinkingIgnored(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	frames := []string{
		`{"type":"message.updated","info":{"id":"msg1","role":"user"}}`,
		`{"type":"message.part.updated","part":{"id":"part1","messageID":"msg1","type":"thinking","delta":"should not appear"}}`,
	}
	_, got := feedFrames(t, p, frames)
	if len(got) != 0 {
		t.Fatalf("expected thinking on a user message to be ignored, got %+v", got)
	}
}

func TestSSEToolCallAndResultDeduped(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	frames := []string{
		`{"type":"message.part.updated","part":{"id":"call1","tool":"bash","type":"tool","state":{"status":"running","input":{"command":"ls"}}}}`,
		`{"type":"message.part.updated","part":{"id":"call1","tool":"bash","type":"tool","state":{"status":"running","input":{"command":"ls"}}}}`,
		`{"type":"message.part.updated","part":{"id":"call1","tool":"bash","type":"tool","state":{"status":"completed","output":"file1"}}}`,
		`{"type":"message.part.updated","part":{"id":"call1","tool":"bash","type":"tool","state":{"status":"completed","output":"file1"}}}`,
	}
	_, got := feedFrames(t, p, frames)

	var calls, results int
	for _, e := range got {
		switch e.Kind {
		case events.KindToolCall:
			calls++
		case events.KindToolResult:
			results++
		}
	}
	if calls != 1 || results != 1 {
		t.Fatalf("expected exactly one call and one result after dedup, got calls=%d results=%d", calls, results)
	}
}

func TestSSEResponseFunctionCallReconstruction(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	frames := []string{
		`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"call_abc","name":"search"}}`,
		`{"type":"response.output_item.arguments.delta","output_index":0,"delta":"{\"query\":"}`,
		`{"type":"response.output_item.arguments.delta","output_index":0,"delta":"\"golang\"}"}`,
		`{"type":"response.output_item.done","output_index":0}`,
	}
	_, got := feedFrames(t, p, frames)
	if len(got) != 1 || got[0].Kind != events.KindToolCall {
		t.Fatalf("expected a single reconstructed tool call, got %+v", got)
	}
	if got[0].ToolCallID != "call_abc" || got[0].Name != "search" {
		t.Fatalf("unexpected tool call: %+v", got[0])
	}
	argsMap, ok := got[0].Args.(map[string]any)
	if !ok || argsMap["query"] != "golang" {
		t.Fatalf("expected reconstructed args, got %+v", got[0].Args)
	}
}

func TestSSETextPartForwardsDeltaAndAccumulates(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	frames := []string{
		`{"type":"message.updated","info":{"id":"msg1","role":"assistant"}}`,
		`{"type":"message.part.updated","part":{"id":"part1","messageID":"msg1","type":"text","delta":"Hello, "}}`,
		`{"type":"message.part.updated","part":{"id":"part1","messageID":"msg1","type":"text","delta":"world."}}`,
	}
	_, got := feedFrames(t, p, frames)

	var deltas []string
	for _, e := range got {
		if e.Kind == events.KindTextDelta {
			deltas = append(deltas, e.Content)
		}
	}
	if len(deltas) != 2 || deltas[0] != "Hello, " || deltas[1] != "world." {
		t.Fatalf("expected 2 forwarded text deltas, got %+v", deltas)
	}
	if got := p.BestEffortText(); got != "Hello, world." {
		t.Fatalf("expected accumulated text buffer, got %q", got)
	}
}

func TestSSETextPartOnUserMessageIgnored(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	frames := []string{
		`{"type":"message.updated","info":{"id":"msg1","role":"user"}}`,
		`{"type":"message.part.updated","part":{"id":"part1","messageID":"msg1","type":"text","delta":"should not appear"}}`,
	}
	_, got := feedFrames(t, p, frames)
	if len(got) != 0 {
		t.Fatalf("expected text on a user message to be ignored, got %+v", got)
	}
}

func TestSSEResponseOutputTextDeltaForwardsAndTerminatesWithText(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	frames := []string{
		`{"type":"response.output_text.delta","output_index":0,"delta":"answer: "}`,
		`{"type":"response.output_text.delta","output_index":0,"delta":"42"}`,
		`{"type":"response.completed"}`,
	}
	final, got := feedFrames(t, p, frames)
	if final == nil || final.Output != "answer: 42" {
		t.Fatalf("expected response.completed to use the accumulated output_text buffer, got %+v", final)
	}
	var deltas int
	for _, e := range got {
		if e.Kind == events.KindTextDelta {
			deltas++
		}
	}
	if deltas != 2 {
		t.Fatalf("expected 2 forwarded text_delta events, got %d", deltas)
	}
}

func TestSSEResponseCompletedPrefersOutputTextField(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	final, _ := feedFrames(t, p, []string{`{"type":"response.completed","response":{"output_text":"final answer"}}`})
	if final == nil || final.Output != "final answer" {
		t.Fatalf("expected response.output_text to take priority, got %+v", final)
	}
}

func TestSSESessionIdleEndsTurn(t *testing.T) {
	p := NewSSEParser("m1", "", nil)
	final, _ := feedFrames(t, p, []string{`{"type":"session.idle"}`})
	if final == nil || !final.Success || final.TerminalReason != events.ReasonCompleted {
		t.Fatalf("expected session.idle to terminate the turn as completed, got %+v", final)
	}
}

func TestSSEReadFrames(t *testing.T) {
	input := "event: message.updated\ndata: {\"a\":1}\n\nevent: session.idle\ndata: {}\n\n"
	var frames []Frame
	if err := ReadFrames(strings.NewReader(input), func(f Frame) error {
		frames = append(frames, f)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].Event != "message.updated" || frames[0].Data != `{"a":1}` {
		t.Errorf("unexpected first frame: %+v", frames[0])
	}
}
