package mission

import (
	"regexp"
	"strings"
)

// historyEntry is one turn's worth of conversation, in the order it was
// appended (oldest first within the slice).
type historyEntry struct {
	Role    string
	Content string
}

// deliverablesReminder is appended whenever the mission has an expected
// deliverables set, regardless of whether the current message mentions
// them — the backend is reminded every turn, not just the first.
const deliverablesReminderPrefix = "\n\nExpected deliverables: "
const deliverablesReminderSuffix = ". Confirm each one is actually produced before reporting completion."

const multiStepInstructionBlock = "\n\nThis message describes more than one step. Work through them in the order given, completing and verifying each before starting the next."

// sequencingPattern matches language that suggests the user described an
// ordered or multi-part task: explicit step/ordinal words, a numbered or
// lettered list marker, or bullet markers.
var sequencingPattern = regexp.MustCompile(`(?i)(\bfirst\b|\bthen\b|\bnext\b|\bfinally\b|\bstep\s+\d|\b\d\.\s|\b\d\)\s|^\s*[-*]\s)`)

// assembleTurnPrompt builds the prompt text for one turn: the truncated
// history (newest-first accumulation, oldest dropped first), the literal
// user message block, an optional multi-step instruction block, and an
// optional deliverables reminder.
func assembleTurnPrompt(history []historyEntry, msg string, expectedDeliverables []string, charBudget int) string {
	assembled := assembleHistory(history, charBudget)

	var b strings.Builder
	b.WriteString(assembled)
	b.WriteString("User:\n")
	b.WriteString(msg)

	if looksSequential(msg) {
		b.WriteString(multiStepInstructionBlock)
	}
	if len(expectedDeliverables) > 0 {
		b.WriteString(deliverablesReminderPrefix)
		b.WriteString(strings.Join(expectedDeliverables, ", "))
		b.WriteString(deliverablesReminderSuffix)
	}
	return b.String()
}

// assembleHistory walks entries newest-first, prepending each
// "<ROLE>: <content>\n\n" block to the result, stopping once the next
// addition would exceed charBudget — but always including at least one
// entry if any exist.
func assembleHistory(history []historyEntry, charBudget int) string {
	if len(history) == 0 {
		return ""
	}

	var included []string
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		block := e.Role + ": " + e.Content + "\n\n"
		if total+len(block) > charBudget && len(included) > 0 {
			break
		}
		included = append(included, block)
		total += len(block)
	}

	// included was built newest-first; reverse it back to chronological order.
	var b strings.Builder
	for i := len(included) - 1; i >= 0; i-- {
		b.WriteString(included[i])
	}
	return b.String()
}

func looksSequential(msg string) bool {
	return sequencingPattern.MatchString(msg)
}
