package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// normalizeSSELine implements §4.8.2: for a "data: {json}" line that is not
// "data: [DONE]", if the decoded JSON's choices carry a delta.role == "",
// strip that field and re-encode. Every other line (comments, event:,
// non-JSON data, [DONE]) passes through unchanged. The caller supplies the
// line without its trailing newline; normalizeSSELine never adds one.
func normalizeSSELine(line []byte) []byte {
	const prefix = "data: "
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return line
	}
	payload := line[len(prefix):]
	if bytes.Equal(bytes.TrimSpace(payload), []byte("[DONE]")) {
		return line
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(payload, &doc); err != nil {
		return line
	}
	choicesRaw, ok := doc["choices"]
	if !ok {
		return line
	}
	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(choicesRaw, &choices); err != nil {
		return line
	}

	changed := false
	for _, c := range choices {
		deltaRaw, ok := c["delta"]
		if !ok {
			continue
		}
		var delta map[string]json.RawMessage
		if err := json.Unmarshal(deltaRaw, &delta); err != nil {
			continue
		}
		roleRaw, ok := delta["role"]
		if !ok {
			continue
		}
		var role string
		if err := json.Unmarshal(roleRaw, &role); err == nil && role == "" {
			delete(delta, "role")
			newDelta, err := json.Marshal(delta)
			if err != nil {
				continue
			}
			c["delta"] = newDelta
			changed = true
		}
	}
	if !changed {
		return line
	}

	newChoices, err := json.Marshal(choices)
	if err != nil {
		return line
	}
	doc["choices"] = newChoices
	newPayload, err := json.Marshal(doc)
	if err != nil {
		return line
	}
	return append([]byte(prefix), newPayload...)
}

// maxSSELineBytes bounds a single line the same way the previous
// bufio.Scanner-based implementation did (scanner.Buffer's max token size),
// so a malformed upstream that never sends a line terminator can't grow the
// read buffer unbounded.
const maxSSELineBytes = 4 * 1024 * 1024

// splitLineTerminator separates raw (as returned by bufio.Reader.ReadString)
// into its content and its exact line-ending bytes, preserving whichever of
// "\n" or "\r\n" the upstream actually sent (or none, for a final partial
// line at EOF) instead of normalizing to a fixed terminator.
func splitLineTerminator(raw []byte) (line []byte, terminator []byte) {
	n := len(raw)
	if n == 0 || raw[n-1] != '\n' {
		return raw, nil
	}
	if n >= 2 && raw[n-2] == '\r' {
		return raw[:n-2], raw[n-2:]
	}
	return raw[:n-1], raw[n-1:]
}

// copySSENormalized copies src to dst line by line, rewriting each via
// normalizeSSELine and flushing after every line so the client sees tokens
// as they arrive. Each line's original terminator bytes ("\n" or "\r\n")
// are forwarded unchanged rather than rewritten to a fixed "\n", so output
// bytes match input bytes exactly outside of the rewritten JSON payload.
// It returns the number of bytes read from src and the first error
// encountered (io.EOF is not reported as an error).
func copySSENormalized(dst io.Writer, flush func(), src io.Reader) (int64, error) {
	reader := bufio.NewReaderSize(src, 64*1024)

	var n int64
	for {
		raw, readErr := reader.ReadString('\n')
		if len(raw) > maxSSELineBytes {
			return n, bufio.ErrTooLong
		}
		if len(raw) > 0 {
			line, terminator := splitLineTerminator([]byte(raw))
			out := append(normalizeSSELine(line), terminator...)
			written, err := dst.Write(out)
			n += int64(written)
			if err != nil {
				return n, err
			}
			if flush != nil {
				flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return n, nil
			}
			return n, readErr
		}
	}
}

// firstSSEDataLine reads src until it finds the first non-empty "data:"
// line, returning its payload (without the "data: " prefix) and everything
// consumed so far so the caller can still forward it to the client. If the
// stream ends first, ok is false.
func firstSSEDataLine(src *bufio.Reader) (payload string, consumed []byte, ok bool) {
	var buf bytes.Buffer
	for {
		line, err := src.ReadString('\n')
		buf.WriteString(line)
		trimmed := bytes.TrimRight([]byte(line), "\r\n")
		if bytes.HasPrefix(trimmed, []byte("data: ")) {
			return string(trimmed[len("data: "):]), buf.Bytes(), true
		}
		if err != nil {
			return "", buf.Bytes(), false
		}
	}
}
