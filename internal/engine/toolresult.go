package engine

import "encoding/json"

// parseToolResult turns the text returned by an MCP tools/call into a
// structured value when possible (MCP content blocks are plain text, but
// tool authors commonly return a JSON-encoded object/array as that text),
// so that export_outputs JSONPath extraction and downstream @step.outputs
// references have something to walk. Plain text that isn't valid JSON is
// kept as-is under "text".
func parseToolResult(text string) any {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"text": text}
}
