package llm

import (
	"strings"

	"github.com/sells-group/research-agent/pkg/anthropic"
)

// ExtractText concatenates the text blocks of a response. Tool-use and
// search-result blocks are skipped; responses whose blocks carry no type tag
// but do carry text are accepted as-is so SDK shape changes degrade softly.
func ExtractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text", "":
			if block.Text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// CleanJSON strips markdown code fences and surrounding prose from model
// output so the remainder parses as a JSON document. Models often wrap JSON
// in ```json fences or lead with a sentence.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		return strings.TrimSpace(text)
	}

	// Prose around a bare JSON document: cut to the outermost braces or
	// brackets.
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return text
	}
	return strings.TrimSpace(text[start : end+1])
}
