package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
)

// cleanMarkdownWrapper strips code fences and any prose around the outermost JSON object.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```JSON")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

// parseObject cleans a model reply and validates it against the schema.
func parseObject(content string, schema Schema) (json.RawMessage, error) {
	cleaned := cleanMarkdownWrapper(content)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", common.ErrModelResponse)
	}

	raw := json.RawMessage(cleaned)
	if err := schema.Validate(raw); err != nil {
		return nil, err
	}
	return raw, nil
}
