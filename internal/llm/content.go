// Package llm holds provider-neutral helpers for the extraction stage.
package llm

import (
	"bytes"
	"strings"
)

// CleanContent trims what chat models tend to wrap around a JSON answer:
// markdown code fences and prose before the first brace or after the last.
func CleanContent(content string) []byte {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			// drop the info string (```json)
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	b := []byte(strings.TrimSpace(s))
	start := bytes.IndexAny(b, "{[")
	end := bytes.LastIndexAny(b, "}]")
	if start > 0 && end > start {
		return b[start : end+1]
	}
	if start == 0 && end > 0 {
		return b[:end+1]
	}
	return b
}
