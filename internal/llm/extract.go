package llm

import (
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z]*)\n(.*?)```")

// ExtractJSON pulls the first JSON object out of model output. Fenced
// ```json blocks win; otherwise the first balanced top-level object is
// returned. Empty string means no JSON was found.
func ExtractJSON(text string) string {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if lang == "json" || (lang == "" && strings.HasPrefix(body, "{")) {
			return body
		}
	}
	return balancedObject(text)
}

// ExtractCode pulls the first fenced code block matching the given language
// tag (or any untagged block) out of model output. Falls back to the whole
// text when no fence is present, since models sometimes answer with bare
// code.
func ExtractCode(text, lang string) string {
	var untagged string
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		tag := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if tag == strings.ToLower(lang) {
			return body
		}
		if tag == "" && untagged == "" {
			untagged = body
		}
	}
	if untagged != "" {
		return untagged
	}
	return strings.TrimSpace(text)
}

// balancedObject returns the first balanced {...} span, ignoring braces
// inside string literals.
func balancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
