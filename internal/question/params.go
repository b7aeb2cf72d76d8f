package question

import (
	"regexp"
	"strings"
)

var (
	paramPattern = regexp.MustCompile("([a-zA-Z_]+)(?:\\s*:\\s*|\\s+is\\s+)`([^`]+)`")
	codeSpan     = regexp.MustCompile("`[^`]*`")
	firstCode    = regexp.MustCompile("`([^`]+)`")
)

// Params extracts "key: `value`" and "key is `value`" pairs from a comment
// body. Keys are case-sensitive; a later pair overrides an earlier one.
func Params(body string) map[string]string {
	out := map[string]string{}
	for _, m := range paramPattern.FindAllStringSubmatch(body, -1) {
		out[m[1]] = strings.TrimSpace(m[2])
	}
	return out
}

// stripCode removes inline code spans so that parameter values never look
// like commands.
func stripCode(body string) string {
	return codeSpan.ReplaceAllString(body, " ")
}

// firstCodeSpan returns the content of the first inline code span.
func firstCodeSpan(body string) string {
	if m := firstCode.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
