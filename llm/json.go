package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fenceOpenRe  = regexp.MustCompile("^```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("\\s*```$")
)

// StripFences removes a markdown code fence wrapping an LLM response.
// Models frequently wrap JSON output in ```json ... ``` despite
// instructions not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseJSON strips fences and unmarshals the response into v.
func ParseJSON(content string, v interface{}) error {
	return json.Unmarshal([]byte(StripFences(content)), v)
}
