package intake

import "regexp"

// spaceURLPattern matches Space links on both historical domains. The id
// charset excludes '>' and '|', so Slack's <url|label> wrapping is dropped.
var spaceURLPattern = regexp.MustCompile(`https://(?:twitter\.com|x\.com)/i/spaces/[A-Za-z0-9_]+`)

// ExtractSpaceURL returns the first Space URL in text.
func ExtractSpaceURL(text string) (string, bool) {
	m := spaceURLPattern.FindString(text)
	return m, m != ""
}
